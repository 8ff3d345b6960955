package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// positionsCmd represents the positions command
var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "열린 포지션 조회",
	Long: `실행 중인 봇에 등록된 포지션을 조회합니다.

Example:
  go run ./cmd/talos positions`,
	RunE: runPositions,
}

func init() {
	rootCmd.AddCommand(positionsCmd)
}

func runPositions(cmd *cobra.Command, args []string) error {
	var resp struct {
		Count     int `json:"count"`
		Positions []struct {
			Symbol        string  `json:"symbol"`
			Side          string  `json:"side"`
			Size          float64 `json:"size"`
			AvgPrice      float64 `json:"avg_price"`
			UnrealizedPnL float64 `json:"unrealized_pnl"`
		} `json:"positions"`
	}
	if err := apiGet("/api/bot/positions", &resp); err != nil {
		return err
	}

	if resp.Count == 0 {
		fmt.Println("ℹ️  No open positions")
		return nil
	}

	fmt.Printf("📈 Open Positions (%d)\n", resp.Count)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("%-12s %-6s %12s %14s %12s\n", "SYMBOL", "SIDE", "SIZE", "AVG PRICE", "UPNL")
	for _, p := range resp.Positions {
		fmt.Printf("%-12s %-6s %12.4f %14.4f %12.2f\n",
			p.Symbol, p.Side, p.Size, p.AvgPrice, p.UnrealizedPnL)
	}

	return nil
}
