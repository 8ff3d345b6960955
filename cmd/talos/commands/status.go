package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "봇 리스크 지표 조회",
	Long: `실행 중인 봇의 리스크 지표를 조회합니다.

표시 정보:
- Daily PnL: 당일 실현 손익
- Daily Trades: 당일 체결 건수
- Open Positions: 현재 등록 포지션 수
- Loss Buffer: 일일 손실 한도까지 남은 금액

Example:
  go run ./cmd/talos status
  go run ./cmd/talos status --host http://localhost:8090`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	var metrics struct {
		DailyPnL            float64 `json:"daily_pnl"`
		DailyTrades         int     `json:"daily_trades"`
		OpenPositions       int     `json:"open_positions"`
		UnrealizedPnL       float64 `json:"unrealized_pnl"`
		MaxDailyLoss        float64 `json:"max_daily_loss"`
		MaxOpenPositions    int     `json:"max_open_positions"`
		RemainingLossBuffer float64 `json:"remaining_loss_buffer"`
	}
	if err := apiGet("/api/bot/status", &metrics); err != nil {
		return err
	}

	var balance struct {
		Coin    string  `json:"coin"`
		Balance float64 `json:"balance"`
	}
	if err := apiGet("/api/bot/balance", &balance); err != nil {
		return err
	}

	fmt.Println("📊 Risk Status")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("%-18s %12.2f %s\n", "Balance:", balance.Balance, balance.Coin)
	fmt.Printf("%-18s %12.2f\n", "Daily PnL:", metrics.DailyPnL)
	fmt.Printf("%-18s %12d\n", "Daily Trades:", metrics.DailyTrades)
	fmt.Printf("%-18s %7d / %d\n", "Open Positions:", metrics.OpenPositions, metrics.MaxOpenPositions)
	fmt.Printf("%-18s %12.2f\n", "Unrealized PnL:", metrics.UnrealizedPnL)
	fmt.Printf("%-18s %12.2f\n", "Loss Buffer:", metrics.RemainingLossBuffer)

	if metrics.RemainingLossBuffer <= 0 {
		fmt.Println("\n🛑 Daily loss limit reached, new entries are blocked")
	}

	return nil
}
