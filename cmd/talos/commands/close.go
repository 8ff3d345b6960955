package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// closeCmd represents the close command
var closeCmd = &cobra.Command{
	Use:   "close SYMBOL",
	Short: "포지션 시장가 청산",
	Long: `열린 포지션을 시장가로 청산합니다.

관련 엔진 상태(트레일링, 피라미드, 미체결 주문)도 함께 정리됩니다.

Example:
  go run ./cmd/talos close BTCUSDT`,
	Args: cobra.ExactArgs(1),
	RunE: runClose,
}

// updateCmd represents the update command
var updateCmd = &cobra.Command{
	Use:   "update SYMBOL",
	Short: "포지션 스톱/타겟 수정",
	Long: `열린 포지션의 스톱로스와 목표가를 수정합니다.

스톱을 수정하면 해당 심볼의 미체결 주문이 재배치됩니다.

Example:
  go run ./cmd/talos update BTCUSDT --stop 49000`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

var (
	updateStop    float64
	updateTargets []float64
)

func init() {
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(updateCmd)

	// Flags
	updateCmd.Flags().Float64Var(&updateStop, "stop", 0, "새 스톱로스 가격")
	updateCmd.Flags().Float64SliceVar(&updateTargets, "target", nil, "새 목표가")
}

func runClose(cmd *cobra.Command, args []string) error {
	symbol := args[0]

	var resp struct {
		Status string `json:"status"`
		Symbol string `json:"symbol"`
	}
	if err := apiPost("/api/bot/close/"+symbol, nil, &resp); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}

	fmt.Printf("✅ Position %s %s\n", resp.Symbol, resp.Status)
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	symbol := args[0]

	body := map[string]interface{}{
		"stop_loss": updateStop,
		"targets":   updateTargets,
	}

	var resp struct {
		Status string `json:"status"`
		Symbol string `json:"symbol"`
	}
	if err := apiPut("/api/bot/positions/"+symbol, body, &resp); err != nil {
		return fmt.Errorf("update failed: %w", err)
	}

	fmt.Printf("✅ Position %s %s\n", resp.Symbol, resp.Status)
	return nil
}
