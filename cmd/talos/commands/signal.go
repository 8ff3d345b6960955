package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// signalCmd represents the signal command
var signalCmd = &cobra.Command{
	Use:   "signal SYMBOL",
	Short: "트레이드 시그널 제출",
	Long: `실행 중인 봇에 트레이드 시그널을 제출합니다.

진입가를 하나 주면 듀얼 리밋 진입, 둘 이상 주면
피라미드 레인지 진입으로 실행됩니다.

Example:
  go run ./cmd/talos signal BTCUSDT --side LONG --entry 50000 --stop 48000
  go run ./cmd/talos signal ETHUSDT --side SHORT --entry 3200 --entry 3400 --leverage 5`,
	Args: cobra.ExactArgs(1),
	RunE: runSignal,
}

var (
	signalSide     string
	signalEntries  []float64
	signalStop     float64
	signalTargets  []float64
	signalLeverage int
)

func init() {
	rootCmd.AddCommand(signalCmd)

	// Flags
	signalCmd.Flags().StringVar(&signalSide, "side", "", "방향 (LONG|SHORT|BUY|SELL)")
	signalCmd.Flags().Float64SliceVar(&signalEntries, "entry", nil, "진입가 (복수 지정 시 피라미드 레인지)")
	signalCmd.Flags().Float64Var(&signalStop, "stop", 0, "스톱로스 가격")
	signalCmd.Flags().Float64SliceVar(&signalTargets, "target", nil, "목표가")
	signalCmd.Flags().IntVar(&signalLeverage, "leverage", 0, "레버리지 (0이면 기본값)")

	signalCmd.MarkFlagRequired("side")
	signalCmd.MarkFlagRequired("entry")
}

func runSignal(cmd *cobra.Command, args []string) error {
	symbol := args[0]

	body := map[string]interface{}{
		"symbol":    symbol,
		"side":      signalSide,
		"entries":   signalEntries,
		"stop_loss": signalStop,
		"targets":   signalTargets,
		"leverage":  signalLeverage,
	}

	var resp struct {
		Status string `json:"status"`
		Symbol string `json:"symbol"`
	}
	if err := apiPost("/api/bot/signal", body, &resp); err != nil {
		return fmt.Errorf("signal rejected: %w", err)
	}

	fmt.Printf("✅ Signal %s for %s\n", resp.Status, resp.Symbol)
	return nil
}
