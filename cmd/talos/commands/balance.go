package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// balanceCmd represents the balance command
var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "가용 잔고 조회",
	Long: `거래소 가용 잔고를 조회합니다.

Example:
  go run ./cmd/talos balance`,
	RunE: runBalance,
}

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "봇 모니터링 중지",
	Long: `실행 중인 봇의 포지션 점검 루프를 중지합니다.

열린 포지션과 미체결 주문은 그대로 유지되며,
API 서버는 계속 응답합니다.

Example:
  go run ./cmd/talos stop`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(stopCmd)
}

func runBalance(cmd *cobra.Command, args []string) error {
	var resp struct {
		Coin    string  `json:"coin"`
		Balance float64 `json:"balance"`
	}
	if err := apiGet("/api/bot/balance", &resp); err != nil {
		return err
	}

	fmt.Printf("💰 Available balance: %.2f %s\n", resp.Balance, resp.Coin)
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := apiPost("/api/bot/stop", nil, &resp); err != nil {
		return err
	}

	fmt.Printf("🛑 Bot monitoring %s\n", resp.Status)
	return nil
}
