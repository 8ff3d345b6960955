package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	env        string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "talos",
	Short: "Talos - 포지션 수명주기 & 전략 엔진",
	Long: `Talos Unified CLI

Bybit 선물 기반 포지션 수명주기 관리 봇.
리스크 게이트부터 듀얼 리밋 진입, 피라미딩, 트레일링 스톱,
헷지, 재진입까지 하나의 코디네이터로 묶어 실행한다.

Usage:
  go run ./cmd/talos [command]

Examples:
  go run ./cmd/talos start
  go run ./cmd/talos status
  go run ./cmd/talos signal BTCUSDT --side LONG --entry 50000 --stop 48000
  go run ./cmd/talos close BTCUSDT`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().StringVar(&env, "env", "development", "environment (development|staging|production)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
