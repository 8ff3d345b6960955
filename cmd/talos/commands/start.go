package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/talos/internal/api"
	"github.com/wonny/talos/internal/api/handlers"
	"github.com/wonny/talos/internal/audit"
	"github.com/wonny/talos/internal/coordinator"
	"github.com/wonny/talos/internal/exchange/bybit"
	"github.com/wonny/talos/internal/execution"
	"github.com/wonny/talos/internal/hedge"
	"github.com/wonny/talos/internal/notify"
	"github.com/wonny/talos/internal/pyramid"
	"github.com/wonny/talos/internal/reentry"
	"github.com/wonny/talos/internal/risk"
	"github.com/wonny/talos/internal/scheduler"
	"github.com/wonny/talos/internal/scheduler/jobs"
	"github.com/wonny/talos/internal/trailing"
	"github.com/wonny/talos/pkg/config"
	"github.com/wonny/talos/pkg/database"
	"github.com/wonny/talos/pkg/logger"
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "트레이딩 봇 시작",
	Long: `포지션 수명주기 봇을 시작합니다.

이 명령어는:
- Bybit 게이트웨이 연결 (REST + WebSocket 시세 캐시)
- 전략 엔진 조립 (리스크/실행/피라미드/트레일링/헷지/재진입)
- 주기 점검 스케줄러 시작
- 봇 제어 API 서버 시작

Endpoints:
  GET  /health                      - Health check
  GET  /api/bot/status              - 리스크 지표 조회
  GET  /api/bot/balance             - 잔고 조회
  GET  /api/bot/positions           - 포지션 조회
  POST /api/bot/signal              - 시그널 제출
  PUT  /api/bot/positions/{symbol}  - 스톱/타겟 수정
  POST /api/bot/close/{symbol}      - 포지션 청산
  POST /api/bot/stop                - 모니터링 중지

Example:
  go run ./cmd/talos start
  go run ./cmd/talos start --port 8090`,
	RunE: runStart,
}

var (
	startPort string
)

func init() {
	rootCmd.AddCommand(startCmd)

	// Flags
	startCmd.Flags().StringVar(&startPort, "port", "", "API 서버 포트")
}

func runStart(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Talos Trading Bot ===")

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Override port if flag is set
	if startPort != "" {
		cfg.Port = startPort
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	log.WithFields(map[string]interface{}{
		"env":     cfg.Env,
		"testnet": cfg.Bybit.Testnet,
	}).Info("Initializing trading bot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Connect to database (optional, audit trail only)
	var auditRepo *audit.Repository
	if cfg.Database.URL != "" {
		db, err := database.New(cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		auditRepo = audit.NewRepository(db.Pool)
		log.Info("Connected to database, audit trail enabled")
	} else {
		log.Warn("DATABASE_URL not set, audit trail disabled")
	}

	// 4. Create exchange gateway
	gateway := bybit.NewLiveGateway(cfg.Bybit, log)
	if err := gateway.Start(ctx); err != nil {
		log.WithError(err).Warn("Ticker stream unavailable, falling back to REST polling")
	} else {
		defer gateway.Stop()
	}

	// 5. Create notifier fanout
	notifier := notify.Fanout{
		notify.NewLogNotifier(log),
		audit.NewNotifier(auditRepo, log),
	}

	// 6. Assemble strategy engines
	riskMgr := risk.NewManager(cfg, log)
	orders := execution.NewEngine(gateway, notifier, cfg.Trading.TickSize, cfg.Trading.QtyStep, log)
	pyramidEng := pyramid.NewEngine(gateway, orders, notifier, cfg.Trading.TickSize, cfg.Trading.QtyStep, log)
	trailingEng := trailing.NewEngine(gateway, notifier, cfg.Risk.TrailingStopPercent, cfg.Trading.TickSize, log)
	hedgeEng := hedge.NewEngine(gateway, orders, notifier, cfg.Trading.QtyStep, log)
	reentryEng := reentry.NewEngine(gateway, orders, notifier, cfg.Trading.TickSize, log)

	coord := coordinator.New(cfg, gateway, riskMgr, orders, pyramidEng, trailingEng, hedgeEng, reentryEng, notifier, log)
	coord.Start(ctx)
	defer coord.Stop()

	// 7. Start maintenance scheduler
	sched := scheduler.New(log)
	if err := sched.AddJob(jobs.NewOrderCleanupJob(orders, log)); err != nil {
		return fmt.Errorf("register order cleanup job: %w", err)
	}
	if err := sched.AddJob(jobs.NewReentryCleanupJob(reentryEng, 24*time.Hour, log)); err != nil {
		return fmt.Errorf("register reentry cleanup job: %w", err)
	}
	if err := sched.AddJob(jobs.NewRiskSnapshotJob(riskMgr, auditRepo, log)); err != nil {
		return fmt.Errorf("register risk snapshot job: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	// 8. Create API server
	botHandler := handlers.NewBotHandler(coord, log)
	router := api.NewRouter(botHandler, log)
	server := api.New(cfg, log, router)

	// 9. Start server with graceful shutdown
	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	log.Info("🚀 Trading bot started successfully")
	fmt.Printf("\n✅ Bot running on http://localhost:%s\n", cfg.Port)
	fmt.Println("\nAvailable endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /api/bot/status")
	fmt.Println("  GET  /api/bot/balance")
	fmt.Println("  GET  /api/bot/positions")
	fmt.Println("  POST /api/bot/signal")
	fmt.Println("  PUT  /api/bot/positions/{symbol}")
	fmt.Println("  POST /api/bot/close/{symbol}")
	fmt.Println("  POST /api/bot/stop")
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down bot...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("Bot stopped")
	return nil
}
