package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()
	os.Setenv("BYBIT_API_KEY", "test-key")
	os.Setenv("BYBIT_API_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// 기본값 검증
	if !cfg.Bybit.Testnet {
		t.Error("expected testnet by default")
	}
	if cfg.Bybit.BaseURL != "https://api-testnet.bybit.com" {
		t.Errorf("unexpected base URL: %s", cfg.Bybit.BaseURL)
	}
	if cfg.Trading.PyramidSteps != 7 {
		t.Errorf("expected 7 pyramid steps, got %d", cfg.Trading.PyramidSteps)
	}
	if cfg.Trading.DefaultRiskPercent != 1.0 {
		t.Errorf("expected risk percent 1.0, got %f", cfg.Trading.DefaultRiskPercent)
	}
	if cfg.Risk.MaxDailyLoss != 500 {
		t.Errorf("expected max daily loss 500, got %f", cfg.Risk.MaxDailyLoss)
	}
	if cfg.Risk.MaxOpenPositions != 5 {
		t.Errorf("expected 5 max open positions, got %d", cfg.Risk.MaxOpenPositions)
	}
	if cfg.Trading.MonitorInterval != 10*time.Second {
		t.Errorf("expected 10s monitor interval, got %v", cfg.Trading.MonitorInterval)
	}
}

func TestLoadMainnetURL(t *testing.T) {
	os.Clearenv()
	os.Setenv("BYBIT_API_KEY", "k")
	os.Setenv("BYBIT_API_SECRET", "s")
	os.Setenv("BYBIT_TESTNET", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Bybit.BaseURL != "https://api.bybit.com" {
		t.Errorf("unexpected base URL: %s", cfg.Bybit.BaseURL)
	}
}

func TestLoadMissingCredentials(t *testing.T) {
	os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("expected error without API credentials")
	}
}

func TestValidateRejectsBadEnv(t *testing.T) {
	os.Clearenv()
	os.Setenv("BYBIT_API_KEY", "k")
	os.Setenv("BYBIT_API_SECRET", "s")
	os.Setenv("ENV", "prod") // must be "production"

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid ENV")
	}
}
