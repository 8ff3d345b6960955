package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database (optional, audit trail only)
	Database DatabaseConfig

	// Exchange
	Bybit BybitConfig

	// Trading
	Trading TradingConfig

	// Risk
	Risk RiskConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds PostgreSQL configuration.
// URL이 비어 있으면 audit 저장은 비활성화된다.
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// BybitConfig holds Bybit v5 API configuration
type BybitConfig struct {
	APIKey     string
	APISecret  string
	Testnet    bool // 테스트넷 여부
	BaseURL    string
	WSURL      string
	RecvWindow string
}

// TradingConfig holds order and strategy parameters
type TradingConfig struct {
	DefaultLeverage    int
	DefaultRiskPercent float64
	MaxPositionSize    float64
	PyramidSteps       int
	TickSize           float64
	QtyStep            float64

	// Monitoring loops
	TrailingInterval time.Duration
	MonitorInterval  time.Duration
}

// RiskConfig holds risk limits
type RiskConfig struct {
	MaxDailyLoss        float64
	MaxOpenPositions    int
	TrailingStopPercent float64
	AutoHedgeThreshold  float64 // PnL% at which a full hedge is opened (negative)
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	testnet := getEnvAsBool("BYBIT_TESTNET", true)
	baseURL := getEnv("BYBIT_BASE_URL", "")
	if baseURL == "" {
		if testnet {
			baseURL = "https://api-testnet.bybit.com"
		} else {
			baseURL = "https://api.bybit.com"
		}
	}
	wsURL := getEnv("BYBIT_WS_URL", "")
	if wsURL == "" {
		if testnet {
			wsURL = "wss://stream-testnet.bybit.com/v5/public/linear"
		} else {
			wsURL = "wss://stream.bybit.com/v5/public/linear"
		}
	}

	cfg := &Config{
		// Server
		Port: getEnv("PORT", "8090"),
		Env:  getEnv("ENV", "development"),

		// Database
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		// Exchange
		Bybit: BybitConfig{
			APIKey:     getEnv("BYBIT_API_KEY", ""),
			APISecret:  getEnv("BYBIT_API_SECRET", ""),
			Testnet:    testnet,
			BaseURL:    baseURL,
			WSURL:      wsURL,
			RecvWindow: getEnv("BYBIT_RECV_WINDOW", "5000"),
		},

		// Trading
		Trading: TradingConfig{
			DefaultLeverage:    getEnvAsInt("DEFAULT_LEVERAGE", 10),
			DefaultRiskPercent: getEnvAsFloat("DEFAULT_RISK_PERCENT", 1.0),
			MaxPositionSize:    getEnvAsFloat("MAX_POSITION_SIZE", 1000),
			PyramidSteps:       getEnvAsInt("PYRAMID_STEPS", 7),
			TickSize:           getEnvAsFloat("TICK_SIZE", 0.01),
			QtyStep:            getEnvAsFloat("QTY_STEP", 0.001),
			TrailingInterval:   getEnvAsDuration("TRAILING_INTERVAL", "5s"),
			MonitorInterval:    getEnvAsDuration("MONITOR_INTERVAL", "10s"),
		},

		// Risk
		Risk: RiskConfig{
			MaxDailyLoss:        getEnvAsFloat("MAX_DAILY_LOSS", 500),
			MaxOpenPositions:    getEnvAsInt("MAX_OPEN_POSITIONS", 5),
			TrailingStopPercent: getEnvAsFloat("TRAILING_STOP_PERCENT", 2.0),
			AutoHedgeThreshold:  getEnvAsFloat("AUTO_HEDGE_THRESHOLD", -5.0),
		},

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "debug"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Bybit.APIKey == "" || c.Bybit.APISecret == "" {
		return fmt.Errorf("BYBIT_API_KEY and BYBIT_API_SECRET are required")
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Trading.PyramidSteps < 1 {
		return fmt.Errorf("PYRAMID_STEPS must be at least 1")
	}

	if c.Trading.TickSize <= 0 || c.Trading.QtyStep <= 0 {
		return fmt.Errorf("TICK_SIZE and QTY_STEP must be positive")
	}

	if c.Risk.MaxDailyLoss <= 0 {
		return fmt.Errorf("MAX_DAILY_LOSS must be positive")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
