package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"fxCopyDesk/internal/pricing"
)

// Config holds all application configuration.
type Config struct {
	// Pricing feed
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Execution parameters
	SpreadValue          float64            // Spread applied on top of the quote at execution
	SpreadType           pricing.SpreadType // ABSOLUTE or PERCENT
	OpenCommissionPerLot float64            // Commission per lot on non-copy trades
	CommissionOnClose    bool               // Fold commission into realized PnL at close
	StopOutLevel         float64            // Margin level floor (percent) triggering a stop-out

	// Copy trading
	CommissionPct        float64 // Share of a profitable follower close taken as commission
	AdminSharePct        float64 // Platform's cut of the commission
	DefaultMinimumCredit float64 // Credit floor when a subscription does not set one
	MaxReplication       int     // Concurrent follower units per master event

	// Tick loop
	TickInterval       time.Duration
	SettlementInterval time.Duration // Cadence of the commission settlement sweep

	// Database
	DBPath string

	// Quote cache
	QuoteTTL      time.Duration
	RedisAddr     string // Empty = in-process cache
	RedisPassword string
	RedisDB       int

	// Logging
	LogLevel  string
	LogPretty bool
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Pricing feed. Book ticker reads are public, so keys may stay empty.
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	// Execution parameters
	cfg.SpreadValue, err = getEnvAsFloatRequired("SPREAD_VALUE", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SPREAD_VALUE: %v", err))
	} else if cfg.SpreadValue < 0 {
		errs = append(errs, "SPREAD_VALUE cannot be negative")
	}

	spreadType := strings.ToUpper(getEnv("SPREAD_TYPE", string(pricing.SpreadAbsolute)))
	switch pricing.SpreadType(spreadType) {
	case pricing.SpreadAbsolute, pricing.SpreadPercent:
		cfg.SpreadType = pricing.SpreadType(spreadType)
	default:
		errs = append(errs, fmt.Sprintf("invalid SPREAD_TYPE '%s' (want ABSOLUTE or PERCENT)", spreadType))
	}

	cfg.OpenCommissionPerLot, err = getEnvAsFloatRequired("OPEN_COMMISSION_PER_LOT", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid OPEN_COMMISSION_PER_LOT: %v", err))
	} else if cfg.OpenCommissionPerLot < 0 {
		errs = append(errs, "OPEN_COMMISSION_PER_LOT cannot be negative")
	}

	cfg.CommissionOnClose = getEnvAsBool("COMMISSION_ON_CLOSE", false)

	cfg.StopOutLevel, err = getEnvAsFloatRequired("STOP_OUT_LEVEL", 20)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_OUT_LEVEL: %v", err))
	} else if cfg.StopOutLevel <= 0 || cfg.StopOutLevel >= 100 {
		errs = append(errs, "STOP_OUT_LEVEL must be between 0 and 100 (exclusive)")
	}

	// Copy trading
	cfg.CommissionPct, err = getEnvAsFloatRequired("COMMISSION_PCT", 50)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid COMMISSION_PCT: %v", err))
	} else if cfg.CommissionPct < 0 || cfg.CommissionPct > 100 {
		errs = append(errs, "COMMISSION_PCT must be between 0 and 100")
	}

	cfg.AdminSharePct, err = getEnvAsFloatRequired("ADMIN_SHARE_PCT", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ADMIN_SHARE_PCT: %v", err))
	} else if cfg.AdminSharePct < 0 || cfg.AdminSharePct > 100 {
		errs = append(errs, "ADMIN_SHARE_PCT must be between 0 and 100")
	}

	cfg.DefaultMinimumCredit, err = getEnvAsFloatRequired("DEFAULT_MINIMUM_CREDIT", 1000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEFAULT_MINIMUM_CREDIT: %v", err))
	} else if cfg.DefaultMinimumCredit < 0 {
		errs = append(errs, "DEFAULT_MINIMUM_CREDIT cannot be negative")
	}

	cfg.MaxReplication = getEnvAsInt("MAX_REPLICATION", 8)
	if cfg.MaxReplication <= 0 {
		errs = append(errs, "MAX_REPLICATION must be positive")
	}

	// Tick loop
	tickMillis := getEnvAsInt("TICK_INTERVAL_MS", 1000)
	if tickMillis <= 0 {
		errs = append(errs, "TICK_INTERVAL_MS must be positive")
	}
	cfg.TickInterval = time.Duration(tickMillis) * time.Millisecond

	settlementSeconds := getEnvAsInt("SETTLEMENT_INTERVAL_SECONDS", 300)
	if settlementSeconds <= 0 {
		errs = append(errs, "SETTLEMENT_INTERVAL_SECONDS must be positive")
	}
	cfg.SettlementInterval = time.Duration(settlementSeconds) * time.Second

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/copydesk.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Quote cache
	quoteTTLMillis := getEnvAsInt("QUOTE_TTL_MS", 1000)
	if quoteTTLMillis <= 0 {
		errs = append(errs, "QUOTE_TTL_MS must be positive")
	}
	cfg.QuoteTTL = time.Duration(quoteTTLMillis) * time.Millisecond
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvAsInt("REDIS_DB", 0)

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogPretty = getEnvAsBool("LOG_PRETTY", false)

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
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

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
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
