package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the daemon. Every threshold the
// risk-integrity core uses is injected from here at construction; nothing
// in the core reads the environment.
type Config struct {
	// Mode
	DryRun bool
	Debug  bool

	// Market data
	Symbols       []string // e.g. BTCUSDT,ETHUSDT
	BinanceWSURL  string
	BinanceAPIURL string

	// Session
	BaseCapital          decimal.Decimal
	PositionSizePct      decimal.Decimal // fraction of available balance per entry
	MaxPositions         int
	MinConfidence        float64
	ProfitLockFraction   decimal.Decimal
	ReconcileInterval    time.Duration
	MaxConsecutiveLosses int
	HaltCooldown         time.Duration

	// Reconciliation thresholds (currency units)
	Tolerance         decimal.Decimal
	HighThreshold     decimal.Decimal
	CriticalThreshold decimal.Decimal
	LeverageLimit     decimal.Decimal
	StaleAfter        time.Duration

	// Position lifecycle
	FeeRate              float64
	StopLossMultiplier   decimal.Decimal
	TakeProfitMultiplier decimal.Decimal
	TrailingMultiplier   decimal.Decimal
	PartialLadder        []decimal.Decimal // percents
	PartialExitFraction  decimal.Decimal
	MaxHold              time.Duration

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Database
	DatabasePath string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		DryRun: getEnvBool("DRY_RUN", true),
		Debug:  getEnvBool("DEBUG", false),

		Symbols:       splitList(getEnv("SYMBOLS", "BTCUSDT")),
		BinanceWSURL:  getEnv("BINANCE_WS_URL", "wss://stream.binance.com:9443"),
		BinanceAPIURL: getEnv("BINANCE_API_URL", "https://api.binance.com"),

		BaseCapital:          getEnvDecimal("BASE_CAPITAL", decimal.NewFromInt(10000)),
		PositionSizePct:      getEnvDecimal("POSITION_SIZE_PCT", decimal.NewFromFloat(0.10)),
		MaxPositions:         getEnvInt("MAX_POSITIONS", 3),
		MinConfidence:        getEnvFloat("MIN_CONFIDENCE", 60),
		ProfitLockFraction:   getEnvDecimal("PROFIT_LOCK_FRACTION", decimal.NewFromFloat(0.5)),
		ReconcileInterval:    getEnvDuration("RECONCILE_INTERVAL", 30*time.Second),
		MaxConsecutiveLosses: getEnvInt("MAX_CONSECUTIVE_LOSSES", 3),
		HaltCooldown:         getEnvDuration("HALT_COOLDOWN", 30*time.Minute),

		Tolerance:         getEnvDecimal("RECONCILE_TOLERANCE", decimal.NewFromFloat(0.10)),
		HighThreshold:     getEnvDecimal("RECONCILE_HIGH_THRESHOLD", decimal.NewFromInt(10)),
		CriticalThreshold: getEnvDecimal("RECONCILE_CRITICAL_THRESHOLD", decimal.NewFromInt(50)),
		LeverageLimit:     getEnvDecimal("LEVERAGE_LIMIT", decimal.NewFromInt(5)),
		StaleAfter:        getEnvDuration("STALE_POSITION_AFTER", time.Hour),

		FeeRate:              getEnvFloat("FEE_RATE", 0.002),
		StopLossMultiplier:   getEnvDecimal("STOP_LOSS_MULT", decimal.NewFromInt(1)),
		TakeProfitMultiplier: getEnvDecimal("TAKE_PROFIT_MULT", decimal.NewFromInt(2)),
		TrailingMultiplier:   getEnvDecimal("TRAILING_MULT", decimal.NewFromFloat(1.5)),
		PartialLadder:        parseLadder(getEnv("PARTIAL_LADDER", "1,2,3")),
		PartialExitFraction:  getEnvDecimal("PARTIAL_EXIT_FRACTION", decimal.NewFromFloat(0.33)),
		MaxHold:              getEnvDuration("MAX_HOLD", 10*time.Minute),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		DatabasePath: getEnv("DATABASE_PATH", "data/coinwatch.db"),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate rejects configurations the core assumes are sane
func (c *Config) validate() error {
	if !c.Tolerance.LessThan(c.HighThreshold) || !c.HighThreshold.LessThan(c.CriticalThreshold) {
		return fmt.Errorf("reconcile thresholds must satisfy tolerance < high < critical")
	}
	if c.BaseCapital.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("BASE_CAPITAL must be positive")
	}
	if c.StopLossMultiplier.LessThanOrEqual(decimal.Zero) || c.TakeProfitMultiplier.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("stop/target multipliers must be positive")
	}
	if c.FeeRate < 0 {
		return fmt.Errorf("FEE_RATE must not be negative")
	}
	prev := decimal.Zero
	for _, level := range c.PartialLadder {
		if level.LessThanOrEqual(prev) {
			return fmt.Errorf("PARTIAL_LADDER levels must be positive and ascending")
		}
		prev = level
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("SYMBOLS must list at least one market")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, strings.ToUpper(trimmed))
		}
	}
	return out
}

func parseLadder(value string) []decimal.Decimal {
	var ladder []decimal.Decimal
	for _, part := range strings.Split(value, ",") {
		if d, err := decimal.NewFromString(strings.TrimSpace(part)); err == nil {
			ladder = append(ladder, d)
		}
	}
	return ladder
}
