package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"optbot/internal/broker"
	"optbot/internal/execution"
	"optbot/internal/indicator"
	"optbot/internal/instrument"
	"optbot/internal/strategy"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	SQLitePath      string
	MetricsAddr     string
	CredentialsFile string

	// Instruments
	Underlying     string
	StrikeStep     int
	LadderSteps    int
	LadderRange    int
	ScripMasterURL string

	// Indicators and signal
	ADXPeriod    int
	RSIPeriod    int
	MomPeriod    int
	ADXThreshold float64
	MomBand      float64
	StaleAfter   time.Duration

	// Orders
	LotMultiplier int
	OrderStyle    string // market | bracket
	EntryOffset   string // rupees, decimal strings
	TargetOffset  string
	StopOffset    string
	Trail         string
	MaxAttempts   int
	RetryDelay    time.Duration
	Stagger       time.Duration
	MaxWorkers    int
	DryRun        bool

	// Scheduling and feeds
	ResolveSchedule string
	EvalSchedule    string
	LTPStream       bool

	// Alerts
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first if present.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] .env: %v", err)
	}

	return &Config{
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		SQLitePath:      getEnv("SQLITE_PATH", "data/orders.db"),
		MetricsAddr:     getEnv("METRICS_ADDR", ":9090"),
		CredentialsFile: getEnv("CREDENTIALS_FILE", "user_credentials.json"),

		Underlying:     strings.ToUpper(getEnv("UNDERLYING", "NIFTY")),
		StrikeStep:     getEnvInt("STRIKE_STEP", 50),
		LadderSteps:    getEnvInt("LADDER_STEPS", 10),
		LadderRange:    getEnvInt("LADDER_RANGE", 0),
		ScripMasterURL: getEnv("SCRIP_MASTER_URL", instrument.DefaultMasterURL),

		ADXPeriod:    getEnvInt("ADX_PERIOD", 14),
		RSIPeriod:    getEnvInt("RSI_PERIOD", 14),
		MomPeriod:    getEnvInt("MOM_PERIOD", 10),
		ADXThreshold: getEnvFloat("ADX_THRESHOLD", 25),
		MomBand:      getEnvFloat("MOM_BAND", 25),
		StaleAfter:   getEnvDuration("STALE_AFTER", 3*time.Minute),

		LotMultiplier: getEnvInt("LOT_MULTIPLIER", 1),
		OrderStyle:    strings.ToLower(getEnv("ORDER_STYLE", string(broker.StyleMarket))),
		EntryOffset:   getEnv("BRACKET_ENTRY_OFFSET", "1"),
		TargetOffset:  getEnv("BRACKET_TARGET_OFFSET", "40"),
		StopOffset:    getEnv("BRACKET_STOP_OFFSET", "12"),
		Trail:         getEnv("BRACKET_TRAIL", "20"),
		MaxAttempts:   getEnvInt("MAX_ATTEMPTS", 3),
		RetryDelay:    getEnvDuration("RETRY_DELAY", time.Second),
		Stagger:       getEnvDuration("DISPATCH_STAGGER", 200*time.Millisecond),
		MaxWorkers:    getEnvInt("MAX_WORKERS", 0),
		DryRun:        getEnvBool("DRY_RUN", false),

		// Default: resolve at 09:20 IST, evaluate every minute of the session
		ResolveSchedule: getEnv("RESOLVE_SCHEDULE", "20 9 * * 1-5"),
		EvalSchedule:    getEnv("EVAL_SCHEDULE", "* 9-15 * * 1-5"),
		LTPStream:       getEnvBool("LTP_STREAM", false),

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}
}

// Indicators returns the indicator periods.
func (c *Config) Indicators() indicator.Config {
	return indicator.Config{ADXPeriod: c.ADXPeriod, RSIPeriod: c.RSIPeriod, MomPeriod: c.MomPeriod}
}

// Thresholds returns the entry condition tunables.
func (c *Config) Thresholds() strategy.Thresholds {
	return strategy.Thresholds{ADX: c.ADXThreshold, MomBand: c.MomBand, StaleAfter: c.StaleAfter}
}

// Resolver returns the instrument resolver settings.
func (c *Config) Resolver() instrument.Config {
	return instrument.Config{
		Underlying: c.Underlying,
		Step:       c.StrikeStep,
		Ladder:     instrument.LadderConfig{Steps: c.LadderSteps, Range: c.LadderRange},
	}
}

// OrderSpec returns the configured order style. Unknown styles and
// unparsable offsets fall back to market orders and the default bracket.
func (c *Config) OrderSpec() broker.OrderSpec {
	spec := broker.OrderSpec{Style: broker.StyleMarket, Bracket: broker.DefaultBracket()}
	switch broker.Style(c.OrderStyle) {
	case broker.StyleMarket:
	case broker.StyleBracket:
		spec.Style = broker.StyleBracket
	default:
		log.Printf("[config] unknown ORDER_STYLE %q, using market", c.OrderStyle)
	}
	spec.Bracket.EntryOffset = parseDecimal("BRACKET_ENTRY_OFFSET", c.EntryOffset, spec.Bracket.EntryOffset)
	spec.Bracket.TargetOffset = parseDecimal("BRACKET_TARGET_OFFSET", c.TargetOffset, spec.Bracket.TargetOffset)
	spec.Bracket.StopOffset = parseDecimal("BRACKET_STOP_OFFSET", c.StopOffset, spec.Bracket.StopOffset)
	spec.Bracket.Trail = parseDecimal("BRACKET_TRAIL", c.Trail, spec.Bracket.Trail)
	return spec
}

// Dispatcher returns the per-account retry settings.
func (c *Config) Dispatcher() execution.DispatcherConfig {
	return execution.DispatcherConfig{
		MaxAttempts: c.MaxAttempts,
		RetryDelay:  c.RetryDelay,
		Order:       c.OrderSpec(),
	}
}

// Orchestrator returns the fan-out settings.
func (c *Config) Orchestrator() execution.OrchestratorConfig {
	return execution.OrchestratorConfig{
		Stagger:    c.Stagger,
		MaxWorkers: c.MaxWorkers,
		Multiplier: c.LotMultiplier,
	}
}

func parseDecimal(name, s string, fallback decimal.Decimal) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || d.IsNegative() {
		log.Printf("[config] invalid %s %q, using %s", name, s, fallback)
		return fallback
	}
	return d
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Printf("[config] invalid %s %q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s %q, using %s", key, v, fallback)
		return fallback
	}
	return d
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s %q, using %t", key, v, fallback)
		return fallback
	}
	return b
}
