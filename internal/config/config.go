// Package config defines the configuration contract and handles loading and validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken        = "TELEGRAM_TOKEN"
	KeyDatabaseURL          = "SUPABASE_DB_URL"
	KeyDatabasePassword     = "SUPABASE_DB_PASSWORD"
	KeyWebAppURL            = "WEB_APP_URL"
	KeyAppEnv               = "APP_ENV"
	KeyLogLevel             = "LOG_LEVEL"
	KeyHTTPPort             = "HTTP_PORT"
	KeyRedisURL             = "REDIS_URL"
	KeyRateLimitPerMinute   = "RATE_LIMIT_PER_MINUTE"
	KeyLotteryCheckInterval = "LOTTERY_CHECK_INTERVAL"
	KeyBalanceCheckInterval = "BALANCE_CHECK_INTERVAL"
	KeyWinnerLookback       = "WINNER_LOOKBACK"
	KeyLowBalanceThreshold  = "LOW_BALANCE_THRESHOLD"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Defaults for optional settings.
	DefaultAppEnv               = EnvProduction
	DefaultLogLevel             = "info"
	DefaultHTTPPort             = 8080
	DefaultRateLimitPerMinute   = 20
	DefaultLotteryCheckInterval = time.Hour
	DefaultBalanceCheckInterval = 6 * time.Hour
	DefaultWinnerLookback       = time.Hour
	DefaultLowBalanceThreshold  = 5.0

	// MinCheckInterval is the shortest accepted notification pass interval.
	MinCheckInterval = time.Second
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyDatabaseURL,
		Example:     "postgres://postgres@db.example.supabase.co:5432/postgres?sslmode=require",
		Required:    true,
		Description: "Postgres connection URL of the Supabase project, without the password.",
	},
	{
		Key:         KeyDatabasePassword,
		Example:     "service-password",
		Required:    true,
		Description: "Database password for the service role.",
		Notes:       "Injected into " + KeyDatabaseURL + " at connect time; never logged.",
	},
	{
		Key:         KeyWebAppURL,
		Example:     "https://lottery.example.app",
		Required:    true,
		Description: "Base URL of the mini app opened by inline buttons.",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health/diagnostics port.",
	},
	{
		Key:         KeyRedisURL,
		Example:     "redis://localhost:6379/0",
		Description: "Redis URL for per-user rate limiting; limiting is disabled when unset.",
	},
	{
		Key:         KeyRateLimitPerMinute,
		Example:     strconv.Itoa(DefaultRateLimitPerMinute),
		Default:     strconv.Itoa(DefaultRateLimitPerMinute),
		Description: "Inbound updates accepted per user per minute.",
	},
	{
		Key:         KeyLotteryCheckInterval,
		Example:     DefaultLotteryCheckInterval.String(),
		Default:     DefaultLotteryCheckInterval.String(),
		Description: "Interval between lottery winner notification passes.",
		Notes:       "Must be at least " + MinCheckInterval.String() + ".",
	},
	{
		Key:         KeyBalanceCheckInterval,
		Example:     DefaultBalanceCheckInterval.String(),
		Default:     DefaultBalanceCheckInterval.String(),
		Description: "Interval between low balance notification passes.",
		Notes:       "Must be at least " + MinCheckInterval.String() + ".",
	},
	{
		Key:         KeyWinnerLookback,
		Example:     DefaultWinnerLookback.String(),
		Default:     DefaultWinnerLookback.String(),
		Description: "How far back a completed round is considered for winner notification.",
		Notes:       "Winner notifications are de-duplicated, so a window wider than the interval is safe.",
	},
	{
		Key:         KeyLowBalanceThreshold,
		Example:     "5",
		Default:     "5",
		Description: "Balance (USD) below which users receive the low balance reminder.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken        string
	DatabaseURL          string
	DatabasePassword     string
	WebAppURL            string
	AppEnv               string
	LogLevel             string
	HTTPPort             int
	RedisURL             string
	RateLimitPerMinute   int
	LotteryCheckInterval time.Duration
	BalanceCheckInterval time.Duration
	WinnerLookback       time.Duration
	LowBalanceThreshold  float64
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:               firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken:        strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		DatabaseURL:          strings.TrimSpace(os.Getenv(KeyDatabaseURL)),
		DatabasePassword:     os.Getenv(KeyDatabasePassword),
		WebAppURL:            strings.TrimRight(strings.TrimSpace(os.Getenv(KeyWebAppURL)), "/"),
		LogLevel:             firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:             DefaultHTTPPort,
		RedisURL:             strings.TrimSpace(os.Getenv(KeyRedisURL)),
		RateLimitPerMinute:   DefaultRateLimitPerMinute,
		LotteryCheckInterval: DefaultLotteryCheckInterval,
		BalanceCheckInterval: DefaultBalanceCheckInterval,
		WinnerLookback:       DefaultWinnerLookback,
		LowBalanceThreshold:  DefaultLowBalanceThreshold,
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}
	if cfg.DatabaseURL == "" {
		missing = append(missing, KeyDatabaseURL)
	}
	if strings.TrimSpace(cfg.DatabasePassword) == "" {
		missing = append(missing, KeyDatabasePassword)
	}
	if cfg.WebAppURL == "" {
		missing = append(missing, KeyWebAppURL)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if err := validateURL(KeyDatabaseURL, cfg.DatabaseURL, "postgres", "postgresql"); err != nil {
		return Config{}, err
	}
	if err := validateURL(KeyWebAppURL, cfg.WebAppURL, "http", "https"); err != nil {
		return Config{}, err
	}
	if cfg.RedisURL != "" {
		if err := validateURL(KeyRedisURL, cfg.RedisURL, "redis", "rediss"); err != nil {
			return Config{}, err
		}
	}

	if cfg.HTTPPort, err = positiveInt(KeyHTTPPort, DefaultHTTPPort); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitPerMinute, err = positiveInt(KeyRateLimitPerMinute, DefaultRateLimitPerMinute); err != nil {
		return Config{}, err
	}
	if cfg.LotteryCheckInterval, err = checkInterval(KeyLotteryCheckInterval, DefaultLotteryCheckInterval); err != nil {
		return Config{}, err
	}
	if cfg.BalanceCheckInterval, err = checkInterval(KeyBalanceCheckInterval, DefaultBalanceCheckInterval); err != nil {
		return Config{}, err
	}
	if cfg.WinnerLookback, err = positiveDuration(KeyWinnerLookback, DefaultWinnerLookback); err != nil {
		return Config{}, err
	}

	thresholdRaw := strings.TrimSpace(os.Getenv(KeyLowBalanceThreshold))
	if thresholdRaw != "" {
		threshold, parseErr := strconv.ParseFloat(thresholdRaw, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyLowBalanceThreshold, parseErr)
		}
		if threshold < 0 {
			return Config{}, fmt.Errorf("%s must not be negative", KeyLowBalanceThreshold)
		}
		cfg.LowBalanceThreshold = threshold
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// DatabaseDSN returns the database URL with the service password applied.
func (c Config) DatabaseDSN() (string, error) {
	parsed, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", KeyDatabaseURL, err)
	}

	username := "postgres"
	if parsed.User != nil && parsed.User.Username() != "" {
		username = parsed.User.Username()
	}
	parsed.User = url.UserPassword(username, c.DatabasePassword)

	return parsed.String(), nil
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func validateURL(key, raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}

	for _, scheme := range schemes {
		if strings.EqualFold(parsed.Scheme, scheme) {
			if parsed.Host == "" {
				return fmt.Errorf("invalid %s: host is required", key)
			}
			return nil
		}
	}

	return fmt.Errorf("invalid %s: scheme must be one of %s", key, strings.Join(schemes, ", "))
}

func positiveInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}

	return value, nil
}

func positiveDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}

	return value, nil
}

// checkInterval parses a scheduler interval. The cron runner ticks at most
// once per second.
func checkInterval(key string, fallback time.Duration) (time.Duration, error) {
	value, err := positiveDuration(key, fallback)
	if err != nil {
		return 0, err
	}
	if value < MinCheckInterval {
		return 0, fmt.Errorf("%s must be at least %s", key, MinCheckInterval)
	}

	return value, nil
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
