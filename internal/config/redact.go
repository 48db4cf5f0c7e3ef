package config

import (
	"fmt"
	"net/url"
	"strings"
)

const redactedMarker = "redacted"

// FormatRedacted renders a human-readable configuration summary with secrets
// masked, suitable for --config-only output.
func FormatRedacted(cfg Config) string {
	redisURL := "disabled"
	if cfg.RedisURL != "" {
		redisURL = redactURL(cfg.RedisURL)
	}

	lines := []string{
		fmt.Sprintf("app_env: %s", cfg.AppEnv),
		fmt.Sprintf("log_level: %s", cfg.LogLevel),
		fmt.Sprintf("http_port: %d", cfg.HTTPPort),
		fmt.Sprintf("telegram_token: %s", redactToken(cfg.TelegramToken)),
		fmt.Sprintf("database_url: %s", redactURL(cfg.DatabaseURL)),
		fmt.Sprintf("database_password: %s", redactSecret(cfg.DatabasePassword)),
		fmt.Sprintf("web_app_url: %s", cfg.WebAppURL),
		fmt.Sprintf("redis_url: %s", redisURL),
		fmt.Sprintf("rate_limit_per_minute: %d", cfg.RateLimitPerMinute),
		fmt.Sprintf("lottery_check_interval: %s", cfg.LotteryCheckInterval),
		fmt.Sprintf("balance_check_interval: %s", cfg.BalanceCheckInterval),
		fmt.Sprintf("winner_lookback: %s", cfg.WinnerLookback),
		fmt.Sprintf("low_balance_threshold: %.2f", cfg.LowBalanceThreshold),
	}

	return strings.Join(lines, "\n")
}

func redactToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "..." + redactedMarker
	}
	return token[:4] + "..." + redactedMarker
}

func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return redactedMarker
}

// redactURL drops userinfo from a URL. Unparseable values are masked entirely.
func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return redactedMarker
	}
	parsed.User = nil
	return parsed.String()
}
