// Package config reads watcher configuration from environment variables,
// with defaults for every numeric knob.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full watcher configuration.
type Config struct {
	// Chain is the single supported chain tag.
	Chain string

	// Transport endpoints. StreamURL is preferred when set; SocketURL is
	// the fallback.
	StreamURL string
	StreamKey string
	SocketURL string
	SocketKey string

	// Quote endpoints for the REST fallback.
	QuoteTokenURL string
	QuoteSolURL   string

	// Optional persistence.
	PostgresDSN   string
	ClickHouseDSN string

	// Pipeline knobs.
	CandleInterval time.Duration
	MaxCandles     int
	PollInterval   time.Duration
	Lookback       time.Duration

	// Reconnect knobs.
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int

	// CurveProgramID is the program the curve sub-addresses are derived
	// under.
	CurveProgramID string

	// MetricsAddr serves /metrics when non-empty.
	MetricsAddr string

	// LogLevel is a zerolog level string (debug, info, warn, error).
	LogLevel string
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		Chain:          getString("CHAIN", "solana"),
		StreamURL:      os.Getenv("STREAM_URL"),
		StreamKey:      os.Getenv("STREAM_API_KEY"),
		SocketURL:      os.Getenv("SOCKET_URL"),
		SocketKey:      os.Getenv("SOCKET_API_KEY"),
		QuoteTokenURL:  getString("QUOTE_TOKEN_URL", "https://api.dexscreener.com"),
		QuoteSolURL:    getString("QUOTE_SOL_URL", "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd"),
		PostgresDSN:    os.Getenv("POSTGRES_DSN"),
		ClickHouseDSN:  os.Getenv("CLICKHOUSE_DSN"),
		CurveProgramID: getString("CURVE_PROGRAM_ID", "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"),
		MetricsAddr:    getString("METRICS_ADDR", ":9090"),
		LogLevel:       getString("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.CandleInterval, err = getSeconds("CANDLE_INTERVAL_SECONDS", 60); err != nil {
		return Config{}, err
	}
	if cfg.MaxCandles, err = getInt("MAX_CANDLES", 120); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = getSeconds("FALLBACK_POLL_SECONDS", 15); err != nil {
		return Config{}, err
	}
	lookbackHours, err := getInt("CALL_LOOKBACK_HOURS", 24)
	if err != nil {
		return Config{}, err
	}
	cfg.Lookback = time.Duration(lookbackHours) * time.Hour

	reconnectBaseMs, err := getInt("RECONNECT_BASE_MS", 500)
	if err != nil {
		return Config{}, err
	}
	cfg.ReconnectBase = time.Duration(reconnectBaseMs) * time.Millisecond
	if cfg.ReconnectMax, err = getSeconds("RECONNECT_MAX_SECONDS", 30); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectAttempts, err = getInt("RECONNECT_ATTEMPTS", 15); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getSeconds(key string, fallback int) (time.Duration, error) {
	n, err := getInt(key, fallback)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}
