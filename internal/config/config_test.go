package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chain != "solana" {
		t.Errorf("Chain = %q", cfg.Chain)
	}
	if cfg.CandleInterval != time.Minute {
		t.Errorf("CandleInterval = %v", cfg.CandleInterval)
	}
	if cfg.MaxCandles != 120 {
		t.Errorf("MaxCandles = %d", cfg.MaxCandles)
	}
	if cfg.PollInterval != 15*time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.Lookback != 24*time.Hour {
		t.Errorf("Lookback = %v", cfg.Lookback)
	}
	if cfg.ReconnectBase != 500*time.Millisecond || cfg.ReconnectMax != 30*time.Second || cfg.ReconnectAttempts != 15 {
		t.Errorf("reconnect = %v/%v/%d", cfg.ReconnectBase, cfg.ReconnectMax, cfg.ReconnectAttempts)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CANDLE_INTERVAL_SECONDS", "30")
	t.Setenv("MAX_CANDLES", "60")
	t.Setenv("CHAIN", "Solana")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CandleInterval != 30*time.Second {
		t.Errorf("CandleInterval = %v", cfg.CandleInterval)
	}
	if cfg.MaxCandles != 60 {
		t.Errorf("MaxCandles = %d", cfg.MaxCandles)
	}
	if cfg.Chain != "Solana" {
		t.Errorf("Chain = %q", cfg.Chain)
	}
}

func TestLoad_MalformedNumber(t *testing.T) {
	t.Setenv("MAX_CANDLES", "plenty")
	if _, err := Load(); err == nil {
		t.Fatal("expected a parse error")
	}
}
