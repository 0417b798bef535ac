// Package storage defines persistence interfaces for the watcher. Both
// backends are optional: the pipeline runs fully in-memory when neither a
// Postgres DSN nor a ClickHouse DSN is configured.
package storage

import (
	"context"
	"time"

	"solana-signal-watch/internal/domain"
)

// CallStore supplies bootstrap call records from the alert store.
type CallStore interface {
	// RecentCalls returns calls for the given chain whose alert timestamp
	// falls within the lookback window, newest first.
	RecentCalls(ctx context.Context, chain string, lookback time.Duration) ([]domain.CallRecord, error)
}

// CandleSink receives closed candles and emitted alerts. Implementations
// must be safe for concurrent use; callers treat writes as best effort.
type CandleSink interface {
	// WriteCandle persists one closed candle for a token.
	WriteCandle(ctx context.Context, tokenAddress string, c domain.Candle) error

	// WriteAlert persists one emitted alert.
	WriteAlert(ctx context.Context, a domain.AlertEvent) error
}
