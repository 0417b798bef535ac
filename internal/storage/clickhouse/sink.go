package clickhouse

import (
	"context"
	"fmt"

	"solana-signal-watch/internal/domain"
	"solana-signal-watch/internal/storage"
)

// Sink implements storage.CandleSink using ClickHouse. Writes are single
// rows on a hot-ish path, so they go through async inserts and the caller
// treats failures as best effort.
type Sink struct {
	conn *Conn
}

// NewSink creates a new Sink.
func NewSink(conn *Conn) *Sink {
	return &Sink{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleSink = (*Sink)(nil)

// WriteCandle persists one closed candle.
func (s *Sink) WriteCandle(ctx context.Context, tokenAddress string, c domain.Candle) error {
	query := `
		INSERT INTO signal_candles (
			token_address, start_time_ms, open, high, low, close, volume
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := s.conn.AsyncInsert(ctx, query, false,
		tokenAddress, uint64(c.StartTime),
		c.Open, c.High, c.Low, c.Close, c.Volume,
	)
	if err != nil {
		return fmt.Errorf("insert candle: %w", err)
	}
	return nil
}

// WriteAlert persists one emitted alert.
func (s *Sink) WriteAlert(ctx context.Context, a domain.AlertEvent) error {
	query := `
		INSERT INTO signal_alerts (
			token_address, token_symbol, chain, alert_type, reason,
			price, fast_line, slow_line, timestamp_ms, message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := s.conn.AsyncInsert(ctx, query, false,
		a.TokenAddress, a.TokenSymbol, a.Chain, a.Type, a.Reason,
		a.Price, a.FastLine, a.SlowLine, uint64(a.Timestamp), a.Message,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}
