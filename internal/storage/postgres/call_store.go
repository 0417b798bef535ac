package postgres

import (
	"context"
	"fmt"
	"time"

	"solana-signal-watch/internal/domain"
	"solana-signal-watch/internal/storage"
)

// CallStore implements storage.CallStore using PostgreSQL.
type CallStore struct {
	pool *Pool
}

// NewCallStore creates a new CallStore.
func NewCallStore(pool *Pool) *CallStore {
	return &CallStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CallStore = (*CallStore)(nil)

// Insert adds a call record. Returns ErrDuplicateKey if the same call was
// already recorded.
func (s *CallStore) Insert(ctx context.Context, rec domain.CallRecord) error {
	if rec.TokenAddress == "" || rec.Chain == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO token_calls (
			token_address, token_symbol, chain, caller_name, alert_timestamp, alert_price
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.pool.Exec(ctx, query,
		rec.TokenAddress,
		rec.TokenSymbol,
		rec.Chain,
		rec.CallerName,
		rec.AlertTimestamp,
		rec.AlertPrice,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

// RecentCalls returns calls for the chain within the lookback window,
// newest first.
func (s *CallStore) RecentCalls(ctx context.Context, chain string, lookback time.Duration) ([]domain.CallRecord, error) {
	cutoff := time.Now().Add(-lookback).UnixMilli()

	query := `
		SELECT token_address, token_symbol, chain, caller_name, alert_timestamp, alert_price
		FROM token_calls
		WHERE lower(chain) = lower($1) AND alert_timestamp >= $2
		ORDER BY alert_timestamp DESC
	`

	rows, err := s.pool.Query(ctx, query, chain, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query recent calls: %w", err)
	}
	defer rows.Close()

	var records []domain.CallRecord
	for rows.Next() {
		var rec domain.CallRecord
		err := rows.Scan(
			&rec.TokenAddress,
			&rec.TokenSymbol,
			&rec.Chain,
			&rec.CallerName,
			&rec.AlertTimestamp,
			&rec.AlertPrice,
		)
		if err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}
	return records, nil
}
