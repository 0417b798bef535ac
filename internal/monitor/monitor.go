// Package monitor holds per-token monitoring state and the registry that
// owns monitor lifetime.
package monitor

import (
	"strings"
	"sync"

	"solana-signal-watch/internal/candles"
	"solana-signal-watch/internal/domain"
	"solana-signal-watch/internal/signal"
)

// TokenMonitor is the complete per-token pipeline state: identity, candle
// series with its lock-step indicator history, and the one-shot signal
// state. The identity fields above the mutex are immutable after creation.
// The dispatch goroutine is the only writer of the mutable fields; the
// embedded mutex exists for cross-goroutine readers (status reporting and
// the fallback poll loop).
type TokenMonitor struct {
	TokenAddress string
	TokenSymbol  string
	Chain        string
	CallerName   string
	AlertTime    int64
	AlertPrice   float64

	// CurveAddress is the derived bonding-curve sub-address subscribed on
	// the transport.
	CurveAddress string

	sync.Mutex

	// Graduated is set once the bonding curve completes; from then on only
	// swaps and fallback quotes can price the token.
	Graduated bool

	Series *candles.Series
	Signal signal.State

	LastPrice  float64
	LastUpdate int64 // unix milliseconds
}

// NewTokenMonitor creates a monitor from a bootstrap call record.
func NewTokenMonitor(rec domain.CallRecord, curveAddress string, series *candles.Series) *TokenMonitor {
	if series == nil {
		series = candles.NewSeries(candles.DefaultInterval, candles.DefaultMaxCandles)
	}
	return &TokenMonitor{
		TokenAddress: rec.TokenAddress,
		TokenSymbol:  rec.TokenSymbol,
		Chain:        rec.Chain,
		CallerName:   rec.CallerName,
		AlertTime:    rec.AlertTimestamp,
		AlertPrice:   rec.AlertPrice,
		CurveAddress: curveAddress,
		Series:       series,
	}
}

// Key returns the case-normalized registry key for a chain/address pair.
// Solana addresses are case-sensitive base58, but the chain tag is not.
func Key(chain, address string) string {
	return strings.ToLower(strings.TrimSpace(chain)) + ":" + strings.TrimSpace(address)
}

// Status is a point-in-time monitor summary for status reporting.
type Status struct {
	TokenAddress string
	TokenSymbol  string
	Chain        string
	CallerName   string
	CurveAddress string
	Graduated    bool
	LastPrice    float64
	LastUpdate   int64
	Candles      int
	EntrySent    bool
	ExitSent     bool
	InPosition   bool
}

// Status summarizes the monitor.
func (m *TokenMonitor) Status() Status {
	m.Lock()
	defer m.Unlock()
	return Status{
		TokenAddress: m.TokenAddress,
		TokenSymbol:  m.TokenSymbol,
		Chain:        m.Chain,
		CallerName:   m.CallerName,
		CurveAddress: m.CurveAddress,
		Graduated:    m.Graduated,
		LastPrice:    m.LastPrice,
		LastUpdate:   m.LastUpdate,
		Candles:      m.Series.Len(),
		EntrySent:    m.Signal.EntrySent,
		ExitSent:     m.Signal.ExitSent,
		InPosition:   m.Signal.InPosition,
	}
}
