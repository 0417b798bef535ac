// Package indicator recomputes the moving-average chain that drives the
// trend-crossover signal.
package indicator

import (
	"errors"
	"fmt"

	"solana-signal-watch/internal/domain"
)

// Default periods for the crossover lines and the minimum series length
// before the lines are considered defined.
const (
	DefaultFastPeriod = 21
	DefaultSlowPeriod = 50
	DefaultMinCandles = 52
)

// ErrInsufficientHistory is returned while the candle series is still
// shorter than the minimum length. It is a skip condition, not a failure.
var ErrInsufficientHistory = errors.New("insufficient history")

// Engine recomputes exponential moving averages over a candle series. Each
// index seeds from the previous snapshot's averages, so a full recompute is
// linear in the series length (which is bounded by the retention cap).
type Engine struct {
	minCandles int
	fastAlpha  float64
	slowAlpha  float64
}

// NewEngine creates an Engine. Non-positive arguments fall back to the
// defaults.
func NewEngine(fastPeriod, slowPeriod, minCandles int) *Engine {
	if fastPeriod <= 0 {
		fastPeriod = DefaultFastPeriod
	}
	if slowPeriod <= 0 {
		slowPeriod = DefaultSlowPeriod
	}
	if minCandles <= 0 {
		minCandles = DefaultMinCandles
	}
	return &Engine{
		minCandles: minCandles,
		fastAlpha:  2.0 / (float64(fastPeriod) + 1),
		slowAlpha:  2.0 / (float64(slowPeriod) + 1),
	}
}

// MinCandles returns the minimum series length for defined lines.
func (e *Engine) MinCandles() int {
	return e.minCandles
}

// Recompute rebuilds every snapshot in out from the candle closes. The two
// slices must be parallel (same length). Below the minimum series length it
// leaves out untouched and returns ErrInsufficientHistory.
func (e *Engine) Recompute(candles []domain.Candle, out []domain.IndicatorSnapshot) error {
	if len(candles) != len(out) {
		return fmt.Errorf("candle/indicator length mismatch: %d != %d", len(candles), len(out))
	}
	if len(candles) < e.minCandles {
		return ErrInsufficientHistory
	}

	for i := range candles {
		close := candles[i].Close
		if i == 0 {
			out[i] = domain.IndicatorSnapshot{FastLine: close, SlowLine: close, Ready: e.minCandles <= 1}
			continue
		}
		prev := out[i-1]
		out[i] = domain.IndicatorSnapshot{
			FastLine: e.fastAlpha*close + (1-e.fastAlpha)*prev.FastLine,
			SlowLine: e.slowAlpha*close + (1-e.slowAlpha)*prev.SlowLine,
			Ready:    i+1 >= e.minCandles,
		}
	}
	return nil
}
