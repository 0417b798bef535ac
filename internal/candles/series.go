// Package candles builds fixed-duration OHLCV candles from irregular price
// ticks.
package candles

import (
	"time"

	"solana-signal-watch/internal/domain"
)

// Defaults for candle construction.
const (
	DefaultInterval   = time.Minute
	DefaultMaxCandles = 120
)

// Series is one monitor's candle history plus the parallel indicator
// history. The two slices always have equal length: a placeholder snapshot
// is appended with every new candle and both are evicted in lock-step once
// the retention cap is exceeded. Series is the single writer of candle
// state; everything else only reads it.
type Series struct {
	Candles    []domain.Candle
	Indicators []domain.IndicatorSnapshot

	intervalMs int64
	maxCandles int
}

// NewSeries creates an empty series with the given bucket duration and
// retention cap. Non-positive arguments fall back to the defaults.
func NewSeries(interval time.Duration, maxCandles int) *Series {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxCandles <= 0 {
		maxCandles = DefaultMaxCandles
	}
	return &Series{
		intervalMs: interval.Milliseconds(),
		maxCandles: maxCandles,
	}
}

// Apply ingests one price tick at ts (unix ms). If no candle is open one is
// opened; if the open candle's bucket has elapsed it is closed and a new one
// opened with open = previous close; otherwise the open candle's
// high/low/close are mutated in place. Returns true when a new candle was
// opened (the previous one, if any, is now immutable).
func (s *Series) Apply(price, volume float64, ts int64) bool {
	n := len(s.Candles)
	if n == 0 {
		s.append(domain.Candle{
			Open: price, High: price, Low: price, Close: price,
			Volume: volume, StartTime: ts,
		})
		return true
	}

	cur := &s.Candles[n-1]
	if ts-cur.StartTime >= s.intervalMs {
		// Close the current bucket and open a new one from its close.
		prevClose := cur.Close
		c := domain.Candle{
			Open: prevClose, High: prevClose, Low: prevClose, Close: prevClose,
			StartTime: ts,
		}
		if price > c.High {
			c.High = price
		}
		if price < c.Low {
			c.Low = price
		}
		c.Close = price
		c.Volume = volume
		s.append(c)
		return true
	}

	if price > cur.High {
		cur.High = price
	}
	if price < cur.Low {
		cur.Low = price
	}
	cur.Close = price
	cur.Volume += volume
	return false
}

// append adds a candle with its placeholder indicator snapshot and evicts
// the oldest pair when the cap is exceeded.
func (s *Series) append(c domain.Candle) {
	s.Candles = append(s.Candles, c)
	s.Indicators = append(s.Indicators, domain.IndicatorSnapshot{})
	if len(s.Candles) > s.maxCandles {
		s.Candles = s.Candles[1:]
		s.Indicators = s.Indicators[1:]
	}
}

// Last returns the open (mutable) candle, or nil for an empty series.
func (s *Series) Last() *domain.Candle {
	if len(s.Candles) == 0 {
		return nil
	}
	return &s.Candles[len(s.Candles)-1]
}

// Closed returns the most recently closed candle, or nil when fewer than
// two candles exist.
func (s *Series) Closed() *domain.Candle {
	if len(s.Candles) < 2 {
		return nil
	}
	return &s.Candles[len(s.Candles)-2]
}

// Len returns the number of candles in the series.
func (s *Series) Len() int {
	return len(s.Candles)
}
