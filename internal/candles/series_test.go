package candles

import (
	"testing"
	"time"
)

const minuteMs = int64(60_000)

func TestApply_OpensFirstCandle(t *testing.T) {
	s := NewSeries(time.Minute, 10)

	rolled := s.Apply(1.5, 10, 1_000)
	if !rolled {
		t.Error("first tick must open a candle")
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
	c := s.Last()
	if c.Open != 1.5 || c.High != 1.5 || c.Low != 1.5 || c.Close != 1.5 {
		t.Errorf("candle = %+v", *c)
	}
	if c.Volume != 10 {
		t.Errorf("volume = %v, want 10", c.Volume)
	}
	if c.StartTime != 1_000 {
		t.Errorf("start = %d, want 1000", c.StartTime)
	}
}

func TestApply_MutatesOpenCandleInPlace(t *testing.T) {
	s := NewSeries(time.Minute, 10)
	s.Apply(2.0, 1, 0)
	s.Apply(3.0, 2, 10_000)
	s.Apply(1.0, 3, 20_000)
	s.Apply(2.5, 4, 30_000)

	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1 (all ticks within one bucket)", s.Len())
	}
	c := s.Last()
	if c.Open != 2.0 {
		t.Errorf("open = %v, want 2.0", c.Open)
	}
	if c.High != 3.0 {
		t.Errorf("high = %v, want 3.0", c.High)
	}
	if c.Low != 1.0 {
		t.Errorf("low = %v, want 1.0", c.Low)
	}
	if c.Close != 2.5 {
		t.Errorf("close = %v, want 2.5", c.Close)
	}
	if c.Volume != 10 {
		t.Errorf("volume = %v, want 10", c.Volume)
	}
}

func TestApply_RollsBucketWithOpenFromPreviousClose(t *testing.T) {
	s := NewSeries(time.Minute, 10)
	s.Apply(2.0, 1, 0)
	s.Apply(2.4, 1, 30_000)

	rolled := s.Apply(2.6, 5, minuteMs)
	if !rolled {
		t.Fatal("tick one interval after open must roll the bucket")
	}
	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2", s.Len())
	}

	closed := s.Closed()
	if closed.Close != 2.4 {
		t.Errorf("closed close = %v, want 2.4", closed.Close)
	}

	cur := s.Last()
	if cur.Open != 2.4 {
		t.Errorf("new open = %v, want previous close 2.4", cur.Open)
	}
	if cur.Close != 2.6 || cur.High != 2.6 {
		t.Errorf("new candle = %+v", *cur)
	}
	if cur.StartTime != minuteMs {
		t.Errorf("new start = %d, want %d", cur.StartTime, minuteMs)
	}
}

func TestApply_GapDownOnRollKeepsLowCorrect(t *testing.T) {
	s := NewSeries(time.Minute, 10)
	s.Apply(5.0, 0, 0)
	s.Apply(3.0, 0, minuteMs) // gap down on roll

	cur := s.Last()
	if cur.Open != 5.0 {
		t.Errorf("open = %v, want 5.0", cur.Open)
	}
	if cur.Low != 3.0 {
		t.Errorf("low = %v, want 3.0", cur.Low)
	}
	if cur.High != 5.0 {
		t.Errorf("high = %v, want 5.0 (open)", cur.High)
	}
}

func TestApply_EvictsOldestPairAtCap(t *testing.T) {
	s := NewSeries(time.Minute, 3)
	for i := 0; i < 5; i++ {
		s.Apply(float64(i+1), 0, int64(i)*minuteMs)
		if len(s.Candles) != len(s.Indicators) {
			t.Fatalf("after tick %d: candles=%d indicators=%d", i, len(s.Candles), len(s.Indicators))
		}
	}
	if s.Len() != 3 {
		t.Fatalf("len = %d, want cap 3", s.Len())
	}
	// Oldest surviving candle is the third one (opens at 2*minute).
	if s.Candles[0].StartTime != 2*minuteMs {
		t.Errorf("oldest start = %d, want %d", s.Candles[0].StartTime, 2*minuteMs)
	}
}

func TestApply_TimestampsMonotonic(t *testing.T) {
	s := NewSeries(time.Minute, 50)
	ticks := []int64{0, 5_000, minuteMs, minuteMs + 1, 3 * minuteMs, 3*minuteMs + 500, 10 * minuteMs}
	for _, ts := range ticks {
		s.Apply(1.0, 0, ts)
	}
	for i := 1; i < s.Len(); i++ {
		if s.Candles[i].StartTime < s.Candles[i-1].StartTime {
			t.Fatalf("start times not monotonic at %d: %d < %d", i, s.Candles[i].StartTime, s.Candles[i-1].StartTime)
		}
	}
}

func TestClosed_NilUntilTwoCandles(t *testing.T) {
	s := NewSeries(time.Minute, 10)
	if s.Closed() != nil {
		t.Error("empty series has no closed candle")
	}
	s.Apply(1, 0, 0)
	if s.Closed() != nil {
		t.Error("single-candle series has no closed candle")
	}
}
