package domain

// Candle is one fixed-duration OHLCV bucket built from irregular price ticks.
// StartTime is the open time of the bucket in unix milliseconds. Within a
// monitor's series start times are monotonically non-decreasing and only the
// last candle is ever mutated.
type Candle struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	StartTime int64
}

// IndicatorSnapshot holds the moving-average chain for one candle index.
// Snapshots are kept 1:1 with candles. FastLine/SlowLine are the trend
// crossover lines in price units; Ready is false until the series reached
// the minimum length required for the lines to be defined.
type IndicatorSnapshot struct {
	FastLine float64
	SlowLine float64
	Ready    bool
}
