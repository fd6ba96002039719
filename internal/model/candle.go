package model

import "time"

// MinSeriesLen is the shortest series the indicator engine will analyze.
// Shorter series are skipped, not reported as errors.
const MinSeriesLen = 20

// Candle represents one OHLCV bar for a single instrument at a fixed resolution.
type Candle struct {
	OpenTime time.Time `json:"open_time"` // bucket start (UTC)
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"` // base asset quantity
}

// Series is an ordered run of candles for one instrument, oldest first.
type Series []Candle

// Analyzable reports whether the series is long enough for indicator computation.
func (s Series) Analyzable() bool {
	return len(s) >= MinSeriesLen
}
