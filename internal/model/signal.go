package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// IndicatorResult holds the latest indicator values of one series,
// each rounded to 2 decimal digits.
type IndicatorResult struct {
	RSI     float64 `json:"rsi"`
	ADX     float64 `json:"adx"`
	PlusDI  float64 `json:"plus_di"`
	MinusDI float64 `json:"minus_di"`
}

// Signal is an instrument whose RSI sits in the extreme zone.
// Price is null when the ticker lookup failed.
type Signal struct {
	Instrument Instrument          `json:"instrument"`
	Price      decimal.NullDecimal `json:"price"`
	Indicators IndicatorResult     `json:"indicators"`
}

// Report is the outcome of one scan. Signals are in catalog order.
type Report struct {
	Resolution  Resolution `json:"resolution"`
	GeneratedAt time.Time  `json:"generated_at"`
	Signals     []Signal   `json:"signals"`

	// Scanned and Skipped count instruments considered and dropped.
	Scanned int `json:"scanned"`
	Skipped int `json:"skipped"`
}
