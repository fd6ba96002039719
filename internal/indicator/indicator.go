// Package indicator provides technical indicator calculations over candle data.
//
// RSI and ADX implement the Indicator interface, receiving candles in
// oldest-first order and producing float64 values. Instances are cheap and
// single-use: the Engine builds fresh ones for every series it computes.
// SMMA is a building block fed raw values through Add.
package indicator

import "rsi-reportbot/internal/model"

var (
	_ Indicator = (*RSI)(nil)
	_ Indicator = (*ADX)(nil)
)

// Indicator is a streaming candle indicator.
type Indicator interface {
	// Update feeds a new candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}
