package indicator

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"rsi-reportbot/internal/model"
)

// DefaultPeriod is the window used for RSI and ADX when none is configured.
const DefaultPeriod = 14

// Engine computes the report indicators over a complete series.
// It holds only configuration, so one Engine is safe for concurrent use.
type Engine struct {
	rsiPeriod int
	adxPeriod int
}

// NewEngine creates an engine. Non-positive periods fall back to DefaultPeriod.
func NewEngine(rsiPeriod, adxPeriod int) *Engine {
	if rsiPeriod <= 0 {
		rsiPeriod = DefaultPeriod
	}
	if adxPeriod <= 0 {
		adxPeriod = DefaultPeriod
	}
	return &Engine{rsiPeriod: rsiPeriod, adxPeriod: adxPeriod}
}

// Compute feeds the series through fresh RSI and ADX instances and returns
// the latest values rounded to 2 decimals. Identical input always yields
// identical output.
func (e *Engine) Compute(series model.Series) (model.IndicatorResult, error) {
	if !series.Analyzable() {
		return model.IndicatorResult{}, fmt.Errorf("%w: %d candles, need %d",
			model.ErrInsufficientData, len(series), model.MinSeriesLen)
	}

	rsi := NewRSI(e.rsiPeriod)
	adx := NewADX(e.adxPeriod)
	for _, c := range series {
		for _, ind := range []Indicator{rsi, adx} {
			ind.Update(c)
		}
	}

	return model.IndicatorResult{
		RSI:     Round2(rsi.Value()),
		ADX:     Round2(adx.Value()),
		PlusDI:  Round2(adx.PlusDI()),
		MinusDI: Round2(adx.MinusDI()),
	}, nil
}

// Round2 rounds half away from zero to 2 decimal digits.
// Non-finite inputs collapse to 0.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
