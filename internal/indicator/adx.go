package indicator

import (
	"math"

	"rsi-reportbot/internal/model"
)

// ADX calculates Wilder's Average Directional Index together with the
// +DI/-DI lines it is built from.
//
// TR, +DM and -DM are Wilder-smoothed (SMMA); DX is then smoothed again into
// ADX, so the first ADX value needs 2*period candles while +DI/-DI are
// available after period+1.
type ADX struct {
	period int
	count  int

	prevHigh  float64
	prevLow   float64
	prevClose float64

	tr      *SMMA
	plusDM  *SMMA
	minusDM *SMMA
	dx      *SMMA

	plusDI  float64
	minusDI float64
}

// NewADX creates a new ADX indicator with the given period (typically 14).
func NewADX(period int) *ADX {
	return &ADX{
		period:  period,
		tr:      NewSMMA(period),
		plusDM:  NewSMMA(period),
		minusDM: NewSMMA(period),
		dx:      NewSMMA(period),
	}
}

func (a *ADX) Update(candle model.Candle) {
	a.count++

	if a.count == 1 {
		a.prevHigh, a.prevLow, a.prevClose = candle.High, candle.Low, candle.Close
		return
	}

	upMove := candle.High - a.prevHigh
	downMove := a.prevLow - candle.Low

	plusDM, minusDM := 0.0, 0.0
	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}

	tr := max(
		candle.High-candle.Low,
		math.Abs(candle.High-a.prevClose),
		math.Abs(candle.Low-a.prevClose),
	)
	a.prevHigh, a.prevLow, a.prevClose = candle.High, candle.Low, candle.Close

	a.tr.Add(tr)
	a.plusDM.Add(plusDM)
	a.minusDM.Add(minusDM)
	if !a.tr.Ready() {
		return
	}

	if atr := a.tr.Value(); atr > 0 {
		a.plusDI = 100.0 * a.plusDM.Value() / atr
		a.minusDI = 100.0 * a.minusDM.Value() / atr
	} else {
		a.plusDI, a.minusDI = 0, 0
	}

	dx := 0.0
	if sum := a.plusDI + a.minusDI; sum > 0 {
		dx = 100.0 * math.Abs(a.plusDI-a.minusDI) / sum
	}
	a.dx.Add(dx)
}

// Value returns the ADX, or 0 until enough DX values were smoothed.
func (a *ADX) Value() float64 {
	if !a.dx.Ready() {
		return 0
	}
	return a.dx.Value()
}

func (a *ADX) Ready() bool { return a.dx.Ready() }

// PlusDI returns the latest positive directional indicator.
func (a *ADX) PlusDI() float64 { return a.plusDI }

// MinusDI returns the latest negative directional indicator.
func (a *ADX) MinusDI() float64 { return a.minusDI }

// DIReady returns true once +DI/-DI carry a value.
func (a *ADX) DIReady() bool { return a.tr.Ready() }
