package report

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"rsi-reportbot/internal/model"
)

const (
	headerTimeLayout = "02-01 15:04"
	priceUnavailable = "N/A"
)

// Render formats a report as chat text: a header line followed by one
// line per signal, or a placeholder naming the thresholds when there are none.
func Render(rep model.Report, th Thresholds) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🌆 Báo cáo %s – %s\n", rep.Resolution.Label(), rep.GeneratedAt.Format(headerTimeLayout))

	if len(rep.Signals) == 0 {
		fmt.Fprintf(&sb, "Không có tín hiệu RSI <%s hoặc >%s", number(th.Low), number(th.High))
		return sb.String()
	}

	for i, s := range rep.Signals {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(SignalLine(s))
	}
	return sb.String()
}

// SignalLine formats one signal.
func SignalLine(s model.Signal) string {
	price := priceUnavailable
	if s.Price.Valid {
		price = s.Price.Decimal.String()
	}
	ind := s.Indicators
	return fmt.Sprintf("%s – Giá: %s – RSI: %s – ADX: %s – +DI: %s – -DI: %s",
		s.Instrument.Symbol, price,
		number(ind.RSI), number(ind.ADX), number(ind.PlusDI), number(ind.MinusDI))
}

// number prints the shortest exact decimal form of v: 70 → "70", 18.5 → "18.5".
func number(v float64) string {
	return decimal.NewFromFloat(v).String()
}
