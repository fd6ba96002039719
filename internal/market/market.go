// Package market adapts the provider client to the model ports used by the
// report pipeline: the filtered instrument catalog, candle series and
// latest prices.
package market

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"rsi-reportbot/internal/binance"
	"rsi-reportbot/internal/model"
)

// QuoteAsset is the quote currency every reported pair is priced in.
const QuoteAsset = "USDT"

// DefaultWindow is the number of candles fetched per instrument.
const DefaultWindow = 100

// Leveraged tokens quoted in USDT that never make sense to report.
var excludedSuffixes = []string{"BULLUSDT", "BEARUSDT"}

// Provider is the subset of the Binance client the adapters need.
type Provider interface {
	ExchangeInfo(ctx context.Context) ([]binance.SymbolInfo, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error)
	TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

var (
	_ Provider               = (*binance.Client)(nil)
	_ model.InstrumentLister = (*Catalog)(nil)
	_ model.SeriesFetcher    = (*CandleFetcher)(nil)
	_ model.PriceSource      = (*PriceLookup)(nil)
)

// Catalog lists the USDT pairs open for trading.
type Catalog struct {
	provider Provider
}

func NewCatalog(p Provider) *Catalog {
	return &Catalog{provider: p}
}

// List returns the filtered catalog in provider order.
func (c *Catalog) List(ctx context.Context) ([]model.Instrument, error) {
	symbols, err := c.provider.ExchangeInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrCatalogUnavailable, err)
	}

	out := make([]model.Instrument, 0, len(symbols))
	for _, s := range symbols {
		inst := model.Instrument{
			Symbol:     s.Symbol,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
			Status:     s.Status,
		}
		if Eligible(inst) {
			out = append(out, inst)
		}
	}
	return out, nil
}

// Eligible reports whether an instrument belongs in a report scan.
func Eligible(inst model.Instrument) bool {
	if inst.QuoteAsset != QuoteAsset || !inst.Tradable() {
		return false
	}
	for _, suffix := range excludedSuffixes {
		if strings.HasSuffix(inst.Symbol, suffix) {
			return false
		}
	}
	return true
}

// CandleFetcher retrieves the most recent window of candles.
type CandleFetcher struct {
	provider Provider
	window   int
}

// NewCandleFetcher creates a fetcher. A non-positive window uses DefaultWindow.
func NewCandleFetcher(p Provider, window int) *CandleFetcher {
	if window <= 0 {
		window = DefaultWindow
	}
	return &CandleFetcher{provider: p, window: window}
}

func (f *CandleFetcher) Fetch(ctx context.Context, symbol string, res model.Resolution) (model.Series, error) {
	klines, err := f.provider.Klines(ctx, symbol, res.String(), f.window)
	if err != nil {
		return nil, fmt.Errorf("%w: klines %s %s: %w", model.ErrInstrumentDataUnavailable, symbol, res, err)
	}

	series := make(model.Series, len(klines))
	for i, k := range klines {
		series[i] = model.Candle{
			OpenTime: k.OpenTime,
			Open:     k.Open,
			High:     k.High,
			Low:      k.Low,
			Close:    k.Close,
			Volume:   k.Volume,
		}
	}
	return series, nil
}

// PriceLookup retrieves the last traded price.
type PriceLookup struct {
	provider Provider
}

func NewPriceLookup(p Provider) *PriceLookup {
	return &PriceLookup{provider: p}
}

func (l *PriceLookup) Latest(ctx context.Context, symbol string) (decimal.Decimal, error) {
	price, err := l.provider.TickerPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: price %s: %w", model.ErrInstrumentDataUnavailable, symbol, err)
	}
	return price, nil
}
