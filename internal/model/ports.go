package model

import (
	"context"

	"github.com/shopspring/decimal"
)

// ── Market data ports ──
// These interfaces decouple the report pipeline from the provider client.

// InstrumentLister lists the tradable instruments in provider order.
type InstrumentLister interface {
	// List returns the filtered catalog. Errors wrap ErrCatalogUnavailable.
	List(ctx context.Context) ([]Instrument, error)
}

// SeriesFetcher retrieves recent candles for one instrument.
type SeriesFetcher interface {
	// Fetch returns up to the configured window, oldest first.
	// Errors wrap ErrInstrumentDataUnavailable.
	Fetch(ctx context.Context, symbol string, res Resolution) (Series, error)
}

// PriceSource retrieves the latest traded price for one instrument.
type PriceSource interface {
	// Latest returns the last price. Errors wrap ErrInstrumentDataUnavailable.
	Latest(ctx context.Context, symbol string) (decimal.Decimal, error)
}
