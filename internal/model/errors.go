package model

import "errors"

var (
	// ErrCatalogUnavailable means the instrument list could not be retrieved.
	// It is the only failure that aborts a report build.
	ErrCatalogUnavailable = errors.New("catalog unavailable")

	// ErrInstrumentDataUnavailable marks a per-instrument candle or price
	// fetch/parse failure. Callers skip the instrument or null the price.
	ErrInstrumentDataUnavailable = errors.New("instrument data unavailable")

	// ErrInsufficientData is returned for series shorter than MinSeriesLen.
	ErrInsufficientData = errors.New("insufficient data")
)
