package model

// StatusTrading is the provider status of an instrument open for trading.
const StatusTrading = "TRADING"

// Instrument is an immutable snapshot of one tradable pair from the provider catalog.
type Instrument struct {
	Symbol     string `json:"symbol"`      // e.g. BTCUSDT
	BaseAsset  string `json:"base_asset"`  // e.g. BTC
	QuoteAsset string `json:"quote_asset"` // e.g. USDT
	Status     string `json:"status"`      // TRADING, BREAK, ...
}

// Tradable returns true when the instrument is actively trading.
func (i Instrument) Tradable() bool {
	return i.Status == StatusTrading
}
