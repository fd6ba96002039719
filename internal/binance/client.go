// Package binance is a small REST client for the public Binance spot
// market-data endpoints used by the report pipeline.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"rsi-reportbot/internal/breaker"
	"rsi-reportbot/internal/metrics"
	"rsi-reportbot/internal/ratelimit"
)

const (
	DefaultBaseURL = "https://api.binance.com"

	exchangeInfoPath = "/api/v3/exchangeInfo"
	klinesPath       = "/api/v3/klines"
	tickerPricePath  = "/api/v3/ticker/price"

	// Request weights as published for the endpoints and parameters we use.
	weightExchangeInfo = 20
	weightKlines       = 2
	weightTickerPrice  = 2

	maxBodyBytes = 16 << 20
)

// ErrBadPayload marks a 200 response whose body could not be decoded.
// It concerns one request, not provider health.
var ErrBadPayload = errors.New("bad payload")

// APIError is a non-200 response from the provider.
type APIError struct {
	StatusCode int
	Code       int64  // Binance error code, 0 when the body carried none
	Msg        string // Binance error message or response status
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("binance: status %d: code %d: %s", e.StatusCode, e.Code, e.Msg)
	}
	return fmt.Sprintf("binance: status %d: %s", e.StatusCode, e.Msg)
}

// IsProviderFault reports whether err says something about provider health.
// Request errors (bad symbol, bad interval) and undecodable bodies do not,
// except rate-limit bans.
func IsProviderFault(err error) bool {
	if errors.Is(err, ErrBadPayload) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests, apiErr.StatusCode == http.StatusTeapot:
			return true
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			return false
		}
		return true
	}
	// Cancellation by the caller is not a provider failure.
	return !errors.Is(err, context.Canceled)
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	BaseURL    string
	Timeout    time.Duration // per request, default 5s
	HTTPClient *http.Client
	Limiter    ratelimit.Limiter
	Breaker    *breaker.CircuitBreaker
	Metrics    *metrics.Metrics
}

// Client talks to the Binance REST API. It is safe for concurrent use.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	limiter ratelimit.Limiter
	breaker *breaker.CircuitBreaker
	metrics *metrics.Metrics
}

// NewHTTPClient returns an http.Client with a transport tuned for many
// short concurrent requests against one host.
func NewHTTPClient() *http.Client {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Transport: t}
}

// New creates a client.
func New(opts Options) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		timeout: opts.Timeout,
		http:    opts.HTTPClient,
		limiter: opts.Limiter,
		breaker: opts.Breaker,
		metrics: opts.Metrics,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = 5 * time.Second
	}
	if c.http == nil {
		c.http = NewHTTPClient()
	}
	return c
}

// get performs one weighted GET and hands the body to decode.
// The limiter wait is bounded by ctx; the request itself by c.timeout.
func (c *Client) get(ctx context.Context, endpoint string, q url.Values, weight int, decode func([]byte) error) error {
	if c.limiter != nil {
		start := time.Now()
		err := c.limiter.Wait(ctx, weight)
		if c.metrics != nil {
			c.metrics.RateLimitWait.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			return fmt.Errorf("binance: rate limit wait: %w", err)
		}
	}

	call := func() error { return c.do(ctx, endpoint, q, decode) }

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil && c.metrics != nil {
		c.metrics.ProviderErrors.WithLabelValues(endpoint).Inc()
	}
	return err
}

func (c *Client) do(ctx context.Context, endpoint string, q url.Values, decode func([]byte) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + endpoint
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("binance: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if c.metrics != nil {
		c.metrics.ProviderRequestDur.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("binance: http get %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("binance: read %s: %w", endpoint, err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Msg: resp.Status}
		if gjson.ValidBytes(body) {
			if code := gjson.GetBytes(body, "code"); code.Exists() {
				apiErr.Code = code.Int()
			}
			if msg := gjson.GetBytes(body, "msg"); msg.Exists() {
				apiErr.Msg = msg.String()
			}
		}
		return apiErr
	}

	if err := decode(body); err != nil {
		return fmt.Errorf("binance: decode %s: %w: %w", endpoint, ErrBadPayload, err)
	}
	return nil
}

// SymbolInfo is the subset of an exchangeInfo symbol entry we use.
type SymbolInfo struct {
	Symbol     string
	Status     string
	BaseAsset  string
	QuoteAsset string
}

// ExchangeInfo returns every spot symbol in provider order.
func (c *Client) ExchangeInfo(ctx context.Context) ([]SymbolInfo, error) {
	var out []SymbolInfo
	err := c.get(ctx, exchangeInfoPath, nil, weightExchangeInfo, func(body []byte) error {
		if !gjson.ValidBytes(body) {
			return errors.New("invalid json")
		}
		symbols := gjson.GetBytes(body, "symbols")
		if !symbols.IsArray() {
			return errors.New("missing symbols array")
		}
		arr := symbols.Array()
		out = make([]SymbolInfo, 0, len(arr))
		for _, s := range arr {
			out = append(out, SymbolInfo{
				Symbol:     s.Get("symbol").String(),
				Status:     s.Get("status").String(),
				BaseAsset:  s.Get("baseAsset").String(),
				QuoteAsset: s.Get("quoteAsset").String(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Klines returns up to limit most recent candles, oldest first.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", fmt.Sprint(limit))

	var out []Kline
	err := c.get(ctx, klinesPath, q, weightKlines, func(body []byte) error {
		var raw [][]json.RawMessage
		if err := json.Unmarshal(body, &raw); err != nil {
			return err
		}
		parsed, err := parseKlines(raw)
		if err != nil {
			return err
		}
		out = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// TickerPrice returns the last traded price of symbol.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	var price decimal.Decimal
	err := c.get(ctx, tickerPricePath, q, weightTickerPrice, func(body []byte) error {
		var tp tickerPrice
		if err := json.Unmarshal(body, &tp); err != nil {
			return err
		}
		p, err := decimal.NewFromString(tp.Price)
		if err != nil {
			return fmt.Errorf("price %q: %w", tp.Price, err)
		}
		price = p
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return price, nil
}
