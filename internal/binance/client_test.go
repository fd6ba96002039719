package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rsi-reportbot/internal/breaker"
	"rsi-reportbot/internal/metrics"
)

const exchangeInfoBody = `{
  "timezone": "UTC",
  "symbols": [
    {"symbol": "BTCUSDT", "status": "TRADING", "baseAsset": "BTC", "quoteAsset": "USDT"},
    {"symbol": "ETHBTC", "status": "TRADING", "baseAsset": "ETH", "quoteAsset": "BTC"},
    {"symbol": "LUNAUSDT", "status": "BREAK", "baseAsset": "LUNA", "quoteAsset": "USDT"}
  ]
}`

const klinesBody = `[
  [1709251200000, "100.0", "110.5", "95.25", "105.0", "1234.5", 1709254799999, "0", 10, "0", "0", "0"],
  [1709254800000, "105.0", "106.0", "101.0", "102.5", "99.0", 1709258399999, "0", 8, "0", "0", "0"]
]`

func newTestClient(t *testing.T, h http.HandlerFunc, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL
	if opts.HTTPClient == nil {
		opts.HTTPClient = srv.Client()
	}
	return New(opts)
}

func TestExchangeInfo_ParsesSymbolsInOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, exchangeInfoPath, r.URL.Path)
		w.Write([]byte(exchangeInfoBody))
	}, Options{})

	got, err := c.ExchangeInfo(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, SymbolInfo{Symbol: "BTCUSDT", Status: "TRADING", BaseAsset: "BTC", QuoteAsset: "USDT"}, got[0])
	assert.Equal(t, "ETHBTC", got[1].Symbol)
	assert.Equal(t, "BREAK", got[2].Status)
}

func TestExchangeInfo_MalformedPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"timezone":"UTC"}`))
	}, Options{})

	_, err := c.ExchangeInfo(context.Background())
	assert.ErrorContains(t, err, "missing symbols array")
}

func TestKlines_QueryAndParse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, klinesPath, r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "4h", r.URL.Query().Get("interval"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		w.Write([]byte(klinesBody))
	}, Options{})

	got, err := c.Klines(context.Background(), "BTCUSDT", "4h", 100)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, time.UnixMilli(1709251200000).UTC(), got[0].OpenTime)
	assert.Equal(t, 100.0, got[0].Open)
	assert.Equal(t, 110.5, got[0].High)
	assert.Equal(t, 95.25, got[0].Low)
	assert.Equal(t, 105.0, got[0].Close)
	assert.Equal(t, 1234.5, got[0].Volume)
	assert.Equal(t, 102.5, got[1].Close)
}

func TestKlines_BadEntriesFailTheBatch(t *testing.T) {
	cases := map[string]string{
		"short array": `[[1709251200000, "1", "2", "0.5", "1.5"]]`,
		"bad number":  `[[1709251200000, "1", "abc", "0.5", "1.5", "9", 1709254799999]]`,
		"nan":         `[[1709251200000, "1", "NaN", "0.5", "1.5", "9", 1709254799999]]`,
		"not array":   `{"code": 0}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}, Options{})

			_, err := c.Klines(context.Background(), "BTCUSDT", "1h", 100)
			assert.Error(t, err)
		})
	}
}

func TestTickerPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, tickerPricePath, r.URL.Path)
		assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"symbol":"ETHUSDT","price":"3120.45000000"}`))
	}, Options{})

	got, err := c.TickerPrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "3120.45", got.String())
}

func TestTickerPrice_EmptyPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"ETHUSDT","price":""}`))
	}, Options{})

	_, err := c.TickerPrice(context.Background(), "ETHUSDT")
	assert.Error(t, err)
}

func TestAPIError_CarriesProviderCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}, Options{})

	_, err := c.TickerPrice(context.Background(), "NOPEUSDT")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, int64(-1121), apiErr.Code)
	assert.Equal(t, "Invalid symbol.", apiErr.Msg)
	assert.False(t, IsProviderFault(err))
}

func TestIsProviderFault(t *testing.T) {
	assert.True(t, IsProviderFault(&APIError{StatusCode: 500}))
	assert.True(t, IsProviderFault(&APIError{StatusCode: 429}))
	assert.True(t, IsProviderFault(&APIError{StatusCode: 418}))
	assert.False(t, IsProviderFault(&APIError{StatusCode: 404}))
	assert.True(t, IsProviderFault(context.DeadlineExceeded))
	assert.False(t, IsProviderFault(context.Canceled))
	assert.True(t, IsProviderFault(errors.New("connection reset")))
	assert.False(t, IsProviderFault(fmt.Errorf("decode: %w", ErrBadPayload)))
}

func TestMalformedBodyDoesNotTripBreaker(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[["garbage"]]`))
	}, Options{})

	br := breaker.New(2, time.Minute)
	br.ShouldTrip = IsProviderFault
	c.breaker = br

	for i := 0; i < 5; i++ {
		_, err := c.Klines(context.Background(), "BADUSDT", "1h", 100)
		require.ErrorIs(t, err, ErrBadPayload)
	}
	assert.Equal(t, breaker.StateClosed, br.CurrentState())
}

func TestTimeoutIsPerRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}, Options{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := c.TickerPrice(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestBreakerOpensOnServerErrorsOnly(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("symbol") == "BADUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}, Options{})

	br := breaker.New(2, time.Minute)
	br.ShouldTrip = IsProviderFault
	c.breaker = br

	// Client errors never trip.
	for i := 0; i < 5; i++ {
		_, err := c.TickerPrice(context.Background(), "BADUSDT")
		require.Error(t, err)
	}
	assert.Equal(t, breaker.StateClosed, br.CurrentState())

	for i := 0; i < 2; i++ {
		_, err := c.TickerPrice(context.Background(), "BTCUSDT")
		require.Error(t, err)
	}
	assert.Equal(t, breaker.StateOpen, br.CurrentState())

	before := hits.Load()
	_, err := c.TickerPrice(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, breaker.ErrCircuitOpen)
	assert.Equal(t, before, hits.Load(), "open breaker must not reach the server")
}

type fixedLimiter struct {
	weights []int
	err     error
}

func (f *fixedLimiter) Wait(_ context.Context, weight int) error {
	f.weights = append(f.weights, weight)
	return f.err
}

func TestLimiterReceivesEndpointWeights(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case exchangeInfoPath:
			w.Write([]byte(exchangeInfoBody))
		case klinesPath:
			w.Write([]byte(klinesBody))
		default:
			w.Write([]byte(`{"symbol":"BTCUSDT","price":"1"}`))
		}
	}, Options{})
	lim := &fixedLimiter{}
	c.limiter = lim

	_, err := c.ExchangeInfo(context.Background())
	require.NoError(t, err)
	_, err = c.Klines(context.Background(), "BTCUSDT", "1d", 100)
	require.NoError(t, err)
	_, err = c.TickerPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, []int{weightExchangeInfo, weightKlines, weightTickerPrice}, lim.weights)
}

func TestLimiterErrorSkipsRequest(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}, Options{})
	c.limiter = &fixedLimiter{err: context.Canceled}

	_, err := c.TickerPrice(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, hits.Load())
}

func TestMetricsRecordErrorsByEndpoint(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, Options{Metrics: m})

	_, _ = c.Klines(context.Background(), "BTCUSDT", "1h", 100)
	_, _ = c.Klines(context.Background(), "ETHUSDT", "1h", 100)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProviderErrors.WithLabelValues(klinesPath)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ProviderErrors.WithLabelValues(tickerPricePath)))
}
