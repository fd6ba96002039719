package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the report bot.
type Metrics struct {
	// Command layer
	CommandsTotal *prometheus.CounterVec // labels: kind=help|report|invalid_resolution|parse_error
	RepliesFailed prometheus.Counter

	// Report pipeline
	ReportsTotal       *prometheus.CounterVec // labels: resolution, status=ok|catalog_error|cancelled
	ReportDur          *prometheus.HistogramVec
	InstrumentsSkipped *prometheus.CounterVec // labels: reason=unavailable|insufficient
	SignalsTotal       *prometheus.CounterVec // labels: zone=oversold|overbought
	PriceUnavailable   prometheus.Counter

	// Provider client
	ProviderRequestDur *prometheus.HistogramVec // labels: endpoint
	ProviderErrors     *prometheus.CounterVec   // labels: endpoint
	RateLimitWait      prometheus.Histogram

	// Circuit breaker
	BreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	BreakerTrips prometheus.Counter
}

// NewMetrics registers all metrics on reg and returns them.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reportbot_commands_total",
			Help: "Chat commands received (by kind)",
		}, []string{"kind"}),
		RepliesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reportbot_replies_failed_total",
			Help: "Replies that could not be delivered to the chat",
		}),

		ReportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reportbot_reports_total",
			Help: "Report builds (by resolution and outcome)",
		}, []string{"resolution", "status"}),
		ReportDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reportbot_report_duration_seconds",
			Help:    "Wall-clock time of a report build",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"resolution"}),
		InstrumentsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reportbot_instruments_skipped_total",
			Help: "Instruments dropped from a report (by reason)",
		}, []string{"reason"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reportbot_signals_total",
			Help: "RSI extreme-zone signals emitted",
		}, []string{"zone"}),
		PriceUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reportbot_price_unavailable_total",
			Help: "Signals emitted without a price",
		}),

		ProviderRequestDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reportbot_provider_request_duration_seconds",
			Help:    "Market-data provider request latency",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"endpoint"}),
		ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reportbot_provider_errors_total",
			Help: "Failed market-data provider requests",
		}, []string{"endpoint"}),
		RateLimitWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reportbot_rate_limit_wait_seconds",
			Help:    "Time spent waiting for provider request budget",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		}),

		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reportbot_provider_circuit_breaker_state",
			Help: "Provider circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reportbot_provider_circuit_breaker_trips_total",
			Help: "Times the provider circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.CommandsTotal,
		m.RepliesFailed,
		m.ReportsTotal,
		m.ReportDur,
		m.InstrumentsSkipped,
		m.SignalsTotal,
		m.PriceUnavailable,
		m.ProviderRequestDur,
		m.ProviderErrors,
		m.RateLimitWait,
		m.BreakerState,
		m.BreakerTrips,
	)

	return m
}

// HealthStatus represents the bot health.
type HealthStatus struct {
	mu sync.RWMutex

	TelegramOK     bool      `json:"telegram_ok"`
	LastPollTime   time.Time `json:"last_poll_time"`
	ProviderOK     bool      `json:"provider_ok"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`

	RedisLatencyMs float64   `json:"redis_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt:  time.Now(),
		ProviderOK: true,
	}
}

// SetTelegramPoll records the outcome of a getUpdates round-trip.
func (h *HealthStatus) SetTelegramPoll(ok bool, t time.Time) {
	h.mu.Lock()
	h.TelegramOK = ok
	if ok {
		h.LastPollTime = t
	}
	h.mu.Unlock()
}

func (h *HealthStatus) SetProviderOK(v bool) {
	h.mu.Lock()
	h.ProviderOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, interval time.Duration) {
	if rdb == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.CheckRedis(probeCtx, rdb)
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	// Redis only backs the shared rate limiter, which fails open.
	if !h.ProviderOK || (h.RedisEnabled && !h.RedisConnected) {
		overallStatus = "degraded"
	}
	if !h.TelegramOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	pollAge := ""
	if !h.LastPollTime.IsZero() {
		pollAge = time.Since(h.LastPollTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status         string  `json:"status"`
		Uptime         string  `json:"uptime"`
		TelegramOK     bool    `json:"telegram_ok"`
		LastPollTime   string  `json:"last_poll_time"`
		PollAge        string  `json:"poll_age"`
		ProviderOK     bool    `json:"provider_ok"`
		RedisEnabled   bool    `json:"redis_enabled"`
		RedisConnected bool    `json:"redis_connected"`
		RedisLatencyMs float64 `json:"redis_latency_ms"`
		LastCheckAt    string  `json:"last_check_at"`
	}{
		Status:         overallStatus,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		TelegramOK:     h.TelegramOK,
		LastPollTime:   h.LastPollTime.Format(time.RFC3339),
		PollAge:        pollAge,
		ProviderOK:     h.ProviderOK,
		RedisEnabled:   h.RedisEnabled,
		RedisConnected: h.RedisConnected,
		RedisLatencyMs: h.RedisLatencyMs,
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
