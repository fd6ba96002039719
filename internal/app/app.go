// Package app builds the shared application context: the provider client
// with its limiter and breaker, the report builder, metrics and alerts.
// It is constructed once per process and passed to the entry points.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"rsi-reportbot/config"
	"rsi-reportbot/internal/binance"
	"rsi-reportbot/internal/breaker"
	"rsi-reportbot/internal/indicator"
	"rsi-reportbot/internal/market"
	"rsi-reportbot/internal/metrics"
	"rsi-reportbot/internal/notification"
	"rsi-reportbot/internal/ratelimit"
	"rsi-reportbot/internal/report"
)

const rateLimitKeyPrefix = "reportbot:binance:weight"

// App holds every long-lived collaborator.
type App struct {
	Config  *config.Config
	Log     *slog.Logger
	Metrics *metrics.Metrics
	Health  *metrics.HealthStatus
	Redis   *goredis.Client // nil when REDIS_ADDR is unset
	Breaker *breaker.CircuitBreaker
	Binance *binance.Client
	Builder *report.Builder
}

// New wires the application. Metrics are registered on reg.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, reg prometheus.Registerer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	a := &App{
		Config:  cfg,
		Log:     log,
		Metrics: metrics.NewMetrics(reg),
		Health:  metrics.NewHealthStatus(),
	}

	var limiter ratelimit.Limiter = ratelimit.NewLocal(cfg.WeightPerMinute)
	if cfg.RedisAddr != "" {
		a.Redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.Health.CheckRedis(pingCtx, a.Redis)
		cancel()
		// The shared budget goes first so local tokens are not spent while
		// waiting on another replica's usage.
		limiter = ratelimit.Chain{
			ratelimit.NewRedis(a.Redis, rateLimitKeyPrefix, cfg.WeightPerMinute, log),
			limiter,
		}
		log.Info("shared rate limit enabled", "redis_addr", cfg.RedisAddr, "weight_per_min", cfg.WeightPerMinute)
	}

	a.Breaker = breaker.New(cfg.BreakerMaxFailures, time.Duration(cfg.BreakerResetS)*time.Second)
	a.Breaker.ShouldTrip = binance.IsProviderFault
	a.Breaker.OnStateChange = func(from, to breaker.State) {
		a.Metrics.BreakerState.Set(float64(to))
		if to == breaker.StateOpen {
			a.Metrics.BreakerTrips.Inc()
		}
		a.Health.SetProviderOK(to != breaker.StateOpen)
		log.Warn("provider circuit breaker state change", "from", from.String(), "to", to.String())
	}

	a.Binance = binance.New(binance.Options{
		BaseURL: cfg.BinanceBaseURL,
		Timeout: cfg.RequestTimeout,
		Limiter: limiter,
		Breaker: a.Breaker,
		Metrics: a.Metrics,
	})

	a.Builder = report.NewBuilder(
		market.NewCatalog(a.Binance),
		market.NewCandleFetcher(a.Binance, cfg.Scan.CandleWindow),
		market.NewPriceLookup(a.Binance),
		indicator.NewEngine(cfg.Scan.RSIPeriod, cfg.Scan.ADXPeriod),
		report.Options{
			Workers:    cfg.Scan.Workers,
			Thresholds: report.Thresholds{Low: cfg.Scan.RSILow, High: cfg.Scan.RSIHigh},
			Location:   cfg.Location(),
			Metrics:    a.Metrics,
			Logger:     log,
		},
	)

	return a, nil
}

// Alerter builds the operator alert fan-out. tg may be nil when no bot
// client exists (CLI use).
func (a *App) Alerter(tg notification.TelegramSender) *notification.Alerter {
	var sinks notification.Multi
	if tg != nil && a.Config.AlertChatID != "" {
		sinks = append(sinks, notification.NewTelegramNotifier(tg, a.Config.AlertChatID))
	}
	if a.Config.AlertWebhookURL != "" {
		sinks = append(sinks, notification.NewWebhookNotifier(a.Config.AlertWebhookURL, "reportbot"))
	}
	if len(sinks) == 0 {
		sinks = append(sinks, notification.NewLogNotifier())
	}
	return notification.NewAlerter(sinks, 0)
}

// Close releases external connections.
func (a *App) Close() error {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			return fmt.Errorf("close redis: %w", err)
		}
	}
	return nil
}
