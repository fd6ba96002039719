// Package report scans the instrument catalog and assembles RSI
// extreme-zone reports.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"rsi-reportbot/internal/logger"
	"rsi-reportbot/internal/metrics"
	"rsi-reportbot/internal/model"
)

const (
	DefaultWorkers = 8
	DefaultLimit   = 100
)

// ErrInvalidLimit is returned for a non-positive instrument count.
var ErrInvalidLimit = errors.New("instrument limit must be positive")

// Computer produces indicator values for a complete series.
type Computer interface {
	Compute(series model.Series) (model.IndicatorResult, error)
}

// Thresholds bound the RSI extreme zone. Both comparisons are strict.
type Thresholds struct {
	Low  float64
	High float64
}

// DefaultThresholds flags oversold below 23 and overbought above 70.
var DefaultThresholds = Thresholds{Low: 23, High: 70}

// Zone classifies an RSI value. It returns "" outside the extreme zone.
func (t Thresholds) Zone(rsi float64) string {
	switch {
	case rsi < t.Low:
		return "oversold"
	case rsi > t.High:
		return "overbought"
	}
	return ""
}

// Options tunes a Builder. Zero values select defaults.
type Options struct {
	Workers    int
	Thresholds Thresholds
	Location   *time.Location
	Now        func() time.Time
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Builder runs one report scan per Build call. It keeps no state between
// builds and is safe for concurrent use.
type Builder struct {
	catalog model.InstrumentLister
	series  model.SeriesFetcher
	prices  model.PriceSource
	engine  Computer

	workers    int
	thresholds Thresholds
	loc        *time.Location
	now        func() time.Time
	metrics    *metrics.Metrics
	log        *slog.Logger
}

func NewBuilder(catalog model.InstrumentLister, series model.SeriesFetcher, prices model.PriceSource, engine Computer, opts Options) *Builder {
	b := &Builder{
		catalog:    catalog,
		series:     series,
		prices:     prices,
		engine:     engine,
		workers:    opts.Workers,
		thresholds: opts.Thresholds,
		loc:        opts.Location,
		now:        opts.Now,
		metrics:    opts.Metrics,
		log:        opts.Logger,
	}
	if b.workers <= 0 {
		b.workers = DefaultWorkers
	}
	if b.thresholds == (Thresholds{}) {
		b.thresholds = DefaultThresholds
	}
	if b.loc == nil {
		b.loc = time.UTC
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	return b
}

// Thresholds returns the zone bounds the builder flags against.
func (b *Builder) Thresholds() Thresholds { return b.thresholds }

// Build scans the first limit catalog instruments at resolution res.
// Only a catalog failure or cancellation of ctx fails the build; every
// per-instrument failure drops that instrument.
func (b *Builder) Build(ctx context.Context, res model.Resolution, limit int) (model.Report, error) {
	if limit <= 0 {
		return model.Report{}, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}

	start := time.Now()
	trace := logger.LogWithTrace(ctx)

	instruments, err := b.catalog.List(ctx)
	if err != nil {
		b.finish(res, "catalog_error", start)
		b.log.ErrorContext(ctx, "catalog fetch failed", append(trace, "resolution", res.String(), "error", err)...)
		return model.Report{}, err
	}
	if len(instruments) > limit {
		instruments = instruments[:limit]
	}

	slots := make([]*model.Signal, len(instruments))
	var skipped atomic.Int64

	var g errgroup.Group
	g.SetLimit(b.workers)
	for i, inst := range instruments {
		if ctx.Err() != nil {
			break
		}
		i, inst := i, inst
		g.Go(func() error {
			sig, ok := b.scan(ctx, inst, res)
			if !ok {
				skipped.Add(1)
				return nil
			}
			slots[i] = sig
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		b.finish(res, "cancelled", start)
		return model.Report{}, fmt.Errorf("report %s: %w", res, err)
	}

	rep := model.Report{
		Resolution:  res,
		GeneratedAt: b.now().In(b.loc),
		Signals:     make([]model.Signal, 0),
		Scanned:     len(instruments),
		Skipped:     int(skipped.Load()),
	}
	for _, s := range slots {
		if s != nil {
			rep.Signals = append(rep.Signals, *s)
		}
	}

	b.finish(res, "ok", start)
	b.log.InfoContext(ctx, "report built", append(trace,
		"resolution", res.String(),
		"scanned", rep.Scanned,
		"skipped", rep.Skipped,
		"signals", len(rep.Signals),
		"duration", time.Since(start).String(),
	)...)
	return rep, nil
}

// scan evaluates one instrument. ok is false when the instrument was
// dropped; a nil signal with ok true means RSI sat outside the zone.
func (b *Builder) scan(ctx context.Context, inst model.Instrument, res model.Resolution) (*model.Signal, bool) {
	series, err := b.series.Fetch(ctx, inst.Symbol, res)
	if err != nil {
		b.skip("unavailable")
		b.log.DebugContext(ctx, "candles unavailable", append(logger.LogWithTrace(ctx), "symbol", inst.Symbol, "error", err)...)
		return nil, false
	}
	if !series.Analyzable() {
		b.skip("insufficient")
		return nil, false
	}

	ind, err := b.engine.Compute(series)
	if err != nil {
		b.skip("insufficient")
		return nil, false
	}

	zone := b.thresholds.Zone(ind.RSI)
	if zone == "" {
		return nil, true
	}
	if b.metrics != nil {
		b.metrics.SignalsTotal.WithLabelValues(zone).Inc()
	}

	sig := &model.Signal{Instrument: inst, Indicators: ind}
	price, err := b.prices.Latest(ctx, inst.Symbol)
	if err != nil {
		if b.metrics != nil {
			b.metrics.PriceUnavailable.Inc()
		}
		b.log.WarnContext(ctx, "price unavailable", append(logger.LogWithTrace(ctx), "symbol", inst.Symbol, "error", err)...)
	} else {
		sig.Price = decimal.NewNullDecimal(price)
	}
	return sig, true
}

func (b *Builder) skip(reason string) {
	if b.metrics != nil {
		b.metrics.InstrumentsSkipped.WithLabelValues(reason).Inc()
	}
}

func (b *Builder) finish(res model.Resolution, status string, start time.Time) {
	if b.metrics == nil {
		return
	}
	b.metrics.ReportsTotal.WithLabelValues(res.String(), status).Inc()
	b.metrics.ReportDur.WithLabelValues(res.String()).Observe(time.Since(start).Seconds())
}
