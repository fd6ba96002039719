// Package ratelimit keeps provider requests inside the per-minute request
// weight budget. A local token bucket covers a single process; the Redis
// limiter shares one budget between replicas running behind the same IP.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"
)

// Limiter blocks until weight units of request budget are available.
type Limiter interface {
	Wait(ctx context.Context, weight int) error
}

// Local is an in-process token bucket refilled at weightPerMinute/60 per second.
type Local struct {
	lim *rate.Limiter
}

// NewLocal creates a bucket that starts full, so a cold process may spend
// one minute of budget immediately.
func NewLocal(weightPerMinute int) *Local {
	if weightPerMinute <= 0 {
		weightPerMinute = 1
	}
	perSec := rate.Limit(float64(weightPerMinute) / 60.0)
	return &Local{lim: rate.NewLimiter(perSec, weightPerMinute)}
}

func (l *Local) Wait(ctx context.Context, weight int) error {
	if weight > l.lim.Burst() {
		weight = l.lim.Burst()
	}
	if weight <= 0 {
		return nil
	}
	return l.lim.WaitN(ctx, weight)
}

// Redis is a fixed-window weight budget stored under one key per window.
// Redis errors fail open: the request proceeds and a warning is logged.
type Redis struct {
	rdb    *goredis.Client
	prefix string
	budget int64
	window time.Duration
	now    func() time.Time
	log    *slog.Logger
}

// NewRedis creates a shared limiter with a one-minute window.
func NewRedis(rdb *goredis.Client, prefix string, weightPerMinute int, log *slog.Logger) *Redis {
	if log == nil {
		log = slog.Default()
	}
	return &Redis{
		rdb:    rdb,
		prefix: prefix,
		budget: int64(weightPerMinute),
		window: time.Minute,
		now:    time.Now,
		log:    log,
	}
}

func (r *Redis) key(slot time.Time) string {
	return fmt.Sprintf("%s:%d", r.prefix, slot.Unix())
}

func (r *Redis) Wait(ctx context.Context, weight int) error {
	if weight <= 0 {
		return nil
	}
	for {
		now := r.now()
		slot := now.Truncate(r.window)
		key := r.key(slot)

		used, err := r.rdb.IncrBy(ctx, key, int64(weight)).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warn("shared rate limit unavailable, proceeding", "key", key, "error", err)
			return nil
		}
		if used == int64(weight) {
			// First spender in this window owns the TTL.
			if err := r.rdb.Expire(ctx, key, r.window+10*time.Second).Err(); err != nil {
				r.log.Warn("failed to set rate limit ttl", "key", key, "error", err)
			}
		}

		// A single request heavier than the whole budget still gets a window to itself.
		if used <= r.budget || used == int64(weight) {
			return nil
		}

		wait := slot.Add(r.window).Sub(now)
		r.log.Debug("shared rate limit exhausted, waiting", "used", used, "budget", r.budget, "wait", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Chain waits on every limiter in order.
type Chain []Limiter

func (c Chain) Wait(ctx context.Context, weight int) error {
	for _, l := range c {
		if err := l.Wait(ctx, weight); err != nil {
			return err
		}
	}
	return nil
}
