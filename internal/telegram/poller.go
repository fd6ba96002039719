package telegram

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"rsi-reportbot/internal/metrics"
)

// HandlerFunc processes one incoming text message.
type HandlerFunc func(ctx context.Context, msg *Message)

// Poller long-polls getUpdates and dispatches each message on its own goroutine.
type Poller struct {
	client      *Client
	handle      HandlerFunc
	pollTimeout time.Duration
	health      *metrics.HealthStatus
	log         *slog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	wg sync.WaitGroup
}

func NewPoller(client *Client, handle HandlerFunc, pollTimeout time.Duration, health *metrics.HealthStatus, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		client:      client,
		handle:      handle,
		pollTimeout: pollTimeout,
		health:      health,
		log:         log,
		minBackoff:  time.Second,
		maxBackoff:  30 * time.Second,
	}
}

// Run polls until ctx is cancelled, then waits for in-flight handlers.
// Updates queued before startup are dropped.
func (p *Poller) Run(ctx context.Context) error {
	defer p.wg.Wait()

	offset, err := p.skipPending(ctx)
	if err != nil {
		// Only cancellation ends the initial retry loop.
		return nil
	}

	backoff := p.minBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		updates, err := p.client.GetUpdates(ctx, offset, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.setHealth(false)
			wait := backoff
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > wait {
				wait = apiErr.RetryAfter
			}
			p.log.Warn("getUpdates failed, retrying", "error", err, "backoff", wait.String())
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil
			}
			backoff = time.Duration(math.Min(float64(p.maxBackoff), float64(backoff)*1.8))
			continue
		}
		backoff = p.minBackoff
		p.setHealth(true)

		for _, u := range updates {
			offset = u.UpdateID + 1
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			msg := u.Message
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.handle(ctx, msg)
			}()
		}
	}
}

// skipPending acknowledges everything queued while the bot was down and
// returns the offset of the first fresh update.
func (p *Poller) skipPending(ctx context.Context) (int64, error) {
	backoff := p.minBackoff
	for {
		updates, err := p.client.GetUpdates(ctx, -1, 0)
		if err == nil {
			p.setHealth(true)
			if len(updates) == 0 {
				return 0, nil
			}
			last := updates[len(updates)-1].UpdateID
			p.log.Info("skipped pending updates", "last_update_id", last)
			return last + 1, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		p.setHealth(false)
		p.log.Warn("initial getUpdates failed, retrying", "error", err, "backoff", backoff.String())
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(p.maxBackoff), float64(backoff)*1.8))
	}
}

func (p *Poller) setHealth(ok bool) {
	if p.health != nil {
		p.health.SetTelegramPoll(ok, time.Now())
	}
}
