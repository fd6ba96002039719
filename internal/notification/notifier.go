// Package notification delivers operator alerts (startup, provider
// outages) to an admin Telegram chat, a webhook, or the log.
package notification

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends every alert to all notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Alerter turns pipeline events into alerts. Repeated outage alerts are
// suppressed for the cooldown period.
type Alerter struct {
	notifier Notifier
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastSent time.Time
}

// NewAlerter wraps n. A zero cooldown defaults to 5 minutes.
func NewAlerter(n Notifier, cooldown time.Duration) *Alerter {
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Alerter{notifier: n, cooldown: cooldown, now: time.Now}
}

// Started announces a bot start.
func (a *Alerter) Started(ctx context.Context, detail string) {
	a.send(ctx, Alert{Level: AlertInfo, Title: "Report bot started", Message: detail})
}

// CatalogOutage reports that a build failed because the catalog was unavailable.
func (a *Alerter) CatalogOutage(ctx context.Context, err error) {
	a.mu.Lock()
	now := a.now()
	if !a.lastSent.IsZero() && now.Sub(a.lastSent) < a.cooldown {
		a.mu.Unlock()
		return
	}
	a.lastSent = now
	a.mu.Unlock()

	a.send(ctx, Alert{Level: AlertCritical, Title: "Market catalog unavailable", Message: err.Error()})
}

func (a *Alerter) send(ctx context.Context, alert Alert) {
	if err := a.notifier.Send(ctx, alert); err != nil {
		log.Printf("[notify] alert %q not delivered: %v", alert.Title, err)
	}
}
