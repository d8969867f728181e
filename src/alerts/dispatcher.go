package alerts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"cryptoexecutor/src/model"
)

// EventStore persists notification events.
type EventStore interface {
	Create(ctx context.Context, ev *model.NotificationEvent) error
	MarkDelivered(ctx context.Context, id uint) error
}

// Dispatcher records notification events and forwards them to a Notifier.
// Alerts sharing a key are rate limited so a persistent failure does not
// flood the chat.
type Dispatcher struct {
	store    EventStore
	notifier Notifier
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewDispatcher(store EventStore, notifier Notifier, interval time.Duration) *Dispatcher {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Dispatcher{
		store:    store,
		notifier: notifier,
		interval: interval,
		now:      time.Now,
		limiters: map[string]*rate.Limiter{},
	}
}

// allow reports whether an alert with key may be sent now.
func (d *Dispatcher) allow(key string) bool {
	if d.interval <= 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(d.interval), 1)
		d.limiters[key] = l
	}
	return l.AllowN(d.now(), 1)
}

// Publish stores ev and delivers it. Delivery failures are logged and
// leave the event undelivered in the store.
func (d *Dispatcher) Publish(ctx context.Context, ev *model.NotificationEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = d.now().UTC()
	}
	if d.store != nil {
		if err := d.store.Create(ctx, ev); err != nil {
			return fmt.Errorf("store notification event: %w", err)
		}
	}

	if err := d.notifier.Send(ctx, Render(ev)); err != nil {
		logger.WithFields(map[string]interface{}{
			"dispatcher": "alerts",
			"kind":       ev.Kind,
			"symbol":     ev.Symbol,
		}).WithError(err).Error("Failed to deliver notification")
		return nil
	}

	if d.store != nil && ev.ID != 0 {
		if err := d.store.MarkDelivered(ctx, ev.ID); err != nil {
			logger.WithError(err).Warn("Failed to mark notification delivered")
		}
	}
	return nil
}

// Alert publishes an operator alert, at most once per interval per key.
func (d *Dispatcher) Alert(ctx context.Context, key, severity, message string) {
	if !d.allow(key) {
		logger.WithFields(map[string]interface{}{
			"dispatcher": "alerts",
			"key":        key,
		}).Debug("Alert suppressed by rate limit")
		return
	}
	ev := &model.NotificationEvent{
		Kind:     model.EventKindAlert,
		Severity: severity,
		Message:  message,
	}
	if err := d.Publish(ctx, ev); err != nil {
		logger.WithError(err).WithField("key", key).Error("Failed to publish alert")
	}
}

// Render formats an event as a chat message.
func Render(ev *model.NotificationEvent) string {
	var b strings.Builder
	switch ev.Kind {
	case model.EventKindFill:
		fmt.Fprintf(&b, "✅ %s %s filled", ev.Symbol, strings.ReplaceAll(strings.ToLower(ev.OrderRole), "_", " "))
		if ev.FillPrice.IsPositive() {
			fmt.Fprintf(&b, " at %s", ev.FillPrice.String())
		}
		if ev.OcoOutcome != "" {
			fmt.Fprintf(&b, "\n%s", ev.OcoOutcome)
		}
		if ev.Message != "" {
			fmt.Fprintf(&b, "\n%s", ev.Message)
		}
	case model.EventKindDrift:
		fmt.Fprintf(&b, "⚠️ Portfolio drift: %s", ev.Message)
	case model.EventKindAudit:
		fmt.Fprintf(&b, "🔎 Audit: %s", ev.Message)
	default:
		prefix := "ℹ️"
		if ev.Severity == model.SeverityHigh {
			prefix = "🚨"
		}
		fmt.Fprintf(&b, "%s %s", prefix, ev.Message)
	}
	return b.String()
}
