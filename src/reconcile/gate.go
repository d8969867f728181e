package reconcile

import (
	"context"
	"time"

	"cryptoexecutor/src/model"
)

type notificationClaimer interface {
	ClaimNotification(ctx context.Context, id uint, now time.Time) (bool, error)
}

// Gate decides which fills are worth telling a human about. Orders the
// system placed always qualify; foreign orders only when the fill is
// recent, so a history backfill does not replay old fills.
type Gate struct {
	Recency time.Duration
	Store   notificationClaimer
}

func (g *Gate) Allow(o *model.ExchangeOrder, now time.Time) bool {
	if o.NotifiedAt != nil {
		return false
	}
	if o.ParentOrderID != nil || o.IntentID != nil {
		return true
	}
	filled := o.FilledAt
	if filled == nil {
		filled = o.ExchangeUpdatedAt
	}
	if filled == nil {
		return false
	}
	return now.Sub(*filled) <= g.Recency
}

// Claim stamps notified_at before anything is sent. Only a true result
// may be followed by a notification.
func (g *Gate) Claim(ctx context.Context, o *model.ExchangeOrder, now time.Time) (bool, error) {
	ok, err := g.Store.ClaimNotification(ctx, o.ID, now)
	if err != nil || !ok {
		return false, err
	}
	o.NotifiedAt = &now
	return true, nil
}
