package signals

import (
	"context"
)

type pendingCounter interface {
	CountPending(ctx context.Context, symbol string) (int64, error)
}

type exposureCounter interface {
	CountOpenExposure(ctx context.Context, symbol string) (int64, error)
}

// StoreCounter counts open orders from the local store: pending intents
// plus entries that are live or filled and still protected.
type StoreCounter struct {
	Intents pendingCounter
	Orders  exposureCounter
}

func (c StoreCounter) OpenOrderCount(ctx context.Context, symbol string) (int, error) {
	pending, err := c.Intents.CountPending(ctx, symbol)
	if err != nil {
		return 0, err
	}
	exposure, err := c.Orders.CountOpenExposure(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return int(pending + exposure), nil
}
