// Package intents turns a desire to trade into at most one exchange order
// per idempotency key.
package intents

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"cryptoexecutor/src/connectors"
	"cryptoexecutor/src/metrics"
	"cryptoexecutor/src/model"
	"cryptoexecutor/src/repository"
	"cryptoexecutor/src/risk"
)

var (
	ErrInvalidRequest = errors.New("invalid intent request")
	ErrZeroQuantity   = errors.New("order quantity rounds to zero")
	ErrNoBalance      = errors.New("no available balance to sell")
)

// Request is one order wish from the signal worker or an operator.
type Request struct {
	Symbol      string          `validate:"required"`
	Side        string          `validate:"required,oneof=BUY SELL"`
	OrderType   string          `validate:"omitempty,oneof=MARKET LIMIT"`
	Price       decimal.Decimal `validate:"gt=0"`
	Quantity    decimal.Decimal `validate:"gte=0"`
	StrategyKey string          `validate:"required_if=Source signal"`
	SignalSeq   int64
	Source      string `validate:"required,oneof=signal manual"`
	Reference   string `validate:"required_if=Source manual"`
}

type IntentStore interface {
	Create(ctx context.Context, intent *model.OrderIntent) error
	FindActiveByKey(ctx context.Context, key string) (*model.OrderIntent, error)
	FindByID(ctx context.Context, id uint) (*model.OrderIntent, error)
	ClaimAttempt(ctx context.Context, id uint, seenAttempts int, now time.Time) (bool, error)
	MarkFilledUpstream(ctx context.Context, id uint, exchangeOrderID string) error
	MarkRetryableError(ctx context.Context, id uint, msg string) error
	MarkFailed(ctx context.Context, id uint, reason, msg string) error
	MarkExpired(ctx context.Context, id uint, reason string) error
}

type OrderStore interface {
	Create(ctx context.Context, o *model.ExchangeOrder) error
	FindByOrderID(ctx context.Context, orderID string) (*model.ExchangeOrder, error)
	FindByClientOrderID(ctx context.Context, clientOrderID string) (*model.ExchangeOrder, error)
	Link(ctx context.Context, id uint, fields map[string]interface{}) error
}

type BalanceReader interface {
	FindByCurrency(ctx context.Context, currency string) (*model.Balance, error)
}

// NotionalSizer scales the configured notional of signal orders.
type NotionalSizer interface {
	ScaleNotional(notional decimal.Decimal, now time.Time) (decimal.Decimal, risk.Session)
}

// Manager is the single entry point for order placement.
type Manager struct {
	cfg      Config
	exchange connectors.Exchange
	intents  IntentStore
	orders   OrderStore
	balances BalanceReader
	alerter  connectors.FatalAlerter
	validate *validator.Validate
	sizer    NotionalSizer
	now      func() time.Time
}

func NewManager(cfg Config, ex connectors.Exchange, intents IntentStore, orders OrderStore, balances BalanceReader, alerter connectors.FatalAlerter) *Manager {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})

	if cfg.OrderType == "" {
		cfg.OrderType = model.OrderTypeMarket
	}
	return &Manager{
		cfg:      cfg,
		exchange: ex,
		intents:  intents,
		orders:   orders,
		balances: balances,
		alerter:  alerter,
		validate: v,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithSizer scales signal order notional through sizer. Manual requests
// and requests carrying a quantity are never scaled.
func (m *Manager) WithSizer(sizer NotionalSizer) *Manager {
	m.sizer = sizer
	return m
}

func (m *Manager) log(req Request) *logger.Entry {
	return logger.WithFields(map[string]interface{}{
		"manager":  "intents",
		"symbol":   req.Symbol,
		"side":     req.Side,
		"strategy": req.StrategyKey,
		"source":   req.Source,
	})
}

// Submit places req at most once per idempotency key. Exchange outcomes
// are reported through the returned intent's status; an error means the
// request was invalid or the store failed.
func (m *Manager) Submit(ctx context.Context, req Request) (*model.OrderIntent, error) {
	if req.OrderType == "" {
		req.OrderType = m.cfg.OrderType
	}
	if err := m.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	bucket := PriceBucket(req.Price, m.cfg.PriceBucketPct)
	key := IdempotencyKey(req, bucket)

	existing, err := m.intents.FindActiveByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("find intent %s: %w", key, err)
	}
	if existing != nil {
		return m.resume(ctx, existing)
	}

	inst, err := m.exchange.GetInstrument(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("instrument %s: %w", req.Symbol, err)
	}
	qty, err := m.size(ctx, req, inst)
	if err != nil {
		return nil, err
	}

	now := m.now()
	intent := &model.OrderIntent{
		IdempotencyKey: key,
		ClientOrderID:  ClientOrderID(key),
		Symbol:         req.Symbol,
		Side:           req.Side,
		OrderType:      req.OrderType,
		Price:          req.Price,
		Quantity:       qty,
		StrategyKey:    req.StrategyKey,
		SignalSeq:      req.SignalSeq,
		PriceBucket:    bucket,
		Source:         req.Source,
		Status:         model.IntentPending,
		Attempts:       1,
		LastAttemptAt:  &now,
	}
	if err := m.intents.Create(ctx, intent); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			// Another worker inserted the key first; its intent is the answer.
			winner, ferr := m.intents.FindActiveByKey(ctx, key)
			if ferr != nil {
				return nil, ferr
			}
			if winner != nil {
				return winner, nil
			}
		}
		return nil, fmt.Errorf("create intent %s: %w", key, err)
	}

	return m.send(ctx, intent)
}

// resume decides what to do with an intent that already holds the key.
func (m *Manager) resume(ctx context.Context, intent *model.OrderIntent) (*model.OrderIntent, error) {
	if intent.Status != model.IntentPending {
		return intent, nil
	}
	now := m.now()

	if m.cfg.TTL > 0 && now.Sub(intent.CreatedAt) > m.cfg.TTL {
		if o, err := m.orders.FindByClientOrderID(ctx, intent.ClientOrderID); err != nil {
			return nil, err
		} else if o != nil {
			return m.link(ctx, intent, o)
		}
		if err := m.intents.MarkExpired(ctx, intent.ID, "stale price"); err != nil {
			return nil, err
		}
		return m.reload(ctx, intent)
	}

	// Only retry a failure we know about; an attempt with no recorded
	// outcome may still be in flight on another worker.
	if intent.ErrorClass != model.ErrorClassRetryable {
		return intent, nil
	}
	if intent.LastAttemptAt != nil && now.Sub(*intent.LastAttemptAt) < m.cfg.RetryCooldown {
		return intent, nil
	}

	won, err := m.intents.ClaimAttempt(ctx, intent.ID, intent.Attempts, now)
	if err != nil {
		return nil, err
	}
	if !won {
		return m.reload(ctx, intent)
	}
	intent.Attempts++
	intent.LastAttemptAt = &now

	o, err := m.orders.FindByClientOrderID(ctx, intent.ClientOrderID)
	if err != nil {
		return nil, err
	}
	if o != nil {
		return m.link(ctx, intent, o)
	}
	return m.send(ctx, intent)
}

func (m *Manager) reload(ctx context.Context, intent *model.OrderIntent) (*model.OrderIntent, error) {
	fresh, err := m.intents.FindByID(ctx, intent.ID)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		return intent, nil
	}
	return fresh, nil
}

// link attaches an order the exchange already holds for the intent.
func (m *Manager) link(ctx context.Context, intent *model.OrderIntent, o *model.ExchangeOrder) (*model.OrderIntent, error) {
	if err := m.intents.MarkFilledUpstream(ctx, intent.ID, o.OrderID); err != nil {
		return nil, err
	}
	if o.IntentID == nil {
		if err := m.orders.Link(ctx, o.ID, parentFields(intent.ID)); err != nil {
			return nil, err
		}
	}
	metrics.IncIntent(model.IntentFilledUpstream)
	return m.reload(ctx, intent)
}

func parentFields(intentID uint) map[string]interface{} {
	return map[string]interface{}{
		"intent_id":        intentID,
		"order_role":       model.OrderRoleParent,
		"protection_state": model.ProtectionNone,
	}
}

// send makes the single exchange call for the current attempt.
func (m *Manager) send(ctx context.Context, intent *model.OrderIntent) (*model.OrderIntent, error) {
	req := connectors.OrderRequest{
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Type:          intent.OrderType,
		Quantity:      intent.Quantity,
		ClientOrderID: intent.ClientOrderID,
		PriceRounding: connectors.RoundNearest,
	}
	if intent.OrderType == model.OrderTypeLimit {
		req.Price = intent.Price
	}

	log := logger.WithFields(map[string]interface{}{
		"manager":   "intents",
		"intent_id": intent.ID,
		"key":       intent.IdempotencyKey,
		"attempt":   intent.Attempts,
	})

	ack, err := m.exchange.CreateOrder(ctx, req)
	if err != nil {
		return m.fail(ctx, intent, err, log)
	}

	orderID := ack.OrderID.String()
	if err := m.intents.MarkFilledUpstream(ctx, intent.ID, orderID); err != nil {
		return nil, err
	}
	intent.Status = model.IntentFilledUpstream
	intent.ExchangeOrderID = &orderID
	intent.LastError = ""
	intent.ErrorClass = ""

	if err := m.mirror(ctx, intent, ack); err != nil {
		// The intent already records the order id; reconciliation will
		// create the row from the exchange snapshot.
		log.WithError(err).Error("Failed to mirror new order")
	}
	metrics.IncIntent(model.IntentFilledUpstream)
	log.WithField("order_id", orderID).Info("Order handed to exchange")
	return intent, nil
}

func (m *Manager) fail(ctx context.Context, intent *model.OrderIntent, err error, log *logger.Entry) (*model.OrderIntent, error) {
	class := model.ErrorClassFatal
	if connectors.IsRetryable(err) {
		class = model.ErrorClassRetryable
	}
	metrics.IncExchangeError(class)
	intent.LastError = err.Error()
	intent.ErrorClass = class

	if class == model.ErrorClassRetryable {
		log.WithError(err).Warn("Order submission failed, intent stays pending")
		if merr := m.intents.MarkRetryableError(ctx, intent.ID, err.Error()); merr != nil {
			return nil, merr
		}
		metrics.IncIntent(model.IntentPending)
		return intent, nil
	}

	log.WithError(err).Error("Order rejected by exchange")
	if merr := m.intents.MarkFailed(ctx, intent.ID, "exchange_rejected", err.Error()); merr != nil {
		return nil, merr
	}
	intent.Status = model.IntentFailed
	intent.FailureReason = "exchange_rejected"
	metrics.IncIntent(model.IntentFailed)
	if m.alerter != nil && !connectors.IsAuthError(err) && connectors.ErrorCodeOf(err) != connectors.CodeConditionalDisabled {
		m.alerter.Alert(ctx,
			fmt.Sprintf("intent:%d", connectors.ErrorCodeOf(err)),
			model.SeverityHigh,
			fmt.Sprintf("%s %s order rejected: %v", intent.Symbol, intent.Side, err))
	}
	return intent, nil
}

// mirror records the new order locally as a parent awaiting protection.
func (m *Manager) mirror(ctx context.Context, intent *model.OrderIntent, ack *connectors.OrderAck) error {
	orderID := ack.OrderID.String()
	role := model.OrderRoleParent
	intentID := intent.ID
	qty, _ := decimal.NewFromString(ack.Quantity)
	if qty.IsZero() {
		qty = intent.Quantity
	}
	price, _ := decimal.NewFromString(ack.Price)

	o := &model.ExchangeOrder{
		OrderID:         orderID,
		ClientOrderID:   intent.ClientOrderID,
		Symbol:          intent.Symbol,
		Side:            intent.Side,
		Type:            intent.OrderType,
		Status:          model.OrderStatusNew,
		Price:           price,
		Quantity:        qty,
		OrderRole:       &role,
		IntentID:        &intentID,
		ProtectionState: model.ProtectionNone,
	}
	err := m.orders.Create(ctx, o)
	if errors.Is(err, repository.ErrDuplicateKey) {
		existing, ferr := m.orders.FindByOrderID(ctx, orderID)
		if ferr != nil || existing == nil {
			return ferr
		}
		if existing.IntentID != nil {
			return nil
		}
		return m.orders.Link(ctx, existing.ID, parentFields(intent.ID))
	}
	return err
}

func (m *Manager) notional(req Request) decimal.Decimal {
	if m.sizer == nil || req.Source != model.IntentSourceSignal {
		return m.cfg.OrderNotional
	}
	scaled, session := m.sizer.ScaleNotional(m.cfg.OrderNotional, m.now())
	m.log(req).WithFields(map[string]interface{}{
		"session":  session,
		"notional": scaled.String(),
	}).Debug("Notional scaled by session")
	return scaled
}

// size returns the order quantity on the instrument's quantity tick.
func (m *Manager) size(ctx context.Context, req Request, inst *connectors.Instrument) (decimal.Decimal, error) {
	qty := req.Quantity
	if !qty.IsPositive() {
		qty = m.notional(req).Div(req.Price)
	}
	qty = connectors.Quantize(qty, inst.QtyTick, connectors.RoundDown)

	if req.Side == model.SideSell && m.balances != nil {
		bal, err := m.balances.FindByCurrency(ctx, inst.BaseCurrency)
		if err != nil {
			return decimal.Zero, err
		}
		if bal == nil || !bal.Available().IsPositive() {
			m.log(req).Info("No base balance, sell skipped")
			return decimal.Zero, ErrNoBalance
		}
		avail := connectors.Quantize(bal.Available(), inst.QtyTick, connectors.RoundDown)
		if qty.GreaterThan(avail) {
			qty = avail
		}
	}

	if !qty.IsPositive() {
		return decimal.Zero, ErrZeroQuantity
	}
	return qty, nil
}
