package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"cryptoexecutor/src/connectors"
	"cryptoexecutor/src/metrics"
	"cryptoexecutor/src/model"
	"cryptoexecutor/src/oco"
)

type OrderStore interface {
	Create(ctx context.Context, o *model.ExchangeOrder) error
	FindByOrderID(ctx context.Context, orderID string) (*model.ExchangeOrder, error)
	FindByClientOrderID(ctx context.Context, clientOrderID string) (*model.ExchangeOrder, error)
	UpdateExchangeFields(ctx context.Context, o *model.ExchangeOrder) error
	Link(ctx context.Context, id uint, fields map[string]interface{}) error
	ListNonTerminal(ctx context.Context, symbol string) ([]model.ExchangeOrder, error)
	ClaimNotification(ctx context.Context, id uint, now time.Time) (bool, error)
	ListFilled(ctx context.Context, symbol string) ([]model.ExchangeOrder, error)
}

type IntentStore interface {
	FindByClientOrderID(ctx context.Context, clientOrderID string) (*model.OrderIntent, error)
	MarkFilledUpstream(ctx context.Context, id uint, exchangeOrderID string) error
	MarkFailed(ctx context.Context, id uint, reason, msg string) error
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]model.OrderIntent, error)
}

type BalanceStore interface {
	UpsertAll(ctx context.Context, balances []model.Balance) error
	List(ctx context.Context) ([]model.Balance, error)
	GetSnapshot(ctx context.Context) (*model.PortfolioSnapshot, error)
	SaveSnapshot(ctx context.Context, s *model.PortfolioSnapshot) error
}

type Publisher interface {
	Publish(ctx context.Context, ev *model.NotificationEvent) error
}

// Protector is the part of the OCO engine reconciliation drives.
type Protector interface {
	Protect(ctx context.Context, parent *model.ExchangeOrder) error
	OnLegFilled(ctx context.Context, leg *model.ExchangeOrder) (string, error)
	Converge(ctx context.Context) (oco.ConvergeReport, error)
	Audit(ctx context.Context) (oco.AuditReport, error)
}

// CycleReport summarises one reconciliation cycle.
type CycleReport struct {
	CycleID       string
	Balances      int
	OrdersSeen    int
	Discovered    int
	Relinked      int
	Transitions   int
	Fills         int
	Notified      int
	HistorySynced bool
	HistoryPages  int
	Audit         oco.AuditReport
	Converge      oco.ConvergeReport
	StaleFailed   int
	StaleLinked   int
	Drift         decimal.Decimal
	DriftAlerted  bool
}

type Service struct {
	cfg       Config
	exchange  connectors.Exchange
	orders    OrderStore
	intents   IntentStore
	balances  BalanceStore
	oco       Protector
	publisher Publisher
	alerter   connectors.FatalAlerter
	gate      *Gate

	cycles int
	now    func() time.Time
}

func NewService(cfg Config, ex connectors.Exchange, orders OrderStore, intents IntentStore, balances BalanceStore,
	engine Protector, publisher Publisher, alerter connectors.FatalAlerter) *Service {
	return &Service{
		cfg:       cfg,
		exchange:  ex,
		orders:    orders,
		intents:   intents,
		balances:  balances,
		oco:       engine,
		publisher: publisher,
		alerter:   alerter,
		gate:      &Gate{Recency: cfg.NotifyRecency, Store: orders},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) historyDue() bool {
	if s.cfg.HistorySyncEvery <= 1 {
		return true
	}
	return (s.cycles-1)%s.cfg.HistorySyncEvery == 0
}

// RunCycle brings the local store in line with the exchange. Each step
// runs even when an earlier one failed; the errors are joined.
func (s *Service) RunCycle(ctx context.Context) (CycleReport, error) {
	start := time.Now()
	defer metrics.ObserveCycle("reconcile", start)

	s.cycles++
	rep := CycleReport{CycleID: uuid.NewString()}
	log := logger.WithFields(map[string]interface{}{
		"worker":   "reconcile",
		"cycle_id": rep.CycleID,
	})

	var errs []error
	summary, err := s.syncBalances(ctx, &rep)
	if err != nil {
		log.WithError(err).Error("Balance sync failed")
		errs = append(errs, err)
	}

	// Every symbol's open orders are current before any history page is
	// applied.
	for _, symbol := range s.cfg.Symbols {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := s.syncOpenOrders(ctx, symbol, &rep); err != nil {
			log.WithError(err).WithField("symbol", symbol).Error("Open order sync failed")
			errs = append(errs, err)
		}
	}
	history := s.historyDue()
	if history {
		for _, symbol := range s.cfg.Symbols {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			if err := s.syncHistory(ctx, symbol, &rep); err != nil {
				log.WithError(err).WithField("symbol", symbol).Error("History sync failed")
				errs = append(errs, err)
			}
		}
	}
	rep.HistorySynced = history

	if err := s.auditOCO(ctx, &rep); err != nil {
		errs = append(errs, err)
	}
	if conv, err := s.oco.Converge(ctx); err != nil {
		log.WithError(err).Error("OCO converge failed")
		errs = append(errs, err)
	} else {
		rep.Converge = conv
	}

	if failed, linked, err := s.resolveStaleIntents(ctx); err != nil {
		log.WithError(err).Error("Stale intent pass failed")
		errs = append(errs, err)
	} else {
		rep.StaleFailed, rep.StaleLinked = failed, linked
	}

	if summary != nil {
		if err := s.checkDrift(ctx, summary, &rep); err != nil {
			log.WithError(err).Error("Drift check failed")
			errs = append(errs, err)
		}
	}

	log.WithFields(map[string]interface{}{
		"orders_seen":  rep.OrdersSeen,
		"discovered":   rep.Discovered,
		"transitions":  rep.Transitions,
		"fills":        rep.Fills,
		"history":      rep.HistorySynced,
		"stale_failed": rep.StaleFailed,
		"drift":        rep.Drift.String(),
	}).Info("Reconciliation cycle finished")
	return rep, errors.Join(errs...)
}

// syncBalances overwrites the local balance cache with the exchange view.
// Currencies the exchange no longer reports are zeroed.
func (s *Service) syncBalances(ctx context.Context, rep *CycleReport) (*connectors.AccountSummary, error) {
	summary, err := s.exchange.GetBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("balances: %w", err)
	}
	now := s.now()
	reported := map[string]bool{}
	rows := make([]model.Balance, 0, len(summary.PositionBalances))
	for _, pb := range summary.PositionBalances {
		currency := strings.ToUpper(pb.Currency)
		if currency == "" {
			continue
		}
		reported[currency] = true
		qty, _ := pb.Quantity.Decimal()
		reserved, _ := pb.ReservedQty.Decimal()
		value, _ := pb.MarketValue.Decimal()
		rows = append(rows, model.Balance{
			Currency:    currency,
			Quantity:    qty,
			Reserved:    reserved,
			MarketValue: value,
			UpdatedAt:   now,
		})
	}

	existing, err := s.balances.List(ctx)
	if err != nil {
		return summary, err
	}
	for _, b := range existing {
		if !reported[b.Currency] {
			rows = append(rows, model.Balance{Currency: b.Currency, UpdatedAt: now})
		}
	}
	if err := s.balances.UpsertAll(ctx, rows); err != nil {
		return summary, err
	}
	rep.Balances = len(reported)
	return summary, nil
}

func (s *Service) auditOCO(ctx context.Context, rep *CycleReport) error {
	audit, err := s.oco.Audit(ctx)
	if err != nil {
		return fmt.Errorf("oco audit: %w", err)
	}
	rep.Audit = audit
	if audit.OK() {
		return nil
	}
	metrics.IncAuditFailure()
	logger.WithFields(map[string]interface{}{
		"service":    "reconcile",
		"orphans":    len(audit.Orphans),
		"incomplete": len(audit.Incomplete),
	}).Warn("OCO audit found problems")
	if s.alerter != nil {
		s.alerter.Alert(ctx, "audit:oco", model.SeverityWarn,
			fmt.Sprintf("OCO audit: %d orphaned legs, %d incomplete groups", len(audit.Orphans), len(audit.Incomplete)))
	}
	return nil
}

// resolveStaleIntents settles PENDING intents older than the grace period.
// An intent whose order reached the store is linked to it, the rest fail.
func (s *Service) resolveStaleIntents(ctx context.Context) (failed, linked int, err error) {
	stale, err := s.intents.ListPendingOlderThan(ctx, s.now().Add(-s.cfg.IntentGrace))
	if err != nil {
		return 0, 0, err
	}
	var errs []error
	for i := range stale {
		in := &stale[i]
		log := logger.WithFields(map[string]interface{}{
			"service":   "reconcile",
			"intent_id": in.ID,
			"key":       in.IdempotencyKey,
		})
		order, err := s.orders.FindByClientOrderID(ctx, in.ClientOrderID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if order == nil {
			if err := s.intents.MarkFailed(ctx, in.ID, "stale", "no exchange order within grace period"); err != nil {
				errs = append(errs, err)
				continue
			}
			metrics.IncIntent(model.IntentFailed)
			log.Warn("Stale intent failed")
			failed++
			continue
		}
		if order.IntentID == nil {
			fields := map[string]interface{}{
				"intent_id":  in.ID,
				"order_role": model.OrderRoleParent,
			}
			if order.ProtectionState == "" {
				fields["protection_state"] = model.ProtectionNone
			}
			if err := s.orders.Link(ctx, order.ID, fields); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if err := s.intents.MarkFilledUpstream(ctx, in.ID, order.OrderID); err != nil {
			errs = append(errs, err)
			continue
		}
		metrics.IncIntent(model.IntentFilledUpstream)
		log.WithField("order_id", order.OrderID).Info("Stale intent linked to exchange order")
		linked++
	}
	return failed, linked, errors.Join(errs...)
}

// localValue prices the cached balances in the quote currency using the
// latest ticker of each currency.
func (s *Service) localValue(ctx context.Context) (decimal.Decimal, error) {
	balances, err := s.balances.List(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, b := range balances {
		if b.Quantity.IsZero() {
			continue
		}
		if b.Currency == s.cfg.QuoteCurrency {
			total = total.Add(b.Quantity)
			continue
		}
		price, err := s.exchange.GetTicker(ctx, b.Currency+"_"+s.cfg.QuoteCurrency)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"service":  "reconcile",
				"currency": b.Currency,
			}).WithError(err).Warn("No ticker for balance, left out of local value")
			continue
		}
		total = total.Add(b.Quantity.Mul(price))
	}
	return total, nil
}

// exchangeValue is the account value the exchange reports: the sum of
// position market values, or the cash balance when none are given.
func exchangeValue(summary *connectors.AccountSummary) decimal.Decimal {
	total := decimal.Zero
	for _, pb := range summary.PositionBalances {
		if v, err := pb.MarketValue.Decimal(); err == nil {
			total = total.Add(v)
		}
	}
	if total.IsZero() {
		if cash, err := summary.TotalCashBalance.Decimal(); err == nil {
			total = cash
		}
	}
	return total
}

// checkDrift compares the local and exchange valuations, overwrites the
// snapshot and alerts on every cycle the drift stays above threshold.
func (s *Service) checkDrift(ctx context.Context, summary *connectors.AccountSummary, rep *CycleReport) error {
	local, err := s.localValue(ctx)
	if err != nil {
		return err
	}
	remote := exchangeValue(summary)
	drift := Drift(local, remote)

	prev, err := s.balances.GetSnapshot(ctx)
	if err != nil {
		return err
	}
	var prevRolling *decimal.Decimal
	if prev != nil {
		prevRolling = &prev.RollingDriftPct
	}
	rolling := Rolling(prevRolling, drift, s.cfg.DriftAlpha)
	alert := ExceedsThreshold(drift, s.cfg.DriftThreshold)

	snap := &model.PortfolioSnapshot{
		LocalValue:      local,
		ExchangeValue:   remote,
		DriftPct:        drift,
		RollingDriftPct: rolling,
		Alerted:         alert,
		ComputedAt:      s.now(),
	}
	if err := s.balances.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	f, _ := drift.Float64()
	metrics.SetDrift(f)
	rep.Drift = drift

	if !alert {
		return nil
	}
	rep.DriftAlerted = true
	pct := drift.Mul(decimal.NewFromInt(100)).StringFixed(2)
	logger.WithFields(map[string]interface{}{
		"service":        "reconcile",
		"local_value":    local.String(),
		"exchange_value": remote.String(),
		"drift":          drift.String(),
	}).Warn("Portfolio drift above threshold")
	return s.publisher.Publish(ctx, &model.NotificationEvent{
		Kind:     model.EventKindDrift,
		Severity: model.SeverityHigh,
		Message: fmt.Sprintf("%s%% (local %s vs exchange %s %s)",
			pct, local.StringFixed(2), remote.StringFixed(2), s.cfg.QuoteCurrency),
	})
}
