// Package oco pairs every filled entry with a stop-loss and a take-profit
// leg and cancels the survivor once one of them fills.
package oco

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"cryptoexecutor/src/connectors"
	"cryptoexecutor/src/mapper"
	"cryptoexecutor/src/metrics"
	"cryptoexecutor/src/model"
	"cryptoexecutor/src/repository"
)

var ErrAttemptsExhausted = errors.New("protection attempts exhausted")

type OrderStore interface {
	Create(ctx context.Context, o *model.ExchangeOrder) error
	FindByOrderID(ctx context.Context, orderID string) (*model.ExchangeOrder, error)
	FindByClientOrderID(ctx context.Context, clientOrderID string) (*model.ExchangeOrder, error)
	Link(ctx context.Context, id uint, fields map[string]interface{}) error
	ListGroup(ctx context.Context, groupID string) ([]model.ExchangeOrder, error)
	ListParentsNeedingProtection(ctx context.Context) ([]model.ExchangeOrder, error)
	ClaimProtectionAttempt(ctx context.Context, id uint, seenState string, seenAttempts int, groupID string) (bool, error)
	SetProtectionState(ctx context.Context, parentOrderID, state string) error
	MarkCancelled(ctx context.Context, id uint) error
	ListOrphanedLegs(ctx context.Context) ([]model.ExchangeOrder, error)
	ListLiveGroupIDs(ctx context.Context) ([]string, error)
}

// Engine drives NO_PROTECTION -> PROTECTED -> RESOLVED for entry orders.
type Engine struct {
	cfg      Config
	exchange connectors.Exchange
	orders   OrderStore
	alerter  connectors.FatalAlerter
	now      func() time.Time
}

func NewEngine(cfg Config, ex connectors.Exchange, orders OrderStore, alerter connectors.FatalAlerter) *Engine {
	return &Engine{
		cfg:      cfg,
		exchange: ex,
		orders:   orders,
		alerter:  alerter,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// GroupID names the OCO group created for parent at t.
func GroupID(parentOrderID string, t time.Time) string {
	return fmt.Sprintf("oco-%s-%d", parentOrderID, t.UnixMilli())
}

// LegClientOrderID is the deterministic client order id of a leg.
func LegClientOrderID(groupID, role string) string {
	if role == model.OrderRoleStopLoss {
		return groupID + "-SL"
	}
	return groupID + "-TP"
}

// LegPrices returns the stop-loss and take-profit trigger prices for an
// entry, snapped so the stop never sits above and the target never below
// the configured distance.
func LegPrices(entry, slPct, tpPct, tick decimal.Decimal) (sl, tp decimal.Decimal) {
	one := decimal.NewFromInt(1)
	sl = connectors.Quantize(entry.Mul(one.Sub(slPct)), tick, connectors.RoundDown)
	tp = connectors.Quantize(entry.Mul(one.Add(tpPct)), tick, connectors.RoundUp)
	return sl, tp
}

func (e *Engine) log(parent *model.ExchangeOrder) *logger.Entry {
	return logger.WithFields(map[string]interface{}{
		"engine":   "oco",
		"parent":   parent.OrderID,
		"symbol":   parent.Symbol,
		"state":    parent.ProtectionState,
		"attempts": parent.ProtectionAttempts,
	})
}

func needsProtection(parent *model.ExchangeOrder) bool {
	return parent.Role() == model.OrderRoleParent &&
		parent.Side == model.SideBuy &&
		parent.Status == model.OrderStatusFilled &&
		parent.ProtectionState != model.ProtectionResolved
}

func presentRoles(legs []model.ExchangeOrder) map[string]bool {
	out := map[string]bool{}
	for _, l := range legs {
		if l.IsProtectiveLeg() {
			out[l.Role()] = true
		}
	}
	return out
}

// Protect places whichever legs the filled entry is still missing. Legs are
// independent: one failing does not undo or block the other, and a failed
// leg is retried on a later call.
func (e *Engine) Protect(ctx context.Context, parent *model.ExchangeOrder) error {
	if !needsProtection(parent) {
		return nil
	}
	log := e.log(parent)

	groupID := ""
	if parent.ProtectionGroupID != nil && *parent.ProtectionGroupID != "" {
		groupID = *parent.ProtectionGroupID
	}
	var missing []string
	if groupID == "" {
		missing = []string{model.OrderRoleStopLoss, model.OrderRoleTakeProfit}
	} else {
		legs, err := e.orders.ListGroup(ctx, groupID)
		if err != nil {
			return err
		}
		present := presentRoles(legs)
		for _, role := range []string{model.OrderRoleStopLoss, model.OrderRoleTakeProfit} {
			if !present[role] {
				missing = append(missing, role)
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}

	if e.cfg.MaxLegAttempts > 0 && parent.ProtectionAttempts >= e.cfg.MaxLegAttempts {
		log.WithField("missing", missing).Error("Entry left without full protection")
		if e.alerter != nil {
			e.alerter.Alert(ctx, "oco:exhausted:"+parent.OrderID, model.SeverityHigh,
				fmt.Sprintf("%s entry %s is missing %v after %d attempts", parent.Symbol, parent.OrderID, missing, parent.ProtectionAttempts))
		}
		return ErrAttemptsExhausted
	}

	if groupID == "" {
		groupID = GroupID(parent.OrderID, e.now())
	}
	won, err := e.orders.ClaimProtectionAttempt(ctx, parent.ID, parent.ProtectionState, parent.ProtectionAttempts, groupID)
	if err != nil {
		return err
	}
	if !won {
		log.Debug("Protection claimed by another cycle")
		return nil
	}
	parent.ProtectionState = model.ProtectionProtected
	parent.ProtectionAttempts++
	parent.ProtectionGroupID = &groupID

	inst, err := e.exchange.GetInstrument(ctx, parent.Symbol)
	if err != nil {
		return fmt.Errorf("instrument %s: %w", parent.Symbol, err)
	}
	entry := mapper.FillPrice(parent)
	qty := connectors.Quantize(mapper.FilledQuantity(parent), inst.QtyTick, connectors.RoundDown)
	if !entry.IsPositive() || !qty.IsPositive() {
		return fmt.Errorf("parent %s has no fill price or quantity", parent.OrderID)
	}
	sl, tp := LegPrices(entry, e.cfg.StopLossPct, e.cfg.TakeProfitPct, inst.PriceTick)

	var errs []error
	for _, role := range missing {
		trigger, rounding := sl, connectors.RoundDown
		if role == model.OrderRoleTakeProfit {
			trigger, rounding = tp, connectors.RoundUp
		}
		if err := e.placeLeg(ctx, parent, groupID, role, trigger, qty, rounding); err != nil {
			metrics.IncOcoLeg(role, "failed")
			log.WithError(err).WithField("role", role).Warn("Protective leg not placed")
			errs = append(errs, fmt.Errorf("%s leg: %w", role, err))
			continue
		}
		metrics.IncOcoLeg(role, "created")
	}
	return errors.Join(errs...)
}

func (e *Engine) placeLeg(ctx context.Context, parent *model.ExchangeOrder, groupID, role string, trigger, qty decimal.Decimal, rounding connectors.Rounding) error {
	clientID := LegClientOrderID(groupID, role)
	linkFields := map[string]interface{}{
		"parent_order_id": parent.OrderID,
		"oco_group_id":    groupID,
		"order_role":      role,
	}

	// A leg the exchange accepted but we never stored is adopted, not resent.
	if existing, err := e.orders.FindByClientOrderID(ctx, clientID); err != nil {
		return err
	} else if existing != nil {
		return e.orders.Link(ctx, existing.ID, linkFields)
	}

	ack, err := e.exchange.CreateOrder(ctx, connectors.OrderRequest{
		Symbol:        parent.Symbol,
		Side:          model.SideSell,
		Type:          role,
		TriggerPrice:  trigger,
		Quantity:      qty,
		ClientOrderID: clientID,
		PriceRounding: rounding,
	})
	if err != nil {
		return err
	}

	parentID := parent.OrderID
	r := role
	leg := &model.ExchangeOrder{
		OrderID:       ack.OrderID.String(),
		ClientOrderID: clientID,
		Symbol:        parent.Symbol,
		Side:          model.SideSell,
		Type:          role,
		Status:        model.OrderStatusNew,
		TriggerPrice:  trigger,
		Quantity:      qty,
		ParentOrderID: &parentID,
		OcoGroupID:    &groupID,
		OrderRole:     &r,
	}
	err = e.orders.Create(ctx, leg)
	if errors.Is(err, repository.ErrDuplicateKey) {
		existing, ferr := e.orders.FindByOrderID(ctx, leg.OrderID)
		if ferr != nil || existing == nil {
			return ferr
		}
		return e.orders.Link(ctx, existing.ID, linkFields)
	}
	return err
}

// OnLegFilled cancels the surviving sibling of a filled leg and resolves
// the parent. It returns a short description of the OCO outcome. A failed
// cancel is left for Converge.
func (e *Engine) OnLegFilled(ctx context.Context, leg *model.ExchangeOrder) (string, error) {
	if !leg.IsProtectiveLeg() || leg.Status != model.OrderStatusFilled || leg.OcoGroupID == nil {
		return "", nil
	}
	outcome, err := e.cancelSiblings(ctx, *leg.OcoGroupID, leg.ID)
	if leg.ParentOrderID != nil {
		if serr := e.orders.SetProtectionState(ctx, *leg.ParentOrderID, model.ProtectionResolved); serr != nil {
			return outcome, serr
		}
	}
	return fmt.Sprintf("%s filled; %s", leg.Role(), outcome), err
}

func (e *Engine) cancelSiblings(ctx context.Context, groupID string, filledID uint) (string, error) {
	members, err := e.orders.ListGroup(ctx, groupID)
	if err != nil {
		return "", err
	}
	outcome := "no sibling to cancel"
	var errs []error
	for i := range members {
		m := &members[i]
		if m.ID == filledID || !m.IsProtectiveLeg() || m.IsTerminal() {
			continue
		}
		log := logger.WithFields(map[string]interface{}{
			"engine":   "oco",
			"group":    groupID,
			"order_id": m.OrderID,
			"role":     m.Role(),
		})
		if cerr := e.exchange.CancelOrder(ctx, m.Symbol, m.OrderID); cerr != nil {
			log.WithError(cerr).Warn("Sibling cancel failed, will retry")
			outcome = fmt.Sprintf("%s cancel pending", m.Role())
			errs = append(errs, cerr)
			continue
		}
		if merr := e.orders.MarkCancelled(ctx, m.ID); merr != nil {
			errs = append(errs, merr)
		}
		log.Info("Sibling cancelled")
		outcome = fmt.Sprintf("%s cancelled", m.Role())
	}
	return outcome, errors.Join(errs...)
}

// ConvergeReport counts the repairs one Converge pass attempted.
type ConvergeReport struct {
	ParentsChecked int
	LegErrors      int
	GroupsResolved int
	CancelsRetried int
	CancelFailures int
}

// Converge re-creates missing legs for unresolved entries and retries
// sibling cancellation in groups where one leg already filled.
func (e *Engine) Converge(ctx context.Context) (ConvergeReport, error) {
	var rep ConvergeReport

	parents, err := e.orders.ListParentsNeedingProtection(ctx)
	if err != nil {
		return rep, err
	}
	for i := range parents {
		rep.ParentsChecked++
		if err := e.Protect(ctx, &parents[i]); err != nil {
			rep.LegErrors++
		}
	}

	groups, err := e.orders.ListLiveGroupIDs(ctx)
	if err != nil {
		return rep, err
	}
	for _, g := range groups {
		members, err := e.orders.ListGroup(ctx, g)
		if err != nil {
			return rep, err
		}
		var filled *model.ExchangeOrder
		for i := range members {
			if members[i].IsProtectiveLeg() && members[i].Status == model.OrderStatusFilled {
				filled = &members[i]
				break
			}
		}
		if filled == nil {
			continue
		}
		rep.CancelsRetried++
		if _, err := e.OnLegFilled(ctx, filled); err != nil {
			rep.CancelFailures++
			continue
		}
		rep.GroupsResolved++
	}
	return rep, nil
}
