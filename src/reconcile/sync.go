package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"cryptoexecutor/src/connectors"
	"cryptoexecutor/src/mapper"
	"cryptoexecutor/src/model"
	"cryptoexecutor/src/repository"
)

// statusRank orders statuses so a stale snapshot never moves an order
// backwards. Terminal statuses share the top rank and never replace each other.
func statusRank(status string) int {
	switch status {
	case model.OrderStatusNew:
		return 0
	case model.OrderStatusActive:
		return 1
	case model.OrderStatusPartiallyFilled:
		return 2
	}
	return 3
}

// advances reports whether an order seen as from may be updated to to.
func advances(from, to string) bool {
	if model.IsTerminalStatus(from) {
		return false
	}
	return statusRank(to) >= statusRank(from)
}

// ParseLegClientOrderID recovers the group, parent and role encoded in a
// protective leg's client order id ("oco-<parent>-<ms>-SL|TP").
func ParseLegClientOrderID(clientOID string) (groupID, parentOrderID, role string, ok bool) {
	switch {
	case strings.HasSuffix(clientOID, "-SL"):
		role = model.OrderRoleStopLoss
	case strings.HasSuffix(clientOID, "-TP"):
		role = model.OrderRoleTakeProfit
	default:
		return "", "", "", false
	}
	groupID = clientOID[:len(clientOID)-3]
	if !strings.HasPrefix(groupID, "oco-") {
		return "", "", "", false
	}
	rest := strings.TrimPrefix(groupID, "oco-")
	cut := strings.LastIndex(rest, "-")
	if cut <= 0 || cut == len(rest)-1 {
		return "", "", "", false
	}
	return groupID, rest[:cut], role, true
}

// linkage works out the local references of an order from its client
// order id. Leg ids are parsed; anything else is looked up as an intent.
func (s *Service) linkage(ctx context.Context, o *model.ExchangeOrder) (map[string]interface{}, *model.OrderIntent, error) {
	if o.ClientOrderID == "" {
		return nil, nil, nil
	}
	if groupID, parent, role, ok := ParseLegClientOrderID(o.ClientOrderID); ok {
		return map[string]interface{}{
			"parent_order_id": parent,
			"oco_group_id":    groupID,
			"order_role":      role,
		}, nil, nil
	}
	intent, err := s.intents.FindByClientOrderID(ctx, o.ClientOrderID)
	if err != nil || intent == nil {
		return nil, nil, err
	}
	fields := map[string]interface{}{
		"intent_id":  intent.ID,
		"order_role": model.OrderRoleParent,
	}
	if o.ProtectionState == "" {
		fields["protection_state"] = model.ProtectionNone
	}
	return fields, intent, nil
}

func applyLinkage(o *model.ExchangeOrder, fields map[string]interface{}) {
	for k, v := range fields {
		switch k {
		case "parent_order_id":
			p := v.(string)
			o.ParentOrderID = &p
		case "oco_group_id":
			g := v.(string)
			o.OcoGroupID = &g
		case "order_role":
			r := v.(string)
			o.OrderRole = &r
		case "intent_id":
			id := v.(uint)
			o.IntentID = &id
		case "protection_state":
			o.ProtectionState = v.(string)
		}
	}
}

func unlinked(o *model.ExchangeOrder) bool {
	return o.OrderRole == nil && o.IntentID == nil
}

// applySnapshot merges one exchange report into the store and reacts to
// the status transition it causes, if any.
func (s *Service) applySnapshot(ctx context.Context, info *connectors.OrderInfo, rep *CycleReport) error {
	incoming := mapper.MapOrderInfoToModel(info)
	if incoming == nil || incoming.OrderID == "" {
		return nil
	}
	rep.OrdersSeen++

	existing, err := s.orders.FindByOrderID(ctx, incoming.OrderID)
	if err != nil {
		return err
	}

	prevStatus := ""
	var current *model.ExchangeOrder
	if existing == nil {
		fields, intent, err := s.linkage(ctx, incoming)
		if err != nil {
			return err
		}
		applyLinkage(incoming, fields)
		err = s.orders.Create(ctx, incoming)
		if errors.Is(err, repository.ErrDuplicateKey) {
			// Another writer inserted it first; treat this as an update.
			rep.OrdersSeen--
			return s.applySnapshot(ctx, info, rep)
		}
		if err != nil {
			return err
		}
		rep.Discovered++
		if intent != nil {
			s.adoptIntent(ctx, intent, incoming.OrderID)
		}
		current = incoming
	} else {
		prevStatus = existing.Status
		if unlinked(existing) {
			fields, intent, err := s.linkage(ctx, existing)
			if err != nil {
				return err
			}
			if len(fields) > 0 {
				if err := s.orders.Link(ctx, existing.ID, fields); err != nil {
					return err
				}
				applyLinkage(existing, fields)
				rep.Relinked++
			}
			if intent != nil {
				s.adoptIntent(ctx, intent, existing.OrderID)
			}
		}
		if !advances(existing.Status, incoming.Status) {
			return nil
		}
		mergeExchangeFields(existing, incoming)
		if err := s.orders.UpdateExchangeFields(ctx, existing); err != nil {
			return err
		}
		current = existing
	}

	if prevStatus == current.Status {
		return nil
	}
	rep.Transitions++
	return s.onTransition(ctx, current, rep)
}

func mergeExchangeFields(dst, src *model.ExchangeOrder) {
	if src.ClientOrderID != "" {
		dst.ClientOrderID = src.ClientOrderID
	}
	dst.Symbol = src.Symbol
	dst.Side = src.Side
	dst.Type = src.Type
	dst.Status = src.Status
	dst.Price = src.Price
	dst.TriggerPrice = src.TriggerPrice
	dst.Quantity = src.Quantity
	dst.CumulativeQuantity = src.CumulativeQuantity
	dst.AvgPrice = src.AvgPrice
	if src.ExchangeCreatedAt != nil {
		dst.ExchangeCreatedAt = src.ExchangeCreatedAt
	}
	if src.ExchangeUpdatedAt != nil {
		dst.ExchangeUpdatedAt = src.ExchangeUpdatedAt
	}
	if src.FilledAt != nil {
		dst.FilledAt = src.FilledAt
	}
}

// adoptIntent marks a pending intent as handed off once its order shows up
// on the exchange. Intents already past PENDING are left alone.
func (s *Service) adoptIntent(ctx context.Context, intent *model.OrderIntent, orderID string) {
	if intent.Status != model.IntentPending {
		return
	}
	if err := s.intents.MarkFilledUpstream(ctx, intent.ID, orderID); err != nil {
		logger.WithFields(map[string]interface{}{
			"service":   "reconcile",
			"intent_id": intent.ID,
			"order_id":  orderID,
		}).WithError(err).Warn("Failed to adopt pending intent")
	}
}

// onTransition fires OCO handling and fill notifications for an order
// that just changed status.
func (s *Service) onTransition(ctx context.Context, o *model.ExchangeOrder, rep *CycleReport) error {
	log := logger.WithFields(map[string]interface{}{
		"service":  "reconcile",
		"order_id": o.OrderID,
		"symbol":   o.Symbol,
		"status":   o.Status,
		"role":     o.Role(),
	})
	log.Info("Order status changed")

	if o.Status != model.OrderStatusFilled {
		return nil
	}
	rep.Fills++

	outcome := ""
	var ocoErr error
	switch {
	case o.Role() == model.OrderRoleParent && o.Side == model.SideBuy:
		if err := s.oco.Protect(ctx, o); err != nil {
			log.WithError(err).Warn("Protection incomplete, converge will retry")
			ocoErr = fmt.Errorf("protect %s: %w", o.OrderID, err)
		} else {
			outcome = "protective legs placed"
		}
	case o.IsProtectiveLeg():
		out, err := s.oco.OnLegFilled(ctx, o)
		outcome = out
		if err != nil {
			log.WithError(err).Warn("Sibling cancel incomplete, converge will retry")
			ocoErr = fmt.Errorf("oco %s: %w", o.OrderID, err)
		}
	}

	s.notifyFill(ctx, o, outcome, rep)
	return ocoErr
}

func (s *Service) notifyFill(ctx context.Context, o *model.ExchangeOrder, outcome string, rep *CycleReport) {
	now := s.now()
	if !s.gate.Allow(o, now) {
		return
	}
	won, err := s.gate.Claim(ctx, o, now)
	if err != nil {
		logger.WithError(err).WithField("order_id", o.OrderID).Warn("Failed to claim fill notification")
		return
	}
	if !won {
		return
	}
	orderID := o.OrderID
	role := o.Role()
	if role == "" {
		role = strings.ToLower(o.Side)
	}
	ev := &model.NotificationEvent{
		Kind:            model.EventKindFill,
		Severity:        model.SeverityInfo,
		ExchangeOrderID: &orderID,
		Symbol:          o.Symbol,
		OrderRole:       role,
		FillPrice:       mapper.FillPrice(o),
		OcoOutcome:      outcome,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		logger.WithError(err).WithField("order_id", o.OrderID).Error("Failed to publish fill")
		return
	}
	rep.Notified++
}

// syncOpenOrders applies the open-order snapshot of one symbol and then
// resolves local live orders the snapshot no longer lists.
func (s *Service) syncOpenOrders(ctx context.Context, symbol string, rep *CycleReport) error {
	open, err := s.exchange.GetOpenOrders(ctx, symbol)
	if err != nil {
		return fmt.Errorf("open orders %s: %w", symbol, err)
	}
	seen := make(map[string]bool, len(open))
	var errs []error
	for i := range open {
		seen[open[i].OrderID.String()] = true
		if err := s.applySnapshot(ctx, &open[i], rep); err != nil {
			errs = append(errs, err)
		}
	}

	local, err := s.orders.ListNonTerminal(ctx, symbol)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for i := range local {
		if seen[local[i].OrderID] {
			continue
		}
		detail, err := s.exchange.GetOrderDetail(ctx, local[i].OrderID)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"service":  "reconcile",
				"order_id": local[i].OrderID,
			}).WithError(err).Warn("Order left the open set but detail lookup failed")
			errs = append(errs, err)
			continue
		}
		if err := s.applySnapshot(ctx, detail, rep); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// syncHistory pages backwards through terminal orders within the lookback
// window, using the oldest update time of each page as the next bound.
func (s *Service) syncHistory(ctx context.Context, symbol string, rep *CycleReport) error {
	now := s.now()
	q := connectors.HistoryQuery{
		Symbol: symbol,
		Start:  now.Add(-s.cfg.HistoryLookback),
		End:    now,
		Limit:  s.cfg.HistoryPageSize,
	}
	var errs []error
	for page := 0; page < s.cfg.HistoryMaxPages; page++ {
		orders, err := s.exchange.GetOrderHistory(ctx, q)
		if err != nil {
			return errors.Join(append(errs, fmt.Errorf("order history %s: %w", symbol, err))...)
		}
		rep.HistoryPages++
		if len(orders) == 0 {
			break
		}
		oldest := orders[0].UpdateTime
		for i := range orders {
			if orders[i].UpdateTime < oldest {
				oldest = orders[i].UpdateTime
			}
			if err := s.applySnapshot(ctx, &orders[i], rep); err != nil {
				errs = append(errs, err)
			}
		}
		if len(orders) < q.Limit || oldest <= 0 {
			break
		}
		q.End = time.UnixMilli(oldest - 1).UTC()
		if !q.End.After(q.Start) {
			break
		}
	}
	return errors.Join(errs...)
}
