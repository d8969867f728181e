package repository

import (
	"context"
	"errors"
	"time"

	"cryptoexecutor/src/database"
	"cryptoexecutor/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// exchangeColumns are the columns owned by exchange snapshots. Local
// linkage and protection columns are never touched by a sync.
var exchangeColumns = []string{
	"client_order_id", "symbol", "side", "type", "status",
	"price", "trigger_price", "quantity", "cumulative_quantity", "avg_price",
	"exchange_created_at", "exchange_updated_at", "filled_at", "updated_at",
}

// ExchangeOrderRepository handles the local mirror of exchange orders.
type ExchangeOrderRepository struct {
	db *gorm.DB
}

func NewExchangeOrderRepository() *ExchangeOrderRepository {
	return &ExchangeOrderRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *ExchangeOrderRepository) WithDB(db *gorm.DB) *ExchangeOrderRepository {
	return &ExchangeOrderRepository{db: db}
}

// Create inserts a mirrored order. A second insert for the same exchange
// order id returns ErrDuplicateKey.
func (r *ExchangeOrderRepository) Create(ctx context.Context, o *model.ExchangeOrder) error {
	err := r.db.WithContext(ctx).Create(o).Error
	if isDuplicateKey(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "ExchangeOrderRepository",
			"op":       "Create",
			"order_id": o.OrderID,
			"symbol":   o.Symbol,
		}).WithError(err).Error("Failed to create exchange order")
	}
	return err
}

func (r *ExchangeOrderRepository) first(ctx context.Context, query string, args ...interface{}) (*model.ExchangeOrder, error) {
	var o model.ExchangeOrder
	err := r.db.WithContext(ctx).Where(query, args...).Order("id ASC").First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// FindByOrderID returns the order with the exchange id, or (nil, nil).
func (r *ExchangeOrderRepository) FindByOrderID(ctx context.Context, orderID string) (*model.ExchangeOrder, error) {
	return r.first(ctx, "order_id = ?", orderID)
}

// FindByClientOrderID returns the order with the client order id, or (nil, nil).
func (r *ExchangeOrderRepository) FindByClientOrderID(ctx context.Context, clientOrderID string) (*model.ExchangeOrder, error) {
	if clientOrderID == "" {
		return nil, nil
	}
	return r.first(ctx, "client_order_id = ?", clientOrderID)
}

// UpdateExchangeFields writes the exchange-owned columns of o.
func (r *ExchangeOrderRepository) UpdateExchangeFields(ctx context.Context, o *model.ExchangeOrder) error {
	o.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Model(&model.ExchangeOrder{}).
		Where("id = ?", o.ID).
		Select(exchangeColumns).
		Updates(o).Error
}

// Link sets OCO linkage and signal reference on an order that was first
// seen without them.
func (r *ExchangeOrderRepository) Link(ctx context.Context, id uint, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).Model(&model.ExchangeOrder{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// ListNonTerminal returns live orders, optionally for one symbol.
func (r *ExchangeOrderRepository) ListNonTerminal(ctx context.Context, symbol string) ([]model.ExchangeOrder, error) {
	var out []model.ExchangeOrder
	q := r.db.WithContext(ctx).Where("status IN ?", model.NonTerminalOrderStatuses)
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	err := q.Order("id ASC").Find(&out).Error
	return out, err
}

// ListParentsNeedingProtection returns filled BUY entries whose
// protection is not yet complete.
func (r *ExchangeOrderRepository) ListParentsNeedingProtection(ctx context.Context) ([]model.ExchangeOrder, error) {
	var out []model.ExchangeOrder
	err := r.db.WithContext(ctx).
		Where("order_role = ? AND status = ? AND side = ? AND protection_state IN ?",
			model.OrderRoleParent, model.OrderStatusFilled, model.SideBuy,
			[]string{model.ProtectionNone, model.ProtectionProtected}).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// ClaimProtectionAttempt moves a parent into PROTECTED and bumps its
// attempt counter if nobody else did since it was read.
func (r *ExchangeOrderRepository) ClaimProtectionAttempt(ctx context.Context, id uint, seenState string, seenAttempts int, groupID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.ExchangeOrder{}).
		Where("id = ? AND protection_state = ? AND protection_attempts = ?", id, seenState, seenAttempts).
		Updates(map[string]interface{}{
			"protection_state":    model.ProtectionProtected,
			"protection_attempts": seenAttempts + 1,
			"protection_group_id": groupID,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetProtectionState moves a parent to the given protection state.
func (r *ExchangeOrderRepository) SetProtectionState(ctx context.Context, parentOrderID, state string) error {
	return r.db.WithContext(ctx).Model(&model.ExchangeOrder{}).
		Where("order_id = ? AND order_role = ?", parentOrderID, model.OrderRoleParent).
		Updates(map[string]interface{}{
			"protection_state": state,
			"updated_at":       time.Now().UTC(),
		}).Error
}

// ListGroup returns the protective legs of an OCO group.
func (r *ExchangeOrderRepository) ListGroup(ctx context.Context, groupID string) ([]model.ExchangeOrder, error) {
	var out []model.ExchangeOrder
	err := r.db.WithContext(ctx).
		Where("oco_group_id = ? AND order_role IN ?", groupID,
			[]string{model.OrderRoleStopLoss, model.OrderRoleTakeProfit}).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// ListOrphanedLegs returns live protective legs missing parent or group linkage.
func (r *ExchangeOrderRepository) ListOrphanedLegs(ctx context.Context) ([]model.ExchangeOrder, error) {
	var out []model.ExchangeOrder
	err := r.db.WithContext(ctx).
		Where("status IN ? AND order_role IN ?", model.NonTerminalOrderStatuses,
			[]string{model.OrderRoleStopLoss, model.OrderRoleTakeProfit}).
		Where("parent_order_id IS NULL OR oco_group_id IS NULL OR parent_order_id = '' OR oco_group_id = ''").
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// ListLiveGroupIDs returns the ids of groups with at least one live leg.
func (r *ExchangeOrderRepository) ListLiveGroupIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.ExchangeOrder{}).
		Where("status IN ? AND order_role IN ? AND oco_group_id IS NOT NULL AND oco_group_id <> ''",
			model.NonTerminalOrderStatuses,
			[]string{model.OrderRoleStopLoss, model.OrderRoleTakeProfit}).
		Distinct().
		Pluck("oco_group_id", &ids).Error
	return ids, err
}

// CountOpenExposure counts live entry orders plus filled entries whose
// protection has not resolved yet.
func (r *ExchangeOrderRepository) CountOpenExposure(ctx context.Context, symbol string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.ExchangeOrder{}).
		Where("symbol = ? AND order_role = ?", symbol, model.OrderRoleParent).
		Where("status IN ? OR (status = ? AND side = ? AND protection_state <> ?)",
			model.NonTerminalOrderStatuses, model.OrderStatusFilled, model.SideBuy, model.ProtectionResolved).
		Count(&n).Error
	return n, err
}

// ClaimNotification stamps notified_at if it is still unset. Only the
// caller that gets true may send the notification.
func (r *ExchangeOrderRepository) ClaimNotification(ctx context.Context, id uint, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.ExchangeOrder{}).
		Where("id = ? AND notified_at IS NULL", id).
		Update("notified_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListFilled returns filled orders for a symbol ordered by fill time.
func (r *ExchangeOrderRepository) ListFilled(ctx context.Context, symbol string) ([]model.ExchangeOrder, error) {
	var out []model.ExchangeOrder
	q := r.db.WithContext(ctx).Where("status = ?", model.OrderStatusFilled)
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	err := q.Order("filled_at ASC, id ASC").Find(&out).Error
	return out, err
}

// MarkCancelled records a cancel the exchange accepted. Terminal rows are
// left alone.
func (r *ExchangeOrderRepository) MarkCancelled(ctx context.Context, id uint) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&model.ExchangeOrder{}).
		Where("id = ? AND status IN ?", id, model.NonTerminalOrderStatuses).
		Updates(map[string]interface{}{
			"status":              model.OrderStatusCancelled,
			"exchange_updated_at": now,
			"updated_at":          now,
		}).Error
}
