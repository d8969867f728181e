package repository

import (
	"context"
	"errors"

	"cryptoexecutor/src/database"
	"cryptoexecutor/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SignalStateRepository persists per (symbol, strategy) signal state.
type SignalStateRepository struct {
	db *gorm.DB
}

func NewSignalStateRepository() *SignalStateRepository {
	return &SignalStateRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *SignalStateRepository) WithDB(db *gorm.DB) *SignalStateRepository {
	return &SignalStateRepository{db: db}
}

// Get returns the state for symbol and strategy, or (nil, nil) if none exists.
func (r *SignalStateRepository) Get(ctx context.Context, symbol, strategyKey string) (*model.SignalState, error) {
	var s model.SignalState
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND strategy_key = ?", symbol, strategyKey).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "SignalStateRepository",
			"op":       "Get",
			"symbol":   symbol,
			"strategy": strategyKey,
		}).WithError(err).Error("Failed to load signal state")
		return nil, err
	}
	return &s, nil
}

// Save upserts the state keyed by (symbol, strategy_key). Rows that were
// loaded from the store are updated in place.
func (r *SignalStateRepository) Save(ctx context.Context, s *model.SignalState) error {
	if s.ID != 0 {
		err := r.db.WithContext(ctx).Save(s).Error
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"repo":   "SignalStateRepository",
				"op":     "Save",
				"symbol": s.Symbol,
			}).WithError(err).Error("Failed to save signal state")
		}
		return err
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "symbol"}, {Name: "strategy_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"side", "signal_seq", "last_price",
				"last_buy_order_price", "last_sell_order_price",
				"open_orders_at_last_order", "rsi", "fast_ma", "slow_ma",
				"evaluated_at", "last_order_at", "updated_at",
			}),
		}).
		Create(s).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "SignalStateRepository",
			"op":     "Save",
			"symbol": s.Symbol,
		}).WithError(err).Error("Failed to save signal state")
	}
	return err
}
