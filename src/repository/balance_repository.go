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

// BalanceRepository manages the local balance cache and portfolio snapshot.
type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository() *BalanceRepository {
	return &BalanceRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *BalanceRepository) WithDB(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// UpsertAll writes the given balances keyed by currency.
func (r *BalanceRepository) UpsertAll(ctx context.Context, balances []model.Balance) error {
	if len(balances) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "currency"}},
			DoUpdates: clause.AssignmentColumns([]string{"quantity", "reserved", "market_value", "updated_at"}),
		}).
		Create(&balances).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "BalanceRepository",
			"op":    "UpsertAll",
			"count": len(balances),
		}).WithError(err).Error("Failed to upsert balances")
	}
	return err
}

func (r *BalanceRepository) List(ctx context.Context) ([]model.Balance, error) {
	var out []model.Balance
	err := r.db.WithContext(ctx).Order("currency ASC").Find(&out).Error
	return out, err
}

// FindByCurrency returns the cached balance or (nil, nil).
func (r *BalanceRepository) FindByCurrency(ctx context.Context, currency string) (*model.Balance, error) {
	var b model.Balance
	err := r.db.WithContext(ctx).Where("currency = ?", currency).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetSnapshot returns the single portfolio snapshot row, or (nil, nil).
func (r *BalanceRepository) GetSnapshot(ctx context.Context) (*model.PortfolioSnapshot, error) {
	var s model.PortfolioSnapshot
	err := r.db.WithContext(ctx).First(&s, model.PortfolioSnapshotID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveSnapshot overwrites the single portfolio snapshot row.
func (r *BalanceRepository) SaveSnapshot(ctx context.Context, s *model.PortfolioSnapshot) error {
	s.ID = model.PortfolioSnapshotID
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(s).Error
}
