package repository

import (
	"context"
	"time"

	"cryptoexecutor/src/database"
	"cryptoexecutor/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CandleRepository stores the candles indicators were computed from.
type CandleRepository struct {
	db *gorm.DB
}

func NewCandleRepository() *CandleRepository {
	return &CandleRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *CandleRepository) WithDB(db *gorm.DB) *CandleRepository {
	return &CandleRepository{db: db}
}

// Upsert writes candles keyed by (symbol, timeframe, datetime).
func (r *CandleRepository) Upsert(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "timeframe"}, {Name: "datetime"}},
			DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "source"}),
		}).
		CreateInBatches(&candles, 200).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "CandleRepository",
			"op":    "Upsert",
			"count": len(candles),
		}).WithError(err).Error("Failed to upsert candles")
	}
	return err
}

// ListRecent returns the newest limit candles in ascending time order.
func (r *CandleRepository) ListRecent(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	var out []model.Candle
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbol, timeframe).
		Order("datetime DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// LatestDatetime returns the open time of the newest stored candle, or nil
// when nothing is stored for the series yet.
func (r *CandleRepository) LatestDatetime(ctx context.Context, symbol, timeframe string) (*time.Time, error) {
	var latest []model.Candle
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbol, timeframe).
		Order("datetime DESC").
		Limit(1).
		Find(&latest).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "CandleRepository",
			"op":     "LatestDatetime",
			"symbol": symbol,
		}).WithError(err).Error("Failed to query latest candle")
		return nil, err
	}
	if len(latest) == 0 {
		return nil, nil
	}
	t := latest[0].Datetime.UTC()
	return &t, nil
}
