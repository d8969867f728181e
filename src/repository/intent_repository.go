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

// IntentRepository handles order intent persistence. Status transitions
// out of PENDING are conditional so concurrent workers cannot overwrite
// each other.
type IntentRepository struct {
	db *gorm.DB
}

func NewIntentRepository() *IntentRepository {
	return &IntentRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *IntentRepository) WithDB(db *gorm.DB) *IntentRepository {
	return &IntentRepository{db: db}
}

// Create inserts a new intent. A unique violation on the active
// idempotency key is reported as ErrDuplicateKey.
func (r *IntentRepository) Create(ctx context.Context, intent *model.OrderIntent) error {
	err := r.db.WithContext(ctx).Create(intent).Error
	if isDuplicateKey(err) {
		logger.WithFields(map[string]interface{}{
			"repo": "IntentRepository",
			"op":   "Create",
			"key":  intent.IdempotencyKey,
		}).Info("Active intent already exists for key")
		return ErrDuplicateKey
	}
	return err
}

// FindActiveByKey returns the PENDING or FILLED_UPSTREAM intent for a key.
func (r *IntentRepository) FindActiveByKey(ctx context.Context, key string) (*model.OrderIntent, error) {
	var intent model.OrderIntent
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ? AND status IN ?", key, model.ActiveIntentStatuses).
		First(&intent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *IntentRepository) FindByID(ctx context.Context, id uint) (*model.OrderIntent, error) {
	var intent model.OrderIntent
	err := r.db.WithContext(ctx).First(&intent, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// FindByClientOrderID returns the most recent intent with the client order id.
func (r *IntentRepository) FindByClientOrderID(ctx context.Context, clientOrderID string) (*model.OrderIntent, error) {
	var intent model.OrderIntent
	err := r.db.WithContext(ctx).
		Where("client_order_id = ?", clientOrderID).
		Order("id DESC").
		First(&intent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// ClaimAttempt reserves the next submission attempt. Only one caller can
// win for a given attempt number.
func (r *IntentRepository) ClaimAttempt(ctx context.Context, id uint, seenAttempts int, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.OrderIntent{}).
		Where("id = ? AND status = ? AND attempts = ?", id, model.IntentPending, seenAttempts).
		Updates(map[string]interface{}{
			"attempts":        seenAttempts + 1,
			"last_attempt_at": now,
			"updated_at":      now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkFilledUpstream records the exchange hand-off.
func (r *IntentRepository) MarkFilledUpstream(ctx context.Context, id uint, exchangeOrderID string) error {
	return r.transition(ctx, id, map[string]interface{}{
		"status":            model.IntentFilledUpstream,
		"exchange_order_id": exchangeOrderID,
		"last_error":        "",
		"error_class":       "",
	})
}

// MarkRetryableError keeps the intent PENDING and records the failure.
func (r *IntentRepository) MarkRetryableError(ctx context.Context, id uint, msg string) error {
	return r.transition(ctx, id, map[string]interface{}{
		"last_error":  msg,
		"error_class": model.ErrorClassRetryable,
	})
}

// MarkFailed moves a PENDING intent to FAILED.
func (r *IntentRepository) MarkFailed(ctx context.Context, id uint, reason, msg string) error {
	return r.transition(ctx, id, map[string]interface{}{
		"status":         model.IntentFailed,
		"failure_reason": reason,
		"last_error":     msg,
		"error_class":    model.ErrorClassFatal,
	})
}

// MarkExpired moves a PENDING intent to EXPIRED.
func (r *IntentRepository) MarkExpired(ctx context.Context, id uint, reason string) error {
	return r.transition(ctx, id, map[string]interface{}{
		"status":         model.IntentExpired,
		"failure_reason": reason,
	})
}

func (r *IntentRepository) transition(ctx context.Context, id uint, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&model.OrderIntent{}).
		Where("id = ? AND status = ?", id, model.IntentPending).
		Updates(fields)
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "IntentRepository",
			"op":        "transition",
			"intent_id": id,
		}).WithError(res.Error).Error("Failed to update intent")
		return res.Error
	}
	if res.RowsAffected == 0 {
		logger.WithFields(map[string]interface{}{
			"repo":      "IntentRepository",
			"op":        "transition",
			"intent_id": id,
		}).Warn("Intent no longer PENDING, transition skipped")
	}
	return nil
}

// ListPendingOlderThan returns PENDING intents created before cutoff.
func (r *IntentRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]model.OrderIntent, error) {
	var out []model.OrderIntent
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.IntentPending, cutoff).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// CountPending counts PENDING intents for a symbol.
func (r *IntentRepository) CountPending(ctx context.Context, symbol string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.OrderIntent{}).
		Where("symbol = ? AND status = ?", symbol, model.IntentPending).
		Count(&n).Error
	return n, err
}

// CountByStatus returns intent counts keyed by status.
func (r *IntentRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := r.db.WithContext(ctx).Model(&model.OrderIntent{}).
		Select("status, count(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}
