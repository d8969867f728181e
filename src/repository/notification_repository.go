package repository

import (
	"context"

	"cryptoexecutor/src/database"
	"cryptoexecutor/src/model"

	"gorm.io/gorm"
)

// NotificationRepository stores notification events for collaborators.
type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *NotificationRepository) WithDB(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, ev *model.NotificationEvent) error {
	return r.db.WithContext(ctx).Create(ev).Error
}

func (r *NotificationRepository) MarkDelivered(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&model.NotificationEvent{}).
		Where("id = ?", id).
		Update("delivered", true).Error
}
