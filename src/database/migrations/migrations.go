package migrations

import (
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DataMigration records a data migration that has been applied.
type DataMigration struct {
	ID        string    `gorm:"primaryKey;size:200;column:id"`
	AppliedAt time.Time `gorm:"not null;column:applied_at"`
}

func (DataMigration) TableName() string { return "data_migrations" }

// Step is one data migration. IDs are stable and never reused.
type Step struct {
	ID    string
	Apply func(*gorm.DB) error
}

// Steps run in order after the schema auto-migration. Append only.
var Steps = []Step{
	{ID: "00001_active_intent_unique_key", Apply: createActiveIntentIndex},
	{ID: "00002_portfolio_snapshot_row", Apply: seedPortfolioSnapshot},
	{ID: "00003_parent_protection_group", Apply: moveParentGroupIDs},
}

// RunOnce applies step unless its id is already recorded. The step and its
// record share one transaction, so a failed step is retried on next start.
func RunOnce(db *gorm.DB, step Step) error {
	switch {
	case db == nil:
		return nil
	case step.ID == "":
		return errors.New("migration id is empty")
	case step.Apply == nil:
		return fmt.Errorf("migration %q has no apply func", step.ID)
	}
	if err := db.AutoMigrate(&DataMigration{}); err != nil {
		return fmt.Errorf("ensure data_migrations: %w", err)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var applied int64
		if err := tx.Model(&DataMigration{}).Where("id = ?", step.ID).Count(&applied).Error; err != nil {
			return fmt.Errorf("check migration %q: %w", step.ID, err)
		}
		if applied > 0 {
			return nil
		}
		if err := step.Apply(tx); err != nil {
			return fmt.Errorf("apply migration %q: %w", step.ID, err)
		}
		if err := tx.Create(&DataMigration{ID: step.ID, AppliedAt: time.Now().UTC()}).Error; err != nil {
			return fmt.Errorf("record migration %q: %w", step.ID, err)
		}
		logger.WithField("migration", step.ID).Info("Data migration applied")
		return nil
	})
}

// Run applies every pending step in order and stops at the first failure.
func Run(db *gorm.DB) error {
	for _, step := range Steps {
		if err := RunOnce(db, step); err != nil {
			return err
		}
	}
	return nil
}
