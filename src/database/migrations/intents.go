package migrations

import (
	"time"

	"gorm.io/gorm"
)

// createActiveIntentIndex enforces one active intent per idempotency key.
// FAILED and EXPIRED rows fall outside the index so the key can be reused.
// The partial index syntax is shared by postgres and sqlite.
func createActiveIntentIndex(tx *gorm.DB) error {
	return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uniq_active_intent_key
		ON order_intents (idempotency_key)
		WHERE status IN ('PENDING', 'FILLED_UPSTREAM')`).Error
}

func seedPortfolioSnapshot(tx *gorm.DB) error {
	return tx.Exec(`INSERT INTO portfolio_snapshots
		(id, local_value, exchange_value, drift_pct, rolling_drift_pct, alerted, computed_at)
		VALUES (1, 0, 0, 0, 0, false, ?)`, time.Unix(0, 0).UTC()).Error
}

// moveParentGroupIDs takes entries out of the OCO group they protect.
// Earlier rows kept the group id in oco_group_id on the parent itself.
func moveParentGroupIDs(tx *gorm.DB) error {
	return tx.Exec(`UPDATE exchange_orders
		SET protection_group_id = oco_group_id, oco_group_id = NULL
		WHERE order_role = 'PARENT' AND oco_group_id IS NOT NULL AND oco_group_id <> ''`).Error
}
