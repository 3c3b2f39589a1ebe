package migrations

import (
	"gorm.io/gorm"
)

// AddTransferActiveIndex indexes the columns the coordinator scans on every tick and
// on restart: status plus the intervention flag.
func AddTransferActiveIndex(tx *gorm.DB) error {
	return tx.Exec("CREATE INDEX IF NOT EXISTS transfer_active_index ON transfers (status, needs_intervention)").Error
}
