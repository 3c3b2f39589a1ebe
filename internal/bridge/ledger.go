package bridge

import (
	"github.com/goatnetwork/bond-aevum/internal/db"
	"github.com/goatnetwork/bond-aevum/internal/errors"
	"gorm.io/gorm"
)

// Ledger persists transfers in the bridge database. Every write runs in its own
// transaction so a crash never leaves a half-written transition.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(gdb *gorm.DB) *Ledger {
	return &Ledger{db: gdb}
}

func (l *Ledger) Create(rec *db.Transfer) error {
	err := l.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(rec).Error
	})
	if err != nil {
		return errors.NewStorageError("create transfer %s", rec.TransferId, err)
	}
	return nil
}

func (l *Ledger) Save(rec *db.Transfer) error {
	err := l.db.Transaction(func(tx *gorm.DB) error {
		return tx.Save(rec).Error
	})
	if err != nil {
		return errors.NewStorageError("save transfer %s", rec.TransferId, err)
	}
	return nil
}

func (l *Ledger) Get(transferID string) (*db.Transfer, error) {
	var rec db.Transfer
	err := l.db.Where("transfer_id = ?", transferID).First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errors.NewNotFoundError("transfer %s", transferID)
	}
	if err != nil {
		return nil, errors.NewStorageError("query transfer %s", transferID, err)
	}
	return &rec, nil
}

// LoadActive returns every transfer the coordinator still has work for: all but
// failed transfers without an outstanding refund.
func (l *Ledger) LoadActive() ([]*db.Transfer, error) {
	var recs []*db.Transfer
	err := l.db.
		Where("retired = ?", false).
		Where("status <> ? OR refund_pending = ?", db.TRANSFER_STATUS_FAILED, true).
		Order("id asc").
		Find(&recs).Error
	if err != nil {
		return nil, errors.NewStorageError("load active transfers", err)
	}
	return recs, nil
}
