package mempool

import (
	"github.com/goatnetwork/bond-aevum/internal/errors"
	"github.com/goatnetwork/bond-aevum/internal/metrics"
	"github.com/goatnetwork/bond-aevum/internal/types"
)

// park keeps tx until its inputs appear. The pool is bounded: when full the least
// recently added orphan is dropped.
func (mp *Mempool) park(tx *types.Transaction, cause error) error {
	hash := tx.Hash()
	if mp.cfg.OrphanLimit <= 0 {
		return cause
	}
	if mp.orphans.Has(hash) {
		return errors.NewTxAlreadyExistsError("transaction %s already parked", hash)
	}
	if tx.SerializeSize() > maxOrphanSize {
		return cause
	}

	mp.orphans.Set(hash, tx, mp.cfg.OrphanTTL)
	metrics.MempoolOrphans.WithLabelValues(mp.chain).Set(float64(mp.orphans.Len()))
	mp.logger.Debugf("Parked orphan %s", hash)
	return errors.NewTxOrphanError("transaction %s parked until its inputs appear", hash, cause)
}

const maxOrphanSize = 10_000

// ProcessOrphans retries every parked transaction. Orphans whose inputs are still
// missing stay parked with their original expiry; any other rejection drops them.
// It returns the hashes that were admitted.
func (mp *Mempool) ProcessOrphans() []types.Hash {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	var admitted []types.Hash
	for hash, item := range mp.orphans.Items() {
		if item.IsExpired() {
			continue
		}
		err := mp.admit(item.Value(), hash)
		switch {
		case err == nil:
			admitted = append(admitted, hash)
		case errors.Is(err, errors.ErrTxMissingInputs):
			continue
		default:
			mp.logger.Debugf("Dropped orphan %s: %v", hash, err)
		}
		mp.orphans.Delete(hash)
	}

	metrics.MempoolOrphans.WithLabelValues(mp.chain).Set(float64(mp.orphans.Len()))
	return admitted
}

func (mp *Mempool) OrphanCount() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.orphans.Len()
}
