package mempool

import (
	"container/heap"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/goatnetwork/bond-aevum/internal/config"
	"github.com/goatnetwork/bond-aevum/internal/errors"
	"github.com/goatnetwork/bond-aevum/internal/metrics"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/goatnetwork/bond-aevum/internal/utxo"
	"github.com/jellydator/ttlcache/v3"
	log "github.com/sirupsen/logrus"
)

type EvictionPolicy int

const (
	EvictLowestFeeRate EvictionPolicy = iota
	EvictLeastRecentlyUsed
)

func (p EvictionPolicy) String() string {
	return [...]string{"lowest-fee-rate", "least-recently-used"}[p]
}

type Config struct {
	MaxEntries     int
	MaxBytes       int
	TTL            time.Duration
	ExpireInterval time.Duration
	Policy         EvictionPolicy
	// MinFeeRate is the minimum fee per byte of transfers. Bridge transactions pay
	// no fee and are exempt.
	MinFeeRate  uint64
	OrphanLimit int
	OrphanTTL   time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxEntries:     50000,
		MaxBytes:       300 * 1024 * 1024,
		TTL:            14 * 24 * time.Hour,
		ExpireInterval: time.Minute,
		Policy:         EvictLowestFeeRate,
		OrphanLimit:    100,
		OrphanTTL:      20 * time.Minute,
	}
}

func ConfigFromApp(cfg config.MempoolConfig) Config {
	c := Config{
		MaxEntries:     cfg.MaxEntries,
		MaxBytes:       cfg.MaxBytes,
		TTL:            cfg.TTL,
		ExpireInterval: cfg.ExpireInterval,
		Policy:         EvictLowestFeeRate,
		MinFeeRate:     cfg.MinFeeRate,
		OrphanLimit:    cfg.OrphanLimit,
		OrphanTTL:      cfg.OrphanTTL,
	}
	if cfg.EvictionPolicy == config.EvictionPolicyLRU {
		c.Policy = EvictLeastRecentlyUsed
	}
	return c
}

// TxChecker validates a transaction against a view of the UTXO set and returns
// its fee.
type TxChecker interface {
	CheckTransaction(tx *types.Transaction, view utxo.Source) (uint64, error)
}

const (
	reasonConfirmed = "confirmed"
	reasonConflict  = "conflict"
	reasonExpired   = "expired"
	reasonEvicted   = "evicted"
	reasonReplaced  = "replaced"
)

// Mempool holds transactions that are valid against the current UTXO view and
// not yet confirmed. Entries never spend outputs of other entries: a transaction
// whose inputs are not in the view waits in the orphan pool.
type Mempool struct {
	mu      sync.RWMutex
	chain   string
	cfg     Config
	checker TxChecker
	view    utxo.Source

	entries    map[types.Hash]*Entry
	spends     map[types.UtxoId]types.Hash
	evict      *evictionHeap
	totalFee   uint64
	totalBytes int
	seq        uint64

	orphans *ttlcache.Cache[types.Hash, *types.Transaction]

	now    func() time.Time
	logger *log.Entry
}

func New(chain types.ChainID, cfg Config, checker TxChecker, view utxo.Source) *Mempool {
	metrics.Init()

	less := evictsBefore
	if cfg.Policy == EvictLeastRecentlyUsed {
		less = touchedBefore
	}

	opts := []ttlcache.Option[types.Hash, *types.Transaction]{
		ttlcache.WithTTL[types.Hash, *types.Transaction](cfg.OrphanTTL),
		ttlcache.WithDisableTouchOnHit[types.Hash, *types.Transaction](),
	}
	if cfg.OrphanLimit > 0 {
		opts = append(opts, ttlcache.WithCapacity[types.Hash, *types.Transaction](uint64(cfg.OrphanLimit)))
	}

	return &Mempool{
		chain:   chain.String(),
		cfg:     cfg,
		checker: checker,
		view:    view,
		entries: make(map[types.Hash]*Entry),
		spends:  make(map[types.UtxoId]types.Hash),
		evict:   &evictionHeap{less: less},
		orphans: ttlcache.New[types.Hash, *types.Transaction](opts...),
		now:     time.Now,
		logger:  log.WithFields(log.Fields{"module": "mempool", "chain": chain.String()}),
	}
}

// WithClock replaces the time source for arrival stamps and expiry.
func (mp *Mempool) WithClock(now func() time.Time) *Mempool {
	mp.now = now
	return mp
}

// Admit validates tx against the UTXO view and adds it. A transaction with
// inputs missing from the view is parked in the orphan pool and reported with
// TxOrphan.
func (mp *Mempool) Admit(tx *types.Transaction) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	err := mp.admit(tx, tx.Hash())
	if errors.Is(err, errors.ErrTxMissingInputs) {
		return mp.park(tx, err)
	}
	mp.recordRejection(err)
	return err
}

func (mp *Mempool) recordRejection(err error) {
	if err != nil {
		metrics.MempoolRejected.WithLabelValues(mp.chain, errors.KindOf(err).String()).Inc()
	}
}

// admit adds tx unless it fails validation, conflicts with an entry or cannot be
// fitted. Nothing changes when it returns an error.
func (mp *Mempool) admit(tx *types.Transaction, hash types.Hash) error {
	if _, ok := mp.entries[hash]; ok {
		return errors.NewTxAlreadyExistsError("transaction %s already in mempool", hash)
	}

	entry, err := mp.newEntry(tx, hash)
	if err != nil {
		return err
	}

	var superseded []*Entry
	for _, id := range entry.Spends {
		owner, ok := mp.spends[id]
		if !ok {
			continue
		}
		other := mp.entries[owner]
		// A compensating burn always wins over a pending mint of the same attempt.
		if tx.Kind == types.TxBurn && other.Tx.Kind == types.TxMint && id.Index == types.ClaimIndex {
			superseded = append(superseded, other)
			continue
		}
		return errors.NewTxDoubleSpendError("%s is already spent by mempool transaction %s", id, owner)
	}

	if !tx.IsBridge() && entry.Fee < mp.cfg.MinFeeRate*uint64(entry.Size) {
		return errors.NewTxInvalidError("fee %d below minimum rate %d per byte", entry.Fee, mp.cfg.MinFeeRate)
	}

	for _, other := range superseded {
		mp.remove(other, reasonReplaced)
	}
	if err := mp.insert(entry); err != nil {
		for _, other := range superseded {
			_ = mp.insert(other)
		}
		return err
	}

	mp.orphans.Delete(hash)
	metrics.MempoolAdmitted.WithLabelValues(mp.chain).Inc()
	mp.logger.Debugf("Admitted %s %s, fee %d, size %d", tx.Kind, hash, entry.Fee, entry.Size)
	return nil
}

func (mp *Mempool) newEntry(tx *types.Transaction, hash types.Hash) (*Entry, error) {
	fee, err := mp.checker.CheckTransaction(tx, mp.view)
	if err != nil {
		return nil, err
	}

	spends := make([]types.UtxoId, 0, len(tx.Inputs)+1)
	for _, in := range tx.Inputs {
		spends = append(spends, in.Prev)
	}
	if claim, ok := tx.ClaimID(); ok {
		spends = append(spends, claim)
	}

	now := mp.now()
	return &Entry{
		Tx:          tx,
		Hash:        hash,
		Arrival:     now,
		Fee:         fee,
		Size:        tx.SerializeSize(),
		Spends:      spends,
		LastTouched: now,
	}, nil
}

// insert makes room for entry by evicting, then adds it. When entry itself would
// be evicted first it is rejected and every victim is restored.
func (mp *Mempool) insert(entry *Entry) error {
	if mp.cfg.MaxBytes > 0 && entry.Size > mp.cfg.MaxBytes {
		return errors.NewMempoolFullError("transaction of %d bytes exceeds mempool size", entry.Size)
	}
	// Restored entries keep their place in arrival order.
	if entry.seq == 0 {
		mp.seq++
		entry.seq = mp.seq
	}

	var victims []*Entry
	count, size := len(mp.entries), mp.totalBytes
	for mp.overCapacity(count+1, size+entry.Size) {
		victim := mp.evict.peek()
		if victim == nil || mp.evict.less(entry, victim) {
			for _, v := range victims {
				heap.Push(mp.evict, v)
			}
			return errors.NewMempoolFullError("mempool full, fee rate of %s too low", entry.Hash)
		}
		heap.Pop(mp.evict)
		victims = append(victims, victim)
		count--
		size -= victim.Size
	}

	for _, v := range victims {
		// Popped from the heap already; drop the remaining indexes.
		mp.unindex(v, reasonEvicted)
		mp.logger.Debugf("Evicted %s for %s", v.Hash, entry.Hash)
	}

	mp.entries[entry.Hash] = entry
	for _, id := range entry.Spends {
		mp.spends[id] = entry.Hash
	}
	heap.Push(mp.evict, entry)
	mp.totalFee += entry.Fee
	mp.totalBytes += entry.Size
	mp.updateGauges()
	return nil
}

func (mp *Mempool) overCapacity(count, size int) bool {
	return (mp.cfg.MaxEntries > 0 && count > mp.cfg.MaxEntries) || (mp.cfg.MaxBytes > 0 && size > mp.cfg.MaxBytes)
}

// remove drops an entry that is still in the eviction heap.
func (mp *Mempool) remove(e *Entry, reason string) {
	if e.index >= 0 {
		heap.Remove(mp.evict, e.index)
	}
	mp.unindex(e, reason)
}

func (mp *Mempool) unindex(e *Entry, reason string) {
	delete(mp.entries, e.Hash)
	for _, id := range e.Spends {
		if mp.spends[id] == e.Hash {
			delete(mp.spends, id)
		}
	}
	mp.totalFee -= e.Fee
	mp.totalBytes -= e.Size
	metrics.MempoolRemoved.WithLabelValues(mp.chain, reason).Inc()
	mp.updateGauges()
}

func (mp *Mempool) updateGauges() {
	metrics.MempoolEntries.WithLabelValues(mp.chain).Set(float64(len(mp.entries)))
	metrics.MempoolBytes.WithLabelValues(mp.chain).Set(float64(mp.totalBytes))
}

// Replace swaps the entry spending exactly the inputs of tx for tx, provided tx
// pays a strictly higher fee rate. It returns the hash of the replaced entry.
func (mp *Mempool) Replace(tx *types.Transaction) (types.Hash, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	hash, err := mp.replace(tx)
	mp.recordRejection(err)
	return hash, err
}

func (mp *Mempool) replace(tx *types.Transaction) (types.Hash, error) {
	hash := tx.Hash()
	if _, ok := mp.entries[hash]; ok {
		return types.ZeroHash, errors.NewTxAlreadyExistsError("transaction %s already in mempool", hash)
	}
	if len(tx.Inputs) == 0 {
		return types.ZeroHash, errors.NewRBFRejectedError("transaction without inputs cannot replace")
	}

	owner, ok := mp.spends[tx.Inputs[0].Prev]
	if !ok {
		return types.ZeroHash, errors.NewRBFRejectedError("no mempool transaction spends %s", tx.Inputs[0].Prev)
	}
	old := mp.entries[owner]

	entry, err := mp.newEntry(tx, hash)
	if err != nil {
		return types.ZeroHash, err
	}
	if !sameSpends(old.Spends, entry.Spends) {
		return types.ZeroHash, errors.NewRBFRejectedError("replacement must spend exactly the inputs of %s", owner)
	}
	if compareEntryFeeRate(entry, old) <= 0 {
		return types.ZeroHash, errors.NewRBFRejectedError("fee rate of replacement does not exceed %s", owner)
	}

	mp.remove(old, reasonReplaced)
	if err := mp.insert(entry); err != nil {
		_ = mp.insert(old)
		return types.ZeroHash, err
	}

	mp.logger.Debugf("Replaced %s with %s", owner, hash)
	return owner, nil
}

func sameSpends(a, b []types.UtxoId) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[types.UtxoId]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

// Prioritized returns up to limit transactions in rank order.
func (mp *Mempool) Prioritized(limit int) []*types.Transaction {
	mp.mu.RLock()
	ranked := make([]*Entry, 0, len(mp.entries))
	for _, e := range mp.entries {
		ranked = append(ranked, e)
	}
	mp.mu.RUnlock()

	slices.SortFunc(ranked, func(a, b *Entry) int {
		if ranksBefore(a, b) {
			return -1
		}
		if ranksBefore(b, a) {
			return 1
		}
		return 0
	})

	if limit < 0 || limit > len(ranked) {
		limit = len(ranked)
	}
	txs := make([]*types.Transaction, limit)
	for i := range txs {
		txs[i] = ranked[i].Tx
	}
	return txs
}

// RemoveConfirmed drops the confirmed hashes and every entry that no longer fits
// the UTXO view, either because an input is gone or its claim is taken.
func (mp *Mempool) RemoveConfirmed(hashes []types.Hash) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, h := range hashes {
		if e, ok := mp.entries[h]; ok {
			mp.remove(e, reasonConfirmed)
		}
		mp.orphans.Delete(h)
	}

	var stale []*Entry
	for _, e := range mp.entries {
		if !mp.stillValid(e) {
			stale = append(stale, e)
		}
	}
	for _, e := range stale {
		mp.remove(e, reasonConflict)
		mp.logger.Debugf("Dropped %s, conflicts with the confirmed chain", e.Hash)
	}
}

func (mp *Mempool) stillValid(e *Entry) bool {
	for _, id := range e.Spends {
		out, err := mp.view.Get(id)
		if err != nil {
			mp.logger.Warnf("Failed to look up %s: %v", id, err)
			return false
		}
		exists := out != nil
		if isClaim := id.Index == types.ClaimIndex; isClaim == exists {
			return false
		}
	}
	return true
}

// Readmit offers transactions of disconnected blocks after a reorganization.
// Transactions that no longer validate are not parked; they are returned with
// their rejection.
func (mp *Mempool) Readmit(txs []*types.Transaction) map[types.Hash]error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	failed := make(map[types.Hash]error)
	for _, tx := range txs {
		if tx.IsCoinbase() {
			continue
		}
		hash := tx.Hash()
		if err := mp.admit(tx, hash); err != nil && !errors.Is(err, errors.ErrTxAlreadyExists) {
			failed[hash] = err
		}
	}
	return failed
}

// Touch marks an entry as used, which protects it under the LRU policy.
func (mp *Mempool) Touch(hash types.Hash) bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	e, ok := mp.entries[hash]
	if !ok {
		return false
	}
	e.LastTouched = mp.now()
	heap.Fix(mp.evict, e.index)
	return true
}

// Expire drops entries that arrived more than the TTL before now and expired
// orphans. It returns the number of entries dropped.
func (mp *Mempool) Expire(now time.Time) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.orphans.DeleteExpired()
	metrics.MempoolOrphans.WithLabelValues(mp.chain).Set(float64(mp.orphans.Len()))

	if mp.cfg.TTL <= 0 {
		return 0
	}
	cutoff := now.Add(-mp.cfg.TTL)
	var expired []*Entry
	for _, e := range mp.entries {
		if e.Arrival.Before(cutoff) {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		mp.remove(e, reasonExpired)
	}
	if len(expired) > 0 {
		mp.logger.Infof("Expired %d mempool transactions", len(expired))
	}
	return len(expired)
}

// Start runs the expiry sweep until ctx is done.
func (mp *Mempool) Start(ctx context.Context) {
	interval := mp.cfg.ExpireInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	mp.logger.Info("Mempool expiry sweep started")
	for {
		select {
		case <-ctx.Done():
			mp.logger.Info("Mempool expiry sweep stopped")
			return
		case <-ticker.C:
			mp.Expire(mp.now())
		}
	}
}

func (mp *Mempool) Has(hash types.Hash) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	_, ok := mp.entries[hash]
	return ok
}

// Get returns a copy of the entry for hash.
func (mp *Mempool) Get(hash types.Hash) (Entry, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	e, ok := mp.entries[hash]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (mp *Mempool) Len() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return len(mp.entries)
}

func (mp *Mempool) Bytes() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.totalBytes
}

func (mp *Mempool) TotalFee() uint64 {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.totalFee
}
