package bridge

import (
	"bytes"
	"context"
	"encoding/hex"
	"sync"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/goatnetwork/bond-aevum/internal/config"
	"github.com/goatnetwork/bond-aevum/internal/crypto"
	"github.com/goatnetwork/bond-aevum/internal/db"
	"github.com/goatnetwork/bond-aevum/internal/errors"
	"github.com/goatnetwork/bond-aevum/internal/events"
	"github.com/goatnetwork/bond-aevum/internal/metrics"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/goatnetwork/bond-aevum/internal/validator"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Rules    *validator.BridgeRules
	Verifier crypto.Verifier
	// SourceTimeout bounds the wait for the lock to reach confirmation depth.
	SourceTimeout time.Duration
	// QuorumTimeout bounds the wait for a validator quorum before the transfer is
	// flagged for intervention.
	QuorumTimeout time.Duration
	// SigTimeout bounds one signature collection round.
	SigTimeout   time.Duration
	PollInterval time.Duration
}

func ConfigFromApp(cfg config.BridgeConfig, rules *validator.BridgeRules) Config {
	return Config{
		Rules:         rules,
		Verifier:      crypto.SchnorrVerifier{},
		SourceTimeout: cfg.SourceTimeout,
		QuorumTimeout: cfg.QuorumTimeout,
		SigTimeout:    cfg.SigTimeout,
		PollInterval:  cfg.PollInterval,
	}
}

type Resolution int

const (
	// ResolveRetry clears the intervention flag and opens a new quorum window.
	ResolveRetry Resolution = iota
	// ResolveFail fails the transfer and refunds the sender.
	ResolveFail
)

type transfer struct {
	id  uuid.UUID
	rec *db.Transfer
	fsm *fsm.FSM
}

// Coordinator drives cross-chain transfers through their state machine. Every
// transition is persisted before anything acts on it.
type Coordinator struct {
	cfg       Config
	chains    map[types.ChainID]ChainClient
	ledger    *Ledger
	transport Transport
	bus       *events.EventBus

	// tickMu serializes Tick; mu guards transfers and their records.
	tickMu    sync.Mutex
	mu        sync.Mutex
	transfers map[uuid.UUID]*transfer

	now    func() time.Time
	logger *log.Entry
}

// New creates a coordinator over the given chains. bus may be nil.
func New(cfg Config, ledger *Ledger, transport Transport, bus *events.EventBus, chains ...ChainClient) *Coordinator {
	metrics.Init()
	c := &Coordinator{
		cfg:       cfg,
		chains:    make(map[types.ChainID]ChainClient, len(chains)),
		ledger:    ledger,
		transport: transport,
		bus:       bus,
		transfers: make(map[uuid.UUID]*transfer),
		now:       time.Now,
		logger:    log.WithFields(log.Fields{"module": "bridge"}),
	}
	for _, ch := range chains {
		c.chains[ch.ID()] = ch
	}
	return c
}

func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Load resumes every transfer that still has work from the ledger.
func (c *Coordinator) Load() (int, error) {
	recs, err := c.ledger.LoadActive()
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	loaded := 0
	for _, rec := range recs {
		id, err := uuid.Parse(rec.TransferId)
		if err != nil {
			c.mu.Unlock()
			return loaded, errors.NewStorageError("transfer row %d has invalid id %q", rec.ID, rec.TransferId)
		}
		if _, ok := c.transfers[id]; ok {
			continue
		}
		c.transfers[id] = c.track(id, rec)
		loaded++
	}
	c.mu.Unlock()

	c.updateActive()
	c.logger.Infof("Loaded %d active transfers", loaded)
	return loaded, nil
}

// track builds the in-memory state machine of a persisted transfer.
func (c *Coordinator) track(id uuid.UUID, rec *db.Transfer) *transfer {
	callbacks := fsm.Callbacks{
		"before_event": func(_ context.Context, e *fsm.Event) {
			next, ok := e.Args[0].(*db.Transfer)
			if !ok {
				e.Cancel(errors.NewInvalidArgumentError("transition of %s without a record", id))
				return
			}
			next.Status = e.Dst
			if err := c.ledger.Save(next); err != nil {
				e.Cancel(err)
			}
		},
		"enter_state": func(_ context.Context, e *fsm.Event) {
			metrics.BridgeTransitions.WithLabelValues(e.Src, e.Dst).Inc()
			c.logger.Infof("Transfer %s: %s -> %s", id, e.Src, e.Dst)
			if c.bus != nil {
				c.bus.Publish(events.TransferStatusChanged, events.TransferEvent{TransferID: id.String(), From: e.Src, To: e.Dst})
			}
		},
	}
	return &transfer{id: id, rec: rec, fsm: NewTransferFSM(Status(rec.Status), callbacks)}
}

// Initiate validates req, records the transfer as Pending and submits the
// sender's lock transaction to the source chain.
func (c *Coordinator) Initiate(ctx context.Context, req *Request) (uuid.UUID, error) {
	source, ok := c.chains[req.Source]
	if !ok {
		return uuid.Nil, errors.NewInvalidArgumentError("unknown source chain %s", req.Source)
	}
	if _, ok := c.chains[req.Destination]; !ok || req.Destination == req.Source {
		return uuid.Nil, errors.NewInvalidArgumentError("invalid destination chain %s", req.Destination)
	}
	if req.Amount == 0 {
		return uuid.Nil, errors.NewInvalidArgumentError("transfer amount is zero")
	}
	if req.Sender == nil || len(req.Inputs) == 0 {
		return uuid.Nil, errors.NewInvalidArgumentError("transfer needs a sender and funding inputs")
	}
	if types.ClassifyScript(types.PayToPubKeyScript(req.Recipient)) != types.ScriptPayToPubKey {
		return uuid.Nil, errors.NewInvalidArgumentError("recipient must be a %d byte public key", types.PubKeySize)
	}

	prevs := make([]*types.Output, len(req.Inputs))
	for i, in := range req.Inputs {
		out, err := source.GetUtxo(in)
		if err != nil {
			return uuid.Nil, err
		}
		if out == nil {
			return uuid.Nil, errors.NewTxMissingInputsError("funding input %s not found on %s", in, req.Source)
		}
		prevs[i] = out
	}

	id := uuid.New()
	lockTx, err := buildLockTx(id, req, prevs)
	if err != nil {
		return uuid.Nil, err
	}

	now := c.now()
	rec := &db.Transfer{
		TransferId:     id.String(),
		Source:         req.Source.String(),
		Destination:    req.Destination.String(),
		Amount:         req.Amount,
		Sender:         hex.EncodeToString(req.Sender.PubKey()),
		Recipient:      hex.EncodeToString(req.Recipient),
		Status:         string(StatusPending),
		LockTxHash:     lockTx.Hash().String(),
		LockIndex:      lockOutputIndex,
		LockTxRaw:      lockTx.Bytes(),
		SourceDeadline: now.Add(c.cfg.SourceTimeout),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.ledger.Create(rec); err != nil {
		return uuid.Nil, err
	}
	t := c.track(id, rec)
	c.mu.Lock()
	c.transfers[id] = t
	c.mu.Unlock()
	c.updateActive()

	if _, err := source.SubmitTransaction(lockTx); err != nil {
		// The lock never reached the source chain, so nothing is owed back.
		if ferr := c.fire(ctx, t, EventFail, func(rec *db.Transfer) {
			rec.LastError = err.Error()
		}); ferr != nil {
			c.logger.Errorf("Failed to record rejected lock of %s: %v", id, ferr)
		}
		return id, err
	}

	c.logger.Infof("Initiated transfer %s of %d from %s to %s, lock %s", id, req.Amount, req.Source, req.Destination, lockTx.Hash())
	return id, nil
}

// GetTransferStatus returns a snapshot of transfer id.
func (c *Coordinator) GetTransferStatus(id uuid.UUID) (*Transfer, error) {
	c.mu.Lock()
	t, ok := c.transfers[id]
	if ok {
		defer c.mu.Unlock()
		return fromRecord(t.rec), nil
	}
	c.mu.Unlock()

	rec, err := c.ledger.Get(id.String())
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

// Cancel fails a Pending transfer on behalf of its sender. Once the source lock
// is confirmed only the timeout path can fail a transfer.
func (c *Coordinator) Cancel(ctx context.Context, id uuid.UUID, sender []byte) error {
	t, err := c.get(id)
	if err != nil {
		return err
	}
	tr := c.snapshot(t)
	if !bytes.Equal(tr.Sender, sender) {
		return errors.NewInvalidArgumentError("only the sender may cancel transfer %s", id)
	}
	return c.fire(ctx, t, EventCancel, func(rec *db.Transfer) {
		rec.RefundPending = true
		rec.LastError = "cancelled by sender"
		rec.QuorumDeadline = c.now().Add(c.cfg.QuorumTimeout)
	})
}

// Resolve is the governance hook for transfers flagged for intervention.
func (c *Coordinator) Resolve(ctx context.Context, id uuid.UUID, resolution Resolution) error {
	t, err := c.get(id)
	if err != nil {
		return err
	}
	if tr := c.snapshot(t); !tr.NeedsIntervention {
		return errors.NewInvalidTransitionError("transfer %s is not waiting for intervention", id)
	}

	switch resolution {
	case ResolveRetry:
		return c.update(t, func(rec *db.Transfer) {
			rec.NeedsIntervention = false
			rec.QuorumDeadline = c.now().Add(c.cfg.QuorumTimeout)
		})
	case ResolveFail:
		return c.fire(ctx, t, EventFail, func(rec *db.Transfer) {
			rec.NeedsIntervention = false
			rec.RefundPending = true
			rec.QuorumDeadline = c.now().Add(c.cfg.QuorumTimeout)
		})
	default:
		return errors.NewInvalidArgumentError("unknown resolution %d", resolution)
	}
}

// Reattempt starts a new mint attempt of a Reverted transfer once the
// compensating burn of the current attempt is at confirmation depth.
func (c *Coordinator) Reattempt(ctx context.Context, id uuid.UUID) error {
	t, err := c.get(id)
	if err != nil {
		return err
	}
	tr := c.snapshot(t)
	if tr.Status != StatusReverted {
		return errors.NewInvalidTransitionError("transfer %s is %s, not reverted", id, tr.Status)
	}
	if tr.BurnTx == types.ZeroHash {
		return errors.NewInvalidTransitionError("transfer %s has no compensating burn", id)
	}
	dest := c.chains[tr.Destination]
	confs, err := dest.Confirmations(tr.BurnTx)
	if err != nil {
		return err
	}
	if depth := uint64(dest.Params().Confirmations); confs < depth {
		return errors.NewInvalidTransitionError("burn %s of %s has %d of %d confirmations", tr.BurnTx, id, confs, depth)
	}

	return c.fire(ctx, t, EventReattempt, func(rec *db.Transfer) {
		rec.Attempt++
		rec.MintTxHash, rec.MintTxRaw = "", nil
		rec.BurnTxHash, rec.BurnTxRaw = "", nil
		rec.SignerBitmap, rec.SignerCount = nil, 0
		rec.DestConfirms = 0
		rec.NeedsIntervention = false
		rec.LastError = ""
		rec.QuorumDeadline = c.now().Add(c.cfg.QuorumTimeout)
	})
}

// Start ticks every PollInterval until ctx is done. Blocks connected or
// reorganized on any chain published to the event bus trigger an extra tick.
func (c *Coordinator) Start(ctx context.Context) {
	interval := c.cfg.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	wake := make(chan interface{}, 64)
	chainEvents := []events.EventType{events.BlockConnected, events.Reorganized}
	if c.bus != nil {
		for _, et := range chainEvents {
			c.bus.Subscribe(et, wake)
		}
		defer func() {
			for _, et := range chainEvents {
				c.bus.Unsubscribe(et, wake)
			}
		}()
	}

	c.logger.Infof("Bridge coordinator started, polling every %s", interval)
	c.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Bridge coordinator stopped")
			return
		case <-ticker.C:
			c.Tick(ctx)
		case <-wake:
			drain(wake)
			c.Tick(ctx)
		}
	}
}

// drain empties ch so a burst of blocks costs one tick.
func drain(ch chan interface{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// Tick advances every active transfer by at most one step. Failures are recorded
// on the transfer and logged; they never stop the other transfers.
func (c *Coordinator) Tick(ctx context.Context) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	c.mu.Lock()
	active := make([]*transfer, 0, len(c.transfers))
	for _, t := range c.transfers {
		active = append(active, t)
	}
	c.mu.Unlock()

	for _, t := range active {
		if ctx.Err() != nil {
			return
		}
		if err := c.process(ctx, t); err != nil {
			c.logger.Warnf("Transfer %s: %v", t.id, err)
			c.logger.Debug(goerrors.Wrap(err, 0).ErrorStack())
		}
	}
	c.updateActive()
}

func (c *Coordinator) process(ctx context.Context, t *transfer) error {
	tr := c.snapshot(t)
	switch tr.Status {
	case StatusPending:
		return c.processPending(ctx, t, tr)
	case StatusSourceConfirmed:
		return c.processSourceConfirmed(ctx, t, tr)
	case StatusMinted:
		return c.processMinted(ctx, t, tr)
	case StatusCompleted:
		return c.processCompleted(ctx, t, tr)
	case StatusReverted:
		return c.processReverted(ctx, t, tr)
	case StatusFailed:
		return c.processFailed(ctx, t, tr)
	default:
		return errors.NewInvalidTransitionError("transfer %s in unknown status %s", tr.ID, tr.Status)
	}
}

func (c *Coordinator) processPending(ctx context.Context, t *transfer, tr *Transfer) error {
	source := c.chains[tr.Source]
	confs, err := source.Confirmations(tr.LockTx)
	if err != nil {
		return err
	}

	depth := uint64(source.Params().Confirmations)
	if confs >= depth {
		return c.fire(ctx, t, EventConfirmSource, func(rec *db.Transfer) {
			rec.SourceConfirms = confs
			rec.LastError = ""
			rec.QuorumDeadline = c.now().Add(c.cfg.QuorumTimeout)
		})
	}

	if c.now().After(tr.SourceDeadline) {
		timeout := errors.NewTransferTimeoutError("lock %s had %d of %d confirmations at the deadline", tr.LockTx, confs, depth)
		return c.fire(ctx, t, EventFail, func(rec *db.Transfer) {
			rec.SourceConfirms = confs
			rec.RefundPending = true
			rec.LastError = timeout.Error()
			rec.QuorumDeadline = c.now().Add(c.cfg.QuorumTimeout)
		})
	}

	if confs == 0 {
		if err := c.resubmit(source, t, func(rec *db.Transfer) []byte { return rec.LockTxRaw }); err != nil {
			return err
		}
	}
	if confs != tr.SourceConfirmations {
		return c.update(t, func(rec *db.Transfer) { rec.SourceConfirms = confs })
	}
	return nil
}

func (c *Coordinator) processSourceConfirmed(ctx context.Context, t *transfer, tr *Transfer) error {
	if tr.NeedsIntervention {
		return nil
	}
	mint := buildMintTx(tr)
	if err := c.collectQuorum(ctx, tr.Source, tr.Destination, mint); err != nil {
		return c.quorumFailed(t, tr, err)
	}

	// The signed mint is on disk before it leaves the coordinator; a resumed
	// coordinator rebuilds the same transaction, whose claim marker can only be
	// created once.
	err := c.fire(ctx, t, EventMint, func(rec *db.Transfer) {
		rec.MintTxHash = mint.Hash().String()
		rec.MintTxRaw = mint.Bytes()
		rec.SignerBitmap = mint.Bridge.Signers.ToBytes()
		rec.SignerCount = mint.Bridge.Signers.Count()
		rec.DestConfirms = 0
		rec.LastError = ""
	})
	if err != nil {
		return err
	}
	return c.submit(c.chains[tr.Destination], t, mint)
}

func (c *Coordinator) processMinted(ctx context.Context, t *transfer, tr *Transfer) error {
	dest := c.chains[tr.Destination]
	confs, err := dest.Confirmations(tr.MintTx)
	if err != nil {
		return err
	}

	switch {
	case confs >= uint64(dest.Params().Confirmations):
		return c.fire(ctx, t, EventComplete, func(rec *db.Transfer) {
			rec.DestConfirms = confs
			rec.LastError = ""
		})
	case confs == 0 && tr.DestConfirmations > 0:
		return c.revert(ctx, t, tr)
	case confs == 0:
		return c.resubmit(dest, t, func(rec *db.Transfer) []byte { return rec.MintTxRaw })
	case confs != tr.DestConfirmations:
		return c.update(t, func(rec *db.Transfer) { rec.DestConfirms = confs })
	}
	return nil
}

func (c *Coordinator) processCompleted(ctx context.Context, t *transfer, tr *Transfer) error {
	dest := c.chains[tr.Destination]
	confs, err := dest.Confirmations(tr.MintTx)
	if err != nil {
		return err
	}
	if confs == 0 {
		return c.revert(ctx, t, tr)
	}
	if confs > uint64(dest.Params().MaxReorgDepth) {
		// No reorganization can reach the mint any more.
		if err := c.update(t, func(rec *db.Transfer) {
			rec.DestConfirms = confs
			rec.Retired = true
		}); err != nil {
			return err
		}
		c.retire(tr.ID)
		return nil
	}
	if confs != tr.DestConfirmations {
		return c.update(t, func(rec *db.Transfer) { rec.DestConfirms = confs })
	}
	return nil
}

func (c *Coordinator) revert(ctx context.Context, t *transfer, tr *Transfer) error {
	c.logger.Warnf("Mint %s of transfer %s left the canonical %s chain", tr.MintTx, tr.ID, tr.Destination)
	return c.fire(ctx, t, EventRevert, func(rec *db.Transfer) {
		rec.DestConfirms = 0
		rec.LastError = "mint reorganized out of " + tr.Destination.String()
		rec.QuorumDeadline = c.now().Add(c.cfg.QuorumTimeout)
	})
}

// processReverted issues the compensating burn of the current attempt. If the
// original mint confirms again first, the transfer goes back to Minted and the
// burn can no longer confirm.
func (c *Coordinator) processReverted(ctx context.Context, t *transfer, tr *Transfer) error {
	dest := c.chains[tr.Destination]
	mintConfs, err := dest.Confirmations(tr.MintTx)
	if err != nil {
		return err
	}
	if mintConfs > 0 {
		return c.fire(ctx, t, EventRemint, func(rec *db.Transfer) {
			rec.DestConfirms = mintConfs
			rec.BurnTxHash, rec.BurnTxRaw = "", nil
			rec.NeedsIntervention = false
			rec.LastError = ""
		})
	}

	if tr.BurnTx == types.ZeroHash {
		if tr.NeedsIntervention {
			return nil
		}
		burn := buildBurnTx(tr)
		if err := c.collectQuorum(ctx, tr.Source, tr.Destination, burn); err != nil {
			return c.quorumFailed(t, tr, err)
		}
		err := c.update(t, func(rec *db.Transfer) {
			rec.BurnTxHash = burn.Hash().String()
			rec.BurnTxRaw = burn.Bytes()
			rec.LastError = ""
		})
		if err != nil {
			return err
		}
		return c.submit(dest, t, burn)
	}

	burnConfs, err := dest.Confirmations(tr.BurnTx)
	if err != nil {
		return err
	}
	if burnConfs == 0 {
		return c.resubmit(dest, t, func(rec *db.Transfer) []byte { return rec.BurnTxRaw })
	}
	if burnConfs >= uint64(dest.Params().Confirmations) && tr.DestConfirmations < burnConfs {
		c.logger.Infof("Burn %s of transfer %s is final, ready to re-attempt", tr.BurnTx, tr.ID)
	}
	if burnConfs != tr.DestConfirmations {
		return c.update(t, func(rec *db.Transfer) { rec.DestConfirms = burnConfs })
	}
	return nil
}

// processFailed settles the refund obligation of a failed transfer: once the lock
// output exists on the source chain a quorum-signed refund returns it.
func (c *Coordinator) processFailed(ctx context.Context, t *transfer, tr *Transfer) error {
	if !tr.RefundPending {
		c.retire(tr.ID)
		return nil
	}
	source := c.chains[tr.Source]
	depth := uint64(source.Params().Confirmations)

	if tr.RefundTx != types.ZeroHash {
		confs, err := source.Confirmations(tr.RefundTx)
		if err != nil {
			return err
		}
		if confs >= depth {
			c.logger.Infof("Refund %s of transfer %s is final", tr.RefundTx, tr.ID)
			if err := c.update(t, func(rec *db.Transfer) {
				rec.RefundPending = false
				rec.Retired = true
			}); err != nil {
				return err
			}
			c.retire(tr.ID)
			return nil
		}
		if confs == 0 {
			return c.resubmit(source, t, func(rec *db.Transfer) []byte { return rec.RefundTxRaw })
		}
		return nil
	}

	lock, err := source.GetUtxo(tr.LockOutput())
	if err != nil {
		return err
	}
	if lock == nil || tr.NeedsIntervention {
		// The lock may still confirm; until then there is nothing to return.
		return nil
	}

	refund := buildRefundTx(tr)
	if err := c.collectQuorum(ctx, tr.Source, tr.Source, refund); err != nil {
		return c.quorumFailed(t, tr, err)
	}
	err = c.update(t, func(rec *db.Transfer) {
		rec.RefundTxHash = refund.Hash().String()
		rec.RefundTxRaw = refund.Bytes()
		rec.SignerBitmap = refund.Bridge.Signers.ToBytes()
		rec.SignerCount = refund.Bridge.Signers.Count()
		rec.LastError = ""
	})
	if err != nil {
		return err
	}
	return c.submit(source, t, refund)
}

// quorumFailed records a failed signature round. Past the quorum deadline the
// transfer is flagged for intervention and no longer retried automatically.
func (c *Coordinator) quorumFailed(t *transfer, tr *Transfer, cause error) error {
	flag := c.now().After(tr.QuorumDeadline)
	if err := c.update(t, func(rec *db.Transfer) {
		rec.LastError = cause.Error()
		if flag {
			rec.NeedsIntervention = true
		}
	}); err != nil {
		return err
	}
	if flag {
		c.logger.Errorf("Transfer %s needs intervention: %v", tr.ID, cause)
	}
	return cause
}

// fire runs event on the transfer's state machine. mutate prepares the record
// that is persisted with the new status; the in-memory record only changes if the
// write succeeded.
func (c *Coordinator) fire(ctx context.Context, t *transfer, event string, mutate func(rec *db.Transfer)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := *t.rec
	if mutate != nil {
		mutate(&next)
	}
	next.UpdatedAt = c.now()
	if err := t.fsm.Event(ctx, event, &next); err != nil {
		var canceled fsm.CanceledError
		if errors.As(err, &canceled) {
			return errors.NewStorageError("transfer %s: %s not persisted", next.TransferId, event, canceled.Err)
		}
		return errors.NewInvalidTransitionError("transfer %s: %s not allowed in %s", next.TransferId, event, t.fsm.Current(), err)
	}
	t.rec = &next
	return nil
}

// update persists a change that does not move the transfer to another status.
func (c *Coordinator) update(t *transfer, mutate func(rec *db.Transfer)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := *t.rec
	mutate(&next)
	next.UpdatedAt = c.now()
	if err := c.ledger.Save(&next); err != nil {
		return err
	}
	t.rec = &next
	return nil
}

// submit hands a bridge transaction to chain. A copy already in the mempool or
// parked as an orphan counts as submitted.
func (c *Coordinator) submit(chain ChainClient, t *transfer, tx *types.Transaction) error {
	_, err := chain.SubmitTransaction(tx)
	if err == nil || errors.Is(err, errors.ErrTxAlreadyExists) || errors.Is(err, errors.ErrTxOrphan) {
		return nil
	}
	if uerr := c.update(t, func(rec *db.Transfer) { rec.LastError = err.Error() }); uerr != nil {
		c.logger.Errorf("Failed to record submission error of %s: %v", t.id, uerr)
	}
	return err
}

// resubmit offers a stored transaction again, for when it fell out of the mempool.
func (c *Coordinator) resubmit(chain ChainClient, t *transfer, raw func(rec *db.Transfer) []byte) error {
	c.mu.Lock()
	data := raw(t.rec)
	c.mu.Unlock()
	if len(data) == 0 {
		return nil
	}
	tx, err := types.TransactionFromBytes(data)
	if err != nil {
		return errors.NewStorageError("stored transaction of %s is corrupt", t.id, err)
	}
	return c.submit(chain, t, tx)
}

func (c *Coordinator) get(id uuid.UUID) (*transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.transfers[id]
	if !ok {
		return nil, errors.NewNotFoundError("active transfer %s", id)
	}
	return t, nil
}

func (c *Coordinator) snapshot(t *transfer) *Transfer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fromRecord(t.rec)
}

// retire stops tracking a transfer that has no work left. It stays in the ledger.
func (c *Coordinator) retire(id uuid.UUID) {
	c.mu.Lock()
	delete(c.transfers, id)
	c.mu.Unlock()
}

func (c *Coordinator) updateActive() {
	c.mu.Lock()
	n := len(c.transfers)
	c.mu.Unlock()
	metrics.BridgeActive.Set(float64(n))
}
