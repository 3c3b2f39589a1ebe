package validator

import (
	"context"
	"fmt"
	"math/bits"
	"time"

	"github.com/goatnetwork/bond-aevum/internal/errors"
	"github.com/goatnetwork/bond-aevum/internal/metrics"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/goatnetwork/bond-aevum/internal/utxo"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Status is the position of a candidate block in the validation pipeline.
type Status int

const (
	Received Status = iota
	StructurallyValid
	HeaderValid
	TransactionsValid
	UtxoConsistent
	Accepted
	Rejected
)

func (s Status) String() string {
	return [...]string{"Received", "StructurallyValid", "HeaderValid", "TransactionsValid", "UtxoConsistent", "Accepted", "Rejected"}[s]
}

// Candidate is one block object moving through validation. Rejection is terminal
// for the candidate; the same block may be submitted again as a new candidate.
type Candidate struct {
	Block  *types.Block
	Hash   types.Hash
	Status Status
	Reason error

	// Set once the candidate is UtxoConsistent.
	Fees  uint64
	Stage *utxo.Stage
}

func NewCandidate(block *types.Block) *Candidate {
	return &Candidate{Block: block, Hash: block.Hash(), Status: Received}
}

// HeaderJob is one header check of ValidateHeaders.
type HeaderJob struct {
	Candidate *Candidate
	Parent    *types.Header
	Window    []*types.Header
}

type Validator struct {
	rules  *Rules
	now    func() time.Time
	logger *log.Entry
}

func New(rules *Rules) *Validator {
	metrics.Init()
	return &Validator{
		rules:  rules,
		now:    time.Now,
		logger: log.WithFields(log.Fields{"module": "validator", "chain": rules.Params.Chain.String()}),
	}
}

// WithClock replaces the time source used for the future drift check.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

func (v *Validator) Rules() *Rules {
	return v.rules
}

// advance moves c from the expected status to next, or records the rejection.
func (v *Validator) advance(c *Candidate, from, next Status, check func() error) error {
	if c.Status == Rejected {
		return c.Reason
	}
	if c.Status != from {
		return errors.NewInvalidTransitionError("block %s is %s, cannot move to %s", c.Hash, c.Status, next)
	}
	if err := check(); err != nil {
		c.Status = Rejected
		c.Reason = err
		c.Stage = nil
		v.logger.Debugf("Rejected block %s at %s: %v", c.Hash, next, err)
		return err
	}
	c.Status = next
	return nil
}

// CheckStructure moves Received to StructurallyValid.
func (v *Validator) CheckStructure(c *Candidate) error {
	return v.advance(c, Received, StructurallyValid, func() error {
		b := c.Block
		if len(b.Transactions) == 0 {
			return errors.NewBlockMalformedError("block has no transactions")
		}
		if len(b.Transactions) > v.rules.Params.MaxBlockTxs {
			return errors.NewBlockMalformedError("block has %d transactions, limit %d", len(b.Transactions), v.rules.Params.MaxBlockTxs)
		}
		if size := b.SerializeSize(); size > MaxBlockSize {
			return errors.NewBlockMalformedError("block size %d exceeds %d", size, MaxBlockSize)
		}

		coinbase := b.Transactions[0]
		if !coinbase.IsCoinbase() {
			return errors.NewBadCoinbaseError("first transaction is not a coinbase")
		}
		height, err := coinbase.CoinbaseHeight()
		if err != nil || height != b.Header.Height {
			return errors.NewBadCoinbaseError("coinbase height does not match header height %d", b.Header.Height)
		}

		hashes := b.TxHashes()
		seen := make(map[types.Hash]struct{}, len(hashes))
		for i, tx := range b.Transactions {
			if i > 0 && tx.IsCoinbase() {
				return errors.NewBadCoinbaseError("transaction %d is a second coinbase", i)
			}
			if _, ok := seen[hashes[i]]; ok {
				return errors.NewBlockMalformedError("duplicate transaction %s", hashes[i])
			}
			seen[hashes[i]] = struct{}{}
		}

		if root := types.ComputeMerkleRoot(hashes); root != b.Header.MerkleRoot {
			return errors.NewBadMerkleRootError("computed %s, header has %s", root, b.Header.MerkleRoot)
		}
		return nil
	})
}

// CheckHeader moves StructurallyValid to HeaderValid. window holds the headers
// ending at parent, oldest first, as the engine requires.
func (v *Validator) CheckHeader(c *Candidate, parent *types.Header, window []*types.Header) error {
	return v.advance(c, StructurallyValid, HeaderValid, func() error {
		h := &c.Block.Header
		if h.PrevHash != parent.Hash() {
			return errors.NewBadHeaderError("previous hash %s does not match parent %s", h.PrevHash, parent.Hash())
		}
		if h.Height != parent.Height+1 {
			return errors.NewBadHeaderError("height %d does not follow parent height %d", h.Height, parent.Height)
		}
		if h.Timestamp <= parent.Timestamp {
			return errors.NewBadTimestampError("timestamp %d not after parent timestamp %d", h.Timestamp, parent.Timestamp)
		}
		limit := v.now().Add(v.rules.Params.MaxFutureDrift).Unix()
		if h.Timestamp > limit {
			return errors.NewBadTimestampError("timestamp %d too far in the future", h.Timestamp)
		}
		return v.rules.Engine.VerifySeal(h, window)
	})
}

// ValidateHeaders runs CheckHeader for independent candidates in parallel and
// returns the first failure. Every candidate ends HeaderValid or Rejected.
func (v *Validator) ValidateHeaders(ctx context.Context, jobs []HeaderJob) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			if err := v.CheckHeader(job.Candidate, job.Parent, job.Window); err != nil {
				return fmt.Errorf("block %s: %w", job.Candidate.Hash, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// CheckTransactions moves HeaderValid to TransactionsValid: every transaction is
// well formed, bridge proofs carry a quorum and no output is spent or claimed twice
// within the block.
func (v *Validator) CheckTransactions(c *Candidate) error {
	return v.advance(c, HeaderValid, TransactionsValid, func() error {
		spends := make(map[types.UtxoId]int)
		for i, tx := range c.Block.Transactions {
			if err := v.rules.CheckTransactionSanity(tx); err != nil {
				return fmt.Errorf("transaction %d: %w", i, err)
			}
			if tx.IsBridge() {
				if err := v.rules.CheckBridgeProof(tx); err != nil {
					return fmt.Errorf("transaction %d: %w", i, err)
				}
			}

			refs := make([]types.UtxoId, 0, len(tx.Inputs)+1)
			for _, in := range tx.Inputs {
				refs = append(refs, in.Prev)
			}
			if claim, ok := tx.ClaimID(); ok {
				refs = append(refs, claim)
			}
			for _, ref := range refs {
				if j, ok := spends[ref]; ok {
					return errors.NewTxDoubleSpendError("transactions %d and %d both consume %s", j, i, ref)
				}
				spends[ref] = i
			}
		}
		return nil
	})
}

// CheckUtxo moves TransactionsValid to UtxoConsistent by staging the whole block on
// parent, the state after the block's parent. Inputs are resolved against parent
// only, in transaction order. On success the candidate holds the stage, which is
// committed as one batch or dropped.
func (v *Validator) CheckUtxo(c *Candidate, parent utxo.Source) error {
	start := time.Now()
	err := v.advance(c, TransactionsValid, UtxoConsistent, func() error {
		stage := utxo.NewStage(parent)
		coinbase := c.Block.Transactions[0]
		if _, err := stage.ApplyTx(coinbase); err != nil {
			return err
		}

		var fees uint64
		for i, tx := range c.Block.Transactions[1:] {
			fee, err := v.rules.CheckTransaction(tx, parent)
			if err != nil {
				return fmt.Errorf("transaction %d: %w", i+1, err)
			}
			if _, err := stage.ApplyTx(tx); err != nil {
				return fmt.Errorf("transaction %d: %w", i+1, err)
			}
			var carry uint64
			if fees, carry = bits.Add64(fees, fee, 0); carry != 0 {
				return errors.NewBlockInvalidError("fee total overflows")
			}
		}

		paid, err := coinbase.TotalOut()
		if err != nil {
			return errors.NewBadCoinbaseError("coinbase outputs overflow", err)
		}
		expected, carry := bits.Add64(v.rules.Params.Reward(c.Block.Header.Height), fees, 0)
		if carry != 0 {
			return errors.NewBadCoinbaseError("reward plus fees %d overflows", fees)
		}
		if paid != expected {
			return errors.NewBadCoinbaseError("coinbase pays %d, expected reward plus fees %d", paid, expected)
		}
		c.Fees = fees
		c.Stage = stage
		return nil
	})
	metrics.ValidationDuration.WithLabelValues(v.rules.Params.Chain.String()).Observe(time.Since(start).Seconds())
	return err
}

// Accept marks an UtxoConsistent candidate Accepted.
func (v *Validator) Accept(c *Candidate) error {
	return v.advance(c, UtxoConsistent, Accepted, func() error { return nil })
}

// Reject records a failure found outside the pipeline, such as a storage error
// while committing the candidate's stage.
func (v *Validator) Reject(c *Candidate, reason error) {
	if c.Status == Rejected {
		return
	}
	c.Status = Rejected
	c.Reason = reason
	c.Stage = nil
}
