package chain

import (
	"context"
	"math/big"

	"github.com/goatnetwork/bond-aevum/internal/db"
	"github.com/goatnetwork/bond-aevum/internal/errors"
	"github.com/goatnetwork/bond-aevum/internal/events"
	"github.com/goatnetwork/bond-aevum/internal/metrics"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/goatnetwork/bond-aevum/internal/validator"
)

type OutcomeKind int

const (
	// Extended means the block was appended to the canonical tip.
	Extended OutcomeKind = iota
	// SideBranch means the block was stored on a branch that is not heavier.
	SideBranch
	// Reorganized means the block's branch replaced the canonical one.
	Reorganized
)

func (k OutcomeKind) String() string {
	return [...]string{"extended", "side", "reorganized"}[k]
}

// Outcome reports what a submitted block did to the canonical chain.
type Outcome struct {
	Kind         OutcomeKind
	Tip          types.ChainTip
	Disconnected []types.Hash
	Connected    []types.Hash
	// Orphaned are transactions of disconnected blocks that could not be readmitted.
	Orphaned map[types.Hash]error
}

// SubmitBlock validates block and runs fork choice. A block that fails validation
// is rejected and not stored. A block on a side branch is stored after its
// structure and header checks; its transactions are validated when the branch
// becomes the heaviest.
func (c *Chain) SubmitBlock(block *types.Block) (*Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	outcome, err := c.submitBlock(block)
	label := "rejected"
	if err == nil {
		label = outcome.Kind.String()
	}
	metrics.ChainBlocks.WithLabelValues(c.params.Chain.String(), label).Inc()
	return outcome, err
}

func (c *Chain) submitBlock(block *types.Block) (*Outcome, error) {
	hash := block.Hash()
	if known := c.arena.get(hash); known != nil {
		if known.status == NodeInvalid {
			return nil, errors.NewBlockInvalidError("block %s is known invalid", hash)
		}
		return nil, errors.NewBlockExistsError("block %s already known", hash)
	}

	parent := c.arena.get(block.Header.PrevHash)
	if parent == nil {
		return nil, errors.NewOrphanBlockError("parent %s of block %s unknown", block.Header.PrevHash, hash)
	}
	if parent.status == NodeInvalid {
		return nil, errors.NewBlockInvalidError("block %s builds on invalid block %s", hash, parent.hash)
	}

	cand := validator.NewCandidate(block)
	window := c.arena.window(parent, c.validator.Rules().Engine.WindowSize())
	if err := c.validator.CheckStructure(cand); err != nil {
		return nil, err
	}
	if err := c.validator.CheckHeader(cand, parent.header(), window); err != nil {
		return nil, err
	}

	weight := c.validator.Rules().Engine.Weight(&block.Header, window)
	n := &blockNode{
		hash:   hash,
		block:  block,
		parent: parent,
		height: block.Header.Height,
		score:  new(big.Int).Add(parent.score, weight),
		seq:    c.arena.nextSeq(),
		status: NodeStored,
	}

	best := c.arena.best
	if parent == best {
		// Transactions are checked before the block is stored, so a block with an
		// invalid body on the canonical tip is rejected like any other bad block.
		if err := c.connect(n, cand); err != nil {
			return nil, err
		}
		if err := c.blocks.PutBlock(block, n.score, n.seq, db.BLOCK_STATUS_CONNECTED); err != nil {
			c.rollbackTip(n, parent)
			return nil, err
		}
		c.arena.add(n)
		c.arena.best = n
		if err := c.blocks.SetCanonical(nil, []types.Hash{hash}); err != nil {
			// The UTXO tip is authoritative; the index is repaired on the next open.
			c.logger.Errorf("Failed to index canonical block %s: %v", hash, err)
		}
		c.afterConnect([]*blockNode{n}, nil)
		return &Outcome{Kind: Extended, Tip: n.tip(), Connected: []types.Hash{hash}}, nil
	}

	// A branch that would win fork choice but unwinds too far is refused before it
	// becomes a tip, so Tips keeps ranking the canonical tip first.
	heavier := n.betterThan(best)
	if heavier {
		if err := c.checkReorgDepth(best, n); err != nil {
			return nil, err
		}
	}

	if err := c.blocks.PutBlock(block, n.score, n.seq, db.BLOCK_STATUS_STORED); err != nil {
		return nil, err
	}
	c.arena.add(n)

	if !heavier {
		c.logger.Debugf("Stored side branch block %s at height %d", hash, n.height)
		return &Outcome{Kind: SideBranch, Tip: best.tip()}, nil
	}
	return c.reorganize(n)
}

// connect validates the body of n against the UTXO store, which must be at n's
// parent, and commits it. cand may be a candidate that already passed the header
// checks.
func (c *Chain) connect(n *blockNode, cand *validator.Candidate) error {
	v := c.validator
	if cand == nil {
		cand = validator.NewCandidate(n.block)
		window := c.arena.window(n.parent, v.Rules().Engine.WindowSize())
		if err := v.CheckStructure(cand); err != nil {
			return err
		}
		if err := v.CheckHeader(cand, n.parent.header(), window); err != nil {
			return err
		}
	}
	if err := v.CheckTransactions(cand); err != nil {
		return err
	}
	if err := v.CheckUtxo(cand, c.store); err != nil {
		return err
	}
	if err := v.Accept(cand); err != nil {
		return err
	}

	if err := c.store.Commit(n.hash, n.height, cand.Stage); err != nil {
		v.Reject(cand, err)
		return err
	}
	n.status = NodeConnected
	return nil
}

// rollbackTip undoes the commit of n when its block could not be stored.
func (c *Chain) rollbackTip(n, parent *blockNode) {
	if err := c.store.Revert(n.hash); err != nil {
		c.logger.Errorf("Failed to revert block %s after store failure: %v", n.hash, err)
		return
	}
	c.arena.best = parent
}

// reorganize switches the canonical chain to the branch ending at target. Either
// the whole switch happens or the old chain is restored and the failing block is
// marked invalid.
func (c *Chain) reorganize(target *blockNode) (*Outcome, error) {
	oldTip := c.arena.best
	if err := c.checkReorgDepth(oldTip, target); err != nil {
		return nil, err
	}
	ancestor := fork(oldTip, target)

	detach := branch(ancestor, oldTip)
	attach := branch(ancestor, target)
	c.logger.Infof("Reorganizing from %s@%d to %s@%d, fork at %d, disconnecting %d, connecting %d",
		oldTip.hash, oldTip.height, target.hash, target.height, ancestor.height, len(detach), len(attach))

	for i := len(detach) - 1; i >= 0; i-- {
		if err := c.store.Revert(detach[i].hash); err != nil {
			c.restore(detach[i+1:], nil)
			return nil, err
		}
		c.arena.best = detach[i].parent
	}

	for i, n := range attach {
		if err := c.connect(n, nil); err != nil {
			if errors.KindOf(err) != errors.KindStorage {
				c.invalidate(n)
			}
			c.restore(detach, attach[:i])
			return nil, errors.NewBlockInvalidError("reorganization to %s failed at block %s", target.hash, n.hash, err)
		}
		c.arena.best = n
	}

	if err := c.blocks.SetCanonical(hashesOf(detach), hashesOf(attach)); err != nil {
		c.logger.Errorf("Failed to update canonical index to %s: %v", target.hash, err)
	}

	orphaned := c.afterConnect(attach, detach)
	outcome := &Outcome{
		Kind:         Reorganized,
		Tip:          target.tip(),
		Disconnected: hashesOf(detach),
		Connected:    hashesOf(attach),
		Orphaned:     orphaned,
	}

	chain := c.params.Chain.String()
	metrics.ChainReorgs.WithLabelValues(chain).Inc()
	metrics.ChainReorgDepth.WithLabelValues(chain).Observe(float64(len(detach)))
	c.publish(events.Reorganized, events.ReorgEvent{
		Chain:        c.params.Chain,
		OldTip:       oldTip.tip(),
		NewTip:       outcome.Tip,
		Disconnected: outcome.Disconnected,
		Connected:    outcome.Connected,
	})
	return outcome, nil
}

func (c *Chain) checkReorgDepth(oldTip, target *blockNode) error {
	depth := oldTip.height - fork(oldTip, target).height
	if limit := c.params.MaxReorgDepth; limit > 0 && depth > uint64(limit) {
		return errors.NewReorganizationTooDeepError("switching to %s unwinds %d blocks, limit %d", target.hash, depth, limit)
	}
	return nil
}

// restore reverts the connected part of a failed reorganization and reconnects
// the detached blocks, oldest first.
func (c *Chain) restore(detached, connected []*blockNode) {
	for i := len(connected) - 1; i >= 0; i-- {
		if err := c.store.Revert(connected[i].hash); err != nil {
			c.logger.Errorf("Failed to revert block %s while restoring the chain: %v", connected[i].hash, err)
			return
		}
		c.arena.best = connected[i].parent
	}
	for _, n := range detached {
		if err := c.connect(n, nil); err != nil {
			c.logger.Errorf("Failed to reconnect block %s while restoring the chain: %v", n.hash, err)
			return
		}
		c.arena.best = n
	}
}

func (c *Chain) invalidate(n *blockNode) {
	for _, bad := range c.arena.markInvalid(n) {
		if err := c.blocks.SetStatus(bad.hash, db.BLOCK_STATUS_INVALID); err != nil {
			c.logger.Errorf("Failed to mark block %s invalid: %v", bad.hash, err)
		}
	}
	c.logger.Warnf("Marked block %s and its descendants invalid", n.hash)
}

// afterConnect prunes the mempool for newly canonical blocks, offers the
// transactions of disconnected blocks back and publishes the block events. It
// returns the transactions that could not be readmitted.
func (c *Chain) afterConnect(connected, disconnected []*blockNode) map[types.Hash]error {
	confirmed := make(map[types.Hash]struct{})
	var hashes []types.Hash
	for _, n := range connected {
		for _, tx := range n.block.Transactions {
			h := tx.Hash()
			confirmed[h] = struct{}{}
			hashes = append(hashes, h)
		}
	}
	c.mempool.RemoveConfirmed(hashes)

	var readmit []*types.Transaction
	for _, n := range disconnected {
		for _, tx := range n.block.Transactions[1:] {
			if _, ok := confirmed[tx.Hash()]; !ok {
				readmit = append(readmit, tx)
			}
		}
	}
	orphaned := c.mempool.Readmit(readmit)
	for hash, reason := range orphaned {
		c.logger.Infof("Transaction %s orphaned by reorganization: %v", hash, reason)
		c.publish(events.TxOrphaned, events.TxOrphanedEvent{Chain: c.params.Chain, TxHash: hash, Reason: reason})
	}
	c.mempool.ProcessOrphans()

	for i := len(disconnected) - 1; i >= 0; i-- {
		n := disconnected[i]
		c.publish(events.BlockDisconnected, events.BlockEvent{Chain: c.params.Chain, Hash: n.hash, Height: n.height})
	}
	for _, n := range connected {
		c.publish(events.BlockConnected, events.BlockEvent{Chain: c.params.Chain, Hash: n.hash, Height: n.height})
	}

	tip := c.arena.best
	metrics.ChainTipHeight.WithLabelValues(c.params.Chain.String()).Set(float64(tip.height))
	c.logger.Debugf("Canonical tip %s at height %d", tip.hash, tip.height)
	return orphaned
}

// ValidateHeaders checks the headers of blocks whose parents are known in parallel,
// without storing anything. It is meant for screening batches received from peers.
func (c *Chain) ValidateHeaders(ctx context.Context, blocks []*types.Block) error {
	c.mu.RLock()
	jobs := make([]validator.HeaderJob, 0, len(blocks))
	for _, b := range blocks {
		parent := c.arena.get(b.Header.PrevHash)
		if parent == nil {
			c.mu.RUnlock()
			return errors.NewOrphanBlockError("parent %s of block %s unknown", b.Header.PrevHash, b.Hash())
		}
		cand := validator.NewCandidate(b)
		if err := c.validator.CheckStructure(cand); err != nil {
			c.mu.RUnlock()
			return err
		}
		jobs = append(jobs, validator.HeaderJob{
			Candidate: cand,
			Parent:    parent.header(),
			Window:    c.arena.window(parent, c.validator.Rules().Engine.WindowSize()),
		})
	}
	c.mu.RUnlock()

	return c.validator.ValidateHeaders(ctx, jobs)
}
