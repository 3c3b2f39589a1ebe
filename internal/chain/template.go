package chain

import (
	"context"

	"github.com/goatnetwork/bond-aevum/internal/consensus"
	"github.com/goatnetwork/bond-aevum/internal/errors"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/goatnetwork/bond-aevum/internal/validator"
)

// BlockTemplate is an unsealed block on the canonical tip. Window is what the
// sealer needs to complete the header.
type BlockTemplate struct {
	Block  *types.Block
	Window []*types.Header
	Fees   uint64
}

// blockOverhead covers the header and the coinbase when sizing a template.
const blockOverhead = 1024

// GetBlockTemplate draws up to maxTxs transactions from the mempool in rank order
// and builds the coinbase paying reward plus fees to the payout script.
func (c *Chain) GetBlockTemplate(maxTxs int) (*BlockTemplate, error) {
	if len(c.payout) == 0 {
		return nil, errors.NewConfigurationError("no payout script configured for %s", c.params.Chain)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	parent := c.arena.best
	engine := c.validator.Rules().Engine
	window := c.arena.window(parent, engine.WindowSize())

	if limit := c.params.MaxBlockTxs - 1; maxTxs < 0 || maxTxs > limit {
		maxTxs = limit
	}

	var (
		selected []*types.Transaction
		fees     uint64
		size     = blockOverhead
	)
	for _, tx := range c.mempool.Prioritized(maxTxs) {
		entry, ok := c.mempool.Get(tx.Hash())
		if !ok {
			continue
		}
		if size+entry.Size > validator.MaxBlockSize {
			continue
		}
		size += entry.Size
		fees += entry.Fee
		selected = append(selected, tx)
		c.mempool.Touch(entry.Hash)
	}

	height := parent.height + 1
	coinbase := types.NewCoinbase(height, types.Output{Value: c.params.Reward(height) + fees, Script: c.payout})
	txs := append([]*types.Transaction{coinbase}, selected...)

	timestamp := c.now().Unix()
	if earliest := parent.header().Timestamp + 1; timestamp < earliest {
		timestamp = earliest
	}

	block := &types.Block{
		Header: types.Header{
			PrevHash:   parent.hash,
			MerkleRoot: types.BlockMerkleRoot(txs),
			Timestamp:  timestamp,
			Bits:       engine.NextBits(window),
			Height:     height,
		},
		Transactions: txs,
	}
	return &BlockTemplate{Block: block, Window: window, Fees: fees}, nil
}

// Produce builds a template, seals it and submits it.
func (c *Chain) Produce(ctx context.Context, sealer consensus.Sealer, maxTxs int) (*Outcome, error) {
	tmpl, err := c.GetBlockTemplate(maxTxs)
	if err != nil {
		return nil, err
	}
	if err := sealer.Seal(ctx, &tmpl.Block.Header, tmpl.Window); err != nil {
		return nil, err
	}
	return c.SubmitBlock(tmpl.Block)
}

// Start runs the mempool expiry sweep until ctx is done.
func (c *Chain) Start(ctx context.Context) {
	c.mempool.Start(ctx)
}
