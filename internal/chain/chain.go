package chain

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/goatnetwork/bond-aevum/internal/blockstore"
	"github.com/goatnetwork/bond-aevum/internal/consensus"
	"github.com/goatnetwork/bond-aevum/internal/db"
	"github.com/goatnetwork/bond-aevum/internal/errors"
	"github.com/goatnetwork/bond-aevum/internal/events"
	"github.com/goatnetwork/bond-aevum/internal/mempool"
	"github.com/goatnetwork/bond-aevum/internal/metrics"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/goatnetwork/bond-aevum/internal/utxo"
	"github.com/goatnetwork/bond-aevum/internal/validator"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Rules   *validator.Rules
	Store   *utxo.Store
	Blocks  *blockstore.BlockStore
	Mempool mempool.Config
	// Events is optional.
	Events *events.EventBus
	// PayoutScript receives the coinbase of block templates.
	PayoutScript []byte
	Now          func() time.Time
}

// Chain is one ledger: the fork-choice arena over every known block, the UTXO
// store reflecting the canonical tip and the mempool validated against it. Block
// application, reorganizations and mempool pruning hold mu exclusively;
// transaction admission and queries share it.
type Chain struct {
	mu sync.RWMutex

	params    *consensus.Params
	validator *validator.Validator
	store     *utxo.Store
	blocks    *blockstore.BlockStore
	mempool   *mempool.Mempool
	bus       *events.EventBus
	arena     *arena

	payout []byte
	now    func() time.Time
	logger *log.Entry
}

// New opens the chain from its block store. An empty store is initialized with the
// genesis block; an empty UTXO store is rebuilt by replaying the canonical chain.
func New(cfg Config) (*Chain, error) {
	metrics.Init()

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	params := cfg.Rules.Params
	c := &Chain{
		params:    params,
		validator: validator.New(cfg.Rules).WithClock(now),
		store:     cfg.Store,
		blocks:    cfg.Blocks,
		bus:       cfg.Events,
		arena:     newArena(),
		payout:    cfg.PayoutScript,
		now:       now,
		logger:    log.WithFields(log.Fields{"module": "chain", "chain": params.Chain.String()}),
	}
	c.mempool = mempool.New(params.Chain, cfg.Mempool, cfg.Rules, cfg.Store).WithClock(now)

	if err := c.load(); err != nil {
		return nil, err
	}

	tip := c.arena.best
	metrics.ChainTipHeight.WithLabelValues(params.Chain.String()).Set(float64(tip.height))
	c.logger.Infof("Chain opened, tip %s at height %d, %d known blocks", tip.hash, tip.height, len(c.arena.nodes))
	return c, nil
}

func (c *Chain) load() error {
	stored, err := c.blocks.LoadAll()
	if err != nil {
		return err
	}

	if len(stored) == 0 {
		genesis := consensus.Genesis(c.params)
		if err := c.blocks.PutBlock(genesis, big.NewInt(0), 0, db.BLOCK_STATUS_CONNECTED); err != nil {
			return err
		}
		if err := c.blocks.SetCanonical(nil, []types.Hash{genesis.Hash()}); err != nil {
			return err
		}
		stored = []*blockstore.StoredBlock{{Block: genesis, Score: big.NewInt(0), Status: db.BLOCK_STATUS_CONNECTED, Canonical: true}}
	}

	var indexTip *blockNode
	for i, sb := range stored {
		hash := sb.Block.Hash()
		n := &blockNode{
			hash:   hash,
			block:  sb.Block,
			height: sb.Block.Header.Height,
			score:  sb.Score,
			seq:    sb.Seq,
			status: statusFromRecord(sb.Status),
		}
		if i > 0 {
			if n.parent = c.arena.get(sb.Block.Header.PrevHash); n.parent == nil {
				return errors.NewStorageError("stored block %s has unknown parent %s", hash, sb.Block.Header.PrevHash)
			}
		} else if n.height != 0 {
			return errors.NewStorageError("first stored block %s is not genesis", hash)
		}
		c.arena.add(n)
		if sb.Canonical && (indexTip == nil || n.height > indexTip.height) {
			indexTip = n
		}
	}
	if indexTip == nil {
		return errors.NewStorageError("block store has no canonical chain")
	}

	utxoTip, err := c.store.Tip()
	if err != nil {
		return err
	}
	if !utxoTip.Set {
		return c.replay(indexTip)
	}

	// The UTXO store commits before the canonical index, so its tip wins after a crash.
	best := c.arena.get(utxoTip.Hash)
	if best == nil {
		return errors.NewStorageError("UTXO tip %s is not a stored block", utxoTip.Hash)
	}
	c.arena.best = best
	if best != indexTip {
		ancestor := fork(best, indexTip)
		c.logger.Warnf("Canonical index at %s behind UTXO tip %s, repairing", indexTip.hash, best.hash)
		return c.blocks.SetCanonical(hashesOf(branch(ancestor, indexTip)), hashesOf(branch(ancestor, best)))
	}
	return nil
}

func statusFromRecord(status string) NodeStatus {
	switch status {
	case db.BLOCK_STATUS_CONNECTED:
		return NodeConnected
	case db.BLOCK_STATUS_INVALID:
		return NodeInvalid
	default:
		return NodeStored
	}
}

// replay rebuilds the UTXO set from genesis along the branch ending at tip.
func (c *Chain) replay(tip *blockNode) error {
	genesis := tip.ancestor(0)
	stage := c.store.NewStage()
	if _, err := stage.ApplyTx(genesis.block.Transactions[0]); err != nil {
		return err
	}
	if err := c.store.Commit(genesis.hash, 0, stage); err != nil {
		return err
	}
	c.arena.best = genesis

	for _, n := range branch(genesis, tip) {
		if err := c.connect(n, nil); err != nil {
			return errors.NewStorageError("replay failed at block %s", n.hash, err)
		}
		c.arena.best = n
	}
	if tip.height > 0 {
		c.logger.Infof("Replayed %d blocks into the UTXO store", tip.height)
	}
	return nil
}

func hashesOf(nodes []*blockNode) []types.Hash {
	res := make([]types.Hash, len(nodes))
	for i, n := range nodes {
		res[i] = n.hash
	}
	return res
}

func (c *Chain) ID() types.ChainID {
	return c.params.Chain
}

func (c *Chain) Params() *consensus.Params {
	return c.params
}

func (c *Chain) Mempool() *mempool.Mempool {
	return c.mempool
}

// SubmitTransaction admits tx to the mempool and returns its hash.
func (c *Chain) SubmitTransaction(tx *types.Transaction) (types.Hash, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hash := tx.Hash()
	if err := c.mempool.Admit(tx); err != nil {
		return hash, err
	}
	return hash, nil
}

// ReplaceTransaction swaps a mempool entry for tx by fee. It returns the hash of
// the replaced transaction.
func (c *Chain) ReplaceTransaction(tx *types.Transaction) (types.Hash, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mempool.Replace(tx)
}

func (c *Chain) GetChainTip() types.ChainTip {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.arena.best.tip()
}

// Tips returns every known branch tip, best first.
func (c *Chain) Tips() []types.ChainTip {
	c.mu.RLock()
	nodes := make([]*blockNode, 0, len(c.arena.tips))
	for _, n := range c.arena.tips {
		nodes = append(nodes, n)
	}
	c.mu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].betterThan(nodes[j]) })
	res := make([]types.ChainTip, len(nodes))
	for i, n := range nodes {
		res[i] = n.tip()
	}
	return res
}

// GetUtxo returns the canonical output for id, or nil.
func (c *Chain) GetUtxo(id types.UtxoId) (*types.Output, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Get(id)
}

// GetBlock returns a known block and its validation status.
func (c *Chain) GetBlock(hash types.Hash) (*types.Block, NodeStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := c.arena.get(hash)
	if n == nil {
		return nil, 0, errors.NewNotFoundError("block %s", hash)
	}
	return n.block, n.status, nil
}

// Confirmations returns how many canonical blocks include or follow the block
// containing txHash, or 0 when no canonical block contains it. The block store
// only locates candidate blocks; whether they are canonical is decided by the
// arena, so a stale canonical flag cannot skew the count.
func (c *Chain) Confirmations(txHash types.Hash) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hashes, err := c.blocks.FindTx(txHash)
	if err != nil {
		return 0, err
	}
	best := c.arena.best
	for _, h := range hashes {
		n := c.arena.get(h)
		if n == nil || best.ancestor(n.height) != n {
			continue
		}
		return best.height - n.height + 1, nil
	}
	return 0, nil
}

func (c *Chain) publish(eventType events.EventType, data interface{}) {
	if c.bus != nil {
		c.bus.Publish(eventType, data)
	}
}
