package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goatnetwork/bond-aevum/internal/blockstore"
	"github.com/goatnetwork/bond-aevum/internal/chain"
	"github.com/goatnetwork/bond-aevum/internal/chaintest"
	"github.com/goatnetwork/bond-aevum/internal/consensus"
	"github.com/goatnetwork/bond-aevum/internal/crypto"
	"github.com/goatnetwork/bond-aevum/internal/db"
	"github.com/goatnetwork/bond-aevum/internal/events"
	"github.com/goatnetwork/bond-aevum/internal/mempool"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/goatnetwork/bond-aevum/internal/utxo"
	"github.com/goatnetwork/bond-aevum/internal/validator"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	bondDepth  = 3
	aevumDepth = 2
)

// bridgeEnv is a Bond chain, an Aevum chain, three bridge validators and a
// coordinator, all on one test clock.
type bridgeEnv struct {
	mu  sync.Mutex
	now time.Time

	dm         *db.DatabaseManager
	bond       *chain.Chain
	aevum      *chain.Chain
	aevumStore *utxo.Store
	pow        *consensus.PowEngine
	ds         *chaintest.DelegateSet

	signers    []*crypto.SchnorrSigner
	rules      *validator.BridgeRules
	validators []*Validator
	transport  *filterTransport
	ledger     *Ledger
	bus        *events.EventBus
	coord      *Coordinator
	cfg        Config
}

// filterTransport forwards requests only to the validators it currently allows.
type filterTransport struct {
	mu    sync.Mutex
	all   []*Validator
	allow int
}

func (ft *filterTransport) setAllow(n int) {
	ft.mu.Lock()
	ft.allow = n
	ft.mu.Unlock()
}

func (ft *filterTransport) RequestSignatures(ctx context.Context, req *SignRequest) (<-chan *SignResponse, error) {
	ft.mu.Lock()
	reachable := ft.all[:ft.allow]
	ft.mu.Unlock()
	return NewLocalTransport(reachable...).RequestSignatures(ctx, req)
}

func newBridgeEnv(t *testing.T) *bridgeEnv {
	t.Helper()
	dm, err := db.NewDatabaseManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })

	env := &bridgeEnv{dm: dm, signers: chaintest.Validators(3), bus: events.NewEventBus()}
	env.rules, err = validator.NewBridgeRules(chaintest.PubKeys(env.signers), 0)
	require.NoError(t, err)

	bondParams := consensus.BondRegtestParams()
	bondParams.Confirmations = bondDepth
	for i := 0; i < 4; i++ {
		bondParams.GenesisOutputs = append(bondParams.GenesisOutputs, chaintest.PayTo(chaintest.Alice, 10000))
	}
	env.now = time.Unix(bondParams.GenesisTime+100*24*3600, 0)
	env.pow = consensus.NewPowEngine(bondParams)
	env.bond = env.openChain(t, bondParams, utxo.NewStore(utxo.NewMemoryBackend(), false))

	env.ds = chaintest.NewDelegateSet(10, 20, 70)
	env.ds.Params.Confirmations = aevumDepth
	env.aevumStore = utxo.NewStore(utxo.NewMemoryBackend(), true)
	env.aevum = env.openChain(t, env.ds.Params, env.aevumStore)

	for i, s := range env.signers {
		env.validators = append(env.validators, NewValidator(i, s, dm.GetBridgeDB(), env.bond, env.aevum))
	}
	env.transport = &filterTransport{all: env.validators, allow: len(env.validators)}
	env.ledger = NewLedger(dm.GetBridgeDB())
	env.cfg = Config{
		Rules:         env.rules,
		Verifier:      crypto.SchnorrVerifier{},
		SourceTimeout: 2 * time.Hour,
		QuorumTimeout: time.Hour,
		SigTimeout:    5 * time.Second,
		PollInterval:  time.Second,
	}
	env.coord = env.newCoordinator()
	return env
}

func (e *bridgeEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *bridgeEnv) advance(d time.Duration) {
	e.mu.Lock()
	e.now = e.now.Add(d)
	e.mu.Unlock()
}

func (e *bridgeEnv) openChain(t *testing.T, params *consensus.Params, store *utxo.Store) *chain.Chain {
	t.Helper()
	c, err := chain.New(chain.Config{
		Rules:        validator.NewRules(params, crypto.SchnorrVerifier{}, e.rules),
		Store:        store,
		Blocks:       blockstore.New(e.dm.GetChainDB(params.Chain), params.Chain),
		Mempool:      mempool.DefaultConfig(),
		Events:       e.bus,
		PayoutScript: types.PayToPubKeyScript(chaintest.Miner.PubKey()),
		Now:          e.clock,
	})
	require.NoError(t, err)
	return c
}

// newCoordinator opens a coordinator over the shared ledger, as a restart does.
func (e *bridgeEnv) newCoordinator() *Coordinator {
	return New(e.cfg, e.ledger, e.transport, e.bus, e.bond, e.aevum).WithClock(e.clock)
}

func (e *bridgeEnv) mineBond(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		e.advance(600 * time.Second)
		out, err := e.bond.Produce(context.Background(), e.pow, -1)
		require.NoError(t, err)
		require.Equal(t, chain.Extended, out.Kind)
	}
}

func (e *bridgeEnv) mineAevum(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		e.advance(5 * time.Second)
		out, err := e.aevum.Produce(context.Background(), e.ds, -1)
		require.NoError(t, err)
		require.Equal(t, chain.Extended, out.Kind)
	}
}

func (e *bridgeEnv) bondGenesisOut(i uint32) types.UtxoId {
	return types.NewUtxoId(consensus.Genesis(e.bond.Params()).Transactions[0].Hash(), i)
}

func (e *bridgeEnv) request(amount uint64, input uint32) *Request {
	return &Request{
		Source:      types.ChainBond,
		Destination: types.ChainAevum,
		Amount:      amount,
		Fee:         100,
		Sender:      chaintest.Alice,
		Recipient:   chaintest.Bob.PubKey(),
		Inputs:      []types.UtxoId{e.bondGenesisOut(input)},
	}
}

func (e *bridgeEnv) tick() {
	e.coord.Tick(context.Background())
}

func (e *bridgeEnv) status(t *testing.T, id uuid.UUID) *Transfer {
	t.Helper()
	tr, err := e.coord.GetTransferStatus(id)
	require.NoError(t, err)
	return tr
}

// confirmSource initiates a transfer and drives it to SourceConfirmed.
func (e *bridgeEnv) confirmSource(t *testing.T, amount uint64) uuid.UUID {
	t.Helper()
	id, err := e.coord.Initiate(context.Background(), e.request(amount, 0))
	require.NoError(t, err)
	e.mineBond(t, bondDepth)
	e.tick()
	require.Equal(t, StatusSourceConfirmed, e.status(t, id).Status)
	return id
}

// complete drives a SourceConfirmed transfer to Completed.
func (e *bridgeEnv) complete(t *testing.T, id uuid.UUID) {
	t.Helper()
	e.tick()
	require.Equal(t, StatusMinted, e.status(t, id).Status)
	e.mineAevum(t, aevumDepth)
	e.tick()
	require.Equal(t, StatusCompleted, e.status(t, id).Status)
}

func (e *bridgeEnv) bobBalance(t *testing.T) uint64 {
	t.Helper()
	addr, err := crypto.PubKeyToAevumAddress(chaintest.Bob.PubKey())
	require.NoError(t, err)
	bal, err := e.aevumStore.Balance(addr)
	require.NoError(t, err)
	return bal.Uint64()
}

// forkOutAevum builds a branch from the parent of block hash that leaves out every
// transaction but the coinbase, until it overtakes the canonical chain.
func (e *bridgeEnv) forkOutAevum(t *testing.T, hash types.Hash) {
	t.Helper()
	b, _, err := e.aevum.GetBlock(hash)
	require.NoError(t, err)
	parent, _, err := e.aevum.GetBlock(b.Header.PrevHash)
	require.NoError(t, err)

	header := parent.Header
	for i := 0; i < 50; i++ {
		blk := chaintest.Block(t, e.ds, &header, nil, header.Timestamp+1, e.aevum.Params().Reward(header.Height+1))
		out, err := e.aevum.SubmitBlock(blk)
		require.NoError(t, err)
		if out.Kind == chain.Reorganized {
			return
		}
		header = blk.Header
	}
	t.Fatal("competing branch never overtook the canonical chain")
}

// blockOf returns the canonical Aevum block containing txHash.
func (e *bridgeEnv) blockOf(t *testing.T, txHash types.Hash) types.Hash {
	t.Helper()
	hash := e.aevum.GetChainTip().Hash
	for {
		b, _, err := e.aevum.GetBlock(hash)
		require.NoError(t, err)
		for _, tx := range b.Transactions {
			if tx.Hash() == txHash {
				return hash
			}
		}
		require.NotZero(t, b.Header.Height, "%s not in the canonical chain", txHash)
		hash = b.Header.PrevHash
	}
}
