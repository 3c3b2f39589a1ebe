package validator

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/goatnetwork/bond-aevum/internal/chaintest"
	"github.com/goatnetwork/bond-aevum/internal/consensus"
	"github.com/goatnetwork/bond-aevum/internal/crypto"
	"github.com/goatnetwork/bond-aevum/internal/errors"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/goatnetwork/bond-aevum/internal/utxo"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	params     *consensus.Params
	rules      *Rules
	v          *Validator
	store      *utxo.Store
	pow        *consensus.PowEngine
	genesis    *types.Block
	validators []*crypto.SchnorrSigner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	params := consensus.BondRegtestParams()
	params.GenesisOutputs = []types.Output{
		chaintest.PayTo(chaintest.Alice, 10000),
		chaintest.PayTo(chaintest.Bob, 5000),
	}

	validators := chaintest.Validators(3)
	bridge, err := NewBridgeRules(chaintest.PubKeys(validators), 0)
	require.NoError(t, err)
	rules := NewRules(params, crypto.SchnorrVerifier{}, bridge)

	store := utxo.NewStore(utxo.NewMemoryBackend(), false)
	genesis := consensus.Genesis(params)
	stage := store.NewStage()
	_, err = stage.ApplyTx(genesis.Transactions[0])
	require.NoError(t, err)
	require.NoError(t, store.Commit(genesis.Hash(), 0, stage))

	now := time.Unix(params.GenesisTime+24*3600, 0)
	return &testEnv{
		params:     params,
		rules:      rules,
		v:          New(rules).WithClock(func() time.Time { return now }),
		store:      store,
		pow:        consensus.NewPowEngine(params),
		genesis:    genesis,
		validators: validators,
	}
}

func (e *testEnv) genesisOut(i uint32) types.UtxoId {
	return types.NewUtxoId(e.genesis.Transactions[0].Hash(), i)
}

func (e *testEnv) window() []*types.Header {
	return []*types.Header{&e.genesis.Header}
}

func (e *testEnv) block(t *testing.T, coinbaseValue uint64, txs ...*types.Transaction) *types.Block {
	t.Helper()
	return chaintest.Block(t, e.pow, &e.genesis.Header, e.window(), e.genesis.Header.Timestamp+600, coinbaseValue, txs...)
}

// validate runs the whole pipeline on top of genesis.
func (e *testEnv) validate(b *types.Block) (*Candidate, error) {
	c := NewCandidate(b)
	steps := []func() error{
		func() error { return e.v.CheckStructure(c) },
		func() error { return e.v.CheckHeader(c, &e.genesis.Header, e.window()) },
		func() error { return e.v.CheckTransactions(c) },
		func() error { return e.v.CheckUtxo(c, e.store) },
		func() error { return e.v.Accept(c) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return c, err
		}
	}
	return c, nil
}

func (e *testEnv) commit(t *testing.T, blockHash types.Hash, height uint64, txs ...*types.Transaction) {
	t.Helper()
	stage := e.store.NewStage()
	for _, tx := range txs {
		_, err := stage.ApplyTx(tx)
		require.NoError(t, err)
	}
	require.NoError(t, e.store.Commit(blockHash, height, stage))
}

func TestAcceptBlock(t *testing.T) {
	env := newTestEnv(t)
	spend := chaintest.Transfer(t, chaintest.Alice, []types.UtxoId{env.genesisOut(0)},
		chaintest.PayTo(chaintest.Bob, 6000), chaintest.PayTo(chaintest.Alice, 3900))

	b := env.block(t, env.params.BlockReward+100, spend)
	c, err := env.validate(b)
	require.NoError(t, err)
	assert.Equal(t, Accepted, c.Status)
	assert.Equal(t, uint64(100), c.Fees)

	require.NoError(t, env.store.Commit(c.Hash, 1, c.Stage))
	out, err := env.store.Get(types.NewUtxoId(spend.Hash(), 0))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, uint64(6000), out.Value)
	gone, err := env.store.Get(env.genesisOut(0))
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestCheckStructure(t *testing.T) {
	env := newTestEnv(t)
	spend := chaintest.Transfer(t, chaintest.Alice, []types.UtxoId{env.genesisOut(0)}, chaintest.PayTo(chaintest.Bob, 10000))

	tests := []struct {
		name   string
		mutate func(b *types.Block)
		want   error
	}{
		{
			name:   "empty",
			mutate: func(b *types.Block) { b.Transactions = nil },
			want:   errors.ErrBlockMalformed,
		},
		{
			name: "coinbase not first",
			mutate: func(b *types.Block) {
				b.Transactions[0], b.Transactions[1] = b.Transactions[1], b.Transactions[0]
				b.Header.MerkleRoot = types.BlockMerkleRoot(b.Transactions)
			},
			want: errors.ErrBadCoinbase,
		},
		{
			name: "second coinbase",
			mutate: func(b *types.Block) {
				b.Transactions = append(b.Transactions, types.NewCoinbase(7))
				b.Header.MerkleRoot = types.BlockMerkleRoot(b.Transactions)
			},
			want: errors.ErrBadCoinbase,
		},
		{
			name: "coinbase height",
			mutate: func(b *types.Block) {
				b.Transactions[0] = types.NewCoinbase(2, chaintest.PayTo(chaintest.Miner, env.params.BlockReward))
				b.Header.MerkleRoot = types.BlockMerkleRoot(b.Transactions)
			},
			want: errors.ErrBadCoinbase,
		},
		{
			name: "duplicate transaction",
			mutate: func(b *types.Block) {
				b.Transactions = append(b.Transactions, spend)
				b.Header.MerkleRoot = types.BlockMerkleRoot(b.Transactions)
			},
			want: errors.ErrBlockMalformed,
		},
		{
			name:   "merkle root",
			mutate: func(b *types.Block) { b.Header.MerkleRoot[0] ^= 1 },
			want:   errors.ErrBadMerkleRoot,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := env.block(t, env.params.BlockReward, spend)
			tt.mutate(b)
			c := NewCandidate(b)
			err := env.v.CheckStructure(c)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, Rejected, c.Status)
			assert.Equal(t, errors.KindOf(tt.want), errors.KindOf(err))
		})
	}
}

func TestCheckHeader(t *testing.T) {
	env := newTestEnv(t)
	g := &env.genesis.Header
	other := &types.Header{Timestamp: g.Timestamp, Bits: g.Bits}

	tests := []struct {
		name      string
		timestamp int64
		parent    *types.Header
		mutate    func(h *types.Header)
		want      error
	}{
		{name: "valid", timestamp: g.Timestamp + 600, parent: g},
		{name: "wrong parent", timestamp: g.Timestamp + 600, parent: other, want: errors.ErrBadHeader},
		{name: "timestamp not increasing", timestamp: g.Timestamp, parent: g, want: errors.ErrBadTimestamp},
		{name: "too far in the future", timestamp: g.Timestamp + 24*3600 + 3*3600, parent: g, want: errors.ErrBadTimestamp},
		{
			name: "wrong bits", timestamp: g.Timestamp + 600, parent: g,
			mutate: func(h *types.Header) { h.Bits = 0x1f00ffff },
			want:   errors.ErrBadTarget,
		},
		{
			name: "wrong height", timestamp: g.Timestamp + 600, parent: g,
			mutate: func(h *types.Header) { h.Height = 5 },
			want:   errors.ErrBadHeader,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := chaintest.Block(t, env.pow, g, env.window(), tt.timestamp, env.params.BlockReward)
			if tt.mutate != nil {
				tt.mutate(&b.Header)
			}
			c := NewCandidate(b)
			c.Status = StructurallyValid
			err := env.v.CheckHeader(c, tt.parent, env.window())
			if tt.want == nil {
				require.NoError(t, err)
				assert.Equal(t, HeaderValid, c.Status)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, errors.KindConsensusViolation, errors.KindOf(err))
		})
	}
}

func TestBadProofOfWork(t *testing.T) {
	env := newTestEnv(t)
	b := env.block(t, env.params.BlockReward)
	// Find a nonce that misses the target.
	for consensus.CheckProofOfWork(&b.Header) {
		b.Header.Nonce++
	}
	c := NewCandidate(b)
	require.NoError(t, env.v.CheckStructure(c))
	assert.ErrorIs(t, env.v.CheckHeader(c, &env.genesis.Header, env.window()), errors.ErrBadSeal)
}

func TestTransitions(t *testing.T) {
	env := newTestEnv(t)
	c := NewCandidate(env.block(t, env.params.BlockReward))

	assert.ErrorIs(t, env.v.CheckTransactions(c), errors.ErrInvalidTransition)
	assert.Equal(t, Received, c.Status)

	require.NoError(t, env.v.CheckStructure(c))
	assert.ErrorIs(t, env.v.CheckStructure(c), errors.ErrInvalidTransition)

	bad := NewCandidate(env.block(t, env.params.BlockReward))
	bad.Block.Header.MerkleRoot = types.ZeroHash
	err := env.v.CheckStructure(bad)
	require.ErrorIs(t, err, errors.ErrBadMerkleRoot)
	// Rejection is terminal for the candidate.
	assert.ErrorIs(t, env.v.CheckHeader(bad, &env.genesis.Header, env.window()), errors.ErrBadMerkleRoot)
	assert.Equal(t, Rejected, bad.Status)
}

func TestValidateHeadersParallel(t *testing.T) {
	env := newTestEnv(t)
	g := &env.genesis.Header

	var jobs []HeaderJob
	for i := 0; i < 6; i++ {
		b := chaintest.Block(t, env.pow, g, env.window(), g.Timestamp+int64(600+i), env.params.BlockReward)
		c := NewCandidate(b)
		require.NoError(t, env.v.CheckStructure(c))
		jobs = append(jobs, HeaderJob{Candidate: c, Parent: g, Window: env.window()})
	}
	require.NoError(t, env.v.ValidateHeaders(context.Background(), jobs))
	for _, job := range jobs {
		assert.Equal(t, HeaderValid, job.Candidate.Status)
	}

	bad := chaintest.Block(t, env.pow, g, env.window(), g.Timestamp, env.params.BlockReward)
	c := NewCandidate(bad)
	require.NoError(t, env.v.CheckStructure(c))
	good := NewCandidate(chaintest.Block(t, env.pow, g, env.window(), g.Timestamp+700, env.params.BlockReward))
	require.NoError(t, env.v.CheckStructure(good))

	err := env.v.ValidateHeaders(context.Background(), []HeaderJob{
		{Candidate: good, Parent: g, Window: env.window()},
		{Candidate: c, Parent: g, Window: env.window()},
	})
	assert.ErrorIs(t, err, errors.ErrBadTimestamp)
	assert.Equal(t, Rejected, c.Status)
}

func TestBlockTransactions(t *testing.T) {
	env := newTestEnv(t)
	a0 := env.genesisOut(0)
	b0 := env.genesisOut(1)
	reward := env.params.BlockReward

	spendA := chaintest.Transfer(t, chaintest.Alice, []types.UtxoId{a0}, chaintest.PayTo(chaintest.Bob, 9000))
	spendA2 := chaintest.Transfer(t, chaintest.Alice, []types.UtxoId{a0}, chaintest.PayTo(chaintest.Carol, 9500))
	spendB := chaintest.Transfer(t, chaintest.Bob, []types.UtxoId{b0}, chaintest.PayTo(chaintest.Carol, 5000))
	chained := chaintest.Transfer(t, chaintest.Bob, []types.UtxoId{types.NewUtxoId(spendA.Hash(), 0)}, chaintest.PayTo(chaintest.Carol, 9000))
	wrongKey := chaintest.Transfer(t, chaintest.Bob, []types.UtxoId{a0}, chaintest.PayTo(chaintest.Bob, 10000))
	missing := chaintest.Transfer(t, chaintest.Alice, []types.UtxoId{types.NewUtxoId(types.DoubleHash([]byte("nope")), 0)}, chaintest.PayTo(chaintest.Bob, 1))
	overspend := chaintest.Transfer(t, chaintest.Bob, []types.UtxoId{b0}, chaintest.PayTo(chaintest.Carol, 5001))

	tests := []struct {
		name     string
		coinbase uint64
		txs      []*types.Transaction
		want     error
	}{
		{name: "fees collected", coinbase: reward + 1000, txs: []*types.Transaction{spendA, spendB}},
		{name: "coinbase overpays", coinbase: reward + 1001, txs: []*types.Transaction{spendA}, want: errors.ErrBadCoinbase},
		{name: "coinbase underpays", coinbase: reward, txs: []*types.Transaction{spendA}, want: errors.ErrBadCoinbase},
		{name: "double spend in block", coinbase: reward + 1500, txs: []*types.Transaction{spendA, spendA2}, want: errors.ErrTxDoubleSpend},
		{name: "spends output of same block", coinbase: reward + 2000, txs: []*types.Transaction{spendA, chained}, want: errors.ErrTxMissingInputs},
		{name: "missing input", coinbase: reward, txs: []*types.Transaction{missing}, want: errors.ErrTxMissingInputs},
		{name: "wrong signer", coinbase: reward, txs: []*types.Transaction{wrongKey}, want: errors.ErrTxInvalid},
		{name: "outputs exceed inputs", coinbase: reward, txs: []*types.Transaction{overspend}, want: errors.ErrTxInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := env.validate(env.block(t, tt.coinbase, tt.txs...))
			if tt.want == nil {
				require.NoError(t, err)
				assert.Equal(t, Accepted, c.Status)
				assert.NotNil(t, c.Stage)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, Rejected, c.Status)
			assert.Nil(t, c.Stage)
		})
	}

	// Nothing above touched the store.
	out, err := env.store.Get(a0)
	require.NoError(t, err)
	assert.NotNil(t, out)
}

func TestRewardPlusFeesOverflow(t *testing.T) {
	env := newTestEnv(t)
	env.params.BlockReward = math.MaxUint64
	spend := chaintest.Transfer(t, chaintest.Alice, []types.UtxoId{env.genesisOut(0)}, chaintest.PayTo(chaintest.Bob, 9900))

	// 100 in fees on top of the largest reward wraps around to 99.
	b := env.block(t, 99, spend)
	c, err := env.validate(b)
	assert.ErrorIs(t, err, errors.ErrBadCoinbase)
	assert.Equal(t, Rejected, c.Status)
}

func TestTransactionSanity(t *testing.T) {
	env := newTestEnv(t)
	a0 := env.genesisOut(0)

	dup := chaintest.Transfer(t, chaintest.Alice, []types.UtxoId{a0, a0}, chaintest.PayTo(chaintest.Bob, 1))
	claimOut := chaintest.Transfer(t, chaintest.Alice, []types.UtxoId{a0},
		types.Output{Script: types.ClaimScript(uuid.New(), 0)})
	noOutputs := chaintest.Transfer(t, chaintest.Alice, []types.UtxoId{a0})

	for name, tx := range map[string]*types.Transaction{"duplicate input": dup, "claim output": claimOut, "no outputs": noOutputs} {
		t.Run(name, func(t *testing.T) {
			_, err := env.rules.CheckTransaction(tx, env.store)
			assert.ErrorIs(t, err, errors.ErrTxMalformed)
			assert.Equal(t, errors.KindMalformed, errors.KindOf(err))
		})
	}

	_, err := env.rules.CheckTransaction(types.NewCoinbase(1, chaintest.PayTo(chaintest.Miner, 1)), env.store)
	assert.ErrorIs(t, err, errors.ErrTxInvalid)
}

func TestBridgeTransactions(t *testing.T) {
	env := newTestEnv(t)
	transferID := uuid.New()

	lock := &types.LockScript{
		TransferID:  transferID,
		Destination: types.ChainAevum,
		Recipient:   chaintest.Carol.PubKey(),
		Refund:      chaintest.Alice.PubKey(),
	}
	lockTx := chaintest.Transfer(t, chaintest.Alice, []types.UtxoId{env.genesisOut(0)},
		types.Output{Value: 9000, Script: lock.Bytes()}, chaintest.PayTo(chaintest.Alice, 900))
	env.commit(t, types.DoubleHash([]byte("b1")), 1, lockTx)
	lockID := types.NewUtxoId(lockTx.Hash(), 0)

	newMint := func(attempt uint32) *types.Transaction {
		return &types.Transaction{
			Kind:    types.TxMint,
			Outputs: []types.Output{chaintest.PayTo(chaintest.Carol, 9000)},
			Bridge:  &types.BridgeProof{TransferID: transferID, Attempt: attempt, SourceLock: lockID},
		}
	}
	newRefund := func(to crypto.Signer) *types.Transaction {
		return &types.Transaction{
			Kind:    types.TxRefund,
			Inputs:  []types.Input{{Prev: lockID}},
			Outputs: []types.Output{chaintest.PayTo(to, 9000)},
			Bridge:  &types.BridgeProof{TransferID: transferID, SourceLock: lockID},
		}
	}

	t.Run("mint with quorum", func(t *testing.T) {
		mint := newMint(0)
		chaintest.SignBridge(t, mint, env.validators, 0, 2)
		fee, err := env.rules.CheckTransaction(mint, env.store)
		require.NoError(t, err)
		assert.Zero(t, fee)
	})

	t.Run("mint below threshold", func(t *testing.T) {
		mint := newMint(0)
		chaintest.SignBridge(t, mint, env.validators, 1)
		_, err := env.rules.CheckTransaction(mint, env.store)
		assert.ErrorIs(t, err, errors.ErrTxInvalid)
	})

	t.Run("mint with forged signature", func(t *testing.T) {
		mint := newMint(0)
		chaintest.SignBridge(t, mint, env.validators, 0, 1)
		mint.Bridge.Signatures[1][3] ^= 0xff
		_, err := env.rules.CheckTransaction(mint, env.store)
		assert.ErrorIs(t, err, errors.ErrTxInvalid)
	})

	t.Run("signatures do not cover another attempt", func(t *testing.T) {
		mint := newMint(0)
		chaintest.SignBridge(t, mint, env.validators, 0, 1)
		mint.Bridge.Attempt = 1
		_, err := env.rules.CheckTransaction(mint, env.store)
		assert.ErrorIs(t, err, errors.ErrTxInvalid)
	})

	t.Run("refund to sender", func(t *testing.T) {
		refund := newRefund(chaintest.Alice)
		chaintest.SignBridge(t, refund, env.validators, 1, 2)
		fee, err := env.rules.CheckTransaction(refund, env.store)
		require.NoError(t, err)
		assert.Zero(t, fee)
	})

	t.Run("refund to someone else", func(t *testing.T) {
		refund := newRefund(chaintest.Bob)
		chaintest.SignBridge(t, refund, env.validators, 1, 2)
		_, err := env.rules.CheckTransaction(refund, env.store)
		assert.ErrorIs(t, err, errors.ErrTxInvalid)
	})

	t.Run("transfer cannot spend a lock", func(t *testing.T) {
		steal := chaintest.Transfer(t, chaintest.Alice, []types.UtxoId{lockID}, chaintest.PayTo(chaintest.Alice, 9000))
		_, err := env.rules.CheckTransaction(steal, env.store)
		assert.ErrorIs(t, err, errors.ErrTxInvalid)
	})

	t.Run("claimed attempt", func(t *testing.T) {
		mint := newMint(0)
		chaintest.SignBridge(t, mint, env.validators, 0, 1)
		env.commit(t, types.DoubleHash([]byte("b2")), 2, mint)

		burn := &types.Transaction{
			Kind:   types.TxBurn,
			Bridge: &types.BridgeProof{TransferID: transferID, SourceLock: lockID},
		}
		chaintest.SignBridge(t, burn, env.validators, 0, 1)
		_, err := env.rules.CheckTransaction(burn, env.store)
		assert.ErrorIs(t, err, errors.ErrTxDoubleSpend)

		// The next attempt is still open.
		next := newMint(1)
		chaintest.SignBridge(t, next, env.validators, 0, 1)
		_, err = env.rules.CheckTransaction(next, env.store)
		assert.NoError(t, err)
	})

	t.Run("no bridge on this chain", func(t *testing.T) {
		rules := NewRules(env.params, crypto.SchnorrVerifier{}, nil)
		mint := newMint(5)
		chaintest.SignBridge(t, mint, env.validators, 0, 1)
		_, err := rules.CheckTransaction(mint, env.store)
		assert.ErrorIs(t, err, errors.ErrTxInvalid)
	})
}

func TestNewBridgeRules(t *testing.T) {
	keys := chaintest.PubKeys(chaintest.Validators(4))

	r, err := NewBridgeRules(keys, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Threshold)
	assert.Equal(t, 2, r.IndexOf(keys[2]))
	assert.Equal(t, -1, r.IndexOf(chaintest.Alice.PubKey()))

	_, err = NewBridgeRules(nil, 0)
	assert.ErrorIs(t, err, errors.ErrConfiguration)

	tests := []struct {
		name       string
		validators int
		threshold  int
		wantErr    bool
	}{
		{"1 of 3", 3, 1, true},
		{"2 of 3", 3, 2, false},
		{"3 of 3", 3, 3, false},
		{"2 of 4", 4, 2, true},
		{"3 of 4", 4, 3, false},
		{"5 of 4", 4, 5, true},
		{"negative", 4, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewBridgeRules(keys[:tt.validators], tt.threshold)
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.threshold, r.Threshold)
		})
	}

	for total, want := range map[int]int{1: 1, 2: 2, 3: 2, 4: 3, 6: 4, 7: 5, 100: 67} {
		assert.Equal(t, want, Threshold(total), "total %d", total)
	}
}
