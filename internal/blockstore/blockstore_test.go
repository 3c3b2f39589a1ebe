package blockstore

import (
	"math/big"
	"testing"

	"github.com/goatnetwork/bond-aevum/internal/db"
	"github.com/goatnetwork/bond-aevum/internal/errors"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BlockStore {
	t.Helper()
	dm, err := db.NewDatabaseManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })
	return New(dm.GetChainDB(types.ChainBond), types.ChainBond)
}

func testBlock(parent types.Hash, height uint64, extra ...*types.Transaction) *types.Block {
	txs := append([]*types.Transaction{types.NewCoinbase(height, types.Output{Value: 50})}, extra...)
	return &types.Block{
		Header: types.Header{
			PrevHash:   parent,
			MerkleRoot: types.BlockMerkleRoot(txs),
			Timestamp:  int64(1700000000 + height),
			Height:     height,
		},
		Transactions: txs,
	}
}

func TestPutAndGetBlock(t *testing.T) {
	s := newTestStore(t)

	b := testBlock(types.ZeroHash, 0)
	require.NoError(t, s.PutBlock(b, big.NewInt(7), 1, db.BLOCK_STATUS_STORED))
	// Storing the same block again is ignored.
	require.NoError(t, s.PutBlock(b, big.NewInt(99), 5, db.BLOCK_STATUS_STORED))

	got, err := s.GetBlock(b.Hash())
	require.NoError(t, err)
	assert.Equal(t, b.Hash(), got.Block.Hash())
	assert.Equal(t, int64(7), got.Score.Int64())
	assert.Equal(t, uint64(1), got.Seq)
	assert.Equal(t, db.BLOCK_STATUS_STORED, got.Status)
	assert.False(t, got.Canonical)

	_, err = s.GetBlock(types.DoubleHash([]byte("missing")))
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	require.NoError(t, s.SetStatus(b.Hash(), db.BLOCK_STATUS_INVALID))
	got, err = s.GetBlock(b.Hash())
	require.NoError(t, err)
	assert.Equal(t, db.BLOCK_STATUS_INVALID, got.Status)
}

func TestCanonicalIndex(t *testing.T) {
	s := newTestStore(t)

	spend := &types.Transaction{
		Kind:    types.TxTransfer,
		Inputs:  []types.Input{{Prev: types.NewUtxoId(types.DoubleHash([]byte("prev")), 0)}},
		Outputs: []types.Output{{Value: 10}},
	}

	g := testBlock(types.ZeroHash, 0)
	a1 := testBlock(g.Hash(), 1, spend)
	b1 := testBlock(g.Hash(), 1)
	b1.Header.Timestamp++
	b2 := testBlock(b1.Hash(), 2, spend)

	for i, blk := range []*types.Block{g, a1, b1, b2} {
		require.NoError(t, s.PutBlock(blk, big.NewInt(int64(blk.Header.Height)), uint64(i), db.BLOCK_STATUS_STORED))
	}

	require.NoError(t, s.SetCanonical(nil, []types.Hash{g.Hash(), a1.Hash()}))
	h, err := s.CanonicalHashAt(1)
	require.NoError(t, err)
	assert.Equal(t, a1.Hash(), h)

	found, err := s.FindTx(spend.Hash())
	require.NoError(t, err)
	assert.Equal(t, []types.Hash{a1.Hash(), b2.Hash()}, found)

	// Switch to the b branch.
	require.NoError(t, s.SetCanonical([]types.Hash{a1.Hash()}, []types.Hash{b1.Hash(), b2.Hash()}))
	h, err = s.CanonicalHashAt(1)
	require.NoError(t, err)
	assert.Equal(t, b1.Hash(), h)

	_, err = s.CanonicalHashAt(3)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	found, err = s.FindTx(types.DoubleHash([]byte("unknown")))
	require.NoError(t, err)
	assert.Empty(t, found)

	all, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, sb := range all {
		assert.Equal(t, uint64(i), sb.Seq)
	}
	assert.False(t, all[1].Canonical)
	assert.True(t, all[3].Canonical)
	assert.Equal(t, db.BLOCK_STATUS_CONNECTED, all[3].Status)
}
