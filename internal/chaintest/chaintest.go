// Package chaintest builds signed transactions and sealed blocks for tests of the
// packages above the ledger types.
package chaintest

import (
	"context"
	"testing"

	"github.com/goatnetwork/bond-aevum/internal/consensus"
	"github.com/goatnetwork/bond-aevum/internal/crypto"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/stretchr/testify/require"
)

var (
	Alice = crypto.SignerFromSeed("alice")
	Bob   = crypto.SignerFromSeed("bob")
	Carol = crypto.SignerFromSeed("carol")
	Miner = crypto.SignerFromSeed("miner")
)

func PayTo(s crypto.Signer, value uint64) types.Output {
	return types.Output{Value: value, Script: types.PayToPubKeyScript(s.PubKey())}
}

// SignInputs sets the witness of every input. One signer signs all inputs,
// otherwise signers[i] signs input i.
func SignInputs(t testing.TB, tx *types.Transaction, signers ...crypto.Signer) {
	t.Helper()
	hash := tx.SigningHash()
	for i := range tx.Inputs {
		s := signers[0]
		if len(signers) > 1 {
			s = signers[i]
		}
		sig, err := s.Sign(hash)
		require.NoError(t, err)
		tx.Inputs[i].Witness = sig
	}
}

// Transfer builds a transfer spending prevs, all owned by owner.
func Transfer(t testing.TB, owner crypto.Signer, prevs []types.UtxoId, outputs ...types.Output) *types.Transaction {
	t.Helper()
	tx := &types.Transaction{Kind: types.TxTransfer, Outputs: outputs}
	for _, p := range prevs {
		tx.Inputs = append(tx.Inputs, types.Input{Prev: p})
	}
	SignInputs(t, tx, owner)
	return tx
}

// Validators returns n deterministic bridge validator keys.
func Validators(n int) []*crypto.SchnorrSigner {
	res := make([]*crypto.SchnorrSigner, n)
	for i := range res {
		res[i] = crypto.SignerFromSeed("bridge-validator-" + string(rune('a'+i)))
	}
	return res
}

func PubKeys[S crypto.Signer](signers []S) [][]byte {
	res := make([][]byte, len(signers))
	for i, s := range signers {
		res[i] = s.PubKey()
	}
	return res
}

// SignBridge replaces the bridge signatures of tx with those of the validators at
// the given indexes, which must be ascending.
func SignBridge(t testing.TB, tx *types.Transaction, validators []*crypto.SchnorrSigner, indexes ...int) {
	t.Helper()
	require.NotNil(t, tx.Bridge)
	tx.Bridge.Signers = nil
	tx.Bridge.Signatures = nil
	hash := tx.SigningHash()
	for _, idx := range indexes {
		sig, err := validators[idx].Sign(hash)
		require.NoError(t, err)
		tx.Bridge.Signers.Set(uint32(idx))
		tx.Bridge.Signatures = append(tx.Bridge.Signatures, sig)
	}
}

// Block assembles and seals a child of parent paying coinbaseValue to the miner.
func Block(t testing.TB, sealer consensus.Sealer, parent *types.Header, window []*types.Header, timestamp int64,
	coinbaseValue uint64, txs ...*types.Transaction) *types.Block {
	t.Helper()
	height := parent.Height + 1
	all := append([]*types.Transaction{types.NewCoinbase(height, PayTo(Miner, coinbaseValue))}, txs...)
	b := &types.Block{
		Header: types.Header{
			PrevHash:   parent.Hash(),
			MerkleRoot: types.BlockMerkleRoot(all),
			Timestamp:  timestamp,
			Height:     height,
		},
		Transactions: all,
	}
	require.NoError(t, sealer.Seal(context.Background(), &b.Header, window))
	return b
}

// DelegateSet is a proof-of-delegation validator set whose keys are all known.
type DelegateSet struct {
	Engine  *consensus.PodEngine
	Params  *consensus.Params
	signers map[string]*crypto.SchnorrSigner
}

func NewDelegateSet(stakes ...uint64) *DelegateSet {
	ds := &DelegateSet{signers: make(map[string]*crypto.SchnorrSigner)}
	var delegates []consensus.Delegate
	for i, stake := range stakes {
		s := crypto.SignerFromSeed("delegate-" + string(rune('a'+i)))
		ds.signers[string(s.PubKey())] = s
		delegates = append(delegates, consensus.Delegate{PubKey: s.PubKey(), Stake: stake})
	}
	ds.Params = consensus.AevumDevnetParams(delegates)
	ds.Engine = consensus.NewPodEngine(ds.Params, crypto.SchnorrVerifier{})
	return ds
}

// Seal signs h with whichever delegate is eligible for it.
func (ds *DelegateSet) Seal(ctx context.Context, h *types.Header, window []*types.Header) error {
	d := ds.Engine.EligibleDelegate(h.PrevHash, h.Height)
	return consensus.NewDelegateSealer(ds.Engine, ds.signers[string(d.PubKey)]).Seal(ctx, h, window)
}
