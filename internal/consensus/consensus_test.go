package consensus

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/goatnetwork/bond-aevum/internal/config"
	"github.com/goatnetwork/bond-aevum/internal/crypto"
	"github.com/goatnetwork/bond-aevum/internal/errors"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func headerWindow(n int, bits uint32, spacing int64) []*types.Header {
	window := make([]*types.Header, n)
	for i := range window {
		window[i] = &types.Header{Height: uint64(i), Bits: bits, Timestamp: 1700000000 + int64(i)*spacing}
	}
	return window
}

func TestPowNextBits(t *testing.T) {
	params := BondRegtestParams()
	engine := NewPowEngine(params)
	n := params.RetargetWindow
	spacing := int64(params.TargetSpacing.Seconds())
	const harder = uint32(0x1f00ffff)
	base := blockchain.CompactToBig(harder)

	tests := []struct {
		name   string
		window []*types.Header
		want   uint32
	}{
		{
			name:   "short window uses limit",
			window: headerWindow(n-1, harder, spacing),
			want:   params.PowLimitBits,
		},
		{
			name:   "on schedule keeps limit",
			window: headerWindow(n, params.PowLimitBits, spacing),
			want:   params.PowLimitBits,
		},
		{
			name:   "on schedule keeps target",
			window: headerWindow(n, harder, spacing),
			want:   harder,
		},
		{
			name:   "twice as fast halves target",
			window: headerWindow(n, harder, spacing/2),
			want:   blockchain.BigToCompact(new(big.Int).Div(base, big.NewInt(2))),
		},
		{
			name:   "slow clamps at factor four",
			window: headerWindow(n, harder, spacing*10),
			want:   blockchain.BigToCompact(new(big.Int).Mul(base, big.NewInt(4))),
		},
		{
			name:   "slow at limit stays at limit",
			window: headerWindow(n, params.PowLimitBits, spacing*10),
			want:   params.PowLimitBits,
		},
		{
			name:   "longer window uses newest headers",
			window: append(headerWindow(3, params.PowLimitBits, 1), headerWindow(n, harder, spacing)...),
			want:   harder,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.NextBits(tt.window))
		})
	}
}

func TestPowSealAndVerify(t *testing.T) {
	params := BondRegtestParams()
	engine := NewPowEngine(params)
	window := headerWindow(3, params.PowLimitBits, 600)

	h := &types.Header{PrevHash: types.DoubleHash([]byte("parent")), Height: 3, Timestamp: 1700002000}
	require.NoError(t, engine.Seal(context.Background(), h, window))
	require.NoError(t, engine.VerifySeal(h, window))
	assert.Equal(t, 1, engine.Weight(h, window).Cmp(big.NewInt(0)))

	t.Run("wrong bits", func(t *testing.T) {
		bad := *h
		bad.Bits = 0x1f00ffff
		assert.ErrorIs(t, engine.VerifySeal(&bad, window), errors.ErrBadTarget)
	})

	t.Run("hash above target", func(t *testing.T) {
		bad := *h
		for CheckProofOfWork(&bad) {
			bad.Nonce++
		}
		assert.ErrorIs(t, engine.VerifySeal(&bad, window), errors.ErrBadSeal)
	})

	t.Run("delegate seal on pow header", func(t *testing.T) {
		bad := *h
		bad.Seal = []byte{0x01}
		assert.ErrorIs(t, engine.VerifySeal(&bad, window), errors.ErrBadSeal)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		hard := &types.Header{Height: 3}
		hardEngine := NewPowEngine(&Params{RetargetWindow: 10, PowLimitBits: 0x03000001, PowLimit: big.NewInt(1)})
		assert.ErrorIs(t, hardEngine.Seal(ctx, hard, nil), context.Canceled)
	})
}

type podFixture struct {
	engine  *PodEngine
	signers map[string]*crypto.SchnorrSigner
}

func newPodFixture(t *testing.T) *podFixture {
	t.Helper()
	f := &podFixture{signers: map[string]*crypto.SchnorrSigner{}}
	var delegates []Delegate
	for i, stake := range []uint64{10, 20, 70} {
		s := crypto.SignerFromSeed("delegate-" + string(rune('a'+i)))
		f.signers[hex.EncodeToString(s.PubKey())] = s
		delegates = append(delegates, Delegate{PubKey: s.PubKey(), Stake: stake})
	}
	f.engine = NewPodEngine(AevumDevnetParams(delegates), crypto.SchnorrVerifier{})
	return f
}

func (f *podFixture) eligibleSigner(parent types.Hash, height uint64) *crypto.SchnorrSigner {
	d := f.engine.EligibleDelegate(parent, height)
	return f.signers[hex.EncodeToString(d.PubKey)]
}

func TestPodSealAndVerify(t *testing.T) {
	f := newPodFixture(t)
	parent := types.DoubleHash([]byte("parent"))
	h := &types.Header{PrevHash: parent, Height: 5, Timestamp: 1700000100}

	signer := f.eligibleSigner(parent, 5)
	require.NotNil(t, signer)
	require.NoError(t, NewDelegateSealer(f.engine, signer).Seal(context.Background(), h, nil))
	require.NoError(t, f.engine.VerifySeal(h, nil))

	stake := f.engine.EligibleDelegate(parent, 5).Stake
	assert.Equal(t, new(big.Int).SetUint64(stake), f.engine.Weight(h, nil))

	for key, other := range f.signers {
		if key == hex.EncodeToString(signer.PubKey()) {
			continue
		}
		cp := &types.Header{PrevHash: parent, Height: 5, Timestamp: 1700000100}
		err := NewDelegateSealer(f.engine, other).Seal(context.Background(), cp, nil)
		assert.ErrorIs(t, err, errors.ErrBadSeal)

		forged := *h
		sig, err := other.Sign(forged.SigningHash())
		require.NoError(t, err)
		forged.Seal = append(append([]byte{}, other.PubKey()...), sig...)
		assert.ErrorIs(t, f.engine.VerifySeal(&forged, nil), errors.ErrBadSeal)
	}

	t.Run("tampered signature", func(t *testing.T) {
		bad := *h
		bad.Seal = append([]byte{}, h.Seal...)
		bad.Seal[len(bad.Seal)-1] ^= 0xff
		assert.ErrorIs(t, f.engine.VerifySeal(&bad, nil), errors.ErrBadSeal)
	})

	t.Run("tampered header", func(t *testing.T) {
		bad := *h
		bad.Timestamp++
		assert.ErrorIs(t, f.engine.VerifySeal(&bad, nil), errors.ErrBadSeal)
	})

	t.Run("pow fields", func(t *testing.T) {
		bad := *h
		bad.Bits = 1
		assert.ErrorIs(t, f.engine.VerifySeal(&bad, nil), errors.ErrBadTarget)
	})
}

func TestPodEligibilityFollowsStake(t *testing.T) {
	f := newPodFixture(t)
	counts := map[uint64]int{}
	for height := uint64(1); height <= 2000; height++ {
		d := f.engine.EligibleDelegate(types.DoubleHash([]byte{byte(height), byte(height >> 8)}), height)
		counts[d.Stake]++
	}
	assert.Greater(t, counts[70], counts[20])
	assert.Greater(t, counts[20], counts[10])

	parent := types.DoubleHash([]byte("same"))
	assert.Equal(t, f.engine.EligibleDelegate(parent, 9), f.engine.EligibleDelegate(parent, 9))
}

func TestParamsFromConfig(t *testing.T) {
	signer := crypto.SignerFromSeed("d")

	bond, err := ParamsFromConfig(types.ChainBond, config.ChainConfig{
		Confirmations: 6, RetargetWindow: 144, PowLimitBits: 0x1d00ffff, TargetSpacing: 10 * time.Minute,
	}, time.Hour)
	require.NoError(t, err)
	assert.True(t, bond.IsProofOfWork())
	assert.Equal(t, blockchain.CompactToBig(0x1d00ffff), bond.PowLimit)

	aevum, err := ParamsFromConfig(types.ChainAevum, config.ChainConfig{
		Delegates: []config.DelegateConfig{{PubKey: hex.EncodeToString(signer.PubKey()), Stake: 5}},
	}, time.Hour)
	require.NoError(t, err)
	require.Len(t, aevum.Delegates, 1)
	assert.Equal(t, signer.PubKey(), aevum.Delegates[0].PubKey)

	_, err = ParamsFromConfig(types.ChainAevum, config.ChainConfig{}, time.Hour)
	assert.Error(t, err)
	_, err = ParamsFromConfig(types.ChainBond, config.ChainConfig{RetargetWindow: 1}, time.Hour)
	assert.Error(t, err)
}

func TestGenesisDeterministic(t *testing.T) {
	p := BondRegtestParams()
	p.GenesisOutputs = []types.Output{{Value: 1000, Script: []byte{0x01}}}

	a, b := Genesis(p), Genesis(p)
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Equal(t, p.PowLimitBits, a.Header.Bits)
	assert.Equal(t, types.BlockMerkleRoot(a.Transactions), a.Header.MerkleRoot)
}
