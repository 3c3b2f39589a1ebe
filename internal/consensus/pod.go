package consensus

import (
	"bytes"
	"context"
	"encoding/binary"
	"math/big"

	"github.com/goatnetwork/bond-aevum/internal/crypto"
	"github.com/goatnetwork/bond-aevum/internal/errors"
	"github.com/goatnetwork/bond-aevum/internal/types"
)

const podSignatureSize = 64

// PodEngine implements proof-of-delegation: for every height one delegate is
// eligible, drawn by stake from a seed that commits to the parent hash. The seal is
// the delegate key followed by its signature over the header signing hash, and the
// header adds the delegate's stake to the branch score.
type PodEngine struct {
	params     *Params
	verifier   crypto.Verifier
	totalStake uint64
}

func NewPodEngine(p *Params, verifier crypto.Verifier) *PodEngine {
	var total uint64
	for _, d := range p.Delegates {
		total += d.Stake
	}
	return &PodEngine{params: p, verifier: verifier, totalStake: total}
}

func (e *PodEngine) WindowSize() int {
	return 1
}

func (e *PodEngine) NextBits(_ []*types.Header) uint32 {
	return 0
}

// EligibleDelegate returns the delegate allowed to seal the block at height on top
// of parent.
func (e *PodEngine) EligibleDelegate(parent types.Hash, height uint64) Delegate {
	if e.totalStake == 0 {
		return Delegate{}
	}

	var seedInput [types.HashSize + 8]byte
	copy(seedInput[:], parent[:])
	binary.LittleEndian.PutUint64(seedInput[types.HashSize:], height)
	seed := types.DoubleHash(seedInput[:])

	pick := new(big.Int).SetBytes(seed[:])
	pick.Mod(pick, new(big.Int).SetUint64(e.totalStake))
	r := pick.Uint64()

	for _, d := range e.params.Delegates {
		if r < d.Stake {
			return d
		}
		r -= d.Stake
	}
	return e.params.Delegates[len(e.params.Delegates)-1]
}

func (e *PodEngine) VerifySeal(h *types.Header, _ []*types.Header) error {
	if h.Bits != 0 || h.Nonce != 0 {
		return errors.NewBadTargetError("delegated block %d carries proof-of-work fields", h.Height)
	}
	if len(h.Seal) != types.PubKeySize+podSignatureSize {
		return errors.NewBadSealError("seal length %d", len(h.Seal))
	}

	eligible := e.EligibleDelegate(h.PrevHash, h.Height)
	pub := h.Seal[:types.PubKeySize]
	if !bytes.Equal(pub, eligible.PubKey) {
		return errors.NewBadSealError("block %d sealed by ineligible delegate %x", h.Height, pub)
	}
	if !e.verifier.Verify(pub, h.SigningHash(), h.Seal[types.PubKeySize:]) {
		return errors.NewBadSealError("block %d delegate signature invalid", h.Height)
	}
	return nil
}

func (e *PodEngine) Weight(h *types.Header, _ []*types.Header) *big.Int {
	return new(big.Int).SetUint64(e.EligibleDelegate(h.PrevHash, h.Height).Stake)
}

// DelegateSealer seals headers for one delegate key.
type DelegateSealer struct {
	engine *PodEngine
	signer crypto.Signer
}

func NewDelegateSealer(engine *PodEngine, signer crypto.Signer) *DelegateSealer {
	return &DelegateSealer{engine: engine, signer: signer}
}

// Seal fails with BadSeal when the signer is not eligible at this height; the
// producer waits for a height it is eligible for.
func (s *DelegateSealer) Seal(_ context.Context, h *types.Header, _ []*types.Header) error {
	eligible := s.engine.EligibleDelegate(h.PrevHash, h.Height)
	if !bytes.Equal(eligible.PubKey, s.signer.PubKey()) {
		return errors.NewBadSealError("delegate %x not eligible at height %d", s.signer.PubKey(), h.Height)
	}

	h.Bits = 0
	h.Nonce = 0
	h.Seal = nil
	sig, err := s.signer.Sign(h.SigningHash())
	if err != nil {
		return err
	}
	h.Seal = append(append([]byte{}, s.signer.PubKey()...), sig...)
	return nil
}
