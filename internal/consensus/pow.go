package consensus

import (
	"context"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/goatnetwork/bond-aevum/internal/errors"
	"github.com/goatnetwork/bond-aevum/internal/types"
)

const (
	// maxAdjustmentFactor bounds one retarget step in either direction.
	maxAdjustmentFactor = 4
	// sealCheckInterval is how many nonces are tried between context checks.
	sealCheckInterval = 1 << 12
)

type PowEngine struct {
	params *Params
}

func NewPowEngine(p *Params) *PowEngine {
	return &PowEngine{params: p}
}

func (e *PowEngine) WindowSize() int {
	return e.params.RetargetWindow
}

// NextBits averages the targets of the window and scales the average by the ratio
// of actual to expected timespan, clamped to a factor of four and capped at the
// proof-of-work limit. Until a full window exists the limit applies.
func (e *PowEngine) NextBits(window []*types.Header) uint32 {
	n := e.params.RetargetWindow
	if len(window) < n {
		return e.params.PowLimitBits
	}
	window = window[len(window)-n:]

	sum := new(big.Int)
	for _, h := range window {
		sum.Add(sum, blockchain.CompactToBig(h.Bits))
	}
	avg := sum.Div(sum, big.NewInt(int64(n)))

	spacing := int64(e.params.TargetSpacing.Seconds())
	expected := spacing * int64(n-1)
	actual := window[n-1].Timestamp - window[0].Timestamp
	if actual < expected/maxAdjustmentFactor {
		actual = expected / maxAdjustmentFactor
	}
	if actual > expected*maxAdjustmentFactor {
		actual = expected * maxAdjustmentFactor
	}

	target := avg.Mul(avg, big.NewInt(actual))
	target.Div(target, big.NewInt(expected))
	if target.Cmp(e.params.PowLimit) > 0 {
		target.Set(e.params.PowLimit)
	}

	return blockchain.BigToCompact(target)
}

func (e *PowEngine) VerifySeal(h *types.Header, window []*types.Header) error {
	expected := e.NextBits(window)
	if h.Bits != expected {
		return errors.NewBadTargetError("block %d bits %08x, expected %08x", h.Height, h.Bits, expected)
	}
	if len(h.Seal) != 0 {
		return errors.NewBadSealError("proof-of-work header carries a delegate seal")
	}
	if !CheckProofOfWork(h) {
		return errors.NewBadSealError("block %d hash %s above target", h.Height, h.Hash())
	}
	return nil
}

func (e *PowEngine) Weight(h *types.Header, _ []*types.Header) *big.Int {
	return blockchain.CalcWork(h.Bits)
}

// CheckProofOfWork reports whether the header hash is at or below its target.
func CheckProofOfWork(h *types.Header) bool {
	target := blockchain.CompactToBig(h.Bits)
	if target.Sign() <= 0 {
		return false
	}
	hash := h.Hash()
	return blockchain.HashToBig(&hash).Cmp(target) <= 0
}

// Seal sets Bits and searches nonces until the header satisfies its target.
func (e *PowEngine) Seal(ctx context.Context, h *types.Header, window []*types.Header) error {
	h.Bits = e.NextBits(window)
	h.Seal = nil
	for nonce := uint64(0); ; nonce++ {
		if nonce%sealCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		h.Nonce = nonce
		if CheckProofOfWork(h) {
			return nil
		}
	}
}
