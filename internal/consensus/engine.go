package consensus

import (
	"context"
	"math/big"

	"github.com/goatnetwork/bond-aevum/internal/crypto"
	"github.com/goatnetwork/bond-aevum/internal/types"
)

// Engine is the sealing rule of a ledger.
//
// window holds the most recent headers ending at the parent of the header being
// checked, oldest first, at most WindowSize long. It is shorter only near genesis.
type Engine interface {
	WindowSize() int
	// NextBits returns the Bits value a child of the window's last header must carry.
	NextBits(window []*types.Header) uint32
	// VerifySeal checks Bits and the seal of h against the recomputed rule.
	VerifySeal(h *types.Header, window []*types.Header) error
	// Weight is the fork-choice score h adds to its branch.
	Weight(h *types.Header, window []*types.Header) *big.Int
}

// Sealer completes a header for block production.
type Sealer interface {
	Seal(ctx context.Context, h *types.Header, window []*types.Header) error
}

func NewEngine(p *Params, verifier crypto.Verifier) Engine {
	if p.IsProofOfWork() {
		return NewPowEngine(p)
	}
	return NewPodEngine(p, verifier)
}
