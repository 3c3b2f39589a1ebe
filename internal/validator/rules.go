package validator

import (
	"github.com/goatnetwork/bond-aevum/internal/consensus"
	"github.com/goatnetwork/bond-aevum/internal/crypto"
	"github.com/goatnetwork/bond-aevum/internal/errors"
	"github.com/goatnetwork/bond-aevum/internal/types"
)

const (
	MaxTxSize    = 100_000
	MaxBlockSize = 4_000_000
	// SignatureSize is the length of a schnorr witness or bridge signature.
	SignatureSize = 64
)

// Threshold is the smallest signer count that is at least two thirds of total.
func Threshold(total int) int {
	// >= 2/3
	return (total*2 + 2) / 3
}

// BridgeRules is the validator set whose quorum authorizes mint, burn and refund
// transactions. The signer bit of a validator is its index in Validators.
type BridgeRules struct {
	Validators [][]byte
	Threshold  int
}

// NewBridgeRules uses Threshold(len(validators)) when threshold is zero. A lower
// threshold is refused: two quorums below it need not share a signer, so a mint and
// a refund of the same transfer could both be authorized.
func NewBridgeRules(validators [][]byte, threshold int) (*BridgeRules, error) {
	if len(validators) == 0 {
		return nil, errors.NewConfigurationError("bridge validator set is empty")
	}
	if len(validators) > types.MaxSignatures {
		return nil, errors.NewConfigurationError("too many bridge validators: %d", len(validators))
	}
	for i, pub := range validators {
		if len(pub) != types.PubKeySize {
			return nil, errors.NewConfigurationError("bridge validator %d has invalid key length %d", i, len(pub))
		}
	}
	if threshold == 0 {
		threshold = Threshold(len(validators))
	}
	if threshold > len(validators) {
		return nil, errors.NewConfigurationError("bridge threshold %d out of range for %d validators", threshold, len(validators))
	}
	if minimum := Threshold(len(validators)); threshold < minimum {
		return nil, errors.NewConfigurationError("bridge threshold %d is below the minimum %d of %d validators", threshold, minimum, len(validators))
	}
	return &BridgeRules{Validators: validators, Threshold: threshold}, nil
}

// IndexOf returns the signer bit of pub, or -1.
func (r *BridgeRules) IndexOf(pub []byte) int {
	for i, v := range r.Validators {
		if string(v) == string(pub) {
			return i
		}
	}
	return -1
}

// Rules is everything needed to validate transactions and blocks of one ledger.
type Rules struct {
	Params   *consensus.Params
	Engine   consensus.Engine
	Verifier crypto.Verifier
	// Bridge is nil on ledgers that do not accept bridge transactions.
	Bridge *BridgeRules
}

func NewRules(p *consensus.Params, verifier crypto.Verifier, bridge *BridgeRules) *Rules {
	return &Rules{
		Params:   p,
		Engine:   consensus.NewEngine(p, verifier),
		Verifier: verifier,
		Bridge:   bridge,
	}
}
