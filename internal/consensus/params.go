package consensus

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/goatnetwork/bond-aevum/internal/config"
	"github.com/goatnetwork/bond-aevum/internal/types"
)

// Params are the consensus rules of one ledger.
type Params struct {
	Chain types.ChainID
	// Confirmations is the depth at which the bridge treats a transaction as final.
	Confirmations  int
	MaxReorgDepth  int
	TargetSpacing  time.Duration
	RetargetWindow int
	PowLimitBits   uint32
	PowLimit       *big.Int
	BlockReward    uint64
	GenesisTime    int64
	MaxFutureDrift time.Duration
	MaxBlockTxs    int
	Delegates      []Delegate
	// GenesisOutputs are paid by the genesis coinbase.
	GenesisOutputs []types.Output
}

type Delegate struct {
	PubKey []byte
	Stake  uint64
}

func (p *Params) IsProofOfWork() bool {
	return p.Chain == types.ChainBond
}

func (p *Params) Reward(height uint64) uint64 {
	return p.BlockReward
}

// BondRegtestParams are proof-of-work rules with the easiest possible target and a
// short retarget window, for tests and local networks.
func BondRegtestParams() *Params {
	return &Params{
		Chain:          types.ChainBond,
		Confirmations:  6,
		MaxReorgDepth:  100,
		TargetSpacing:  600 * time.Second,
		RetargetWindow: 10,
		PowLimitBits:   0x207fffff,
		PowLimit:       blockchain.CompactToBig(0x207fffff),
		BlockReward:    5000,
		GenesisTime:    1700000000,
		MaxFutureDrift: 2 * time.Hour,
		MaxBlockTxs:    types.MaxBlockTransactions,
	}
}

func AevumDevnetParams(delegates []Delegate) *Params {
	return &Params{
		Chain:          types.ChainAevum,
		Confirmations:  2,
		MaxReorgDepth:  20,
		TargetSpacing:  5 * time.Second,
		BlockReward:    100,
		GenesisTime:    1700000000,
		MaxFutureDrift: 2 * time.Hour,
		MaxBlockTxs:    types.MaxBlockTransactions,
		Delegates:      delegates,
	}
}

// ParamsFromConfig builds the rules of chain from the loaded configuration.
func ParamsFromConfig(chain types.ChainID, cfg config.ChainConfig, maxFutureDrift time.Duration) (*Params, error) {
	p := &Params{
		Chain:          chain,
		Confirmations:  cfg.Confirmations,
		MaxReorgDepth:  cfg.MaxReorgDepth,
		TargetSpacing:  cfg.TargetSpacing,
		RetargetWindow: cfg.RetargetWindow,
		BlockReward:    cfg.BlockReward,
		GenesisTime:    cfg.GenesisTime,
		MaxFutureDrift: maxFutureDrift,
		MaxBlockTxs:    types.MaxBlockTransactions,
	}

	switch chain {
	case types.ChainBond:
		p.PowLimitBits = cfg.PowLimitBits
		p.PowLimit = blockchain.CompactToBig(cfg.PowLimitBits)
		if p.RetargetWindow < 2 {
			return nil, fmt.Errorf("retarget window %d too small", p.RetargetWindow)
		}
	case types.ChainAevum:
		for _, d := range cfg.Delegates {
			pub, err := hex.DecodeString(d.PubKey)
			if err != nil || len(pub) != types.PubKeySize {
				return nil, fmt.Errorf("invalid delegate key %q", d.PubKey)
			}
			p.Delegates = append(p.Delegates, Delegate{PubKey: pub, Stake: d.Stake})
		}
		if len(p.Delegates) == 0 {
			return nil, fmt.Errorf("aevum requires at least one delegate")
		}
	default:
		return nil, fmt.Errorf("unknown chain %s", chain)
	}

	return p, nil
}

// Genesis builds the fixed first block. Its header is never sealed or validated.
func Genesis(p *Params) *types.Block {
	coinbase := types.NewCoinbase(0, p.GenesisOutputs...)
	txs := []*types.Transaction{coinbase}

	var bits uint32
	if p.IsProofOfWork() {
		bits = p.PowLimitBits
	}

	return &types.Block{
		Header: types.Header{
			MerkleRoot: types.BlockMerkleRoot(txs),
			Timestamp:  p.GenesisTime,
			Bits:       bits,
			Height:     0,
		},
		Transactions: txs,
	}
}
