package validator

import (
	"bytes"

	"github.com/goatnetwork/bond-aevum/internal/errors"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/goatnetwork/bond-aevum/internal/utxo"
)

// CheckTransactionSanity applies the rules that need no chain state. Coinbase
// transactions pass only the shape checks; whether one is allowed is up to the caller.
func (r *Rules) CheckTransactionSanity(tx *types.Transaction) error {
	if size := tx.SerializeSize(); size > MaxTxSize {
		return errors.NewTxMalformedError("transaction size %d exceeds %d", size, MaxTxSize)
	}

	switch tx.Kind {
	case types.TxCoinbase:
		if len(tx.Inputs) != 0 || tx.Bridge != nil {
			return errors.NewBadCoinbaseError("coinbase must have no inputs and no bridge proof")
		}
		if _, err := tx.CoinbaseHeight(); err != nil {
			return errors.NewBadCoinbaseError("coinbase payload carries no height")
		}
	case types.TxTransfer:
		if len(tx.Inputs) == 0 || len(tx.Outputs) == 0 {
			return errors.NewTxMalformedError("transaction has no inputs or outputs")
		}
		if tx.Bridge != nil {
			return errors.NewTxMalformedError("transfer carries a bridge proof")
		}
	case types.TxMint:
		if len(tx.Inputs) != 0 || len(tx.Outputs) != 1 || tx.Bridge == nil {
			return errors.NewTxMalformedError("mint must have no inputs, one output and a bridge proof")
		}
	case types.TxBurn:
		if len(tx.Inputs) != 0 || len(tx.Outputs) != 0 || tx.Bridge == nil {
			return errors.NewTxMalformedError("burn must have no inputs, no outputs and a bridge proof")
		}
	case types.TxRefund:
		if len(tx.Inputs) != 1 || len(tx.Outputs) != 1 || tx.Bridge == nil {
			return errors.NewTxMalformedError("refund must have one input, one output and a bridge proof")
		}
		if tx.Inputs[0].Prev != tx.Bridge.SourceLock {
			return errors.NewTxMalformedError("refund does not spend its source lock")
		}
	default:
		return errors.NewTxMalformedError("unknown transaction kind %s", tx.Kind)
	}

	seen := make(map[types.UtxoId]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if _, ok := seen[in.Prev]; ok {
			return errors.NewTxMalformedError("input %s referenced twice", in.Prev)
		}
		seen[in.Prev] = struct{}{}
	}

	if _, err := tx.TotalOut(); err != nil {
		return errors.NewTxMalformedError("output values overflow", err)
	}

	for i, out := range tx.Outputs {
		switch types.ClassifyScript(out.Script) {
		case types.ScriptPayToPubKey:
		case types.ScriptLock:
			if tx.Kind != types.TxTransfer {
				return errors.NewTxMalformedError("output %d: only transfers may lock funds", i)
			}
			if out.Value == 0 {
				return errors.NewTxMalformedError("output %d: lock of zero value", i)
			}
		default:
			return errors.NewTxMalformedError("output %d has an unsupported script", i)
		}
	}

	if tx.Bridge != nil {
		b := tx.Bridge
		if b.Signers.Count() != len(b.Signatures) {
			return errors.NewTxMalformedError("bridge proof has %d signers but %d signatures", b.Signers.Count(), len(b.Signatures))
		}
	}
	return nil
}

// CheckTransaction validates tx against view and returns its fee. It is the rule
// set shared by mempool admission and block validation; it does not modify view.
func (r *Rules) CheckTransaction(tx *types.Transaction, view utxo.Source) (uint64, error) {
	if err := r.CheckTransactionSanity(tx); err != nil {
		return 0, err
	}
	if tx.IsCoinbase() {
		return 0, errors.NewTxInvalidError("coinbase is only valid as the first transaction of a block")
	}

	if tx.IsBridge() {
		if err := r.CheckBridgeProof(tx); err != nil {
			return 0, err
		}
	}

	if claim, ok := tx.ClaimID(); ok {
		existing, err := view.Get(claim)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			return 0, errors.NewTxDoubleSpendError("transfer %s attempt %d already claimed", tx.Bridge.TransferID, tx.Bridge.Attempt)
		}
	}

	hash := tx.SigningHash()
	var totalIn uint64
	for i, in := range tx.Inputs {
		prev, err := view.Get(in.Prev)
		if err != nil {
			return 0, err
		}
		if prev == nil {
			return 0, errors.NewTxMissingInputsError("input %d: output %s not found", i, in.Prev)
		}

		if err := r.checkSpend(tx, i, prev, hash); err != nil {
			return 0, err
		}

		if totalIn+prev.Value < totalIn {
			return 0, errors.NewTxMalformedError("input values overflow")
		}
		totalIn += prev.Value
	}

	if tx.Kind == types.TxMint || tx.Kind == types.TxBurn {
		// Issuance backed by a lock on the other ledger pays no fee.
		return 0, nil
	}

	totalOut, _ := tx.TotalOut()
	if totalIn < totalOut {
		return 0, errors.NewTxInvalidError("outputs %d exceed inputs %d", totalOut, totalIn)
	}
	return totalIn - totalOut, nil
}

// checkSpend verifies that input i of tx may spend prev.
func (r *Rules) checkSpend(tx *types.Transaction, i int, prev *types.Output, hash types.Hash) error {
	switch types.ClassifyScript(prev.Script) {
	case types.ScriptPayToPubKey:
		if tx.Kind != types.TxTransfer {
			return errors.NewTxInvalidError("input %d: %s cannot spend a pay-to-pubkey output", i, tx.Kind)
		}
		pub, _ := types.ExtractPubKey(prev.Script)
		witness := tx.Inputs[i].Witness
		if len(witness) != SignatureSize || !r.Verifier.Verify(pub, hash, witness) {
			return errors.NewTxInvalidError("input %d: invalid signature", i)
		}
		return nil

	case types.ScriptLock:
		if tx.Kind != types.TxRefund {
			return errors.NewTxInvalidError("input %d: lock outputs are only spendable by a refund", i)
		}
		lock, err := types.ParseLockScript(prev.Script)
		if err != nil {
			return errors.NewTxInvalidError("input %d: bad lock script", i, err)
		}
		if lock.TransferID != tx.Bridge.TransferID {
			return errors.NewTxInvalidError("refund for %s spends lock of %s", tx.Bridge.TransferID, lock.TransferID)
		}
		if !bytes.Equal(tx.Outputs[0].Script, types.PayToPubKeyScript(lock.Refund)) {
			return errors.NewTxInvalidError("refund does not pay the locking sender")
		}
		return nil

	case types.ScriptClaim:
		return errors.NewTxInvalidError("input %d: claim markers are unspendable", i)

	default:
		return errors.NewTxInvalidError("input %d: unspendable script", i)
	}
}

// CheckBridgeProof verifies that a quorum of the bridge validator set signed tx.
func (r *Rules) CheckBridgeProof(tx *types.Transaction) error {
	if r.Bridge == nil {
		return errors.NewTxInvalidError("bridge transactions are not accepted on this chain")
	}
	b := tx.Bridge
	if b == nil {
		return errors.NewTxMalformedError("%s without bridge proof", tx.Kind)
	}

	count := b.Signers.Count()
	if count < r.Bridge.Threshold {
		return errors.NewTxInvalidError("bridge proof has %d signers, threshold %d", count, r.Bridge.Threshold)
	}
	if count != len(b.Signatures) {
		return errors.NewTxMalformedError("bridge proof has %d signers but %d signatures", count, len(b.Signatures))
	}

	hash := tx.SigningHash()
	var err error
	pos := 0
	b.Signers.Range(func(idx uint32) {
		if err != nil {
			return
		}
		if int(idx) >= len(r.Bridge.Validators) {
			err = errors.NewTxInvalidError("bridge signer %d is not a validator", idx)
			return
		}
		sig := b.Signatures[pos]
		pos++
		if len(sig) != SignatureSize || !r.Verifier.Verify(r.Bridge.Validators[idx], hash, sig) {
			err = errors.NewTxInvalidError("invalid bridge signature of validator %d", idx)
		}
	})
	return err
}
