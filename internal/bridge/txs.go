package bridge

import (
	"github.com/goatnetwork/bond-aevum/internal/crypto"
	"github.com/goatnetwork/bond-aevum/internal/errors"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/google/uuid"
)

// lockOutputIndex is the position of the vault output in a lock transaction.
const lockOutputIndex = 0

// buildLockTx spends the sender's inputs into the vault output of transfer id and
// returns the change to the sender.
func buildLockTx(id uuid.UUID, req *Request, prevs []*types.Output) (*types.Transaction, error) {
	var total uint64
	for i, prev := range prevs {
		if total+prev.Value < total {
			return nil, errors.NewInvalidArgumentError("input %d overflows the funding total", i)
		}
		total += prev.Value
	}
	need := req.Amount + req.Fee
	if need < req.Amount || total < need {
		return nil, errors.NewInvalidArgumentError("inputs carry %d, transfer needs %d", total, need)
	}

	sender := req.Sender.PubKey()
	lock := &types.LockScript{
		TransferID:  id,
		Destination: req.Destination,
		Recipient:   req.Recipient,
		Refund:      sender,
	}
	tx := &types.Transaction{
		Kind:    types.TxTransfer,
		Outputs: []types.Output{{Value: req.Amount, Script: lock.Bytes()}},
	}
	if change := total - need; change > 0 {
		tx.Outputs = append(tx.Outputs, types.Output{Value: change, Script: types.PayToPubKeyScript(sender)})
	}
	for _, in := range req.Inputs {
		tx.Inputs = append(tx.Inputs, types.Input{Prev: in})
	}
	if err := signInputs(tx, req.Sender); err != nil {
		return nil, err
	}
	return tx, nil
}

func signInputs(tx *types.Transaction, signer crypto.Signer) error {
	hash := tx.SigningHash()
	for i := range tx.Inputs {
		sig, err := signer.Sign(hash)
		if err != nil {
			return err
		}
		tx.Inputs[i].Witness = sig
	}
	return nil
}

// The bridge transactions below carry no signatures yet. Their hashes depend only
// on the transfer, so every validator signs the same digest and a resumed
// coordinator rebuilds the same transaction.

func buildMintTx(t *Transfer) *types.Transaction {
	return &types.Transaction{
		Kind:    types.TxMint,
		Outputs: []types.Output{{Value: t.Amount, Script: types.PayToPubKeyScript(t.Recipient)}},
		Bridge:  bridgeProof(t),
	}
}

func buildBurnTx(t *Transfer) *types.Transaction {
	return newBurnTx(t.ID, t.Attempt, t.LockOutput())
}

// newBurnTx is the compensating burn of one attempt of a transfer.
func newBurnTx(id uuid.UUID, attempt uint32, lock types.UtxoId) *types.Transaction {
	return &types.Transaction{
		Kind:   types.TxBurn,
		Bridge: &types.BridgeProof{TransferID: id, Attempt: attempt, SourceLock: lock},
	}
}

func buildRefundTx(t *Transfer) *types.Transaction {
	lock := t.LockOutput()
	return &types.Transaction{
		Kind:    types.TxRefund,
		Inputs:  []types.Input{{Prev: lock}},
		Outputs: []types.Output{{Value: t.Amount, Script: types.PayToPubKeyScript(t.Sender)}},
		Bridge:  bridgeProof(t),
	}
}

func bridgeProof(t *Transfer) *types.BridgeProof {
	return &types.BridgeProof{
		TransferID: t.ID,
		Attempt:    t.Attempt,
		SourceLock: t.LockOutput(),
	}
}
