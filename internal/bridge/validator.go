package bridge

import (
	"bytes"
	"encoding/hex"
	"sync"
	"time"

	"github.com/goatnetwork/bond-aevum/internal/crypto"
	"github.com/goatnetwork/bond-aevum/internal/db"
	"github.com/goatnetwork/bond-aevum/internal/errors"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Validator is one member of the bridge validator set. It signs a bridge
// transaction only after checking it against its own view of both chains, and
// keeps a signing log so it never authorizes both a mint and a refund of the same
// transfer.
type Validator struct {
	index  int
	signer crypto.Signer
	pubKey string
	chains map[types.ChainID]ChainClient
	db     *gorm.DB

	// mu makes the log check and the log write one step.
	mu     sync.Mutex
	logger *log.Entry
}

// NewValidator creates the validator at signer bit index. gdb holds its signing log.
func NewValidator(index int, signer crypto.Signer, gdb *gorm.DB, chains ...ChainClient) *Validator {
	v := &Validator{
		index:  index,
		signer: signer,
		pubKey: hex.EncodeToString(signer.PubKey()),
		chains: make(map[types.ChainID]ChainClient, len(chains)),
		db:     gdb,
		logger: log.WithFields(log.Fields{"module": "bridge-validator", "index": index}),
	}
	for _, c := range chains {
		v.chains[c.ID()] = c
	}
	return v
}

func (v *Validator) Index() int {
	return v.index
}

// Sign answers a sign request. A refusal is carried in the response.
func (v *Validator) Sign(req *SignRequest) *SignResponse {
	resp := &SignResponse{RequestID: req.RequestID, Signer: v.index}
	sig, err := v.sign(req)
	if err != nil {
		v.logger.Warnf("Refused sign request %s: %v", req.RequestID, err)
		resp.Error = err.Error()
		return resp
	}
	resp.Signature = sig
	return resp
}

func (v *Validator) sign(req *SignRequest) ([]byte, error) {
	tx, err := types.TransactionFromBytes(req.Tx)
	if err != nil {
		return nil, errors.NewTxMalformedError("sign request %s", req.RequestID, err)
	}
	if !tx.IsBridge() || tx.Bridge == nil {
		return nil, errors.NewInvalidArgumentError("%s is not a bridge transaction", tx.Kind)
	}
	lockChain, ok := v.chains[req.Lock]
	if !ok {
		return nil, errors.NewInvalidArgumentError("unknown lock chain %s", req.Lock)
	}
	target, ok := v.chains[req.Target]
	if !ok {
		return nil, errors.NewInvalidArgumentError("unknown target chain %s", req.Target)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	switch tx.Kind {
	case types.TxMint:
		if req.Lock == req.Target {
			return nil, errors.NewInvalidArgumentError("mint must target the other chain")
		}
		if err := v.checkMint(tx, lockChain, target, req.Target); err != nil {
			return nil, err
		}
	case types.TxBurn:
		if req.Lock == req.Target {
			return nil, errors.NewInvalidArgumentError("burn must target the other chain")
		}
		if err := v.checkBurn(tx, target); err != nil {
			return nil, err
		}
	case types.TxRefund:
		if req.Lock != req.Target {
			return nil, errors.NewInvalidArgumentError("refund must target the lock chain")
		}
		if err := v.checkRefund(tx, lockChain); err != nil {
			return nil, err
		}
	}

	if err := v.record(tx); err != nil {
		return nil, err
	}
	return v.signer.Sign(tx.SigningHash())
}

// lockFor returns the lock output and script a bridge proof refers to, requiring
// the lock to be at confirmation depth on its chain.
func (v *Validator) lockFor(proof *types.BridgeProof, lockChain ChainClient) (*types.Output, *types.LockScript, error) {
	out, err := lockChain.GetUtxo(proof.SourceLock)
	if err != nil {
		return nil, nil, err
	}
	if out == nil {
		return nil, nil, errors.NewNotFoundError("lock output %s on %s", proof.SourceLock, lockChain.ID())
	}
	lock, err := types.ParseLockScript(out.Script)
	if err != nil {
		return nil, nil, errors.NewInvalidArgumentError("output %s is not a lock", proof.SourceLock, err)
	}
	if lock.TransferID != proof.TransferID {
		return nil, nil, errors.NewInvalidArgumentError("lock %s belongs to transfer %s", proof.SourceLock, lock.TransferID)
	}

	confs, err := lockChain.Confirmations(proof.SourceLock.Hash)
	if err != nil {
		return nil, nil, err
	}
	if depth := uint64(lockChain.Params().Confirmations); confs < depth {
		return nil, nil, errors.NewInvalidArgumentError("lock %s has %d of %d confirmations", proof.SourceLock, confs, depth)
	}
	return out, lock, nil
}

func (v *Validator) checkMint(tx *types.Transaction, lockChain, target ChainClient, targetID types.ChainID) error {
	proof := tx.Bridge
	out, lock, err := v.lockFor(proof, lockChain)
	if err != nil {
		return err
	}
	if lock.Destination != targetID {
		return errors.NewInvalidArgumentError("lock %s is for %s, not %s", proof.SourceLock, lock.Destination, targetID)
	}
	if len(tx.Inputs) != 0 || len(tx.Outputs) != 1 {
		return errors.NewTxMalformedError("mint must have no inputs and one output")
	}
	mint := tx.Outputs[0]
	if mint.Value != out.Value || !bytes.Equal(mint.Script, types.PayToPubKeyScript(lock.Recipient)) {
		return errors.NewInvalidArgumentError("mint does not pay the locked amount to the recipient")
	}

	// A later attempt needs every earlier one burned on the target chain.
	depth := uint64(target.Params().Confirmations)
	for attempt := uint32(0); attempt < proof.Attempt; attempt++ {
		burn := newBurnTx(proof.TransferID, attempt, proof.SourceLock)
		confs, err := target.Confirmations(burn.Hash())
		if err != nil {
			return err
		}
		if confs < depth {
			return errors.NewInvalidArgumentError("attempt %d of %s is not burned", attempt, proof.TransferID)
		}
	}

	signed, err := v.signedKinds(proof.TransferID)
	if err != nil {
		return err
	}
	if _, ok := signed[types.TxRefund.String()]; ok {
		return errors.NewInvalidArgumentError("already signed a refund of %s", proof.TransferID)
	}
	return nil
}

func (v *Validator) checkBurn(tx *types.Transaction, target ChainClient) error {
	claim, _ := tx.ClaimID()
	marker, err := target.GetUtxo(claim)
	if err != nil {
		return err
	}
	if marker != nil {
		return errors.NewInvalidArgumentError("attempt %d of %s is already claimed", tx.Bridge.Attempt, tx.Bridge.TransferID)
	}
	return nil
}

func (v *Validator) checkRefund(tx *types.Transaction, lockChain ChainClient) error {
	proof := tx.Bridge
	out, err := lockChain.GetUtxo(proof.SourceLock)
	if err != nil {
		return err
	}
	if out == nil {
		return errors.NewNotFoundError("lock output %s on %s", proof.SourceLock, lockChain.ID())
	}
	lock, err := types.ParseLockScript(out.Script)
	if err != nil || lock.TransferID != proof.TransferID {
		return errors.NewInvalidArgumentError("output %s is not the lock of %s", proof.SourceLock, proof.TransferID)
	}
	if len(tx.Inputs) != 1 || tx.Inputs[0].Prev != proof.SourceLock || len(tx.Outputs) != 1 {
		return errors.NewTxMalformedError("refund must spend the lock into one output")
	}
	refund := tx.Outputs[0]
	if refund.Value != out.Value || !bytes.Equal(refund.Script, types.PayToPubKeyScript(lock.Refund)) {
		return errors.NewInvalidArgumentError("refund does not return the locked amount to the sender")
	}

	signed, err := v.signedKinds(proof.TransferID)
	if err != nil {
		return err
	}
	if _, ok := signed[types.TxMint.String()]; ok {
		return errors.NewInvalidArgumentError("already signed a mint of %s", proof.TransferID)
	}
	return nil
}

func (v *Validator) signedKinds(transferID uuid.UUID) (map[string]struct{}, error) {
	var recs []db.SignedRecord
	err := v.db.Where("validator = ? AND transfer_id = ?", v.pubKey, transferID.String()).Find(&recs).Error
	if err != nil {
		return nil, errors.NewStorageError("query signing log", err)
	}
	kinds := make(map[string]struct{}, len(recs))
	for _, r := range recs {
		kinds[r.Kind] = struct{}{}
	}
	return kinds, nil
}

// record appends tx to the signing log. Signing the same transaction again is
// allowed; signing different content for the same transfer, kind and attempt is not.
func (v *Validator) record(tx *types.Transaction) error {
	proof := tx.Bridge
	hash := tx.Hash().String()

	var existing db.SignedRecord
	err := v.db.Where("validator = ? AND transfer_id = ? AND kind = ? AND attempt = ?",
		v.pubKey, proof.TransferID.String(), tx.Kind.String(), proof.Attempt).First(&existing).Error
	switch {
	case err == nil:
		if existing.TxHash != hash {
			return errors.NewInvalidArgumentError("already signed %s %s for attempt %d of %s", tx.Kind, existing.TxHash, proof.Attempt, proof.TransferID)
		}
		return nil
	case err != gorm.ErrRecordNotFound:
		return errors.NewStorageError("query signing log", err)
	}

	rec := &db.SignedRecord{
		Validator:  v.pubKey,
		TransferId: proof.TransferID.String(),
		Kind:       tx.Kind.String(),
		Attempt:    proof.Attempt,
		TxHash:     hash,
		CreatedAt:  time.Now(),
	}
	if err := v.db.Create(rec).Error; err != nil {
		return errors.NewStorageError("write signing log", err)
	}
	v.logger.Debugf("Signed %s %s of transfer %s attempt %d", tx.Kind, hash, proof.TransferID, proof.Attempt)
	return nil
}
