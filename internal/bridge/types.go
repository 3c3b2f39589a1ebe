package bridge

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/goatnetwork/bond-aevum/internal/consensus"
	"github.com/goatnetwork/bond-aevum/internal/crypto"
	"github.com/goatnetwork/bond-aevum/internal/db"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/google/uuid"
)

type Status string

const (
	StatusPending         Status = db.TRANSFER_STATUS_PENDING
	StatusSourceConfirmed Status = db.TRANSFER_STATUS_SOURCE_CONFIRMED
	StatusMinted          Status = db.TRANSFER_STATUS_MINTED
	StatusCompleted       Status = db.TRANSFER_STATUS_COMPLETED
	StatusReverted        Status = db.TRANSFER_STATUS_REVERTED
	StatusFailed          Status = db.TRANSFER_STATUS_FAILED
)

// ChainClient is what the coordinator and the bridge validators need from a ledger.
// *chain.Chain implements it.
type ChainClient interface {
	ID() types.ChainID
	Params() *consensus.Params
	SubmitTransaction(tx *types.Transaction) (types.Hash, error)
	Confirmations(txHash types.Hash) (uint64, error)
	GetUtxo(id types.UtxoId) (*types.Output, error)
}

// Request asks to move Amount from Sender on Source to Recipient on Destination.
// Inputs are the sender's outputs on Source funding the lock and Fee; any excess
// is returned to the sender.
type Request struct {
	Source      types.ChainID
	Destination types.ChainID
	Amount      uint64
	Fee         uint64
	Sender      crypto.Signer
	Recipient   []byte
	Inputs      []types.UtxoId
}

// Transfer is a snapshot of one cross-chain transfer.
type Transfer struct {
	ID                  uuid.UUID
	Source              types.ChainID
	Destination         types.ChainID
	Amount              uint64
	Sender              []byte
	Recipient           []byte
	Status              Status
	Attempt             uint32
	SourceConfirmations uint64
	DestConfirmations   uint64
	LockTx              types.Hash
	LockIndex           uint32
	MintTx              types.Hash
	BurnTx              types.Hash
	RefundTx            types.Hash
	Signers             int
	RefundPending       bool
	NeedsIntervention   bool
	LastError           string
	SourceDeadline      time.Time
	QuorumDeadline      time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// LockOutput is the vault output of the transfer on its source chain.
func (t *Transfer) LockOutput() types.UtxoId {
	return types.NewUtxoId(t.LockTx, t.LockIndex)
}

// SignRequest asks the bridge validators to sign a mint, burn or refund. Lock is
// the chain holding the transfer's lock output; Target is the chain Tx is
// submitted to.
type SignRequest struct {
	RequestID string        `json:"request_id"`
	Lock      types.ChainID `json:"lock"`
	Target    types.ChainID `json:"target"`
	Tx        []byte        `json:"tx"`
}

type SignResponse struct {
	RequestID string `json:"request_id"`
	Signer    int    `json:"signer"`
	Signature []byte `json:"signature,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Transport delivers a sign request to the bridge validators and streams back
// their responses. The channel is closed when no more responses will arrive or
// ctx is done.
type Transport interface {
	RequestSignatures(ctx context.Context, req *SignRequest) (<-chan *SignResponse, error)
}

func fromRecord(rec *db.Transfer) *Transfer {
	t := &Transfer{
		Source:              chainFromRecord(rec.Source),
		Destination:         chainFromRecord(rec.Destination),
		Amount:              rec.Amount,
		Status:              Status(rec.Status),
		Attempt:             rec.Attempt,
		SourceConfirmations: rec.SourceConfirms,
		DestConfirmations:   rec.DestConfirms,
		LockIndex:           rec.LockIndex,
		Signers:             rec.SignerCount,
		RefundPending:       rec.RefundPending,
		NeedsIntervention:   rec.NeedsIntervention,
		LastError:           rec.LastError,
		SourceDeadline:      rec.SourceDeadline,
		QuorumDeadline:      rec.QuorumDeadline,
		CreatedAt:           rec.CreatedAt,
		UpdatedAt:           rec.UpdatedAt,
	}
	t.ID, _ = uuid.Parse(rec.TransferId)
	t.Sender, _ = hex.DecodeString(rec.Sender)
	t.Recipient, _ = hex.DecodeString(rec.Recipient)
	t.LockTx = hashFromRecord(rec.LockTxHash)
	t.MintTx = hashFromRecord(rec.MintTxHash)
	t.BurnTx = hashFromRecord(rec.BurnTxHash)
	t.RefundTx = hashFromRecord(rec.RefundTxHash)
	return t
}

func chainFromRecord(s string) types.ChainID {
	id, _ := types.ParseChainID(s)
	return id
}

func hashFromRecord(s string) types.Hash {
	if s == "" {
		return types.ZeroHash
	}
	h, err := types.NewHashFromStr(s)
	if err != nil {
		return types.ZeroHash
	}
	return h
}
