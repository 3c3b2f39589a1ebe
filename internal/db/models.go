package db

import (
	"time"
)

// BlockRecord is one stored block, canonical or not. Blocks are never deleted.
type BlockRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Hash      string    `gorm:"not null;uniqueIndex" json:"hash"`
	PrevHash  string    `gorm:"not null;index" json:"prev_hash"`
	Height    uint64    `gorm:"not null;index" json:"height"`
	Canonical bool      `gorm:"not null;index" json:"canonical"`
	Status    string    `gorm:"not null" json:"status"` // stored, connected, invalid
	Score     string    `gorm:"not null" json:"score"`  // cumulative score, decimal
	Seq       uint64    `gorm:"not null" json:"seq"`    // first-seen order
	Raw       []byte    `gorm:"not null" json:"raw"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TxRecord maps a transaction to a block containing it. A transaction may appear in
// blocks of several branches; only the canonical one counts for confirmations.
type TxRecord struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	TxHash    string `gorm:"not null;uniqueIndex:idx_tx_block" json:"tx_hash"`
	BlockHash string `gorm:"not null;uniqueIndex:idx_tx_block;index" json:"block_hash"`
	Height    uint64 `gorm:"not null" json:"height"`
	Position  int    `gorm:"not null" json:"position"`
}

// Transfer is the persisted cross-chain transfer.
type Transfer struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	TransferId        string    `gorm:"not null;uniqueIndex" json:"transfer_id"`
	Source            string    `gorm:"not null" json:"source"`
	Destination       string    `gorm:"not null" json:"destination"`
	Amount            uint64    `gorm:"not null" json:"amount"`
	Sender            string    `gorm:"not null" json:"sender"`    // compressed pubkey hex
	Recipient         string    `gorm:"not null" json:"recipient"` // compressed pubkey hex
	Status            string    `gorm:"not null;index" json:"status"`
	Attempt           uint32    `gorm:"not null" json:"attempt"`
	SourceConfirms    uint64    `gorm:"not null" json:"source_confirms"`
	DestConfirms      uint64    `gorm:"not null" json:"dest_confirms"`
	LockTxHash        string    `gorm:"not null" json:"lock_tx_hash"`
	LockIndex         uint32    `gorm:"not null" json:"lock_index"`
	LockTxRaw         []byte    `json:"lock_tx_raw"`
	MintTxHash        string    `json:"mint_tx_hash"`
	MintTxRaw         []byte    `json:"mint_tx_raw"`
	BurnTxHash        string    `json:"burn_tx_hash"`
	BurnTxRaw         []byte    `json:"burn_tx_raw"`
	RefundTxHash      string    `json:"refund_tx_hash"`
	RefundTxRaw       []byte    `json:"refund_tx_raw"`
	RefundPending     bool      `gorm:"not null" json:"refund_pending"`
	SignerBitmap      []byte    `json:"signer_bitmap"`
	SignerCount       int       `gorm:"not null" json:"signer_count"`
	NeedsIntervention bool      `gorm:"not null" json:"needs_intervention"`
	Retired           bool      `gorm:"not null;default:false" json:"retired"` // no work left, not reloaded
	LastError         string    `json:"last_error"`
	SourceDeadline    time.Time `gorm:"not null" json:"source_deadline"`
	QuorumDeadline    time.Time `json:"quorum_deadline"`
	CreatedAt         time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time `gorm:"not null" json:"updated_at"`
}

// SignedRecord is one entry of a bridge validator's signing log. A validator
// never signs a refund for a transfer it signed a mint for, and the reverse.
type SignedRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Validator  string    `gorm:"not null;uniqueIndex:idx_signed_once" json:"validator"` // pubkey hex
	TransferId string    `gorm:"not null;uniqueIndex:idx_signed_once;index" json:"transfer_id"`
	Kind       string    `gorm:"not null;uniqueIndex:idx_signed_once" json:"kind"` // mint, burn, refund
	Attempt    uint32    `gorm:"not null;uniqueIndex:idx_signed_once" json:"attempt"`
	TxHash     string    `gorm:"not null" json:"tx_hash"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}
