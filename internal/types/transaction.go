package types

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
	"github.com/kelindar/bitmap"
)

const (
	MaxScriptSize    = 1024
	MaxWitnessSize   = 1024
	MaxPayloadSize   = 256
	MaxTxInputs      = 4096
	MaxTxOutputs     = 4096
	MaxSignatures    = 256
	MaxSignatureSize = 128
	// ClaimIndex is the output index of a bridge claim marker. It never collides
	// with a real output because MaxTxOutputs is far below it.
	ClaimIndex uint32 = math.MaxUint32
)

type TxKind uint8

const (
	TxTransfer TxKind = iota
	TxCoinbase
	TxMint
	TxBurn
	TxRefund
)

func (k TxKind) String() string {
	switch k {
	case TxTransfer:
		return "transfer"
	case TxCoinbase:
		return "coinbase"
	case TxMint:
		return "mint"
	case TxBurn:
		return "burn"
	case TxRefund:
		return "refund"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

type Input struct {
	Prev    UtxoId
	Witness []byte
}

type Output struct {
	Value  uint64
	Script []byte
}

// BridgeProof authorizes a mint, burn or refund. Signers and Signatures are not
// part of the transaction hash, so every validator signs the same digest.
type BridgeProof struct {
	TransferID uuid.UUID
	Attempt    uint32
	SourceLock UtxoId
	Signers    bitmap.Bitmap
	// Signatures are ordered by ascending signer index.
	Signatures [][]byte
}

type Transaction struct {
	Kind    TxKind
	Inputs  []Input
	Outputs []Output
	Payload []byte
	Bridge  *BridgeProof
}

// NewCoinbase builds the reward transaction for a block at height. The height is
// carried in the payload so that coinbase hashes never repeat.
func NewCoinbase(height uint64, outputs ...Output) *Transaction {
	var payload bytes.Buffer
	_ = writeUint64(&payload, height)
	return &Transaction{
		Kind:    TxCoinbase,
		Outputs: outputs,
		Payload: payload.Bytes(),
	}
}

func (tx *Transaction) IsCoinbase() bool {
	return tx.Kind == TxCoinbase
}

func (tx *Transaction) IsBridge() bool {
	return tx.Kind == TxMint || tx.Kind == TxBurn || tx.Kind == TxRefund
}

// CoinbaseHeight returns the height committed in a coinbase payload.
func (tx *Transaction) CoinbaseHeight() (uint64, error) {
	if !tx.IsCoinbase() || len(tx.Payload) < 8 {
		return 0, fmt.Errorf("not a coinbase with height")
	}
	return readUint64(bytes.NewReader(tx.Payload))
}

// ClaimID returns the claim marker created by mint and burn transactions.
func (tx *Transaction) ClaimID() (UtxoId, bool) {
	if (tx.Kind != TxMint && tx.Kind != TxBurn) || tx.Bridge == nil {
		return UtxoId{}, false
	}
	return ClaimUtxoId(tx.Bridge.TransferID, tx.Bridge.Attempt), true
}

// TotalOut sums output values, failing on overflow.
func (tx *Transaction) TotalOut() (uint64, error) {
	var total uint64
	for i, out := range tx.Outputs {
		if total+out.Value < total {
			return 0, fmt.Errorf("output %d overflows total", i)
		}
		total += out.Value
	}
	return total, nil
}

// Hash commits to everything except input witnesses and bridge signatures.
func (tx *Transaction) Hash() Hash {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	_ = tx.encode(&buf, false)
	return DoubleHash(buf.Bytes())
}

// SigningHash is the digest covered by witnesses and bridge signatures.
func (tx *Transaction) SigningHash() Hash {
	return tx.Hash()
}

func (tx *Transaction) Serialize(w io.Writer) error {
	return tx.encode(w, true)
}

func (tx *Transaction) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	_ = tx.encode(&buf, true)
	return buf.Bytes()
}

// SerializeSize is the full encoded size including witnesses and signatures.
func (tx *Transaction) SerializeSize() int {
	n := 1 + wire.VarIntSerializeSize(uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		n += 36 + varBytesSize(in.Witness)
	}
	n += wire.VarIntSerializeSize(uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		n += 8 + varBytesSize(out.Script)
	}
	n += varBytesSize(tx.Payload) + 1
	if tx.Bridge != nil {
		n += 16 + 4 + 36
		n += wire.VarIntSerializeSize(uint64(len(tx.Bridge.Signers))) + 8*len(tx.Bridge.Signers)
		n += wire.VarIntSerializeSize(uint64(len(tx.Bridge.Signatures)))
		for _, sig := range tx.Bridge.Signatures {
			n += varBytesSize(sig)
		}
	}
	return n
}

func varBytesSize(b []byte) int {
	return wire.VarIntSerializeSize(uint64(len(b))) + len(b)
}

func (tx *Transaction) encode(w io.Writer, full bool) error {
	if err := writeByte(w, byte(tx.Kind)); err != nil {
		return err
	}

	if err := wire.WriteVarInt(w, pver, uint64(len(tx.Inputs))); err != nil {
		return err
	}
	for _, in := range tx.Inputs {
		if err := writeUtxoId(w, in.Prev); err != nil {
			return err
		}
		witness := in.Witness
		if !full {
			witness = nil
		}
		if err := wire.WriteVarBytes(w, pver, witness); err != nil {
			return err
		}
	}

	if err := wire.WriteVarInt(w, pver, uint64(len(tx.Outputs))); err != nil {
		return err
	}
	for _, out := range tx.Outputs {
		if err := WriteOutput(w, out); err != nil {
			return err
		}
	}

	if err := wire.WriteVarBytes(w, pver, tx.Payload); err != nil {
		return err
	}

	if tx.Bridge == nil {
		return writeByte(w, 0)
	}
	if err := writeByte(w, 1); err != nil {
		return err
	}

	b := tx.Bridge
	if _, err := w.Write(b.TransferID[:]); err != nil {
		return err
	}
	if err := writeUint32(w, b.Attempt); err != nil {
		return err
	}
	if err := writeUtxoId(w, b.SourceLock); err != nil {
		return err
	}

	var signers bitmap.Bitmap
	var sigs [][]byte
	if full {
		signers = b.Signers
		sigs = b.Signatures
	}
	if err := wire.WriteVarInt(w, pver, uint64(len(signers))); err != nil {
		return err
	}
	for _, word := range signers {
		if err := writeUint64(w, word); err != nil {
			return err
		}
	}
	if err := wire.WriteVarInt(w, pver, uint64(len(sigs))); err != nil {
		return err
	}
	for _, sig := range sigs {
		if err := wire.WriteVarBytes(w, pver, sig); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Transaction) Deserialize(r io.Reader) error {
	kind, err := readByte(r)
	if err != nil {
		return err
	}
	if TxKind(kind) > TxRefund {
		return fmt.Errorf("unknown transaction kind %d", kind)
	}
	tx.Kind = TxKind(kind)

	count, err := wire.ReadVarInt(r, pver)
	if err != nil {
		return err
	}
	if count > MaxTxInputs {
		return fmt.Errorf("too many inputs: %d", count)
	}
	tx.Inputs = make([]Input, count)
	for i := range tx.Inputs {
		if tx.Inputs[i].Prev, err = readUtxoId(r); err != nil {
			return err
		}
		if tx.Inputs[i].Witness, err = wire.ReadVarBytes(r, pver, MaxWitnessSize, "witness"); err != nil {
			return err
		}
	}

	count, err = wire.ReadVarInt(r, pver)
	if err != nil {
		return err
	}
	if count > MaxTxOutputs {
		return fmt.Errorf("too many outputs: %d", count)
	}
	tx.Outputs = make([]Output, count)
	for i := range tx.Outputs {
		if tx.Outputs[i], err = ReadOutput(r); err != nil {
			return err
		}
	}

	if tx.Payload, err = wire.ReadVarBytes(r, pver, MaxPayloadSize, "payload"); err != nil {
		return err
	}

	flag, err := readByte(r)
	if err != nil {
		return err
	}
	switch flag {
	case 0:
		tx.Bridge = nil
		return nil
	case 1:
	default:
		return fmt.Errorf("bad bridge flag %d", flag)
	}

	b := &BridgeProof{}
	if _, err = io.ReadFull(r, b.TransferID[:]); err != nil {
		return err
	}
	if b.Attempt, err = readUint32(r); err != nil {
		return err
	}
	if b.SourceLock, err = readUtxoId(r); err != nil {
		return err
	}

	words, err := wire.ReadVarInt(r, pver)
	if err != nil {
		return err
	}
	if words > MaxSignatures/64+1 {
		return fmt.Errorf("signer bitmap too large: %d words", words)
	}
	if words > 0 {
		b.Signers = make(bitmap.Bitmap, words)
		for i := range b.Signers {
			if b.Signers[i], err = readUint64(r); err != nil {
				return err
			}
		}
	}

	count, err = wire.ReadVarInt(r, pver)
	if err != nil {
		return err
	}
	if count > MaxSignatures {
		return fmt.Errorf("too many signatures: %d", count)
	}
	if count > 0 {
		b.Signatures = make([][]byte, count)
		for i := range b.Signatures {
			if b.Signatures[i], err = wire.ReadVarBytes(r, pver, MaxSignatureSize, "signature"); err != nil {
				return err
			}
		}
	}
	tx.Bridge = b
	return nil
}

func TransactionFromBytes(raw []byte) (*Transaction, error) {
	tx := &Transaction{}
	r := bytes.NewReader(raw)
	if err := tx.Deserialize(r); err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after transaction", r.Len())
	}
	return tx, nil
}

// Copy returns a deep copy.
func (tx *Transaction) Copy() *Transaction {
	cp, _ := TransactionFromBytes(tx.Bytes())
	return cp
}
