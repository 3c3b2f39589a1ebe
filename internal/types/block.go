package types

import (
	"bytes"
	"fmt"
	"io"
	"math/big"

	"github.com/btcsuite/btcd/wire"
)

const (
	MaxSealSize          = 256
	MaxBlockTransactions = 10000
)

type Header struct {
	PrevHash   Hash
	MerkleRoot Hash
	Timestamp  int64
	// Bits is the compact PoW target; proof-of-delegation headers carry zero.
	Bits   uint32
	Height uint64
	Nonce  uint64
	// Seal is the delegate public key followed by its signature over SigningHash.
	Seal []byte
}

func (h *Header) encode(w io.Writer, withSeal bool) error {
	if _, err := w.Write(h.PrevHash[:]); err != nil {
		return err
	}
	if _, err := w.Write(h.MerkleRoot[:]); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(h.Timestamp)); err != nil {
		return err
	}
	if err := writeUint32(w, h.Bits); err != nil {
		return err
	}
	if err := writeUint64(w, h.Height); err != nil {
		return err
	}
	if err := writeUint64(w, h.Nonce); err != nil {
		return err
	}
	if !withSeal {
		return nil
	}
	return wire.WriteVarBytes(w, pver, h.Seal)
}

func (h *Header) Serialize(w io.Writer) error {
	return h.encode(w, true)
}

func (h *Header) Deserialize(r io.Reader) error {
	if _, err := io.ReadFull(r, h.PrevHash[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, h.MerkleRoot[:]); err != nil {
		return err
	}
	ts, err := readUint64(r)
	if err != nil {
		return err
	}
	h.Timestamp = int64(ts)
	if h.Bits, err = readUint32(r); err != nil {
		return err
	}
	if h.Height, err = readUint64(r); err != nil {
		return err
	}
	if h.Nonce, err = readUint64(r); err != nil {
		return err
	}
	h.Seal, err = wire.ReadVarBytes(r, pver, MaxSealSize, "seal")
	return err
}

// Hash is over every header field including the seal.
func (h *Header) Hash() Hash {
	var buf bytes.Buffer
	_ = h.encode(&buf, true)
	return DoubleHash(buf.Bytes())
}

// SigningHash is over every field except the seal.
func (h *Header) SigningHash() Hash {
	var buf bytes.Buffer
	_ = h.encode(&buf, false)
	return DoubleHash(buf.Bytes())
}

type Block struct {
	Header       Header
	Transactions []*Transaction
}

func (b *Block) Hash() Hash {
	return b.Header.Hash()
}

func (b *Block) Coinbase() *Transaction {
	if len(b.Transactions) == 0 {
		return nil
	}
	return b.Transactions[0]
}

func (b *Block) TxHashes() []Hash {
	hashes := make([]Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		hashes[i] = tx.Hash()
	}
	return hashes
}

func (b *Block) Serialize(w io.Writer) error {
	if err := b.Header.Serialize(w); err != nil {
		return err
	}
	if err := wire.WriteVarInt(w, pver, uint64(len(b.Transactions))); err != nil {
		return err
	}
	for _, tx := range b.Transactions {
		if err := tx.Serialize(w); err != nil {
			return err
		}
	}
	return nil
}

func (b *Block) Bytes() []byte {
	var buf bytes.Buffer
	_ = b.Serialize(&buf)
	return buf.Bytes()
}

func (b *Block) SerializeSize() int {
	n := len(b.Header.Seal) + wire.VarIntSerializeSize(uint64(len(b.Header.Seal))) + 32 + 32 + 8 + 4 + 8 + 8
	n += wire.VarIntSerializeSize(uint64(len(b.Transactions)))
	for _, tx := range b.Transactions {
		n += tx.SerializeSize()
	}
	return n
}

func (b *Block) Deserialize(r io.Reader) error {
	if err := b.Header.Deserialize(r); err != nil {
		return err
	}
	count, err := wire.ReadVarInt(r, pver)
	if err != nil {
		return err
	}
	if count > MaxBlockTransactions {
		return fmt.Errorf("too many transactions: %d", count)
	}
	b.Transactions = make([]*Transaction, count)
	for i := range b.Transactions {
		tx := &Transaction{}
		if err := tx.Deserialize(r); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
		b.Transactions[i] = tx
	}
	return nil
}

func BlockFromBytes(raw []byte) (*Block, error) {
	b := &Block{}
	r := bytes.NewReader(raw)
	if err := b.Deserialize(r); err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after block", r.Len())
	}
	return b, nil
}

// ChainTip is a block hash, its height and the cumulative score of the branch
// ending at it (work for Bond, stake for Aevum).
type ChainTip struct {
	Hash   Hash
	Height uint64
	Score  *big.Int
}

func (t ChainTip) String() string {
	return fmt.Sprintf("%s@%d score=%s", t.Hash, t.Height, t.Score)
}
