package types

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Hash is a double-SHA256 digest.
type Hash = chainhash.Hash

const HashSize = chainhash.HashSize

var ZeroHash Hash

func NewHashFromStr(s string) (Hash, error) {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return ZeroHash, err
	}
	return *h, nil
}

// ChainID names one of the two ledgers.
type ChainID uint8

const (
	ChainUnknown ChainID = iota
	ChainBond
	ChainAevum
)

func (c ChainID) String() string {
	switch c {
	case ChainBond:
		return "bond"
	case ChainAevum:
		return "aevum"
	default:
		return "unknown"
	}
}

func ParseChainID(s string) (ChainID, error) {
	switch strings.ToLower(s) {
	case "bond":
		return ChainBond, nil
	case "aevum":
		return ChainAevum, nil
	default:
		return ChainUnknown, fmt.Errorf("unknown chain %q", s)
	}
}

// UtxoId is the key of an output in the UTXO set.
type UtxoId struct {
	Hash  Hash
	Index uint32
}

func NewUtxoId(hash Hash, index uint32) UtxoId {
	return UtxoId{Hash: hash, Index: index}
}

func (u UtxoId) String() string {
	return fmt.Sprintf("%s:%d", u.Hash, u.Index)
}

// Key is the fixed 36 byte storage key: hash followed by big-endian index, so
// iteration order groups outputs of one transaction.
func (u UtxoId) Key() []byte {
	key := make([]byte, chainhash.HashSize+4)
	copy(key, u.Hash[:])
	binary.BigEndian.PutUint32(key[chainhash.HashSize:], u.Index)
	return key
}

func UtxoIdFromKey(key []byte) (UtxoId, error) {
	if len(key) != chainhash.HashSize+4 {
		return UtxoId{}, fmt.Errorf("utxo key length %d", len(key))
	}
	var u UtxoId
	copy(u.Hash[:], key[:chainhash.HashSize])
	u.Index = binary.BigEndian.Uint32(key[chainhash.HashSize:])
	return u, nil
}

func writeUtxoId(w io.Writer, u UtxoId) error {
	if _, err := w.Write(u.Hash[:]); err != nil {
		return err
	}
	return writeUint32(w, u.Index)
}

func readUtxoId(r io.Reader) (UtxoId, error) {
	var u UtxoId
	if _, err := io.ReadFull(r, u.Hash[:]); err != nil {
		return u, err
	}
	idx, err := readUint32(r)
	u.Index = idx
	return u, err
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func writeByte(w io.Writer, v byte) error {
	_, err := w.Write([]byte{v})
	return err
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// wire protocol version passed to btcd varint helpers; the encoding does not depend on it.
const pver = wire.ProtocolVersion

// WriteOutput and ReadOutput encode an output on its own, used for UTXO and undo records.
func WriteOutput(w io.Writer, out Output) error {
	if err := writeUint64(w, out.Value); err != nil {
		return err
	}
	return wire.WriteVarBytes(w, pver, out.Script)
}

func ReadOutput(r io.Reader) (Output, error) {
	var out Output
	value, err := readUint64(r)
	if err != nil {
		return out, err
	}
	script, err := wire.ReadVarBytes(r, pver, MaxScriptSize, "script")
	if err != nil {
		return out, err
	}
	out.Value = value
	out.Script = script
	return out, nil
}

func WriteUtxoId(w io.Writer, u UtxoId) error {
	return writeUtxoId(w, u)
}

func ReadUtxoId(r io.Reader) (UtxoId, error) {
	return readUtxoId(r)
}
