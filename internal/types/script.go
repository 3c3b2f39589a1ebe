package types

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

const PubKeySize = 33

type ScriptClass uint8

const (
	ScriptUnknown ScriptClass = iota
	ScriptPayToPubKey
	ScriptLock
	ScriptClaim
)

const (
	opPayToPubKey byte = 0x01
	opLock        byte = 0x02
	opClaim       byte = 0x03
)

func (c ScriptClass) String() string {
	return [...]string{"unknown", "p2pk", "lock", "claim"}[c]
}

// PayToPubKeyScript pays to a compressed secp256k1 key; the spending witness is a
// signature over the spending transaction's signing hash.
func PayToPubKeyScript(pubKey []byte) []byte {
	script := make([]byte, 0, 1+len(pubKey))
	script = append(script, opPayToPubKey)
	return append(script, pubKey...)
}

// LockScript is the bridge vault output. It carries everything a bridge validator
// needs to authorize either a mint on Destination or a refund to Refund.
type LockScript struct {
	TransferID  uuid.UUID
	Destination ChainID
	Recipient   []byte
	Refund      []byte
}

func (l *LockScript) Bytes() []byte {
	script := make([]byte, 0, 1+16+1+2*PubKeySize)
	script = append(script, opLock)
	script = append(script, l.TransferID[:]...)
	script = append(script, byte(l.Destination))
	script = append(script, l.Recipient...)
	return append(script, l.Refund...)
}

func ParseLockScript(script []byte) (*LockScript, error) {
	if len(script) != 1+16+1+2*PubKeySize || script[0] != opLock {
		return nil, fmt.Errorf("not a lock script")
	}
	l := &LockScript{}
	copy(l.TransferID[:], script[1:17])
	l.Destination = ChainID(script[17])
	l.Recipient = bytes.Clone(script[18 : 18+PubKeySize])
	l.Refund = bytes.Clone(script[18+PubKeySize:])
	return l, nil
}

// ClaimScript marks a transfer attempt as consumed on a chain. Outputs carrying it
// can never be spent.
func ClaimScript(transferID uuid.UUID, attempt uint32) []byte {
	var buf bytes.Buffer
	buf.WriteByte(opClaim)
	buf.Write(transferID[:])
	_ = writeUint32(&buf, attempt)
	return buf.Bytes()
}

func ClaimHash(transferID uuid.UUID, attempt uint32) Hash {
	var buf bytes.Buffer
	buf.WriteString("claim")
	buf.Write(transferID[:])
	_ = writeUint32(&buf, attempt)
	return DoubleHash(buf.Bytes())
}

func ClaimUtxoId(transferID uuid.UUID, attempt uint32) UtxoId {
	return UtxoId{Hash: ClaimHash(transferID, attempt), Index: ClaimIndex}
}

func ClassifyScript(script []byte) ScriptClass {
	if len(script) == 0 {
		return ScriptUnknown
	}
	switch script[0] {
	case opPayToPubKey:
		if len(script) == 1+PubKeySize {
			return ScriptPayToPubKey
		}
	case opLock:
		if _, err := ParseLockScript(script); err == nil {
			return ScriptLock
		}
	case opClaim:
		if len(script) == 1+16+4 {
			return ScriptClaim
		}
	}
	return ScriptUnknown
}

// ExtractPubKey returns the key of a pay-to-pubkey script.
func ExtractPubKey(script []byte) ([]byte, bool) {
	if ClassifyScript(script) != ScriptPayToPubKey {
		return nil, false
	}
	return script[1:], true
}
