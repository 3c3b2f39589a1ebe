package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/goatnetwork/bond-aevum/internal/types"
)

// Signer produces signatures over 32 byte digests. The scheme is opaque to callers:
// they only store the public key and hand signatures to a Verifier.
type Signer interface {
	PubKey() []byte
	Sign(hash types.Hash) ([]byte, error)
}

type Verifier interface {
	Verify(pubKey []byte, hash types.Hash, sig []byte) bool
}

// SchnorrSigner signs with BIP-340 schnorr over secp256k1 and publishes the
// compressed public key.
type SchnorrSigner struct {
	priv *btcec.PrivateKey
	pub  []byte
}

func NewSchnorrSigner(priv *btcec.PrivateKey) *SchnorrSigner {
	return &SchnorrSigner{
		priv: priv,
		pub:  priv.PubKey().SerializeCompressed(),
	}
}

func SignerFromHex(privateKeyHex string) (*SchnorrSigner, error) {
	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(raw) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("private key length %d, expected %d", len(raw), btcec.PrivKeyBytesLen)
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return NewSchnorrSigner(priv), nil
}

// SignerFromSeed derives a key from an arbitrary seed string. Used for devnet
// genesis keys and tests, never for funds of value.
func SignerFromSeed(seed string) *SchnorrSigner {
	sum := sha256.Sum256([]byte(seed))
	priv, _ := btcec.PrivKeyFromBytes(sum[:])
	return NewSchnorrSigner(priv)
}

func GenerateSigner() (*SchnorrSigner, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return NewSchnorrSigner(priv), nil
}

func (s *SchnorrSigner) PubKey() []byte {
	return s.pub
}

func (s *SchnorrSigner) Sign(hash types.Hash) ([]byte, error) {
	sig, err := schnorr.Sign(s.priv, hash[:])
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

func (s *SchnorrSigner) PrivateKeyHex() string {
	return hex.EncodeToString(s.priv.Serialize())
}

type SchnorrVerifier struct{}

func (SchnorrVerifier) Verify(pubKey []byte, hash types.Hash, sig []byte) bool {
	pub, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	parsed, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false
	}
	return parsed.Verify(hash[:], pub)
}
