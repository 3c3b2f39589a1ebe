package crypto

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	log "github.com/sirupsen/logrus"
)

// PubKeyToAevumAddress maps a compressed secp256k1 key to the 20 byte account
// address used by the Aevum balance view.
func PubKeyToAevumAddress(pubKey []byte) (common.Address, error) {
	pub, err := ethcrypto.DecompressPubkey(pubKey)
	if err != nil {
		return common.Address{}, err
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

func PrivateKeyToAevumAddress(privateKeyHex string) (string, error) {
	privateKeyBytes, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		log.Errorf("Failed to decode private key: %v", err)
		return "", err
	}

	privateKey, err := ethcrypto.ToECDSA(privateKeyBytes)
	if err != nil {
		log.Errorf("Failed to parse private key: %v", err)
		return "", err
	}

	return ethcrypto.PubkeyToAddress(privateKey.PublicKey).Hex(), nil
}
