// Package signer provides the key capability the transfer flow consumes:
// message signing and address derivation for an unlocked session key.
package signer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Signer is the capability interface the orchestrator builds against.
// The key material is an already-unlocked session key; encryption at
// rest lives outside this module.
type Signer interface {
	Sign(message []byte, privKeyHex string) (string, error)
	DerivePublicKey(privKeyHex string) (string, error)
	DeriveAddress(privKeyHex string) (string, error)
}

// Secp256k1Signer signs sha256 digests with compact secp256k1 ECDSA.
type Secp256k1Signer struct{}

var _ Signer = (*Secp256k1Signer)(nil)

func NewSecp256k1Signer() *Secp256k1Signer {
	return &Secp256k1Signer{}
}

func (s *Secp256k1Signer) Sign(message []byte, privKeyHex string) (string, error) {
	privKey, err := parseKey(privKeyHex)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(message)
	sig := ecdsa.SignCompact(privKey, digest[:], false)
	return hex.EncodeToString(sig), nil
}

func (s *Secp256k1Signer) DerivePublicKey(privKeyHex string) (string, error) {
	privKey, err := parseKey(privKeyHex)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(privKey.PubKey().SerializeCompressed()), nil
}

// DeriveAddress hashes the compressed public key; the chain addresses
// accounts by the lowercase hex digest.
func (s *Secp256k1Signer) DeriveAddress(privKeyHex string) (string, error) {
	privKey, err := parseKey(privKeyHex)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(privKey.PubKey().SerializeCompressed())
	return hex.EncodeToString(digest[:20]), nil
}

func parseKey(privKeyHex string) (*btcec.PrivateKey, error) {
	privKeyBytes, err := hex.DecodeString(privKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode privKey error: %v", err)
	}
	if len(privKeyBytes) != 32 {
		return nil, fmt.Errorf("invalid privKey length %d", len(privKeyBytes))
	}
	privKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)
	return privKey, nil
}
