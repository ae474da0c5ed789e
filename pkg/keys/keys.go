// Copyright 2026 Provenact Labs
//
// secp256k1 key handling for actors and operators.
//
// Public keys travel as hex-encoded 33-byte compressed points; signatures as
// hex-encoded DER. The signing message is always a 32-byte digest computed by
// the caller (an event id, a checkpoint hash, an attestation hash).

package keys

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

var (
	ErrInvalidDigest    = errors.New("signing digest must be 32 bytes")
	ErrInvalidPublicKey = errors.New("invalid compressed public key")
)

// KeyPair holds an operator or actor signing key.
type KeyPair struct {
	priv *btcec.PrivateKey
}

// Generate creates a fresh secp256k1 key pair.
func Generate() (*KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate secp256k1 key: %w", err)
	}
	return &KeyPair{priv: priv}, nil
}

// FromHex restores a key pair from a hex-encoded 32-byte private scalar.
func FromHex(privHex string) (*KeyPair, error) {
	b, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return &KeyPair{priv: priv}, nil
}

// PrivateHex returns the hex form of the private scalar.
func (k *KeyPair) PrivateHex() string {
	return hex.EncodeToString(k.priv.Serialize())
}

// PublicHex returns the hex form of the compressed public key.
func (k *KeyPair) PublicHex() string {
	return hex.EncodeToString(k.priv.PubKey().SerializeCompressed())
}

// Sign produces a hex-encoded DER signature over a 32-byte digest.
func (k *KeyPair) Sign(digest []byte) (string, error) {
	if len(digest) != 32 {
		return "", ErrInvalidDigest
	}
	sig := ecdsa.Sign(k.priv, digest)
	return hex.EncodeToString(sig.Serialize()), nil
}

// Address derives the Bitcoin-style P2PKH address for this key pair.
func (k *KeyPair) Address() (string, error) {
	return AddressFromPublicKey(k.PublicHex())
}

// Verify reports whether sigHex is a valid signature by pubHex over digest.
// Malformed inputs yield false, never a panic or an error.
func Verify(pubHex string, digest []byte, sigHex string) bool {
	if len(digest) != 32 {
		return false
	}
	pub, err := parsePublicKey(pubHex)
	if err != nil {
		return false
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return false
	}
	return sig.Verify(digest, pub)
}

// AddressFromPublicKey derives the base58check P2PKH address for a
// hex-encoded compressed public key.
func AddressFromPublicKey(pubHex string) (string, error) {
	pub, err := parsePublicKey(pubHex)
	if err != nil {
		return "", err
	}
	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(pub.SerializeCompressed()), &chaincfg.MainNetParams)
	if err != nil {
		return "", fmt.Errorf("failed to derive address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

func parsePublicKey(pubHex string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(b) != 33 {
		return nil, fmt.Errorf("%w: expected 33 bytes, got %d", ErrInvalidPublicKey, len(b))
	}
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}
