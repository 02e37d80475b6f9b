// Package nodekey manages the secp256k1 identity of a compute node: the
// key pair used to sign outgoing envelopes and the 20-byte address derived
// from it for the pong/wire payloads.
package nodekey

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// KeyPair is the node's secp256k1 identity.
type KeyPair struct {
	priv *secp256k1.PrivateKey
	pub  *secp256k1.PublicKey
}

// Generate creates a fresh random key pair.
func Generate() (*KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate secp256k1 key: %w", err)
	}
	return &KeyPair{priv: priv, pub: priv.PubKey()}, nil
}

// FromHex loads a key pair from a 32-byte hex-encoded private key, as read
// from the `secret_key` environment input.
func FromHex(hexKey string) (*KeyPair, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode secret key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("secret key must be 32 bytes, got %d", len(raw))
	}
	priv := secp256k1.PrivKeyFromBytes(raw)
	return &KeyPair{priv: priv, pub: priv.PubKey()}, nil
}

// PrivateKey returns the underlying decred private key, for signing.
func (k *KeyPair) PrivateKey() *secp256k1.PrivateKey { return k.priv }

// PublicKey returns the underlying decred public key, for verification.
func (k *KeyPair) PublicKey() *secp256k1.PublicKey { return k.pub }

// CompressedPublicKey returns the 33-byte compressed public key, the same
// encoding as TaskRequest.public_key.
func (k *KeyPair) CompressedPublicKey() [33]byte {
	var out [33]byte
	copy(out[:], k.pub.SerializeCompressed())
	return out
}

// Address derives the node's 20-byte wire address (Keccak256(pubkey)[12:]),
// reusing go-ethereum's address derivation to match the convention used
// for every other Ethereum-style address in this codebase.
func (k *KeyPair) Address() [20]byte {
	return ethcrypto.PubkeyToAddress(*k.pub.ToECDSA())
}

// AddressHex returns the 0x-prefixed hex string of Address().
func (k *KeyPair) AddressHex() string {
	addr := k.Address()
	return "0x" + hex.EncodeToString(addr[:])
}

// ParseCompressedPublicKey parses a 33-byte compressed secp256k1 public key,
// as received in a TaskRequest payload.
func ParseCompressedPublicKey(b []byte) (*secp256k1.PublicKey, error) {
	pk, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("parse compressed public key: %w", err)
	}
	return pk, nil
}

// ToECDSAPublicKey adapts a decred public key to the standard library type,
// for interop with go-ethereum helpers.
func ToECDSAPublicKey(pk *secp256k1.PublicKey) *ecdsa.PublicKey {
	return pk.ToECDSA()
}
