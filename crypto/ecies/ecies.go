// Package ecies implements ECIES-style encryption for secp256k1 keys:
// an ephemeral ECDH exchange followed by an HKDF-derived AES-256-GCM
// session key, addressed to a recipient's compressed secp256k1 public key.
package ecies

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/hkdf"
)

const hkdfInfo = "dkn-compute/ecies-v1"

// Encrypt encrypts plaintext for recipientPub using an ephemeral secp256k1
// key. The returned ciphertext is self-contained: ephemeral compressed
// public key (33 bytes) || nonce (12 bytes) || AES-GCM sealed output.
func Encrypt(recipientPub *secp256k1.PublicKey, plaintext []byte) ([]byte, error) {
	ephPriv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}

	key, err := deriveKey(ephPriv, recipientPub)
	if err != nil {
		return nil, err
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)

	ephPub := ephPriv.PubKey().SerializeCompressed()
	out := make([]byte, 0, len(ephPub)+len(nonce)+len(sealed))
	out = append(out, ephPub...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Decrypt reverses Encrypt using the recipient's private key.
func Decrypt(recipientPriv *secp256k1.PrivateKey, ciphertext []byte) ([]byte, error) {
	const ephLen = 33
	if len(ciphertext) < ephLen {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(ciphertext))
	}

	ephPub, err := secp256k1.ParsePubKey(ciphertext[:ephLen])
	if err != nil {
		return nil, fmt.Errorf("parse ephemeral public key: %w", err)
	}

	key, err := deriveKeyFromPriv(recipientPriv, ephPub)
	if err != nil {
		return nil, err
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	rest := ciphertext[ephLen:]
	if len(rest) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext missing nonce")
	}
	nonce, sealed := rest[:aead.NonceSize()], rest[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new GCM: %w", err)
	}
	return aead, nil
}

// deriveKey computes the shared ECDH point between ephPriv and recipientPub
// and stretches it into a 32-byte AES key via HKDF-SHA256.
func deriveKey(ephPriv *secp256k1.PrivateKey, recipientPub *secp256k1.PublicKey) ([]byte, error) {
	return ecdhHKDF(ephPriv, recipientPub)
}

func deriveKeyFromPriv(priv *secp256k1.PrivateKey, ephPub *secp256k1.PublicKey) ([]byte, error) {
	return ecdhHKDF(priv, ephPub)
}

func ecdhHKDF(priv *secp256k1.PrivateKey, pub *secp256k1.PublicKey) ([]byte, error) {
	var pubJ, sharedJ secp256k1.JacobianPoint
	pub.AsJacobian(&pubJ)

	var k secp256k1.ModNScalar
	k.Set(&priv.Key)
	secp256k1.ScalarMultNonConst(&k, &pubJ, &sharedJ)
	sharedJ.ToAffine()

	shared := sharedJ.X.Bytes()

	r := hkdf.New(sha256.New, shared[:], nil, []byte(hkdfInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return key, nil
}
