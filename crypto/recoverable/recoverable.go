// Package recoverable implements 64-byte R||S + 1-byte recovery-id ECDSA
// signatures over secp256k1, the exact layout the wire envelope and task
// response formats require. It is built on top of
// github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa's compact-signature
// support, re-laying out that library's recovery-byte-first encoding into
// the wire's R||S||V order.
package recoverable

import (
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	dcrecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Size is the length of a recoverable signature: 32-byte R, 32-byte S, 1-byte
// recovery id.
const Size = 65

// compactSigMagicOffset is the base offset compact secp256k1 signatures add
// to the recovery id (plus 4 more when the key is compressed), per the
// convention github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa's
// SignCompact/RecoverCompact use.
const compactSigMagicOffset = 27

// Signature is a decoded 65-byte recoverable secp256k1 signature.
type Signature struct {
	RS [64]byte
	V  byte
}

// Bytes returns the R||S||V wire encoding.
func (s Signature) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, s.RS[:])
	out[64] = s.V
	return out
}

// FromBytes parses a 65-byte R||S||V signature.
func FromBytes(b []byte) (Signature, error) {
	if len(b) != Size {
		return Signature{}, fmt.Errorf("recoverable signature must be %d bytes, got %d", Size, len(b))
	}
	var sig Signature
	copy(sig.RS[:], b[:64])
	sig.V = b[64]
	return sig, nil
}

// Sign produces a recoverable signature over SHA-256(message) using priv.
func Sign(priv *secp256k1.PrivateKey, message []byte) (Signature, error) {
	digest := sha256.Sum256(message)
	return SignDigest(priv, digest[:])
}

// SignDigest signs a pre-computed 32-byte digest directly.
func SignDigest(priv *secp256k1.PrivateKey, digest []byte) (Signature, error) {
	if len(digest) != 32 {
		return Signature{}, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	// SignCompact returns recoveryByte||R||S, where recoveryByte already
	// encodes the compressed-key convention offset used by RecoverCompact.
	compact := dcrecdsa.SignCompact(priv, digest, true)
	if len(compact) != Size {
		return Signature{}, fmt.Errorf("unexpected compact signature length %d", len(compact))
	}

	var sig Signature
	copy(sig.RS[:], compact[1:])
	sig.V = compact[0] - compactSigMagicOffset - 4
	return sig, nil
}

// Verify checks sig against SHA-256(message) for the given public key. It
// never returns an error for a bad signature — only false — per the
// envelope contract's "never panic, never treat crypto failure as
// retryable" rule.
func Verify(pub *secp256k1.PublicKey, message []byte, sig Signature) bool {
	digest := sha256.Sum256(message)
	return VerifyDigest(pub, digest[:], sig)
}

// VerifyDigest verifies sig against a pre-computed digest.
func VerifyDigest(pub *secp256k1.PublicKey, digest []byte, sig Signature) bool {
	r, s, ok := splitRS(sig.RS)
	if !ok {
		return false
	}
	ecSig := dcrecdsa.NewSignature(r, s)
	return ecSig.Verify(digest, pub)
}

// Recover recovers the public key that produced sig over SHA-256(message).
func Recover(message []byte, sig Signature) (*secp256k1.PublicKey, error) {
	digest := sha256.Sum256(message)
	return RecoverDigest(digest[:], sig)
}

// RecoverDigest recovers the public key from a pre-computed digest.
func RecoverDigest(digest []byte, sig Signature) (*secp256k1.PublicKey, error) {
	compact := make([]byte, Size)
	compact[0] = compactSigMagicOffset + 4 + sig.V
	copy(compact[1:], sig.RS[:])

	pub, _, err := dcrecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return nil, fmt.Errorf("recover public key: %w", err)
	}
	return pub, nil
}

func splitRS(rs [64]byte) (*secp256k1.ModNScalar, *secp256k1.ModNScalar, bool) {
	var r, s secp256k1.ModNScalar
	if r.SetByteSlice(rs[:32]) {
		// overflowed the group order
		return nil, nil, false
	}
	if s.SetByteSlice(rs[32:]) {
		return nil, nil, false
	}
	return &r, &s, true
}
