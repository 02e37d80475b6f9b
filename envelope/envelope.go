// Package envelope implements the DKNMessage wire codec: the base64-payload,
// topic, version, timestamp record every gossip message is wrapped in, plus
// the recoverable-signature prefix convention used when a message must carry
// proof of origin.
package envelope

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/sage-x-project/compute-node/crypto/recoverable"
)

// Known gossip topics. The set is fixed; the node never invents new ones.
const (
	TopicPing    = "ping"
	TopicPong    = "pong"
	TopicTask    = "workflow"
	TopicResults = "results"
)

// signatureHexLen is the length, in ASCII hex characters, of a 65-byte
// recoverable signature once it has been hex-encoded and prepended to a
// signed payload's JSON body.
const signatureHexLen = recoverable.Size * 2

// Message is the wire-level envelope every gossip publish/receive carries:
// a base64 payload, a topic name, a sender version identity, and a
// nanosecond timestamp.
type Message struct {
	Payload   string `json:"payload"`
	Topic     string `json:"topic"`
	Version   string `json:"version"`
	Timestamp uint64 `json:"timestamp"`
}

// New builds an unsigned envelope around payload for topic, stamping the
// current time and the caller's protocol identity.
func New(payload []byte, topic, version string) Message {
	return Message{
		Payload:   base64.StdEncoding.EncodeToString(payload),
		Topic:     topic,
		Version:   version,
		Timestamp: uint64(time.Now().UnixNano()),
	}
}

// NewSigned builds an envelope whose payload is prefixed with a hex-encoded
// recoverable signature over SHA-256(payload) before base64 encoding. The
// hex prefix, not the raw signature bytes, is what travels on the wire: a
// reader must strip signatureHexLen ASCII characters, not recoverable.Size
// bytes, to recover the body.
func NewSigned(payload []byte, topic, version string, signer *secp256k1.PrivateKey) (Message, error) {
	digest := sha256.Sum256(payload)
	sig, err := recoverable.SignDigest(signer, digest[:])
	if err != nil {
		return Message{}, fmt.Errorf("sign payload: %w", err)
	}

	signed := make([]byte, 0, signatureHexLen+len(payload))
	signed = append(signed, []byte(hex.EncodeToString(sig.Bytes()))...)
	signed = append(signed, payload...)

	return Message{
		Payload:   base64.StdEncoding.EncodeToString(signed),
		Topic:     topic,
		Version:   version,
		Timestamp: uint64(time.Now().UnixNano()),
	}, nil
}

// DecodePayload base64-decodes the raw payload bytes, signature prefix
// included if present.
func (m Message) DecodePayload() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode envelope payload: %w", err)
	}
	return raw, nil
}

// ParsePayload decodes the payload and JSON-unmarshals the body into v,
// skipping the signature-hex prefix when signed is true.
func ParsePayload[T any](m Message, signed bool) (T, error) {
	var out T
	raw, err := m.DecodePayload()
	if err != nil {
		return out, err
	}

	body := raw
	if signed {
		if len(raw) < signatureHexLen {
			return out, fmt.Errorf("signed payload shorter than signature prefix: %d bytes", len(raw))
		}
		body = raw[signatureHexLen:]
	}

	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("unmarshal envelope body: %w", err)
	}
	return out, nil
}

// IsSigned reports whether the envelope's payload carries a recoverable
// signature from the holder of the private key matching publicKey. Any
// decode failure, short payload, or bad signature yields false, never an
// error or panic: callers must treat a false result as a rejection, not a
// retryable failure.
func IsSigned(m Message, publicKey *secp256k1.PublicKey) bool {
	raw, err := m.DecodePayload()
	if err != nil {
		return false
	}
	if len(raw) < signatureHexLen {
		return false
	}

	sigHex := raw[:signatureHexLen]
	body := raw[signatureHexLen:]

	sigBytes, err := hex.DecodeString(string(sigHex))
	if err != nil {
		return false
	}
	sig, err := recoverable.FromBytes(sigBytes)
	if err != nil {
		return false
	}

	return recoverable.Verify(publicKey, body, sig)
}

// Body strips the signature-hex prefix (if present and signed is true) and
// returns the remaining raw JSON bytes without unmarshaling them.
func Body(m Message, signed bool) ([]byte, error) {
	raw, err := m.DecodePayload()
	if err != nil {
		return nil, err
	}
	if !signed {
		return raw, nil
	}
	if len(raw) < signatureHexLen {
		return nil, fmt.Errorf("signed payload shorter than signature prefix: %d bytes", len(raw))
	}
	return raw[signatureHexLen:], nil
}
