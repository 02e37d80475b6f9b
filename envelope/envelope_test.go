package envelope

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"
)

func TestRoundTripUnsigned(t *testing.T) {
	payload := []byte(`{"hello":"world"}`)
	msg := New(payload, TopicPing, "compute-node/0.1.0")

	decoded, err := msg.DecodePayload()
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
	require.Equal(t, TopicPing, msg.Topic)
}

func TestSignedRoundTripAndVerification(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	type body struct {
		UUID string `json:"uuid"`
	}
	payload := []byte(`{"uuid":"u1"}`)

	msg, err := NewSigned(payload, TopicPing, "compute-node/0.1.0", priv)
	require.NoError(t, err)

	require.True(t, IsSigned(msg, priv.PubKey()))

	other, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	require.False(t, IsSigned(msg, other.PubKey()))

	parsed, err := ParsePayload[body](msg, true)
	require.NoError(t, err)
	require.Equal(t, "u1", parsed.UUID)
}

func TestIsSignedRejectsTamperedBody(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	msg, err := NewSigned([]byte(`{"uuid":"u1"}`), TopicPing, "v1", priv)
	require.NoError(t, err)

	raw, err := msg.DecodePayload()
	require.NoError(t, err)
	raw[len(raw)-1] = 'X'

	tampered := msg
	tampered.Payload = encodeForTest(raw)
	require.False(t, IsSigned(tampered, priv.PubKey()))
}

func TestIsSignedFalseOnMalformedPayload(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	msg := Message{Payload: "not-valid-base64!!", Topic: TopicPing, Version: "v1"}
	require.False(t, IsSigned(msg, priv.PubKey()))
}

func TestParsePayloadUnsignedBody(t *testing.T) {
	type body struct {
		Value int `json:"value"`
	}
	msg := New([]byte(`{"value":42}`), TopicTask, "v1")
	parsed, err := ParsePayload[body](msg, false)
	require.NoError(t, err)
	require.Equal(t, 42, parsed.Value)
}

func encodeForTest(b []byte) string {
	return New(b, "x", "x").Payload
}
