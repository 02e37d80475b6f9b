package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sage-x-project/compute-node/crypto/ecies"
	"github.com/sage-x-project/compute-node/crypto/nodekey"
	"github.com/sage-x-project/compute-node/crypto/recoverable"
	"github.com/sage-x-project/compute-node/envelope"
	"github.com/sage-x-project/compute-node/internal/nodeerr"
	"github.com/sage-x-project/compute-node/worker"
)

// Publisher turns a completed worker.Output into a signed, encrypted
// response envelope and publishes it on the task response topic.
type Publisher struct{}

// OnResult handles a single worker output: success results are
// ECIES-encrypted to the requester and signed over their plaintext digest;
// failures are reported as a signed, unencrypted error payload. Each call
// publishes at most one envelope: when parsing the requester key,
// encrypting, or signing a success result fails, that error is returned
// and nothing is published (no error payload is sent in its place).
func (Publisher) OnResult(ctx context.Context, c Context, out worker.Output) error {
	publishedAt := time.Now()

	switch out.Kind {
	case worker.ResultSuccess:
		return publishSuccess(ctx, c, out, publishedAt)
	default:
		return publishFailure(ctx, c, out, publishedAt)
	}
}

func publishSuccess(ctx context.Context, c Context, out worker.Output, publishedAt time.Time) error {
	requesterPub, err := nodekey.ParseCompressedPublicKey(out.RequesterPublicKey)
	if err != nil {
		return nodeerr.New(nodeerr.Auth, "parse requester public key", err)
	}

	ciphertext, err := ecies.Encrypt(requesterPub, []byte(out.Plaintext))
	if err != nil {
		return nodeerr.New(nodeerr.Codec, "encrypt result", err)
	}

	digest := sha256.Sum256([]byte(out.Plaintext))
	sig, err := recoverable.SignDigest(c.SigningKey(), digest[:])
	if err != nil {
		return nodeerr.New(nodeerr.Auth, "sign result digest", err)
	}

	commitment := computeCommitment(sig, digest)

	payload := TaskSuccessPayload{
		TaskID:     out.TaskID,
		Ciphertext: hex.EncodeToString(ciphertext),
		Signature:  hex.EncodeToString(sig.Bytes()),
		Commitment: hex.EncodeToString(commitment[:]),
		Model:      out.ModelName,
		Stats: Stats{
			ReceivedAt:  uint64(out.Stats.ReceivedAt.UnixNano()),
			PublishedAt: uint64(publishedAt.UnixNano()),
		},
	}

	body, err := marshalJSON(payload)
	if err != nil {
		return err
	}
	return publish(ctx, c, envelope.TopicResults, body)
}

func publishFailure(ctx context.Context, c Context, out worker.Output, publishedAt time.Time) error {
	errMsg := formatFailure(out)

	payload := TaskErrorPayload{
		TaskID: out.TaskID,
		Error:  errMsg,
		Model:  out.ModelName,
		Stats: Stats{
			ReceivedAt:  uint64(out.Stats.ReceivedAt.UnixNano()),
			PublishedAt: uint64(publishedAt.UnixNano()),
		},
	}

	body, err := marshalJSON(payload)
	if err != nil {
		return err
	}
	return publish(ctx, c, envelope.TopicResults, body)
}

func formatFailure(out worker.Output) string {
	if out.Err != nil {
		return fmt.Sprintf("%s: %v", out.FailureReason, out.Err)
	}
	return string(out.FailureReason)
}

// computeCommitment binds a signature and result digest together:
// SHA-256(signature_RS || recovery_id || result_digest).
func computeCommitment(sig recoverable.Signature, resultDigest [32]byte) [32]byte {
	preimage := make([]byte, 0, 64+1+32)
	preimage = append(preimage, sig.RS[:]...)
	preimage = append(preimage, sig.V)
	preimage = append(preimage, resultDigest[:]...)
	return sha256.Sum256(preimage)
}
