// Package handlers implements the topic-specific request/response logic:
// a liveness ping/pong responder and a task-request handler plus the
// response publisher that signs and encrypts worker output.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/sage-x-project/compute-node/envelope"
	"github.com/sage-x-project/compute-node/executor"
	"github.com/sage-x-project/compute-node/internal/nodeerr"
	"github.com/sage-x-project/compute-node/p2p"
)

// Context is the slice of node state a handler needs: identity, signing
// key, locally configured models, and the transport to publish responses
// on. It exists so handlers never depend on the node package directly,
// keeping the dependency direction one-way (node depends on handlers, not
// the reverse).
type Context interface {
	AddressHex() string
	SigningKey() *secp256k1.PrivateKey
	Protocol() string
	Models() []executor.Model
	OllamaHostPort() (host string, port int)
	RemoteExecutorEndpoint() string
	Commander() p2p.Commander
	Rand() *rand.Rand
}

// Handler is the closed variant set of topic-specific request handlers:
// Ping and Task. Each exposes its listen topic and an OnRequest operation
// that either resolves an acceptance verdict directly (e.g. a ping that
// also publishes its own response) or produces a WorkerInput for the task
// pool to execute.
type Handler interface {
	// ListenTopic is the gossip topic this handler subscribes to.
	ListenTopic() string
}

// publish is the shared helper every handler uses to sign, encode, and
// publish a JSON response payload on topic.
func publish(ctx context.Context, c Context, topic string, body []byte) error {
	msg, err := signedEnvelope(c, topic, body)
	if err != nil {
		return err
	}
	data, err := marshalEnvelope(msg)
	if err != nil {
		return err
	}
	if _, err := c.Commander().Publish(ctx, topic, data); err != nil {
		return nodeerr.New(nodeerr.Transport, "publish "+topic, err)
	}
	return nil
}

func signedEnvelope(c Context, topic string, body []byte) (envelope.Message, error) {
	msg, err := envelope.NewSigned(body, topic, c.Protocol(), c.SigningKey())
	if err != nil {
		return envelope.Message{}, nodeerr.New(nodeerr.Auth, fmt.Sprintf("sign %s envelope", topic), err)
	}
	return msg, nil
}

func marshalEnvelope(msg envelope.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, nodeerr.New(nodeerr.Codec, "marshal envelope", err)
	}
	return data, nil
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nodeerr.New(nodeerr.Codec, "marshal payload", err)
	}
	return data, nil
}
