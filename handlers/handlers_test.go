package handlers

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/compute-node/crypto/ecies"
	"github.com/sage-x-project/compute-node/crypto/recoverable"
	"github.com/sage-x-project/compute-node/envelope"
	"github.com/sage-x-project/compute-node/executor"
	"github.com/sage-x-project/compute-node/p2p"
	"github.com/sage-x-project/compute-node/worker"
)

type fakeCommander struct {
	published []publishedMsg
}

type publishedMsg struct {
	topic string
	data  []byte
}

func (f *fakeCommander) Subscribe(topic string) error               { return nil }
func (f *fakeCommander) Unsubscribe(topic string) (bool, error)      { return true, nil }
func (f *fakeCommander) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	f.published = append(f.published, publishedMsg{topic: topic, data: data})
	return "msg-1", nil
}
func (f *fakeCommander) Dial(ctx context.Context, addr string) error { return nil }
func (f *fakeCommander) Peers(topic string) ([]string, []string)     { return nil, nil }
func (f *fakeCommander) PeerCounts(topic string) p2p.PeerCounts      { return p2p.PeerCounts{} }
func (f *fakeCommander) NetworkInfo() p2p.NetworkInfo                { return p2p.NetworkInfo{} }
func (f *fakeCommander) ValidateMessage(id, peer string, v p2p.Acceptance) error {
	return nil
}
func (f *fakeCommander) Shutdown(ctx context.Context) error { return nil }
func (f *fakeCommander) Protocol() string                  { return "compute-node/test" }
func (f *fakeCommander) Inbound() <-chan p2p.InboundMessage { return nil }

type fakeContext struct {
	signer    *secp256k1.PrivateKey
	addr      string
	models    []executor.Model
	commander *fakeCommander
	rng       *rand.Rand
}

func (f *fakeContext) AddressHex() string                  { return f.addr }
func (f *fakeContext) SigningKey() *secp256k1.PrivateKey    { return f.signer }
func (f *fakeContext) Protocol() string                    { return "compute-node/test" }
func (f *fakeContext) Models() []executor.Model             { return f.models }
func (f *fakeContext) OllamaHostPort() (string, int)        { return "127.0.0.1", 11434 }
func (f *fakeContext) RemoteExecutorEndpoint() string       { return "http://remote.example/run" }
func (f *fakeContext) Commander() p2p.Commander              { return f.commander }
func (f *fakeContext) Rand() *rand.Rand                     { return f.rng }

func newFakeContext(t *testing.T) (*fakeContext, *secp256k1.PrivateKey) {
	t.Helper()
	signer, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return &fakeContext{
		signer: signer,
		addr:   "0xabc123",
		models: []executor.Model{{Name: "llama3", Provider: "ollama"}},
		commander: &fakeCommander{},
		rng:       rand.New(rand.NewSource(1)),
	}, signer
}

func TestPingHandlerValidPingPublishesPong(t *testing.T) {
	c, signer := newFakeContext(t)
	adminKey := signer // admin signs the ping in this test

	body, err := marshalJSON(PingPayload{UUID: "u1", Deadline: uint64(time.Now().Add(time.Minute).UnixNano())})
	require.NoError(t, err)
	msg, err := envelope.NewSigned(body, envelope.TopicPing, "admin/1", adminKey)
	require.NoError(t, err)

	acc, err := PingHandler{}.OnRequest(context.Background(), c, msg)
	require.NoError(t, err)
	require.Equal(t, p2p.Accept, acc)
	require.Len(t, c.commander.published, 1)
	require.Equal(t, envelope.TopicPong, c.commander.published[0].topic)
}

func TestPingHandlerExpiredPingIgnored(t *testing.T) {
	c, signer := newFakeContext(t)

	body, err := marshalJSON(PingPayload{UUID: "u1", Deadline: uint64(time.Now().Add(-time.Minute).UnixNano())})
	require.NoError(t, err)
	msg, err := envelope.NewSigned(body, envelope.TopicPing, "admin/1", signer)
	require.NoError(t, err)

	acc, err := PingHandler{}.OnRequest(context.Background(), c, msg)
	require.NoError(t, err)
	require.Equal(t, p2p.Ignore, acc)
	require.Empty(t, c.commander.published)
}

func TestTaskHandlerResolvesModelAndBuildsInput(t *testing.T) {
	c, signer := newFakeContext(t)

	requester, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	body, err := marshalJSON(TaskRequestPayload{
		TaskID:    "t1",
		Deadline:  uint64(time.Now().Add(time.Minute).UnixNano()),
		PublicKey: hex.EncodeToString(requester.PubKey().SerializeCompressed()),
		Input: TaskInput{
			Workflow: map[string]any{"step": 1},
			Model:    []string{"llama3"},
		},
	})
	require.NoError(t, err)
	msg, err := envelope.NewSigned(body, envelope.TopicTask, "admin/1", signer)
	require.NoError(t, err)

	acc, input, err := TaskHandler{}.OnRequest(c, msg)
	require.NoError(t, err)
	require.Equal(t, p2p.Accept, acc)
	require.NotNil(t, input)
	require.Equal(t, "t1", input.TaskID)
	require.Equal(t, "llama3", input.ModelName)
	require.False(t, input.Batchable)
}

func TestTaskHandlerExpiredDeadlineConsumedNotEnqueued(t *testing.T) {
	c, signer := newFakeContext(t)

	requester, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	body, err := marshalJSON(TaskRequestPayload{
		TaskID:    "t1",
		Deadline:  uint64(time.Now().Add(-time.Minute).UnixNano()),
		PublicKey: hex.EncodeToString(requester.PubKey().SerializeCompressed()),
		Input:     TaskInput{Model: []string{"llama3"}},
	})
	require.NoError(t, err)
	msg, err := envelope.NewSigned(body, envelope.TopicTask, "admin/1", signer)
	require.NoError(t, err)

	acc, input, err := TaskHandler{}.OnRequest(c, msg)
	require.NoError(t, err)
	require.Equal(t, p2p.Accept, acc)
	require.Nil(t, input)
}

func TestPublisherOnResultSuccessDecryptsAndVerifies(t *testing.T) {
	c, signer := newFakeContext(t)
	requester, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	out := worker.Output{
		TaskID:             "t1",
		Kind:               worker.ResultSuccess,
		Plaintext:          "hello",
		ModelName:          "llama3",
		RequesterPublicKey: requester.PubKey().SerializeCompressed(),
		Stats:              worker.Stats{ReceivedAt: time.Now()},
	}

	require.NoError(t, Publisher{}.OnResult(context.Background(), c, out))
	require.Len(t, c.commander.published, 1)

	var env envelope.Message
	require.NoError(t, json.Unmarshal(c.commander.published[0].data, &env))
	require.True(t, envelope.IsSigned(env, signer.PubKey()))

	payload, err := envelope.ParsePayload[TaskSuccessPayload](env, true)
	require.NoError(t, err)
	require.Equal(t, "t1", payload.TaskID)

	ciphertext, err := hex.DecodeString(payload.Ciphertext)
	require.NoError(t, err)
	plaintext, err := ecies.Decrypt(requester, ciphertext)
	require.NoError(t, err)
	require.Equal(t, "hello", string(plaintext))

	sigBytes, err := hex.DecodeString(payload.Signature)
	require.NoError(t, err)
	sig, err := recoverable.FromBytes(sigBytes)
	require.NoError(t, err)
	require.True(t, recoverable.Verify(signer.PubKey(), []byte("hello"), sig))
}

func TestPublisherOnResultFailure(t *testing.T) {
	c, _ := newFakeContext(t)
	out := worker.Output{
		TaskID:        "t2",
		Kind:          worker.ResultFailure,
		FailureReason: worker.ReasonExecutor,
		ModelName:     "llama3",
		Stats:         worker.Stats{ReceivedAt: time.Now()},
	}

	require.NoError(t, Publisher{}.OnResult(context.Background(), c, out))
	require.Len(t, c.commander.published, 1)

	var env envelope.Message
	require.NoError(t, json.Unmarshal(c.commander.published[0].data, &env))
	payload, err := envelope.ParsePayload[TaskErrorPayload](env, true)
	require.NoError(t, err)
	require.Equal(t, "t2", payload.TaskID)
	require.NotEmpty(t, payload.Error)
}
