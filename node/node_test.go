package node

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/compute-node/crypto/nodekey"
	"github.com/sage-x-project/compute-node/envelope"
	"github.com/sage-x-project/compute-node/executor"
	"github.com/sage-x-project/compute-node/handlers"
	"github.com/sage-x-project/compute-node/p2p"
	"github.com/sage-x-project/compute-node/registry/nodes"
	"github.com/sage-x-project/compute-node/worker"
)

type fakeCommander struct {
	mu          sync.Mutex
	subscribed  []string
	unsubbed    []string
	published   []publishedMsg
	validations []validation
	shutdown    bool
	inbound     chan p2p.InboundMessage
}

type publishedMsg struct {
	topic string
	data  []byte
}

type validation struct {
	id, peer string
	verdict  p2p.Acceptance
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{inbound: make(chan p2p.InboundMessage, 8)}
}

func (f *fakeCommander) Subscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakeCommander) Unsubscribe(topic string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubbed = append(f.unsubbed, topic)
	return true, nil
}

func (f *fakeCommander) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMsg{topic: topic, data: data})
	return "msg", nil
}

func (f *fakeCommander) Dial(ctx context.Context, addr string) error { return nil }

func (f *fakeCommander) Peers(topic string) ([]string, []string) { return nil, nil }

func (f *fakeCommander) PeerCounts(topic string) p2p.PeerCounts { return p2p.PeerCounts{} }

func (f *fakeCommander) NetworkInfo() p2p.NetworkInfo { return p2p.NetworkInfo{} }

func (f *fakeCommander) ValidateMessage(id, peer string, verdict p2p.Acceptance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validations = append(f.validations, validation{id, peer, verdict})
	return nil
}

func (f *fakeCommander) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
	close(f.inbound)
	return nil
}

func (f *fakeCommander) Protocol() string { return "compute-node/test" }

func (f *fakeCommander) Inbound() <-chan p2p.InboundMessage { return f.inbound }

func (f *fakeCommander) snapshotPublished() []publishedMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publishedMsg, len(f.published))
	copy(out, f.published)
	return out
}

func (f *fakeCommander) snapshotValidations() []validation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]validation, len(f.validations))
	copy(out, f.validations)
	return out
}

func newTestNode(t *testing.T, adminKey *secp256k1.PrivateKey) (*Node, *fakeCommander, *nodes.AvailableNodes) {
	t.Helper()
	keyPair, err := nodekey.Generate()
	require.NoError(t, err)

	reg := nodes.New(nodes.NetworkDev)
	reg.PopulateWithEnv(nodes.EnvOverrides{
		RPC: []nodes.Peer{{ID: "admin-peer", Multiaddr: ""}},
	})

	commander := newFakeCommander()
	pool := worker.NewPool()

	n := New(Config{
		KeyPair:        keyPair,
		AdminPublicKey: adminKey.PubKey(),
		Models:         []executor.Model{{Name: "llama3", Provider: "ollama"}},
		OllamaHost:     "127.0.0.1",
		OllamaPort:     11434,
		Protocol:       "compute-node/test",
	}, commander, reg, pool)

	return n, commander, reg
}

func signedEnvelopeBytes(t *testing.T, topic string, payload any, signer *secp256k1.PrivateKey) []byte {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	msg, err := envelope.NewSigned(body, topic, "admin/1", signer)
	require.NoError(t, err)
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

func TestNodeLifecycleSubscribesAndUnsubscribes(t *testing.T) {
	adminKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	n, commander, _ := newTestNode(t, adminKey)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, n.Run(ctx))
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("node did not shut down in time")
	}

	require.Equal(t, Stopped, n.State())
	require.ElementsMatch(t, []string{envelope.TopicPing, envelope.TopicPong, envelope.TopicTask, envelope.TopicResults}, commander.subscribed)
	require.ElementsMatch(t, []string{envelope.TopicPing, envelope.TopicPong, envelope.TopicTask, envelope.TopicResults}, commander.unsubbed)
	require.True(t, commander.shutdown)
}

func TestNodeClassifyUnauthorizedSourceIgnored(t *testing.T) {
	adminKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	n, commander, _ := newTestNode(t, adminKey)

	data := signedEnvelopeBytes(t, envelope.TopicPing, handlers.PingPayload{
		UUID:     "u1",
		Deadline: uint64(time.Now().Add(time.Minute).UnixNano()),
	}, adminKey)

	verdict := n.classify(context.Background(), p2p.InboundMessage{
		MessageID:  "m1",
		Topic:      envelope.TopicPing,
		SourcePeer: "stranger",
		Data:       data,
	})

	require.Equal(t, p2p.Ignore, verdict)
	require.Empty(t, commander.snapshotPublished())
}

func TestNodeClassifyAuthorizedSignedPingAccepted(t *testing.T) {
	adminKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	n, commander, _ := newTestNode(t, adminKey)

	data := signedEnvelopeBytes(t, envelope.TopicPing, handlers.PingPayload{
		UUID:     "u1",
		Deadline: uint64(time.Now().Add(time.Minute).UnixNano()),
	}, adminKey)

	verdict := n.classify(context.Background(), p2p.InboundMessage{
		MessageID:  "m1",
		Topic:      envelope.TopicPing,
		SourcePeer: "admin-peer",
		Data:       data,
	})

	require.Equal(t, p2p.Accept, verdict)
	require.Len(t, commander.snapshotPublished(), 1)
	require.Equal(t, envelope.TopicPong, commander.snapshotPublished()[0].topic)
}

func TestNodeClassifyWrongSignerIgnored(t *testing.T) {
	adminKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	n, commander, _ := newTestNode(t, adminKey)

	impostor, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	data := signedEnvelopeBytes(t, envelope.TopicPing, handlers.PingPayload{
		UUID:     "u1",
		Deadline: uint64(time.Now().Add(time.Minute).UnixNano()),
	}, impostor)

	verdict := n.classify(context.Background(), p2p.InboundMessage{
		MessageID:  "m1",
		Topic:      envelope.TopicPing,
		SourcePeer: "admin-peer",
		Data:       data,
	})

	require.Equal(t, p2p.Ignore, verdict)
	require.Empty(t, commander.snapshotPublished())
}

func TestNodeClassifyResponseTopicsAutoAccepted(t *testing.T) {
	adminKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	n, _, _ := newTestNode(t, adminKey)

	for _, topic := range []string{envelope.TopicPong, envelope.TopicResults} {
		verdict := n.classify(context.Background(), p2p.InboundMessage{
			MessageID:  "m1",
			Topic:      topic,
			SourcePeer: "anyone",
			Data:       []byte(`{}`),
		})
		require.Equal(t, p2p.Accept, verdict)
	}
}

func TestNodeClassifyUnknownTopicRejected(t *testing.T) {
	adminKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	n, _, _ := newTestNode(t, adminKey)

	verdict := n.classify(context.Background(), p2p.InboundMessage{
		MessageID:  "m1",
		Topic:      "whatever",
		SourcePeer: "admin-peer",
		Data:       []byte(`{}`),
	})
	require.Equal(t, p2p.Reject, verdict)
}

func TestNodeClassifyTaskEnqueuesWorkerInput(t *testing.T) {
	adminKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	n, _, _ := newTestNode(t, adminKey)

	requester, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	data := signedEnvelopeBytes(t, envelope.TopicTask, handlers.TaskRequestPayload{
		TaskID:    "t1",
		Deadline:  uint64(time.Now().Add(time.Minute).UnixNano()),
		PublicKey: pubKeyHex(requester),
		Input: handlers.TaskInput{
			Workflow: map[string]any{"step": 1},
			Model:    []string{"llama3"},
		},
	}, adminKey)

	verdict := n.classify(context.Background(), p2p.InboundMessage{
		MessageID:  "m1",
		Topic:      envelope.TopicTask,
		SourcePeer: "admin-peer",
		Data:       data,
	})
	require.Equal(t, p2p.Accept, verdict)

	select {
	case in := <-n.pool.Outputs():
		t.Fatalf("unexpected output before a worker is running: %+v", in)
	default:
	}
}

func pubKeyHex(k *secp256k1.PrivateKey) string {
	return hex.EncodeToString(k.PubKey().SerializeCompressed())
}
