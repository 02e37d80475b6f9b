// Package node implements the orchestrator: the main select loop that
// receives inbound gossip, classifies it by topic, dispatches to
// handlers, forwards worker outputs to the publisher, and runs periodic
// housekeeping.
package node

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/sage-x-project/compute-node/crypto/nodekey"
	"github.com/sage-x-project/compute-node/envelope"
	"github.com/sage-x-project/compute-node/executor"
	"github.com/sage-x-project/compute-node/handlers"
	"github.com/sage-x-project/compute-node/internal/logger"
	"github.com/sage-x-project/compute-node/internal/nodeerr"
	"github.com/sage-x-project/compute-node/metrics"
	"github.com/sage-x-project/compute-node/p2p"
	"github.com/sage-x-project/compute-node/registry/nodes"
	"github.com/sage-x-project/compute-node/worker"
)

func decodeEnvelope(data []byte, out *envelope.Message) error {
	return json.Unmarshal(data, out)
}

// peerRefreshInterval is the minimum spacing between peer-count log
// lines, independent of the available-nodes registry's own refresh
// interval.
const peerRefreshInterval = 30 * time.Second

// Config is the node's identity and runtime configuration, assembled by
// the caller (typically from internal/config.Config) before constructing
// a Node.
type Config struct {
	KeyPair                *nodekey.KeyPair
	AdminPublicKey         *secp256k1.PublicKey
	Models                 []executor.Model
	OllamaHost             string
	OllamaPort             int
	RemoteExecutorEndpoint string
	Protocol               string
}

// Node owns the config, the transport commander, the available-nodes
// registry, the worker pool, and the timestamps governing housekeeping.
type Node struct {
	cfg       Config
	commander p2p.Commander
	registry  *nodes.AvailableNodes
	pool      *worker.Pool
	rng       *rand.Rand

	state State

	peersLastRefreshed time.Time

	pingHandler handlers.PingHandler
	taskHandler handlers.TaskHandler
	publisher   handlers.Publisher
}

// New constructs a Node. Callers must call Run to drive it through its
// lifecycle.
func New(cfg Config, commander p2p.Commander, registry *nodes.AvailableNodes, pool *worker.Pool) *Node {
	return &Node{
		cfg:       cfg,
		commander: commander,
		registry:  registry,
		pool:      pool,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		state:     Starting,
	}
}

// handlers.Context implementation, so handlers never need to import node.

func (n *Node) AddressHex() string                { return n.cfg.KeyPair.AddressHex() }
func (n *Node) SigningKey() *secp256k1.PrivateKey { return n.cfg.KeyPair.PrivateKey() }
func (n *Node) Protocol() string                  { return n.cfg.Protocol }
func (n *Node) Models() []executor.Model          { return n.cfg.Models }
func (n *Node) OllamaHostPort() (string, int)     { return n.cfg.OllamaHost, n.cfg.OllamaPort }
func (n *Node) RemoteExecutorEndpoint() string    { return n.cfg.RemoteExecutorEndpoint }
func (n *Node) Commander() p2p.Commander          { return n.commander }
func (n *Node) Rand() *rand.Rand                  { return n.rng }

// State reports the node's current lifecycle state.
func (n *Node) State() State { return n.state }

// Run drives the node from Starting through Running to Stopped, returning
// once ctx is cancelled and shutdown completes.
func (n *Node) Run(ctx context.Context) error {
	if err := n.start(); err != nil {
		return err
	}
	n.state = Running

	go n.pool.Run(ctx)

	n.loop(ctx)

	n.state = Draining
	n.drain(ctx)
	n.state = Stopped
	return nil
}

func (n *Node) start() error {
	for _, topic := range []string{envelope.TopicPing, envelope.TopicPong, envelope.TopicTask, envelope.TopicResults} {
		if err := n.commander.Subscribe(topic); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) drain(ctx context.Context) {
	for _, topic := range []string{envelope.TopicPing, envelope.TopicPong, envelope.TopicTask, envelope.TopicResults} {
		if _, err := n.commander.Unsubscribe(topic); err != nil {
			logger.Warn("unsubscribe failed", logger.String("topic", topic), logger.Error(err))
		}
	}
	if err := n.commander.Shutdown(ctx); err != nil {
		logger.Warn("commander shutdown failed", logger.Error(err))
	}
}

func (n *Node) loop(ctx context.Context) {
	for {
		select {
		case out, ok := <-n.pool.Outputs():
			if !ok {
				return
			}
			metrics.TasksCompleted.WithLabelValues(outcomeLabel(out)).Inc()
			if err := n.publisher.OnResult(ctx, n, out); err != nil {
				metrics.PublishesTotal.WithLabelValues(envelope.TopicResults, "error").Inc()
				logger.ErrorMsg("publish task result failed", logger.String("task_id", out.TaskID), logger.Error(err))
			} else {
				metrics.PublishesTotal.WithLabelValues(envelope.TopicResults, "success").Inc()
			}

		case inbound, ok := <-n.commander.Inbound():
			if !ok {
				return
			}
			n.housekeeping(ctx)
			verdict := n.classify(ctx, inbound)
			if err := n.commander.ValidateMessage(inbound.MessageID, inbound.SourcePeer, verdict); err != nil {
				logger.Warn("validate_message failed", logger.Error(err))
			}

		case <-ctx.Done():
			return
		}
	}
}

func (n *Node) housekeeping(ctx context.Context) {
	if n.registry.CanRefresh() {
		if err := n.registry.PopulateWithAPI(ctx); err != nil {
			metrics.RegistryRefreshes.WithLabelValues("error").Inc()
			logger.ErrorMsg("refresh available nodes failed", logger.String("kind", string(nodeerr.KindOf(err))), logger.Error(err))
		} else {
			metrics.RegistryRefreshes.WithLabelValues("success").Inc()
			for _, peer := range n.registry.RPC() {
				if peer.Multiaddr == "" {
					continue
				}
				if err := n.commander.Dial(ctx, peer.Multiaddr); err != nil {
					logger.Warn("dial rpc peer failed", logger.String("addr", peer.Multiaddr), logger.Error(err))
				}
			}
		}
	}

	if time.Since(n.peersLastRefreshed) >= peerRefreshInterval {
		for _, topic := range []string{envelope.TopicPing, envelope.TopicTask} {
			counts := n.commander.PeerCounts(topic)
			metrics.PeerCount.WithLabelValues(topic, "mesh").Set(float64(counts.Mesh))
			metrics.PeerCount.WithLabelValues(topic, "all").Set(float64(counts.All))
			logger.Info("peer counts", logger.String("topic", topic), logger.Int("mesh", counts.Mesh), logger.Int("all", counts.All))
		}
		n.peersLastRefreshed = time.Now()
	}
}

// classify implements the inbound classification algorithm: listen
// topics require an authorized, signed source and are handed to their
// handler; response topics are accepted and re-propagated without
// processing; unknown topics are rejected.
func (n *Node) classify(ctx context.Context, inbound p2p.InboundMessage) p2p.Acceptance {
	switch inbound.Topic {
	case envelope.TopicPing, envelope.TopicTask:
		return n.classifyListenTopic(ctx, inbound)
	case envelope.TopicPong, envelope.TopicResults:
		// Our own response topics: we re-propagate peers' responses but
		// do not process them ourselves.
		return p2p.Accept
	default:
		logger.Warn("received message on unknown topic", logger.String("topic", inbound.Topic))
		return p2p.Reject
	}
}

func (n *Node) classifyListenTopic(ctx context.Context, inbound p2p.InboundMessage) p2p.Acceptance {
	if inbound.SourcePeer == "" {
		logger.Warn("message missing source peer", logger.String("topic", inbound.Topic))
		return p2p.Ignore
	}
	if !n.registry.IsAuthorized(inbound.SourcePeer) {
		logger.Warn("message from unauthorized source", logger.String("peer", inbound.SourcePeer))
		return p2p.Ignore
	}

	var msg envelope.Message
	if err := decodeEnvelope(inbound.Data, &msg); err != nil {
		logger.ErrorMsg("decode envelope failed", logger.Error(nodeerr.New(nodeerr.Codec, "decode envelope", err)))
		return p2p.Ignore
	}
	if !envelope.IsSigned(msg, n.cfg.AdminPublicKey) {
		logger.Warn("envelope signature invalid", logger.String("topic", inbound.Topic))
		return p2p.Ignore
	}

	switch inbound.Topic {
	case envelope.TopicPing:
		acc, err := n.pingHandler.OnRequest(ctx, n, msg)
		if err != nil {
			logger.ErrorMsg("ping handler failed", logger.String("kind", string(nodeerr.KindOf(err))), logger.Error(err))
			return p2p.Ignore
		}
		return acc

	case envelope.TopicTask:
		acc, input, err := n.taskHandler.OnRequest(n, msg)
		if err != nil {
			logger.ErrorMsg("task handler failed", logger.String("kind", string(nodeerr.KindOf(err))), logger.Error(err))
			return p2p.Ignore
		}
		if input != nil {
			if err := n.pool.Submit(ctx, *input); err != nil {
				logger.Warn("task not submitted, ignoring", logger.String("task_id", input.TaskID), logger.String("kind", string(nodeerr.KindOf(err))), logger.Error(err))
				return p2p.Ignore
			}
			metrics.TasksAccepted.Inc()
		}
		return acc

	default:
		return p2p.Reject
	}
}

func outcomeLabel(out worker.Output) string {
	if out.Kind == worker.ResultSuccess {
		return "success"
	}
	return string(out.FailureReason)
}
