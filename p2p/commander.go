// Package p2p defines the narrow transport facade the node orchestrator
// depends on (Commander) plus a concrete flood-gossip implementation over
// WebSocket connections (wsgossip), standing in for a full libp2p/DHT
// transport.
package p2p

import "context"

// Acceptance is the orchestrator's verdict on an inbound message, reported
// back to the transport via ValidateMessage so a well-behaved pub/sub layer
// can adjust peer scoring.
type Acceptance int

const (
	Accept Acceptance = iota
	Ignore
	Reject
)

func (a Acceptance) String() string {
	switch a {
	case Accept:
		return "accept"
	case Ignore:
		return "ignore"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// PeerCounts reports the mesh-peer and all-peer counts for a topic.
type PeerCounts struct {
	Mesh int
	All  int
}

// NetworkInfo summarizes the commander's current connectivity.
type NetworkInfo struct {
	ListenAddrs  []string
	ConnectedTo  int
	ProtocolName string
}

// InboundMessage is a single delivery from a subscribed topic.
type InboundMessage struct {
	MessageID  string
	Topic      string
	SourcePeer string
	Data       []byte
}

// Commander is the thin adapter the orchestrator depends on. A concrete
// implementation owns the actual transport (wsgossip, or any pub/sub
// substrate); the orchestrator never reaches past this interface.
type Commander interface {
	// Subscribe begins delivering messages published on topic to Inbound().
	Subscribe(topic string) error

	// Unsubscribe stops delivery for topic. Returns whether subscription
	// state actually changed (false if already unsubscribed).
	Unsubscribe(topic string) (bool, error)

	// Publish broadcasts data on topic and returns a message id.
	Publish(ctx context.Context, topic string, data []byte) (string, error)

	// Dial connects to a peer at the given multiaddr-style address.
	Dial(ctx context.Context, addr string) error

	// Peers reports mesh-peers and all-known-peers for topic.
	Peers(topic string) (mesh []string, all []string)

	// PeerCounts reports mesh/all peer counts for topic.
	PeerCounts(topic string) PeerCounts

	// NetworkInfo reports the commander's current connectivity summary.
	NetworkInfo() NetworkInfo

	// ValidateMessage reports the orchestrator's verdict on a delivered
	// message back to the transport, by message id and source peer.
	ValidateMessage(messageID, sourcePeer string, verdict Acceptance) error

	// Shutdown tears down all connections and subscriptions.
	Shutdown(ctx context.Context) error

	// Protocol returns this commander's identity string, used to stamp
	// outgoing envelopes' version field.
	Protocol() string

	// Inbound returns the channel messages from all subscribed topics are
	// delivered on, in the order the transport received them per topic.
	Inbound() <-chan InboundMessage
}
