package p2p

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wireMessage is what actually travels over a wsgossip connection: a
// message id (for dedup/loop prevention), the topic it was published on,
// and the opaque payload bytes (an envelope.Message, JSON-encoded, from the
// caller's perspective).
type wireMessage struct {
	ID    string `json:"id"`
	Topic string `json:"topic"`
	Data  []byte `json:"data"`
}

// WSGossip is a flood-pubsub Commander implementation over WebSocket
// connections: every connected peer receives every publish regardless of
// topic, re-floods first-seen messages to its other peers, and delivers to
// Inbound() only the topics it has subscribed to. It stands in for a full
// libp2p/gossipsub transport.
type WSGossip struct {
	protocol   string
	listenAddr string

	upgrader websocket.Upgrader
	dialer   websocket.Dialer

	httpServer *http.Server

	mu      sync.RWMutex
	peers   map[string]*peerConn
	topics  map[string]struct{}
	seen    map[string]time.Time
	inbound chan InboundMessage

	closeOnce sync.Once
}

type peerConn struct {
	addr string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *peerConn) writeJSON(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteJSON(v)
}

// NewWSGossip constructs a gossip commander that listens on listenAddr (if
// non-empty) for inbound peer connections and identifies itself as
// protocol in outgoing envelopes.
func NewWSGossip(listenAddr, protocol string) *WSGossip {
	g := &WSGossip{
		protocol:   protocol,
		listenAddr: listenAddr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		dialer:  websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		peers:   make(map[string]*peerConn),
		topics:  make(map[string]struct{}),
		seen:    make(map[string]time.Time),
		inbound: make(chan InboundMessage, 256),
	}
	return g
}

// Listen starts accepting inbound peer connections on g.listenAddr, serving
// the /gossip endpoint from its own HTTP server. It is separate from
// construction so callers can skip it entirely for a dial-only node; with
// an empty listenAddr it does nothing.
func (g *WSGossip) Listen() error {
	if g.listenAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/gossip", g.handleInbound)

	ln, err := net.Listen("tcp", g.listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", g.listenAddr, err)
	}

	g.httpServer = &http.Server{Handler: mux}
	go func() {
		_ = g.httpServer.Serve(ln)
	}()
	return nil
}

func (g *WSGossip) handleInbound(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	peer := &peerConn{addr: r.RemoteAddr, conn: conn}
	g.mu.Lock()
	g.peers[peer.addr] = peer
	g.mu.Unlock()

	g.readLoop(peer)
}

// Subscribe marks topic as one this commander delivers to Inbound().
func (g *WSGossip) Subscribe(topic string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.topics[topic] = struct{}{}
	return nil
}

// Unsubscribe removes topic from the delivered set, reporting whether it
// was actually subscribed.
func (g *WSGossip) Unsubscribe(topic string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, existed := g.topics[topic]
	delete(g.topics, topic)
	return existed, nil
}

// Publish floods data on topic to every connected peer and returns a fresh
// message id.
func (g *WSGossip) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	id := uuid.NewString()
	msg := wireMessage{ID: id, Topic: topic, Data: data}

	g.mu.Lock()
	g.seen[id] = time.Now()
	peers := make([]*peerConn, 0, len(g.peers))
	for _, p := range g.peers {
		peers = append(peers, p)
	}
	g.mu.Unlock()

	var firstErr error
	for _, p := range peers {
		if err := p.writeJSON(msg); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("publish to peer %s: %w", p.addr, err)
		}
	}
	return id, firstErr
}

// Dial connects outward to a peer's /gossip endpoint and begins reading
// messages from it.
func (g *WSGossip) Dial(ctx context.Context, addr string) error {
	conn, _, err := g.dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("dial peer %s: %w", addr, err)
	}
	peer := &peerConn{addr: addr, conn: conn}

	g.mu.Lock()
	g.peers[addr] = peer
	g.mu.Unlock()

	go g.readLoop(peer)
	return nil
}

func (g *WSGossip) readLoop(peer *peerConn) {
	defer func() {
		g.mu.Lock()
		delete(g.peers, peer.addr)
		g.mu.Unlock()
		_ = peer.conn.Close()
	}()

	for {
		var msg wireMessage
		if err := peer.conn.ReadJSON(&msg); err != nil {
			return
		}
		g.deliver(peer, msg)
	}
}

func (g *WSGossip) deliver(from *peerConn, msg wireMessage) {
	g.mu.Lock()
	if _, dup := g.seen[msg.ID]; dup {
		g.mu.Unlock()
		return
	}
	g.seen[msg.ID] = time.Now()
	_, subscribed := g.topics[msg.Topic]
	peers := make([]*peerConn, 0, len(g.peers))
	for _, p := range g.peers {
		if p != from {
			peers = append(peers, p)
		}
	}
	g.mu.Unlock()

	for _, p := range peers {
		_ = p.writeJSON(msg)
	}

	if !subscribed {
		return
	}

	select {
	case g.inbound <- InboundMessage{
		MessageID:  msg.ID,
		Topic:      msg.Topic,
		SourcePeer: from.addr,
		Data:       msg.Data,
	}:
	default:
		// inbound channel full; drop rather than block the read loop.
	}
}

// Inbound returns the channel delivered messages for subscribed topics
// arrive on.
func (g *WSGossip) Inbound() <-chan InboundMessage { return g.inbound }

// Peers reports the connected peer address set as both mesh and all peers;
// wsgossip has no distinct mesh-formation step.
func (g *WSGossip) Peers(topic string) (mesh []string, all []string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	addrs := make([]string, 0, len(g.peers))
	for addr := range g.peers {
		addrs = append(addrs, addr)
	}
	return addrs, addrs
}

// PeerCounts reports the connected peer count for topic.
func (g *WSGossip) PeerCounts(topic string) PeerCounts {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := len(g.peers)
	return PeerCounts{Mesh: n, All: n}
}

// NetworkInfo reports the commander's current connectivity summary.
func (g *WSGossip) NetworkInfo() NetworkInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	addrs := []string{}
	if g.listenAddr != "" {
		addrs = append(addrs, g.listenAddr)
	}
	return NetworkInfo{
		ListenAddrs:  addrs,
		ConnectedTo:  len(g.peers),
		ProtocolName: g.protocol,
	}
}

// ValidateMessage accepts the orchestrator's verdict on a delivered
// message. wsgossip has no peer-scoring substrate, so the verdict is
// discarded and nil is always returned.
func (g *WSGossip) ValidateMessage(messageID, sourcePeer string, verdict Acceptance) error {
	return nil
}

// Shutdown closes every peer connection and stops the inbound listener.
func (g *WSGossip) Shutdown(ctx context.Context) error {
	var err error
	g.closeOnce.Do(func() {
		g.mu.Lock()
		peers := make([]*peerConn, 0, len(g.peers))
		for _, p := range g.peers {
			peers = append(peers, p)
		}
		g.peers = make(map[string]*peerConn)
		g.mu.Unlock()

		for _, p := range peers {
			_ = p.conn.Close()
		}

		close(g.inbound)

		if g.httpServer != nil {
			err = g.httpServer.Shutdown(ctx)
		}
	})
	return err
}

// Protocol returns this commander's identity string.
func (g *WSGossip) Protocol() string { return g.protocol }

var _ Commander = (*WSGossip)(nil)
