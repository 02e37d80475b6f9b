// Package nodes implements the available-nodes registry: the merged set of
// bootstrap, relay, and RPC peers a node dials and accepts task traffic
// from, sourced from static defaults, environment overrides, and a
// periodically refreshed HTTP admin endpoint.
package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sage-x-project/compute-node/internal/nodeerr"
)

// RefreshInterval is the minimum spacing between successful
// PopulateWithAPI calls triggered by inbound traffic.
const RefreshInterval = 30 * time.Second

// Peer is a (peer-id, multiaddr) pair as carried in admin-registry
// responses and environment override lists.
type Peer struct {
	ID        string
	Multiaddr string
}

// NetworkType selects which admin-registry endpoint a node refreshes
// against.
type NetworkType string

const (
	NetworkMainnet NetworkType = "mainnet"
	NetworkTestnet NetworkType = "testnet"
	NetworkDev     NetworkType = "dev"
)

// adminEndpoints maps each recognized network type to its admin-registry
// base URL. Dev defaults to a loopback address. SetAdminEndpoint replaces
// the looked-up URL for a single registry.
var adminEndpoints = map[NetworkType]string{
	NetworkMainnet: "https://mainnet.dkn.example/api/available-nodes",
	NetworkTestnet: "https://testnet.dkn.example/api/available-nodes",
	NetworkDev:     "http://127.0.0.1:8080/api/available-nodes",
}

// apiResponse mirrors the admin registry's JSON shape.
type apiResponse struct {
	Bootstrap []string `json:"bootstrap"`
	Relay     []string `json:"relay"`
	RPC       struct {
		Addresses []string `json:"addresses"`
		Peers     []string `json:"peers"`
	} `json:"rpc"`
}

// EnvOverrides carries the bootstrap/relay/RPC override lists read from
// environment configuration. The peer IDs of the RPC entries are added to
// the authorized key set.
type EnvOverrides struct {
	Bootstrap []Peer
	Relay     []Peer
	RPC       []Peer
}

// AvailableNodes holds the three disjoint peer sets a node uses to dial
// and authorize, plus the RPC-authorized key set gating inbound listen
// topics. All mutating methods are safe for concurrent use.
type AvailableNodes struct {
	mu sync.RWMutex

	network  NetworkType
	client   *http.Client
	endpoint string

	bootstrap map[string]Peer
	relay     map[string]Peer
	rpc       map[string]Peer

	authorizedKeys map[string]struct{}

	lastRefreshed time.Time
}

// SetAdminEndpoint overrides the admin registry URL used by PopulateWithAPI,
// bypassing the network-type lookup table. Used by deployments with a
// custom admin endpoint and by tests.
func (a *AvailableNodes) SetAdminEndpoint(url string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.endpoint = url
}

// New constructs an empty registry for the given network type. Callers
// populate it via PopulateWithStatics/PopulateWithEnv/PopulateWithAPI.
func New(network NetworkType) *AvailableNodes {
	return &AvailableNodes{
		network:        network,
		client:         &http.Client{Timeout: 10 * time.Second},
		bootstrap:      make(map[string]Peer),
		relay:          make(map[string]Peer),
		rpc:            make(map[string]Peer),
		authorizedKeys: make(map[string]struct{}),
	}
}

// StaticPeer is a compiled-in default peer, independent of environment or
// network configuration.
type StaticPeer struct {
	Set  string // "bootstrap", "relay", or "rpc"
	Peer Peer
}

// PopulateWithStatics adds the module's compiled-in default peers. Static
// lists only ever augment; they never remove existing entries.
func (a *AvailableNodes) PopulateWithStatics(statics []StaticPeer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range statics {
		a.addLocked(s.Set, s.Peer)
	}
}

// PopulateWithEnv merges the bootstrap/relay/RPC override lists read from
// environment configuration. Like statics, environment entries augment the
// existing sets rather than replacing them.
func (a *AvailableNodes) PopulateWithEnv(env EnvOverrides) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range env.Bootstrap {
		a.addLocked("bootstrap", p)
	}
	for _, p := range env.Relay {
		a.addLocked("relay", p)
	}
	for _, p := range env.RPC {
		a.addLocked("rpc", p)
		a.authorizedKeys[p.ID] = struct{}{}
	}
}

// CanRefresh reports whether at least RefreshInterval has elapsed since the
// last successful PopulateWithAPI call.
func (a *AvailableNodes) CanRefresh() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return time.Since(a.lastRefreshed) >= RefreshInterval
}

// LastRefreshed reports the timestamp of the last successful
// PopulateWithAPI call, or the zero time if it has never succeeded.
func (a *AvailableNodes) LastRefreshed() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastRefreshed
}

// PopulateWithAPI fetches the admin registry's current peer set over HTTP.
// Bootstrap and relay sets are augmented; the RPC set is replaced wholesale
// since the admin registry is the source of truth for the coordinator set.
// On HTTP failure or malformed response, the previous state is retained and
// the error returned for the caller to log; the last-refreshed timestamp
// only advances on success.
func (a *AvailableNodes) PopulateWithAPI(ctx context.Context) error {
	url := a.endpoint
	if url == "" {
		var ok bool
		url, ok = adminEndpoints[a.network]
		if !ok {
			return nodeerr.New(nodeerr.Registry, "refresh available nodes", fmt.Errorf("no admin endpoint configured for network %q", a.network))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nodeerr.New(nodeerr.Transport, "build admin registry request", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nodeerr.New(nodeerr.Transport, "fetch admin registry", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nodeerr.New(nodeerr.Transport, "fetch admin registry", fmt.Errorf("admin registry returned status %d", resp.StatusCode))
	}

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nodeerr.New(nodeerr.Codec, "decode admin registry response", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, addr := range parsed.Bootstrap {
		a.addLocked("bootstrap", Peer{Multiaddr: addr})
	}
	for _, addr := range parsed.Relay {
		a.addLocked("relay", Peer{Multiaddr: addr})
	}

	a.rpc = make(map[string]Peer, len(parsed.RPC.Addresses))
	a.authorizedKeys = make(map[string]struct{}, len(parsed.RPC.Peers))
	for i, addr := range parsed.RPC.Addresses {
		var id string
		if i < len(parsed.RPC.Peers) {
			id = parsed.RPC.Peers[i]
		}
		a.rpc[rpcKey(id, addr)] = Peer{ID: id, Multiaddr: addr}
		if id != "" {
			a.authorizedKeys[id] = struct{}{}
		}
	}

	a.lastRefreshed = time.Now()
	return nil
}

// IsAuthorized reports whether peerID belongs to the RPC-authorized key
// set, the sole gate for inbound listen-topic senders.
func (a *AvailableNodes) IsAuthorized(peerID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.authorizedKeys[peerID]
	return ok
}

// Bootstrap returns a snapshot of the bootstrap peer set.
func (a *AvailableNodes) Bootstrap() []Peer { return a.snapshot(a.bootstrapLocked) }

// Relay returns a snapshot of the relay peer set.
func (a *AvailableNodes) Relay() []Peer { return a.snapshot(a.relayLocked) }

// RPC returns a snapshot of the RPC peer set.
func (a *AvailableNodes) RPC() []Peer { return a.snapshot(a.rpcLocked) }

func (a *AvailableNodes) bootstrapLocked() map[string]Peer { return a.bootstrap }
func (a *AvailableNodes) relayLocked() map[string]Peer     { return a.relay }
func (a *AvailableNodes) rpcLocked() map[string]Peer       { return a.rpc }

func (a *AvailableNodes) snapshot(set func() map[string]Peer) []Peer {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m := set()
	out := make([]Peer, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	return out
}

func (a *AvailableNodes) addLocked(set string, p Peer) {
	key := rpcKey(p.ID, p.Multiaddr)
	switch set {
	case "bootstrap":
		a.bootstrap[key] = p
	case "relay":
		a.relay[key] = p
	case "rpc":
		a.rpc[key] = p
	}
}

func rpcKey(id, multiaddr string) string {
	if id != "" {
		return id
	}
	return multiaddr
}
