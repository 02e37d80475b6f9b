package health

import (
	"context"
	"fmt"
	"time"

	"github.com/sage-x-project/compute-node/envelope"
	"github.com/sage-x-project/compute-node/p2p"
	"github.com/sage-x-project/compute-node/registry/nodes"
)

// registryStaleThreshold is how old LastRefreshed may be (three of the
// registry's own refresh intervals) before the check reports unhealthy.
const registryStaleThreshold = 3 * nodes.RefreshInterval

// PeerConnectivityCheck reports unhealthy when the commander has no
// connections at all, and degraded when it is connected but has no peers
// on the ping topic to serve liveness traffic.
func PeerConnectivityCheck(commander p2p.Commander) HealthCheck {
	return func(ctx context.Context) error {
		info := commander.NetworkInfo()
		if info.ConnectedTo == 0 {
			return fmt.Errorf("no connected peers")
		}

		counts := commander.PeerCounts(envelope.TopicPing)
		if counts.All == 0 {
			return &DegradedError{Message: "no peers on ping topic"}
		}
		return nil
	}
}

// RegistryFreshnessCheck reports unhealthy once the available-nodes
// registry has gone unrefreshed for longer than registryStaleThreshold,
// and degraded if it has never successfully refreshed at all.
func RegistryFreshnessCheck(registry *nodes.AvailableNodes) HealthCheck {
	return func(ctx context.Context) error {
		last := registry.LastRefreshed()
		if last.IsZero() {
			return &DegradedError{Message: "registry has never refreshed"}
		}
		if age := time.Since(last); age > registryStaleThreshold {
			return fmt.Errorf("registry stale for %s", age)
		}
		return nil
	}
}
