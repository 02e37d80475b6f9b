// Package metrics exposes the node's Prometheus instrumentation: peer
// connectivity, task throughput, and publish outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "compute_node"

// Registry is the node's dedicated Prometheus registry, kept separate from
// the global default so tests can instantiate fresh collectors.
var Registry = prometheus.NewRegistry()

var (
	// PeerCount tracks the last observed mesh/all peer counts per topic.
	PeerCount = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "peers",
			Name:      "count",
			Help:      "Observed peer count by topic and kind (mesh, all)",
		},
		[]string{"topic", "kind"},
	)

	// TasksAccepted counts task envelopes accepted into the worker pool.
	TasksAccepted = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "accepted_total",
			Help:      "Total number of task requests accepted into the worker pool",
		},
	)

	// TasksCompleted counts worker outputs by result kind.
	TasksCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "completed_total",
			Help:      "Total number of worker task completions by result",
		},
		[]string{"result"}, // success, expired, cancelled, executor_error
	)

	// PublishesTotal counts outgoing envelope publishes by topic and
	// outcome.
	PublishesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "total",
			Help:      "Total number of envelope publishes by topic and outcome",
		},
		[]string{"topic", "outcome"}, // success, error
	)

	// RegistryRefreshes counts available-nodes registry refresh attempts.
	RegistryRefreshes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "refreshes_total",
			Help:      "Total number of available-nodes registry refresh attempts by outcome",
		},
		[]string{"outcome"}, // success, error
	)
)

// Handler returns the HTTP handler serving this node's metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
