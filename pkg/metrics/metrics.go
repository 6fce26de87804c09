package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inventory metrics
	NodesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hangar_nodes_total",
			Help: "Total number of configured control-plane nodes",
		},
	)

	ResourcesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hangar_resources_total",
			Help: "Total number of inventory rows by node, type and status",
		},
		[]string{"node", "type", "status"},
	)

	SecretsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hangar_secrets_total",
			Help: "Total number of stored secrets",
		},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hangar_reconciliation_duration_seconds",
			Help:    "Time taken by one inventory reconciliation pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hangar_reconciliation_cycles_total",
			Help: "Total number of inventory reconciliation passes",
		},
	)

	NodeSyncFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hangar_node_sync_failures_total",
			Help: "Total number of failed node syncs by node",
		},
		[]string{"node"},
	)

	ResourcesSyncedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hangar_resources_synced_total",
			Help: "Total number of remote resources upserted into the inventory",
		},
	)

	// Control plane metrics
	ControlPlaneRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hangar_controlplane_request_duration_seconds",
			Help:    "Control-plane API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ControlActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hangar_control_actions_total",
			Help: "Total number of resource control commands by action and result",
		},
		[]string{"action", "result"},
	)

	// Vault metrics
	SecretDecryptFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hangar_secret_decrypt_failures_total",
			Help: "Total number of secrets that failed to decrypt",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(ResourcesTotal)
	prometheus.MustRegister(SecretsTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(NodeSyncFailuresTotal)
	prometheus.MustRegister(ResourcesSyncedTotal)
	prometheus.MustRegister(ControlPlaneRequestDuration)
	prometheus.MustRegister(ControlActionsTotal)
	prometheus.MustRegister(SecretDecryptFailuresTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
