package manager

import (
	"sync"
	"time"

	"github.com/cuemby/hangar/pkg/metrics"
)

// collectInterval is how often the gauges are refreshed
const collectInterval = 15 * time.Second

// MetricsCollector refreshes inventory gauges from the store
type MetricsCollector struct {
	manager  *Manager
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(mgr *Manager) *MetricsCollector {
	return &MetricsCollector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(collectInterval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *MetricsCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *MetricsCollector) collect() {
	c.collectNodeMetrics()
	c.collectResourceMetrics()
	c.collectSecretMetrics()
}

func (c *MetricsCollector) collectNodeMetrics() {
	nodes, err := c.manager.store.ListNodes()
	if err != nil {
		return
	}
	metrics.NodesTotal.Set(float64(len(nodes)))
}

func (c *MetricsCollector) collectResourceMetrics() {
	resources, err := c.manager.store.ListResources()
	if err != nil {
		return
	}

	type key struct{ node, rtype, status string }
	counts := make(map[key]int)
	for _, r := range resources {
		counts[key{r.Node, string(r.Type), r.Status}]++
	}

	// Removed nodes must not keep reporting their last counts
	metrics.ResourcesTotal.Reset()
	for k, count := range counts {
		metrics.ResourcesTotal.WithLabelValues(k.node, k.rtype, k.status).Set(float64(count))
	}
}

func (c *MetricsCollector) collectSecretMetrics() {
	secrets, err := c.manager.store.ListSecrets()
	if err != nil {
		return
	}
	metrics.SecretsTotal.Set(float64(len(secrets)))
}
