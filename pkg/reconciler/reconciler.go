package reconciler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/hangar/pkg/controlplane"
	"github.com/cuemby/hangar/pkg/events"
	"github.com/cuemby/hangar/pkg/log"
	"github.com/cuemby/hangar/pkg/metrics"
	"github.com/cuemby/hangar/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultInterval is the pause between two background passes
	DefaultInterval = 60 * time.Second

	// DefaultConcurrency bounds how many nodes are synced at once
	DefaultConcurrency = 8

	bytesPerMB = 1 << 20
	bytesPerGB = 1 << 30
)

// Store is the persistence the reconciler needs
type Store interface {
	ListNodes() ([]*types.NodeConfig, error)
	UpsertResource(resource *types.ResourceRecord) error
	ListResources() ([]*types.ResourceRecord, error)
}

// Config holds reconciler configuration
type Config struct {
	// Interval between background passes (default: 60s)
	Interval time.Duration

	// Concurrency is the maximum number of nodes synced in parallel (default: 8)
	Concurrency int
}

// Result is the outcome of one reconciliation pass
type Result struct {
	// Records is every stored resource, including rows this pass did not touch
	Records []*types.ResourceRecord

	// SyncedCount is the number of remote entries written in this pass
	SyncedCount int

	// NodeErrors holds the failure of each node that could not be synced
	NodeErrors map[string]error
}

// Reconciler mirrors the resources of every configured node into local storage
type Reconciler struct {
	store    Store
	plane    controlplane.ControlPlane
	events   events.Publisher
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewReconciler creates a new reconciler
func NewReconciler(store Store, plane controlplane.ControlPlane, publisher events.Publisher, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if publisher == nil {
		publisher = events.Discard
	}
	return &Reconciler{
		store:  store,
		plane:  plane,
		events: publisher,
		cfg:    cfg,
		logger: log.WithComponent("reconciler"),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run()
	}()
}

// Stop stops the loop and returns once no pass is running, so the store can
// be closed safely afterwards
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()

	// Wait out an on-demand pass as well
	r.mu.Lock()
	defer r.mu.Unlock()
}

// run is the main reconciliation loop
func (r *Reconciler) run() {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.stopCh
		cancel()
	}()

	for {
		select {
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil {
				r.logger.Error().Err(err).Msg("Reconciliation failed")
			}
		case <-r.stopCh:
			return
		}
	}
}

// Reconcile runs one pass over every configured node.
// A node that cannot be reached is recorded in Result.NodeErrors and its rows keep
// their last known state; only a local storage failure is returned as an error.
func (r *Reconciler) Reconcile(ctx context.Context) (*Result, error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	// One pass at a time; the background loop and on-demand syncs share this
	r.mu.Lock()
	defer r.mu.Unlock()

	nodes, err := r.store.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	result := &Result{NodeErrors: make(map[string]error)}
	if len(nodes) == 0 {
		result.Records = []*types.ResourceRecord{}
		return result, nil
	}

	var resMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for _, node := range nodes {
		g.Go(func() error {
			synced, err := r.syncNode(gctx, node)

			resMu.Lock()
			result.SyncedCount += synced
			resMu.Unlock()

			if err == nil {
				return nil
			}
			if isStorageError(err) {
				return err
			}

			resMu.Lock()
			result.NodeErrors[node.Name] = err
			resMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	records, err := r.store.ListResources()
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Node != records[j].Node {
			return records[i].Node < records[j].Node
		}
		return records[i].VMID < records[j].VMID
	})
	if records == nil {
		records = []*types.ResourceRecord{}
	}
	result.Records = records

	metrics.ResourcesSyncedTotal.Add(float64(result.SyncedCount))
	r.events.Publish(&events.Event{
		Type:    events.EventInventorySynced,
		Message: fmt.Sprintf("synced %d resources from %d nodes", result.SyncedCount, len(nodes)-len(result.NodeErrors)),
		Metadata: map[string]string{
			"synced":       strconv.Itoa(result.SyncedCount),
			"failed_nodes": strconv.Itoa(len(result.NodeErrors)),
		},
	})

	r.logger.Info().
		Int("nodes", len(nodes)).
		Int("synced", result.SyncedCount).
		Int("failed_nodes", len(result.NodeErrors)).
		Dur("duration", timer.Duration()).
		Msg("Inventory reconciled")

	return result, nil
}

// storageError marks failures of local storage so they are not confused with node failures
type storageError struct {
	err error
}

func (e *storageError) Error() string { return e.err.Error() }

func (e *storageError) Unwrap() error { return e.err }

func isStorageError(err error) bool {
	_, ok := err.(*storageError)
	return ok
}

// syncNode authenticates against one node, lists its resources and upserts them.
// It returns how many rows were written.
func (r *Reconciler) syncNode(ctx context.Context, node *types.NodeConfig) (int, error) {
	logger := log.WithNode(r.logger, node.Name)

	session, err := r.plane.Authenticate(ctx, node)
	if err != nil {
		r.nodeFailed(logger, node, "authenticate", err)
		return 0, err
	}

	remote, err := r.plane.ListResources(ctx, node, session)
	if err != nil {
		r.nodeFailed(logger, node, "list resources", err)
		return 0, err
	}

	synced := 0
	for i := range remote {
		record, ok := normalize(node.Name, &remote[i], r.now())
		if !ok {
			continue
		}
		if err := r.store.UpsertResource(record); err != nil {
			return synced, &storageError{err: fmt.Errorf("failed to store resource %s: %w", record.Key(), err)}
		}
		synced++
	}

	logger.Debug().Int("synced", synced).Int("listed", len(remote)).Msg("Node synced")
	r.events.Publish(&events.Event{
		Type:    events.EventNodeSynced,
		Message: fmt.Sprintf("node %s synced", node.Name),
		Metadata: map[string]string{
			"node":   node.Name,
			"synced": strconv.Itoa(synced),
		},
	})
	return synced, nil
}

func (r *Reconciler) nodeFailed(logger zerolog.Logger, node *types.NodeConfig, step string, err error) {
	metrics.NodeSyncFailuresTotal.WithLabelValues(node.Name).Inc()
	logger.Warn().Err(err).Str("step", step).Msg("Skipping node")
	r.events.Publish(&events.Event{
		Type:    events.EventNodeSyncFailed,
		Message: fmt.Sprintf("node %s: %s failed", node.Name, step),
		Metadata: map[string]string{
			"node":  node.Name,
			"step":  step,
			"error": err.Error(),
		},
	})
}

// normalize converts a remote listing entry into a local record.
// Entries of other kinds (storage, pools, nodes) or owned by another node are rejected.
func normalize(nodeName string, remote *controlplane.RemoteResource, now time.Time) (*types.ResourceRecord, bool) {
	var rtype types.ResourceType
	switch remote.Type {
	case "qemu":
		rtype = types.ResourceTypeVM
	case "lxc":
		rtype = types.ResourceTypeContainer
	default:
		return nil, false
	}
	if remote.Node != nodeName {
		return nil, false
	}

	record := &types.ResourceRecord{
		VMID:          remote.VMID,
		Node:          nodeName,
		Type:          rtype,
		Name:          remote.Name,
		Status:        remote.Status,
		MemoryUsedMB:  divide(remote.Mem, bytesPerMB),
		MemoryTotalMB: divide(remote.MaxMem, bytesPerMB),
		DiskUsedGB:    divide(remote.Disk, bytesPerGB),
		DiskTotalGB:   divide(remote.MaxDisk, bytesPerGB),
		UptimeSec:     remote.Uptime,
		LastSyncedAt:  now,
	}
	if remote.CPU != nil {
		pct := *remote.CPU * 100
		record.CPUUsagePct = &pct
	}
	return record, true
}

func divide(v *int64, by int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v / by
	return &out
}
