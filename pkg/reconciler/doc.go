/*
Package reconciler mirrors the VMs and containers of every configured Proxmox
node into local storage.

Local storage is the system of record for display: the inventory shown to users
is always read back from the store, never straight from a node. The reconciler
keeps that mirror eventually consistent with the remote control planes.

# Architecture

A pass fans out over all nodes. Each node is handled by its own goroutine, bounded
by Config.Concurrency through an errgroup:

	┌──────────────────────────────────────────────┐
	│              Reconcile(ctx)                  │
	└──────────────────────┬───────────────────────┘
	                       │ ListNodes
	        ┌──────────────┼──────────────┐
	        ▼              ▼              ▼
	   ┌─────────┐    ┌─────────┐    ┌─────────┐
	   │ node A  │    │ node B  │    │ node C  │
	   └────┬────┘    └────┬────┘    └────┬────┘
	        │ Authenticate │              │
	        │ ListResources│              │
	        │ filter + normalize          │
	        ▼              ▼              ▼
	   ┌──────────────────────────────────────────┐
	   │     UpsertResource keyed by node/vmid    │
	   └──────────────────────────────────────────┘
	                       │
	                       ▼
	              ListResources (all rows)

Within a node, authentication completes before the listing call and the listing
completes before any upsert. There is no ordering between nodes.

# Failure Isolation

A node that fails to authenticate, times out, or answers a listing with a non-2xx
status is skipped. Its error lands in Result.NodeErrors and its rows keep their last
known values. A pass where every node fails still returns the stored inventory.

Only local storage failures abort a pass and are returned as an error.

# Normalization

The cluster resource listing includes storage, pools and node entries; only
"qemu" and "lxc" entries are kept, and only those whose node field matches the node
being synced. Units are converted once, when the row is written:

	cpu      fraction  → CPUUsagePct   (×100)
	mem      bytes     → MemoryUsedMB  (÷1048576)
	maxmem   bytes     → MemoryTotalMB (÷1048576)
	disk     bytes     → DiskUsedGB    (÷1073741824)
	maxdisk  bytes     → DiskTotalGB   (÷1073741824)
	uptime   seconds   → UptimeSec

Fields absent from the listing stay nil. Rows for resources that disappeared
remotely are retained.

# Usage

	r := reconciler.NewReconciler(store, proxmoxClient, broker, reconciler.Config{
		Interval:    time.Minute,
		Concurrency: 8,
	})

	// On demand
	result, err := r.Reconcile(ctx)

	// In the background
	r.Start()
	defer r.Stop()

Passes never overlap; an on-demand sync waits for a running background pass.

# Metrics

  - hangar_reconciliation_duration_seconds: duration of each pass
  - hangar_reconciliation_cycles_total: completed passes
  - hangar_node_sync_failures_total{node}: skipped nodes
  - hangar_resources_synced_total: rows written
*/
package reconciler
