/*
Package metrics exposes Prometheus metrics and component health for Hangar.

All collectors are package-level variables registered in init(), so any package
can update them without setup. Handler serves them for scraping.

# Metrics Catalog

Inventory:
  - hangar_nodes_total: configured control-plane nodes
  - hangar_resources_total{node,type,status}: inventory rows
  - hangar_secrets_total: stored secrets

Reconciler:
  - hangar_reconciliation_duration_seconds: one pass, all nodes
  - hangar_reconciliation_cycles_total
  - hangar_node_sync_failures_total{node}: authentication or listing failures
  - hangar_resources_synced_total: rows upserted

Control plane:
  - hangar_controlplane_request_duration_seconds{operation}
  - hangar_control_actions_total{action,result}

Vault:
  - hangar_secret_decrypt_failures_total

# Health

UpdateComponent records the state of a component. GetReadiness only considers the
critical components (storage and vault); an unreachable hypervisor degrades health
but never readiness, because the stored inventory can still be served.

# Timer

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)
*/
package metrics
