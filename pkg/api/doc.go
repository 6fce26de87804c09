/*
Package api serves Hangar over HTTP/JSON.

The server is a thin layer over manager.Manager: every handler decodes its
input, calls one Manager method and encodes the result. Errors are mapped to
status codes from their errdefs class, so handlers never inspect concrete
error types.

# Endpoints

Probes and metrics:

	GET  /health              liveness, always 200 while the process runs
	GET  /health/components   per-component health registry
	GET  /ready               200 once storage answers and the vault is loaded
	GET  /metrics             Prometheus exposition

Inventory and control:

	POST /v1/inventory/sync                              run one reconciliation pass
	GET  /v1/inventory[?node=NAME]                       stored rows
	POST /v1/nodes/{node}/{type}/{vmid}/status/{action}  202 with the task UPID

{type} accepts vm, qemu, container, lxc or ct. {action} is one of start, stop,
shutdown or reboot.

Nodes:

	GET    /v1/nodes
	POST   /v1/nodes          body: node fields plus "password"
	GET    /v1/nodes/{node}
	DELETE /v1/nodes/{node}   also removes the node's inventory rows

Secrets (values go in, never out):

	GET    /v1/secrets
	PUT    /v1/secrets/{key}  body: {"value": "...", "description": "..."}
	GET    /v1/secrets/{key}  metadata only
	DELETE /v1/secrets/{key}

Keys may contain slashes, e.g. /v1/secrets/node/pve1/password.

# Error Mapping

	invalid argument      400
	not found             404
	already exists        409
	read-only violation   403
	node auth rejected    502
	node unavailable      502
	node timeout          504
	configuration         412
	anything else         500

Failed requests carry {"error": "...", "kind": "..."}. A sync where some nodes
failed still answers 200 and lists the failures under "node_errors".

# Middleware

Every request is logged at debug level. Options.ReadOnly rejects all methods
other than GET, HEAD and OPTIONS with 403, leaving probes and metrics
reachable.
*/
package api
