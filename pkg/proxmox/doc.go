/*
Package proxmox implements controlplane.ControlPlane for Proxmox VE.

# Protocol

	POST {base}/access/ticket            form: username, password, realm
	     -> {"data": {"ticket": ..., "CSRFPreventionToken": ...}}
	GET  {base}/cluster/resources        Cookie: PVEAuthCookie=<ticket>
	     -> {"data": [{"type": "qemu", "vmid": 100, "node": "pve1", ...}, ...]}
	POST {base}/nodes/{node}/{qemu|lxc}/{vmid}/status/{action}
	     Cookie + CSRFPreventionToken header
	     -> {"data": "UPID:..."}

{base} is NodeConfig.BaseURL(), for example https://pve1:8006/api2/json.

# Failure handling

A rejected login is a *faults.AuthenticationError that names the node and never
the password. Any other non-2xx response, and any transport failure including a
timeout, is a *faults.RemoteAPIError. The client never retries.
*/
package proxmox
