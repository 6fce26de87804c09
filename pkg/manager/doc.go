/*
Package manager is the single entry point into Hangar's core.

A Manager owns the bbolt store and builds every component on top of it. The HTTP
API and the CLI only ever talk to a Manager; none of them reach the store, the
vault or a Proxmox node directly.

# Architecture

	┌──────────────── HTTP API / CLI ────────────────┐
	└───────────────────────┬────────────────────────┘
	                        │
	┌───────────────────────▼────────────────────────┐
	│                    Manager                     │
	│  Reconcile        ControlResource              │
	│  AddNode / RemoveNode / ListNodes              │
	│  PutSecret / GetSecretMetadata / ListSecrets   │
	└──┬──────────────┬──────────────┬───────────────┘
	   │              │              │
	   ▼              ▼              ▼
	┌────────┐  ┌────────────┐  ┌────────────┐
	│ Vault  │  │ Reconciler │  │ Controller │
	└───┬────┘  └─────┬──────┘  └─────┬──────┘
	    │             │ proxmox.Client│
	    │             └───────┬───────┘
	    │                     │ passwords from the Vault
	    ▼                     ▼
	┌────────────┐     ┌──────────────┐
	│ BoltStore  │     │ Proxmox nodes│
	└────────────┘     └──────────────┘

# Node Credentials

AddNode with a password stores it in the vault under "node/<name>/password" and
points the node's CredentialRef at it. RemoveNode deletes that secret together with
the node and its inventory rows. A node may instead reference a secret stored
beforehand; such shared secrets are left alone on removal.

Passwords are decrypted only inside proxmox.Client.Authenticate and are never
returned by a Manager method. Secret reads through the Manager return metadata.

# Lifecycle

	mgr, err := manager.NewManager(&manager.Config{
		DataDir:   "/var/lib/hangar",
		MasterKey: key,
	})
	if err != nil {
		return err
	}
	mgr.Start()
	defer mgr.Shutdown()

Start launches the event broker, the metrics collector (refreshing the node,
resource and secret gauges every 15 seconds) and the periodic reconciler.
*/
package manager
