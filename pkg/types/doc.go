/*
Package types defines the data model shared by Hangar's components.

# Core Types

Secrets:
  - SecretRecord: persisted envelope of a secret (ciphertext + metadata)
  - SecretMetadata: the view returned to callers, never containing ciphertext

Control plane:
  - NodeConfig: a hypervisor node, keyed by its unique Name
  - ResourceType: vm or container (qemu or lxc on the wire)
  - Action: start, stop, shutdown or reboot

Inventory:
  - ResourceRecord: local mirror of a remote VM or container, keyed by (VMID, Node)

# Keys

Resource rows are stored under "<node>/<vmid>". Node names are validated on creation
so they cannot contain a slash, which keeps the key unambiguous.
*/
package types
