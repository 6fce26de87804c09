package types

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIPath is the path prefix of the Proxmox JSON API
const APIPath = "/api2/json"

// SecretRecord is the persisted form of a stored secret.
// Ciphertext holds the base64 envelope and never leaves the vault.
type SecretRecord struct {
	Key         string    `json:"key"`
	Ciphertext  string    `json:"ciphertext"`
	Description string    `json:"description,omitempty"`
	Encrypted   bool      `json:"encrypted"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SecretMetadata is the caller-visible view of a secret
type SecretMetadata struct {
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
	Encrypted   bool      `json:"encrypted"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Metadata strips the ciphertext from a record
func (r *SecretRecord) Metadata() *SecretMetadata {
	return &SecretMetadata{
		Key:         r.Key,
		Description: r.Description,
		Encrypted:   r.Encrypted,
		UpdatedAt:   r.UpdatedAt,
	}
}

// NodeConfig describes one hypervisor node of the control plane
type NodeConfig struct {
	Name          string    `json:"name" yaml:"name"`
	Host          string    `json:"host" yaml:"host"` // hostname or URL
	Port          int       `json:"port" yaml:"port"`
	Username      string    `json:"username" yaml:"username"`
	Realm         string    `json:"realm" yaml:"realm"`
	CredentialRef string    `json:"credential_ref" yaml:"credential_ref"` // secret key of the password
	InsecureTLS   bool      `json:"insecure_tls" yaml:"insecure_tls"`
	CreatedAt     time.Time `json:"created_at" yaml:"-"`
}

// DefaultNodePort is the Proxmox API port
const DefaultNodePort = 8006

// DefaultRealm is used when a node has no realm configured
const DefaultRealm = "pam"

// BaseURL returns the API root of the node, e.g. https://pve1:8006/api2/json
func (n *NodeConfig) BaseURL() (string, error) {
	raw := strings.TrimSpace(n.Host)
	if raw == "" {
		return "", fmt.Errorf("node %s has no host", n.Name)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("node %s has invalid host %q: %w", n.Name, n.Host, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("node %s has invalid host %q", n.Name, n.Host)
	}

	if u.Port() == "" && n.Port > 0 {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(n.Port))
	}

	u.Path = strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(u.Path, APIPath) {
		u.Path += APIPath
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// LoginRealm returns the configured realm or the default one
func (n *NodeConfig) LoginRealm() string {
	if n.Realm == "" {
		return DefaultRealm
	}
	return n.Realm
}

// ResourceType is the kind of a compute resource
type ResourceType string

const (
	ResourceTypeVM        ResourceType = "vm"
	ResourceTypeContainer ResourceType = "container"
)

// ParseResourceType accepts both the local names and the Proxmox ones (qemu, lxc)
func ParseResourceType(s string) (ResourceType, bool) {
	switch strings.ToLower(s) {
	case "vm", "qemu":
		return ResourceTypeVM, true
	case "container", "lxc", "ct":
		return ResourceTypeContainer, true
	}
	return "", false
}

// PathSegment returns the Proxmox API segment for the type
func (t ResourceType) PathSegment() string {
	switch t {
	case ResourceTypeVM:
		return "qemu"
	case ResourceTypeContainer:
		return "lxc"
	}
	return ""
}

// Action is a state transition that can be issued against a resource
type Action string

const (
	ActionStart    Action = "start"
	ActionStop     Action = "stop"
	ActionShutdown Action = "shutdown"
	ActionReboot   Action = "reboot"
)

// Valid reports whether the action is one of the supported transitions
func (a Action) Valid() bool {
	switch a {
	case ActionStart, ActionStop, ActionShutdown, ActionReboot:
		return true
	}
	return false
}

// ResourceRecord is the local inventory row of a remote VM or container.
// (VMID, Node) is the natural key.
type ResourceRecord struct {
	VMID          int          `json:"vmid"`
	Node          string       `json:"node"`
	Type          ResourceType `json:"type"`
	Name          string       `json:"name"`
	Status        string       `json:"status"`
	CPUUsagePct   *float64     `json:"cpu_usage_pct,omitempty"`
	MemoryUsedMB  *int64       `json:"memory_used_mb,omitempty"`
	MemoryTotalMB *int64       `json:"memory_total_mb,omitempty"`
	DiskUsedGB    *int64       `json:"disk_used_gb,omitempty"`
	DiskTotalGB   *int64       `json:"disk_total_gb,omitempty"`
	UptimeSec     *int64       `json:"uptime_sec,omitempty"`
	LastSyncedAt  time.Time    `json:"last_synced_at"`
}

// ResourceKey builds the storage key of a resource row
func ResourceKey(node string, vmid int) string {
	return node + "/" + strconv.Itoa(vmid)
}

// Key returns the storage key of the record
func (r *ResourceRecord) Key() string {
	return ResourceKey(r.Node, r.VMID)
}
