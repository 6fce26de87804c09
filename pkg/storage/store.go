package storage

import (
	"github.com/cuemby/hangar/pkg/types"
)

// Store defines the interface for local state storage.
// Lookups of missing entries return a *faults.NotFoundError.
type Store interface {
	// Secrets
	PutSecret(secret *types.SecretRecord) error
	GetSecret(key string) (*types.SecretRecord, error)
	ListSecrets() ([]*types.SecretRecord, error)
	DeleteSecret(key string) error

	// Nodes
	CreateNode(node *types.NodeConfig) error
	GetNode(name string) (*types.NodeConfig, error)
	ListNodes() ([]*types.NodeConfig, error)
	DeleteNode(name string) error

	// Resources
	UpsertResource(resource *types.ResourceRecord) error
	GetResource(node string, vmid int) (*types.ResourceRecord, error)
	ListResources() ([]*types.ResourceRecord, error)
	ListResourcesByNode(node string) ([]*types.ResourceRecord, error)

	// Utility
	Close() error
}
