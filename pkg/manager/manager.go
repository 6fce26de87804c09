package manager

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/hangar/pkg/controller"
	"github.com/cuemby/hangar/pkg/controlplane"
	"github.com/cuemby/hangar/pkg/events"
	"github.com/cuemby/hangar/pkg/faults"
	"github.com/cuemby/hangar/pkg/log"
	"github.com/cuemby/hangar/pkg/metrics"
	"github.com/cuemby/hangar/pkg/proxmox"
	"github.com/cuemby/hangar/pkg/reconciler"
	"github.com/cuemby/hangar/pkg/security"
	"github.com/cuemby/hangar/pkg/storage"
	"github.com/cuemby/hangar/pkg/types"
	"github.com/cuemby/hangar/pkg/vault"
	"github.com/rs/zerolog"
)

// Manager wires storage, the vault, the control plane, the reconciler and the
// controller together and is the only entry point used by the API and the CLI
type Manager struct {
	store      storage.Store
	vault      *vault.Vault
	plane      controlplane.ControlPlane
	reconciler *reconciler.Reconciler
	controller *controller.Controller
	broker     *events.Broker
	journal    *events.Journal
	collector  *MetricsCollector
	logger     zerolog.Logger
}

// Config holds configuration for creating a Manager
type Config struct {
	// DataDir holds the bbolt database
	DataDir string

	// MasterKey encrypts every stored secret
	MasterKey security.MasterKey

	// Reconciler configures the background inventory sync
	Reconciler reconciler.Config

	// ControlPlane configures requests to Proxmox nodes
	ControlPlane proxmox.Config
}

// NewManager opens the store and builds every component on top of it
func NewManager(cfg *Config) (*Manager, error) {
	cipher, err := security.NewCipher(cfg.MasterKey)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	metrics.UpdateComponent(metrics.ComponentStorage, true, "bbolt store open")

	broker := events.NewBroker()
	v := vault.New(store, cipher, broker)
	metrics.UpdateComponent(metrics.ComponentVault, true, "master key loaded")

	plane := proxmox.NewClient(cfg.ControlPlane, v)

	m := &Manager{
		store:      store,
		vault:      v,
		plane:      plane,
		reconciler: reconciler.NewReconciler(store, plane, broker, cfg.Reconciler),
		controller: controller.New(store, plane, broker),
		broker:     broker,
		journal:    events.NewJournal(broker, log.WithComponent("events")),
		logger:     log.WithComponent("manager"),
	}
	m.collector = NewMetricsCollector(m)

	return m, nil
}

// Start launches the background loops: event distribution and journaling,
// metrics collection and periodic reconciliation
func (m *Manager) Start() {
	m.broker.Start()
	m.journal.Start()
	m.collector.Start()
	m.reconciler.Start()
	metrics.UpdateComponent(metrics.ComponentReconciler, true, "running")
	m.logger.Info().Msg("Manager started")
}

// Shutdown stops the background loops and closes the store
func (m *Manager) Shutdown() error {
	m.reconciler.Stop()
	m.collector.Stop()
	m.journal.Stop()
	m.broker.Stop()
	metrics.UpdateComponent(metrics.ComponentReconciler, false, "stopped")
	metrics.UpdateComponent(metrics.ComponentStorage, false, "closed")

	if err := m.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	m.logger.Info().Msg("Manager stopped")
	return nil
}

// EventBroker returns the broker events are published to
func (m *Manager) EventBroker() *events.Broker {
	return m.broker
}

// Inventory operations

// Reconcile runs one inventory pass over every node
func (m *Manager) Reconcile(ctx context.Context) (*reconciler.Result, error) {
	return m.reconciler.Reconcile(ctx)
}

// ListResources returns stored inventory rows, optionally only those of node
func (m *Manager) ListResources(ctx context.Context, node string) ([]*types.ResourceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		records []*types.ResourceRecord
		err     error
	)
	if node == "" {
		records, err = m.store.ListResources()
	} else {
		records, err = m.store.ListResourcesByNode(node)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Node != records[j].Node {
			return records[i].Node < records[j].Node
		}
		return records[i].VMID < records[j].VMID
	})
	return records, nil
}

// ControlResource issues one state transition against a remote resource
func (m *Manager) ControlResource(ctx context.Context, node string, vmid int, rtype types.ResourceType, action types.Action) (*controller.TaskHandle, error) {
	return m.controller.Control(ctx, node, vmid, rtype, action)
}

// Secret operations

// PutSecret encrypts and stores a secret
func (m *Manager) PutSecret(ctx context.Context, key, plaintext, description string) error {
	return m.vault.Put(ctx, key, plaintext, description)
}

// GetSecretMetadata returns a secret's metadata; the value never leaves the vault
func (m *Manager) GetSecretMetadata(ctx context.Context, key string) (*types.SecretMetadata, error) {
	return m.vault.Metadata(ctx, key)
}

// ListSecrets returns the metadata of every stored secret
func (m *Manager) ListSecrets(ctx context.Context) ([]*types.SecretMetadata, error) {
	return m.vault.List(ctx)
}

// DeleteSecret removes a secret
func (m *Manager) DeleteSecret(ctx context.Context, key string) error {
	return m.vault.Delete(ctx, key)
}

// Node operations

// CredentialKey is the secret key a node's password is stored under when
// the node is added with a password
func CredentialKey(node string) string {
	return "node/" + node + "/password"
}

// AddNode registers a Proxmox node. When password is not empty it is stored in
// the vault under CredentialKey(name) and CredentialRef may not name any other
// secret; otherwise CredentialRef must name an existing secret.
func (m *Manager) AddNode(ctx context.Context, node *types.NodeConfig, password string) error {
	if err := validateNode(node); err != nil {
		return err
	}

	if password == "" {
		if node.CredentialRef == "" {
			return faults.InvalidArgument("password", "a password or a credential reference is required")
		}
		if _, err := m.vault.Metadata(ctx, node.CredentialRef); err != nil {
			return fmt.Errorf("credential %s: %w", node.CredentialRef, err)
		}
	} else {
		switch node.CredentialRef {
		case "":
			node.CredentialRef = CredentialKey(node.Name)
		case CredentialKey(node.Name):
		default:
			// A password is only ever written to the node's own key
			return faults.InvalidArgument("credential_ref", "a password and a reference to another secret are mutually exclusive")
		}
	}

	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now()
	}
	if err := m.store.CreateNode(node); err != nil {
		return err
	}

	if password != "" {
		desc := fmt.Sprintf("password of %s on node %s", node.Username, node.Name)
		if err := m.vault.Put(ctx, node.CredentialRef, password, desc); err != nil {
			// Leave no node behind that cannot authenticate
			if delErr := m.store.DeleteNode(node.Name); delErr != nil {
				m.logger.Error().Err(delErr).Str("node", node.Name).Msg("Failed to roll back node")
			}
			return err
		}
	}

	m.logger.Info().Str("node", node.Name).Str("host", node.Host).Msg("Node added")
	m.broker.Publish(&events.Event{
		Type:     events.EventNodeAdded,
		Message:  fmt.Sprintf("node %s added", node.Name),
		Metadata: map[string]string{"node": node.Name, "host": node.Host},
	})
	return nil
}

// GetNode returns a node by name
func (m *Manager) GetNode(ctx context.Context, name string) (*types.NodeConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.store.GetNode(name)
}

// ListNodes returns every node sorted by name
func (m *Manager) ListNodes(ctx context.Context) ([]*types.NodeConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nodes, err := m.store.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes, nil
}

// RemoveNode deletes a node with its inventory rows. The stored password is
// deleted too when it was created by AddNode.
func (m *Manager) RemoveNode(ctx context.Context, name string) error {
	node, err := m.GetNode(ctx, name)
	if err != nil {
		return err
	}

	if err := m.store.DeleteNode(name); err != nil {
		return fmt.Errorf("failed to delete node %s: %w", name, err)
	}

	if node.CredentialRef == CredentialKey(name) {
		if err := m.vault.Delete(ctx, node.CredentialRef); err != nil {
			m.logger.Warn().Err(err).Str("node", name).Msg("Failed to delete node credential")
		}
	}

	m.logger.Info().Str("node", name).Msg("Node removed")
	m.broker.Publish(&events.Event{
		Type:     events.EventNodeRemoved,
		Message:  fmt.Sprintf("node %s removed", name),
		Metadata: map[string]string{"node": name},
	})
	return nil
}

func validateNode(node *types.NodeConfig) error {
	if node == nil {
		return faults.InvalidArgument("node", "node cannot be nil")
	}
	if node.Name == "" {
		return faults.InvalidArgument("name", "node name cannot be empty")
	}
	if strings.ContainsAny(node.Name, "/ ") {
		return faults.InvalidArgument("name", "node name %q cannot contain slashes or spaces", node.Name)
	}
	if node.Host == "" {
		return faults.InvalidArgument("host", "node host cannot be empty")
	}
	if node.Username == "" {
		return faults.InvalidArgument("username", "node username cannot be empty")
	}
	if _, err := node.BaseURL(); err != nil {
		return faults.InvalidArgument("host", "%v", err)
	}
	return nil
}
