package manager

import (
	"context"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/cuemby/hangar/pkg/proxmox"
	"github.com/cuemby/hangar/pkg/proxmox/proxmoxtest"
	"github.com/cuemby/hangar/pkg/security"
	"github.com/cuemby/hangar/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	key, err := security.DeriveKey("test-master-passphrase")
	require.NoError(t, err)

	m, err := NewManager(&Config{
		DataDir:      t.TempDir(),
		MasterKey:    key,
		ControlPlane: proxmox.Config{RequestTimeout: 2 * time.Second},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown() })
	return m
}

func TestNewManagerRequiresKey(t *testing.T) {
	_, err := NewManager(&Config{DataDir: t.TempDir()})
	assert.True(t, errdefs.IsFailedPrecondition(err))
}

func TestAddNodeStoresCredential(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	node := &types.NodeConfig{Name: "pve1", Host: "10.0.0.1", Username: "root"}
	require.NoError(t, m.AddNode(ctx, node, "hunter2"))

	got, err := m.GetNode(ctx, "pve1")
	require.NoError(t, err)
	assert.Equal(t, CredentialKey("pve1"), got.CredentialRef)
	assert.False(t, got.CreatedAt.IsZero())

	meta, err := m.GetSecretMetadata(ctx, CredentialKey("pve1"))
	require.NoError(t, err)
	assert.True(t, meta.Encrypted)

	plaintext, err := m.vault.Get(ctx, CredentialKey("pve1"))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plaintext)
}

func TestAddNodeDuplicate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.AddNode(ctx, &types.NodeConfig{Name: "pve1", Host: "10.0.0.1", Username: "root"}, "first"))
	err := m.AddNode(ctx, &types.NodeConfig{Name: "pve1", Host: "10.0.0.2", Username: "root"}, "second")
	assert.True(t, errdefs.IsAlreadyExists(err))

	plaintext, err := m.vault.Get(ctx, CredentialKey("pve1"))
	require.NoError(t, err)
	assert.Equal(t, "first", plaintext, "a rejected node must not replace the stored password")
}

func TestAddNodeWithExistingCredential(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	node := &types.NodeConfig{Name: "pve1", Host: "10.0.0.1", Username: "root", CredentialRef: "shared/root"}
	err := m.AddNode(ctx, node, "")
	assert.True(t, errdefs.IsNotFound(err))

	require.NoError(t, m.PutSecret(ctx, "shared/root", "pw", "shared root password"))
	require.NoError(t, m.AddNode(ctx, node, ""))

	// Shared credentials outlive the node
	require.NoError(t, m.RemoveNode(ctx, "pve1"))
	_, err = m.GetSecretMetadata(ctx, "shared/root")
	assert.NoError(t, err)
}

func TestAddNodePasswordWithForeignCredentialRef(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.PutSecret(ctx, "hetzner_api_key", "tok_abc123", "Hetzner token"))

	node := &types.NodeConfig{Name: "pve1", Host: "10.0.0.1", Username: "root", CredentialRef: "hetzner_api_key"}
	err := m.AddNode(ctx, node, "pvepass")
	assert.True(t, errdefs.IsInvalidArgument(err), "got %v", err)

	got, err := m.vault.Get(ctx, "hetzner_api_key")
	require.NoError(t, err)
	assert.Equal(t, "tok_abc123", got, "an unrelated secret must not be replaced")

	_, err = m.GetNode(ctx, "pve1")
	assert.True(t, errdefs.IsNotFound(err))

	// Naming the node's own key explicitly is the same as leaving it empty
	own := &types.NodeConfig{Name: "pve1", Host: "10.0.0.1", Username: "root", CredentialRef: CredentialKey("pve1")}
	require.NoError(t, m.AddNode(ctx, own, "pvepass"))
	pw, err := m.vault.Get(ctx, CredentialKey("pve1"))
	require.NoError(t, err)
	assert.Equal(t, "pvepass", pw)
}

func TestAddNodeValidation(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		name     string
		node     *types.NodeConfig
		password string
	}{
		{"nil node", nil, "pw"},
		{"empty name", &types.NodeConfig{Host: "h", Username: "root"}, "pw"},
		{"slash in name", &types.NodeConfig{Name: "a/b", Host: "h", Username: "root"}, "pw"},
		{"empty host", &types.NodeConfig{Name: "pve1", Username: "root"}, "pw"},
		{"empty username", &types.NodeConfig{Name: "pve1", Host: "h"}, "pw"},
		{"no credential", &types.NodeConfig{Name: "pve1", Host: "h", Username: "root"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.AddNode(context.Background(), tt.node, tt.password)
			assert.True(t, errdefs.IsInvalidArgument(err), "got %v", err)
		})
	}

	nodes, err := m.ListNodes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestSyncControlAndRemove(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	srv := proxmoxtest.NewServer(t, "root", "hunter2")
	srv.SetResources(
		map[string]any{"type": "qemu", "vmid": 100, "node": "pve1", "name": "web", "status": "running", "cpu": 0.5, "mem": 536870912, "maxmem": 1073741824},
		map[string]any{"type": "lxc", "vmid": 101, "node": "pve1", "name": "dns", "status": "stopped"},
	)
	require.NoError(t, m.AddNode(ctx, srv.Node("pve1"), "hunter2"))

	result, err := m.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.SyncedCount)
	assert.Empty(t, result.NodeErrors)

	records, err := m.ListResources(ctx, "pve1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 100, records[0].VMID)
	assert.Equal(t, int64(512), *records[0].MemoryUsedMB)

	handle, err := m.ControlResource(ctx, "pve1", 101, types.ResourceTypeContainer, types.ActionStart)
	require.NoError(t, err)
	assert.Contains(t, handle.UPID, "lxcstart:101")

	require.NoError(t, m.RemoveNode(ctx, "pve1"))

	records, err = m.ListResources(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = m.GetSecretMetadata(ctx, CredentialKey("pve1"))
	assert.True(t, errdefs.IsNotFound(err))

	err = m.RemoveNode(ctx, "pve1")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestReconcileSkipsUnreachableNode(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	good := proxmoxtest.NewServer(t, "root", "hunter2")
	good.SetResources(map[string]any{"type": "qemu", "vmid": 100, "node": "good", "status": "running"})
	require.NoError(t, m.AddNode(ctx, good.Node("good"), "hunter2"))

	bad := proxmoxtest.NewServer(t, "root", "hunter2")
	require.NoError(t, m.AddNode(ctx, bad.Node("bad"), "wrong"))

	result, err := m.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SyncedCount)
	assert.Len(t, result.Records, 1)
	require.Contains(t, result.NodeErrors, "bad")
	assert.True(t, errdefs.IsUnauthorized(result.NodeErrors["bad"]))
}

func TestSecrets(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.PutSecret(ctx, "b", "two", ""))
	require.NoError(t, m.PutSecret(ctx, "a", "one", "first"))

	list, err := m.ListSecrets(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Key)

	require.NoError(t, m.DeleteSecret(ctx, "a"))
	_, err = m.GetSecretMetadata(ctx, "a")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestMetricsCollector(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.AddNode(ctx, &types.NodeConfig{Name: "pve1", Host: "10.0.0.1", Username: "root"}, "pw"))
	require.NoError(t, m.store.UpsertResource(&types.ResourceRecord{VMID: 100, Node: "pve1", Type: types.ResourceTypeVM, Status: "running", LastSyncedAt: time.Now()}))

	c := NewMetricsCollector(m)
	assert.NotPanics(t, c.collect)
	c.Stop()
	c.Stop()
}

func TestStartJournalsEvents(t *testing.T) {
	m := newTestManager(t)
	m.Start()

	assert.Equal(t, 1, m.EventBroker().SubscriberCount(), "the event journal subscribes on start")
}
