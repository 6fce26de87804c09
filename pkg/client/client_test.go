package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/cuemby/hangar/pkg/api"
	"github.com/cuemby/hangar/pkg/manager"
	"github.com/cuemby/hangar/pkg/proxmox"
	"github.com/cuemby/hangar/pkg/proxmox/proxmoxtest"
	"github.com/cuemby/hangar/pkg/security"
	"github.com/cuemby/hangar/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	key, err := security.DeriveKey("client-test-passphrase")
	require.NoError(t, err)

	mgr, err := manager.NewManager(&manager.Config{
		DataDir:      t.TempDir(),
		MasterKey:    key,
		ControlPlane: proxmox.Config{RequestTimeout: 2 * time.Second},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Shutdown() })

	srv := httptest.NewServer(api.NewServer(mgr, api.Options{}).Handler())
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		addr    string
		want    string
		wantErr bool
	}{
		{addr: "127.0.0.1:8420", want: "http://127.0.0.1:8420"},
		{addr: "https://hangar.lab.local/", want: "https://hangar.lab.local"},
		{addr: "", wantErr: true},
		{addr: "http://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			c, err := NewClient(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.baseURL)
		})
	}
}

func TestSecrets(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	meta, err := c.PutSecret(ctx, "hetzner/api key", "tok_abc123", "Hetzner token")
	require.NoError(t, err)
	assert.Equal(t, "hetzner/api key", meta.Key)

	got, err := c.GetSecret(ctx, "hetzner/api key")
	require.NoError(t, err)
	assert.Equal(t, "Hetzner token", got.Description)

	list, err := c.ListSecrets(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, c.DeleteSecret(ctx, "hetzner/api key"))
	_, err = c.GetSecret(ctx, "hetzner/api key")
	assert.True(t, errdefs.IsNotFound(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestNodesSyncAndControl(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	pve := proxmoxtest.NewServer(t, "root", "hunter2")
	pve.SetResources(map[string]any{"type": "qemu", "vmid": 100, "node": "pve1", "name": "web", "status": "running"})

	node := pve.Node("pve1")
	node.CredentialRef = ""
	created, err := c.AddNode(ctx, node, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, manager.CredentialKey("pve1"), created.CredentialRef)

	_, err = c.AddNode(ctx, node, "hunter2")
	assert.True(t, errdefs.IsAlreadyExists(err))

	nodes, err := c.ListNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	sync, err := c.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sync.SyncedCount)
	assert.Empty(t, sync.NodeErrors)

	records, err := c.ListInventory(ctx, "pve1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "web", records[0].Name)

	handle, err := c.Control(ctx, "pve1", types.ResourceTypeVM, 100, types.ActionShutdown)
	require.NoError(t, err)
	assert.Contains(t, handle.UPID, "qemushutdown:100")

	_, err = c.Control(ctx, "pve1", types.ResourceTypeVM, 100, types.Action("delete"))
	assert.True(t, errdefs.IsInvalidArgument(err))

	require.NoError(t, c.RemoveNode(ctx, "pve1"))
	_, err = c.GetNode(ctx, "pve1")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestUnreachableServer(t *testing.T) {
	c, err := NewClient("127.0.0.1:1")
	require.NoError(t, err)

	_, err = c.ListNodes(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reach hangar server")
}
