package vault

import (
	"context"
	"errors"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/cuemby/hangar/pkg/events"
	"github.com/cuemby/hangar/pkg/faults"
	"github.com/cuemby/hangar/pkg/security"
	"github.com/cuemby/hangar/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCipher(t *testing.T, passphrase string) *security.Cipher {
	t.Helper()
	key, err := security.DeriveKey(passphrase)
	require.NoError(t, err)
	c, err := security.NewCipher(key)
	require.NoError(t, err)
	return c
}

func newTestVault(t *testing.T) (*Vault, *storage.BoltStore) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, newCipher(t, "test-master"), nil), store
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	require.NoError(t, v.Put(ctx, "hetzner_api_key", "tok_abc123", "Hetzner Cloud token"))

	got, err := v.Get(ctx, "hetzner_api_key")
	require.NoError(t, err)
	assert.Equal(t, "tok_abc123", got)

	require.NoError(t, v.Delete(ctx, "hetzner_api_key"))

	_, err = v.Get(ctx, "hetzner_api_key")
	var nf *faults.NotFoundError
	assert.True(t, errors.As(err, &nf), "expected NotFoundError, got %v", err)

	// Idempotent delete
	assert.NoError(t, v.Delete(ctx, "hetzner_api_key"))
}

func TestPutEncryptsAtRest(t *testing.T) {
	ctx := context.Background()
	v, store := newTestVault(t)

	require.NoError(t, v.Put(ctx, "node/pve1/password", "hunter2", ""))

	rec, err := store.GetSecret("node/pve1/password")
	require.NoError(t, err)
	assert.True(t, rec.Encrypted)
	assert.NotEmpty(t, rec.Ciphertext)
	assert.NotContains(t, rec.Ciphertext, "hunter2")
}

func TestPutReplaces(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	require.NoError(t, v.Put(ctx, "plesk_api_key", "first", "Plesk key"))
	before, err := v.Metadata(ctx, "plesk_api_key")
	require.NoError(t, err)

	require.NoError(t, v.Put(ctx, "plesk_api_key", "second", ""))

	got, err := v.Get(ctx, "plesk_api_key")
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	meta, err := v.Metadata(ctx, "plesk_api_key")
	require.NoError(t, err)
	assert.Empty(t, meta.Description, "put replaces the whole record")
	assert.False(t, meta.UpdatedAt.Before(before.UpdatedAt))
}

func TestEmptyValue(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	require.NoError(t, v.Put(ctx, "mailcow_api_key", "", "not configured yet"))

	meta, err := v.Metadata(ctx, "mailcow_api_key")
	require.NoError(t, err)
	assert.False(t, meta.Encrypted)

	got, err := v.Get(ctx, "mailcow_api_key")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetTamperedSecret(t *testing.T) {
	ctx := context.Background()
	v, store := newTestVault(t)

	require.NoError(t, v.Put(ctx, "autodns_password", "s3cret", ""))

	rec, err := store.GetSecret("autodns_password")
	require.NoError(t, err)
	raw := []byte(rec.Ciphertext)
	// Swap one base64 character for another valid one
	if raw[len(raw)/2] == 'A' {
		raw[len(raw)/2] = 'B'
	} else {
		raw[len(raw)/2] = 'A'
	}
	rec.Ciphertext = string(raw)
	require.NoError(t, store.PutSecret(rec))

	_, err = v.Get(ctx, "autodns_password")
	var decErr *faults.DecryptionError
	assert.True(t, errors.As(err, &decErr), "expected DecryptionError, got %v", err)
	assert.True(t, errdefs.IsDataLoss(err))
}

func TestGetWithOtherMasterKey(t *testing.T) {
	ctx := context.Background()
	v, store := newTestVault(t)
	require.NoError(t, v.Put(ctx, "hetzner_api_key", "tok_abc123", ""))

	other := New(store, newCipher(t, "another-master"), nil)
	_, err := other.Get(ctx, "hetzner_api_key")
	assert.True(t, errdefs.IsDataLoss(err))
}

func TestListMetadata(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	require.NoError(t, v.Put(ctx, "b_key", "2", "second"))
	require.NoError(t, v.Put(ctx, "a_key", "1", "first"))

	list, err := v.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a_key", list[0].Key)
	assert.Equal(t, "first", list[0].Description)
	assert.True(t, list[0].Encrypted)
}

func TestPutRejectsEmptyKey(t *testing.T) {
	v, _ := newTestVault(t)
	err := v.Put(context.Background(), "", "value", "")
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestCanceledContext(t *testing.T) {
	v, _ := newTestVault(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, v.Put(ctx, "k", "v", ""), context.Canceled)
	_, err := v.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPublishesEvents(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	v := New(store, newCipher(t, "test-master"), broker)
	require.NoError(t, v.Put(context.Background(), "hetzner_api_key", "tok", ""))

	ev := <-sub
	assert.Equal(t, events.EventSecretUpdated, ev.Type)
	assert.Equal(t, "hetzner_api_key", ev.Metadata["key"])
	assert.NotContains(t, ev.Message, "tok")
}
