package vault

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/hangar/pkg/events"
	"github.com/cuemby/hangar/pkg/faults"
	"github.com/cuemby/hangar/pkg/log"
	"github.com/cuemby/hangar/pkg/metrics"
	"github.com/cuemby/hangar/pkg/security"
	"github.com/cuemby/hangar/pkg/types"
	"github.com/rs/zerolog"
)

// SecretStore is the persistence the vault needs
type SecretStore interface {
	PutSecret(secret *types.SecretRecord) error
	GetSecret(key string) (*types.SecretRecord, error)
	ListSecrets() ([]*types.SecretRecord, error)
	DeleteSecret(key string) error
}

// Vault maps keys to secrets and encrypts them before they reach storage.
// No exported method returns ciphertext.
type Vault struct {
	store  SecretStore
	cipher *security.Cipher
	events events.Publisher
	logger zerolog.Logger
}

// New creates a vault on top of store using cipher for every value
func New(store SecretStore, cipher *security.Cipher, publisher events.Publisher) *Vault {
	if publisher == nil {
		publisher = events.Discard
	}
	return &Vault{
		store:  store,
		cipher: cipher,
		events: publisher,
		logger: log.WithComponent("vault"),
	}
}

// Put seals plaintext and stores it under key, replacing any previous value
func (v *Vault) Put(ctx context.Context, key, plaintext, description string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return faults.InvalidArgument("key", "secret key cannot be empty")
	}

	envelope, err := v.cipher.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("failed to seal secret %s: %w", key, err)
	}

	now := time.Now().UTC()
	rec := &types.SecretRecord{
		Key:         key,
		Ciphertext:  envelope,
		Description: description,
		Encrypted:   envelope != "",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	existing, err := v.store.GetSecret(key)
	switch {
	case err == nil:
		rec.CreatedAt = existing.CreatedAt
	case !isNotFound(err):
		return fmt.Errorf("failed to load secret %s: %w", key, err)
	}

	if err := v.store.PutSecret(rec); err != nil {
		return fmt.Errorf("failed to store secret %s: %w", key, err)
	}

	logger := log.WithSecretKey(v.logger, key)
	logger.Info().Bool("encrypted", rec.Encrypted).Msg("Secret stored")
	v.events.Publish(&events.Event{
		Type:     events.EventSecretUpdated,
		Message:  "secret stored",
		Metadata: map[string]string{"key": key},
	})
	v.refreshCount()
	return nil
}

// Get loads and decrypts the secret stored under key.
// Callers must not keep the plaintext beyond the operation that needed it.
func (v *Vault) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	rec, err := v.store.GetSecret(key)
	if err != nil {
		return "", err
	}

	plaintext, err := v.cipher.Open(rec.Ciphertext)
	if err != nil {
		metrics.SecretDecryptFailuresTotal.Inc()
		logger := log.WithSecretKey(v.logger, key)
		logger.Error().Err(err).Msg("Failed to decrypt secret")
		return "", fmt.Errorf("secret %s: %w", key, err)
	}
	return plaintext, nil
}

// Metadata returns everything about a secret except its value
func (v *Vault) Metadata(ctx context.Context, key string) (*types.SecretMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := v.store.GetSecret(key)
	if err != nil {
		return nil, err
	}
	return rec.Metadata(), nil
}

// List returns the metadata of every secret sorted by key
func (v *Vault) List(ctx context.Context) ([]*types.SecretMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records, err := v.store.ListSecrets()
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}

	out := make([]*types.SecretMetadata, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes a secret. Deleting a missing key is not an error.
func (v *Vault) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := v.store.DeleteSecret(key); err != nil {
		return fmt.Errorf("failed to delete secret %s: %w", key, err)
	}

	logger := log.WithSecretKey(v.logger, key)
	logger.Info().Msg("Secret deleted")
	v.events.Publish(&events.Event{
		Type:     events.EventSecretDeleted,
		Message:  "secret deleted",
		Metadata: map[string]string{"key": key},
	})
	v.refreshCount()
	return nil
}

func (v *Vault) refreshCount() {
	records, err := v.store.ListSecrets()
	if err != nil {
		return
	}
	metrics.SecretsTotal.Set(float64(len(records)))
}

func isNotFound(err error) bool {
	var nf *faults.NotFoundError
	return errors.As(err, &nf)
}
