package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/containerd/errdefs"
	"github.com/cuemby/hangar/pkg/faults"
	"github.com/cuemby/hangar/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketSecrets   = []byte("secrets")
	bucketNodes     = []byte("nodes")
	bucketResources = []byte("resources")
)

// DatabaseFile is the name of the database inside the data directory
const DatabaseFile = "hangar.db"

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, DatabaseFile)

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketSecrets,
			bucketNodes,
			bucketResources,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Secret operations

// PutSecret creates or fully replaces the secret stored under secret.Key
func (s *BoltStore) PutSecret(secret *types.SecretRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		data, err := json.Marshal(secret)
		if err != nil {
			return err
		}
		return b.Put([]byte(secret.Key), data)
	})
}

func (s *BoltStore) GetSecret(key string) (*types.SecretRecord, error) {
	var secret types.SecretRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		data := b.Get([]byte(key))
		if data == nil {
			return faults.NotFound("secret", key)
		}
		return json.Unmarshal(data, &secret)
	})
	if err != nil {
		return nil, err
	}
	return &secret, nil
}

func (s *BoltStore) ListSecrets() ([]*types.SecretRecord, error) {
	var secrets []*types.SecretRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		return b.ForEach(func(k, v []byte) error {
			var secret types.SecretRecord
			if err := json.Unmarshal(v, &secret); err != nil {
				return err
			}
			secrets = append(secrets, &secret)
			return nil
		})
	})
	return secrets, err
}

// DeleteSecret removes a secret; deleting a missing key is not an error
func (s *BoltStore) DeleteSecret(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		return b.Delete([]byte(key))
	})
}

// Node operations

// CreateNode stores a new node; node names are unique
func (s *BoltStore) CreateNode(node *types.NodeConfig) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		if b.Get([]byte(node.Name)) != nil {
			return fmt.Errorf("node %s: %w", node.Name, errdefs.ErrAlreadyExists)
		}
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return b.Put([]byte(node.Name), data)
	})
}

func (s *BoltStore) GetNode(name string) (*types.NodeConfig, error) {
	var node types.NodeConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data := b.Get([]byte(name))
		if data == nil {
			return faults.NotFound("node", name)
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*types.NodeConfig, error) {
	var nodes []*types.NodeConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(k, v []byte) error {
			var node types.NodeConfig
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

// DeleteNode removes a node and every resource row that belongs to it
func (s *BoltStore) DeleteNode(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketNodes).Delete([]byte(name)); err != nil {
			return err
		}

		// Collect first, deleting while iterating a cursor skips keys
		b := tx.Bucket(bucketResources)
		prefix := []byte(name + "/")
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Resource operations

// UpsertResource inserts or overwrites the row keyed by (VMID, Node).
// LastSyncedAt is kept strictly increasing across writes to the same row.
func (s *BoltStore) UpsertResource(resource *types.ResourceRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResources)
		key := []byte(resource.Key())

		if existing := b.Get(key); existing != nil {
			var prev types.ResourceRecord
			if err := json.Unmarshal(existing, &prev); err != nil {
				return err
			}
			if !resource.LastSyncedAt.After(prev.LastSyncedAt) {
				resource.LastSyncedAt = prev.LastSyncedAt.Add(time.Nanosecond)
			}
		}

		data, err := json.Marshal(resource)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) GetResource(node string, vmid int) (*types.ResourceRecord, error) {
	key := types.ResourceKey(node, vmid)
	var resource types.ResourceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResources)
		data := b.Get([]byte(key))
		if data == nil {
			return faults.NotFound("resource", key)
		}
		return json.Unmarshal(data, &resource)
	})
	if err != nil {
		return nil, err
	}
	return &resource, nil
}

func (s *BoltStore) ListResources() ([]*types.ResourceRecord, error) {
	var resources []*types.ResourceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResources)
		return b.ForEach(func(k, v []byte) error {
			var resource types.ResourceRecord
			if err := json.Unmarshal(v, &resource); err != nil {
				return err
			}
			resources = append(resources, &resource)
			return nil
		})
	})
	return resources, err
}

func (s *BoltStore) ListResourcesByNode(node string) ([]*types.ResourceRecord, error) {
	var resources []*types.ResourceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := []byte(node + "/")
		c := tx.Bucket(bucketResources).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var resource types.ResourceRecord
			if err := json.Unmarshal(v, &resource); err != nil {
				return err
			}
			resources = append(resources, &resource)
		}
		return nil
	})
	return resources, err
}
