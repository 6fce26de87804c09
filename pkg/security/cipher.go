package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/cuemby/hangar/pkg/faults"
)

const (
	// KeySize is the AES-256 key size in bytes
	KeySize = 32

	// NonceSize is the envelope nonce size in bytes
	NonceSize = 16

	// TagSize is the GCM authentication tag size in bytes
	TagSize = 16
)

// MasterKey is the process-wide symmetric key derived from the master passphrase.
// It is built once at startup and passed to NewCipher.
type MasterKey struct {
	key [KeySize]byte
}

// DeriveKey hashes the passphrase with SHA-256 into a MasterKey.
// The derivation is unsalted so the same passphrase always yields the same key.
func DeriveKey(passphrase string) (MasterKey, error) {
	if passphrase == "" {
		return MasterKey{}, &faults.ConfigurationError{Reason: "master passphrase is not set"}
	}
	return MasterKey{key: sha256.Sum256([]byte(passphrase))}, nil
}

// NewMasterKey wraps raw key bytes, which must be exactly 32 bytes long
func NewMasterKey(raw []byte) (MasterKey, error) {
	if len(raw) != KeySize {
		return MasterKey{}, &faults.ConfigurationError{
			Reason: fmt.Sprintf("encryption key must be %d bytes for AES-256, got %d", KeySize, len(raw)),
		}
	}
	var mk MasterKey
	copy(mk.key[:], raw)
	return mk, nil
}

// IsZero reports whether the key was never initialized
func (k MasterKey) IsZero() bool {
	return k.key == [KeySize]byte{}
}

// Cipher seals and opens secret envelopes.
// An envelope is base64(nonce || tag || ciphertext).
// Cipher is immutable and safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates an AES-256-GCM cipher with 16-byte nonces
func NewCipher(key MasterKey) (*Cipher, error) {
	if key.IsZero() {
		return nil, &faults.ConfigurationError{Reason: "encryption key is not initialized"}
	}

	block, err := aes.NewCipher(key.key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext into an envelope.
// An empty plaintext yields an empty envelope without touching the cipher.
func (c *Cipher) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// GCM appends the tag; the envelope stores it in front of the ciphertext
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	body, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	blob := make([]byte, 0, NonceSize+TagSize+len(body))
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, body...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Open verifies and decrypts an envelope produced by Seal.
// Any failure returns a *faults.DecryptionError and no plaintext.
func (c *Cipher) Open(envelope string) (string, error) {
	if envelope == "" {
		return "", nil
	}

	blob, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", &faults.DecryptionError{Reason: "envelope is not valid base64"}
	}
	if len(blob) < NonceSize+TagSize {
		return "", &faults.DecryptionError{Reason: "envelope too short"}
	}

	nonce := blob[:NonceSize]
	tag := blob[NonceSize : NonceSize+TagSize]
	body := blob[NonceSize+TagSize:]

	sealed := make([]byte, 0, len(body)+TagSize)
	sealed = append(sealed, body...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &faults.DecryptionError{Reason: "authentication tag mismatch"}
	}

	return string(plaintext), nil
}
