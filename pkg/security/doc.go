/*
Package security implements the envelope cipher that protects stored secrets.

# Key

The master key is the SHA-256 digest of the master passphrase. The derivation
is unsalted and deterministic: the same passphrase always opens the same
envelopes, and there is nowhere to keep a salt before the vault is unlocked.
A Cipher refuses a zero key.

# Envelope

Seal produces

	base64( nonce[16] || tag[16] || ciphertext )

using AES-256-GCM with a 16-byte random nonce drawn for every call. Open
reverses it and verifies the tag before returning anything. Every failure
(bad base64, short blob, tag mismatch, wrong key) is a *faults.DecryptionError
and yields no plaintext.

The empty string seals to the empty envelope and back, without touching the
cipher.

# Usage

	key, err := security.DeriveKey(os.Getenv("HANGAR_MASTER_PASSPHRASE"))
	if err != nil {
		return err
	}
	c, err := security.NewCipher(key)
	if err != nil {
		return err
	}

	blob, _ := c.Seal("tok_abc123")
	plain, err := c.Open(blob)

A Cipher is immutable and safe for concurrent use.
*/
package security
