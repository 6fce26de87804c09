/*
Package vault is Hangar's secret store.

Values are sealed with a security.Cipher before they are written and opened on
every read. The vault is the only component that ever sees ciphertext; callers
get either plaintext (Get) or metadata (Metadata, List).

	v := vault.New(store, cipher, broker)
	_ = v.Put(ctx, "hetzner_api_key", "tok_abc123", "Hetzner Cloud token")
	token, err := v.Get(ctx, "hetzner_api_key")

Get is meant to be called right before the outbound request that needs the
value. The vault never caches plaintext.
*/
package vault
