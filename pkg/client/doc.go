/*
Package client is the Go client of the Hangar HTTP API, used by the hangar CLI.

Every method maps to one endpoint of pkg/api. Failed requests return an
*APIError that unwraps to the errdefs class reported by the server, so callers
classify errors the same way on both sides of the wire:

	c, err := client.NewClient("127.0.0.1:8420")
	if err != nil {
		return err
	}
	defer c.Close()

	meta, err := c.GetSecret(ctx, "node/pve1/password")
	if errdefs.IsNotFound(err) {
		fmt.Println("no password stored for pve1")
	}

Secret values can be written but never read back; GetSecret and ListSecrets
return metadata.

The client uses a pooled go-cleanhttp transport with a two minute timeout,
enough for a sync over many slow nodes.
*/
package client
