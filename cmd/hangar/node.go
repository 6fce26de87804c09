package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cuemby/hangar/pkg/types"
	"github.com/spf13/cobra"
)

// Node commands
var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage Proxmox nodes",
}

var nodeAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Register a Proxmox node",
	Long: `Register a Proxmox node with the control plane.

The node password is stored in the vault under node/NAME/password. Pass it on
stdin with --password-stdin, or point --credential-ref at a secret that
already holds it.`,
	Example: `  echo -n "$PVE_PASSWORD" | hangar node add pve1 --host 10.0.0.11 --password-stdin
  hangar node add pve2 --host https://pve2.lab:8006 --credential-ref shared/pve-root --insecure-tls`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetInt("port")
		username, _ := cmd.Flags().GetString("username")
		realm, _ := cmd.Flags().GetString("realm")
		insecure, _ := cmd.Flags().GetBool("insecure-tls")
		credentialRef, _ := cmd.Flags().GetString("credential-ref")
		passwordStdin, _ := cmd.Flags().GetBool("password-stdin")

		if passwordStdin == (credentialRef != "") {
			return fmt.Errorf("exactly one of --password-stdin or --credential-ref is required")
		}

		var password string
		if passwordStdin {
			var err error
			if password, err = readSecretValue(cmd.InOrStdin(), ""); err != nil {
				return err
			}
		}

		node := &types.NodeConfig{
			Name:          args[0],
			Host:          host,
			Port:          port,
			Username:      username,
			Realm:         realm,
			CredentialRef: credentialRef,
			InsecureTLS:   insecure,
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		created, err := c.AddNode(cmd.Context(), node, password)
		if err != nil {
			return fmt.Errorf("failed to add node: %w", err)
		}

		fmt.Printf("✓ Node added: %s\n", created.Name)
		fmt.Printf("  Host:       %s\n", created.Host)
		fmt.Printf("  Login:      %s@%s\n", created.Username, created.LoginRealm())
		fmt.Printf("  Credential: %s\n", created.CredentialRef)
		return nil
	},
}

var nodeListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		nodes, err := c.ListNodes(cmd.Context())
		if err != nil {
			return err
		}
		if len(nodes) == 0 {
			fmt.Println("No nodes registered")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tHOST\tPORT\tLOGIN\tTLS")
		for _, n := range nodes {
			tls := "verified"
			if n.InsecureTLS {
				tls = "insecure"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s@%s\t%s\n", n.Name, n.Host, n.Port, n.Username, n.LoginRealm(), tls)
		}
		return w.Flush()
	},
}

var nodeRemoveCmd = &cobra.Command{
	Use:     "remove NAME",
	Aliases: []string{"rm"},
	Short:   "Remove a node and its inventory",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.RemoveNode(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to remove node: %w", err)
		}
		fmt.Printf("✓ Node removed: %s\n", args[0])
		return nil
	},
}

func init() {
	nodeCmd.AddCommand(nodeAddCmd)
	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.AddCommand(nodeRemoveCmd)

	nodeAddCmd.Flags().String("host", "", "Node hostname, IP or URL (required)")
	nodeAddCmd.Flags().Int("port", types.DefaultNodePort, "Proxmox API port")
	nodeAddCmd.Flags().String("username", "root", "Login user")
	nodeAddCmd.Flags().String("realm", types.DefaultRealm, "Authentication realm")
	nodeAddCmd.Flags().Bool("insecure-tls", false, "Skip TLS certificate verification")
	nodeAddCmd.Flags().String("credential-ref", "", "Use an existing secret as the password")
	nodeAddCmd.Flags().Bool("password-stdin", false, "Read the password from stdin")
	_ = nodeAddCmd.MarkFlagRequired("host")
}
