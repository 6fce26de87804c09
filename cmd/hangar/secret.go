package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// Secret commands
var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage encrypted secrets",
	Long: `Manage encrypted secrets.

Values are sealed with the master key before they are stored and are never
printed back; "get" and "list" show metadata only.`,
}

var secretSetCmd = &cobra.Command{
	Use:   "set KEY",
	Short: "Store a secret (value read from stdin)",
	Example: `  echo -n "$HCLOUD_TOKEN" | hangar secret set hetzner_api_key --description "Hetzner token"
  hangar secret set node/pve1/password --from-env PVE1_PASSWORD`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		description, _ := cmd.Flags().GetString("description")
		fromEnv, _ := cmd.Flags().GetString("from-env")

		value, err := readSecretValue(cmd.InOrStdin(), fromEnv)
		if err != nil {
			return err
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		meta, err := c.PutSecret(cmd.Context(), key, value, description)
		if err != nil {
			return fmt.Errorf("failed to store secret: %w", err)
		}

		fmt.Printf("✓ Secret stored: %s\n", meta.Key)
		return nil
	},
}

var secretGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Show a secret's metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		meta, err := c.GetSecret(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Key:         %s\n", meta.Key)
		fmt.Printf("Description: %s\n", meta.Description)
		fmt.Printf("Encrypted:   %t\n", meta.Encrypted)
		fmt.Printf("Updated:     %s\n", meta.UpdatedAt.Format(time.RFC3339))
		return nil
	},
}

var secretListCmd = &cobra.Command{
	Use:   "list",
	Short: "List secrets",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		secrets, err := c.ListSecrets(cmd.Context())
		if err != nil {
			return err
		}
		if len(secrets) == 0 {
			fmt.Println("No secrets stored")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tDESCRIPTION\tUPDATED")
		for _, s := range secrets {
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.Key, s.Description, s.UpdatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var secretDeleteCmd = &cobra.Command{
	Use:     "delete KEY",
	Aliases: []string{"rm"},
	Short:   "Delete a secret",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.DeleteSecret(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete secret: %w", err)
		}
		fmt.Printf("✓ Secret deleted: %s\n", args[0])
		return nil
	},
}

func init() {
	secretCmd.AddCommand(secretSetCmd)
	secretCmd.AddCommand(secretGetCmd)
	secretCmd.AddCommand(secretListCmd)
	secretCmd.AddCommand(secretDeleteCmd)

	secretSetCmd.Flags().StringP("description", "d", "", "Human readable description")
	secretSetCmd.Flags().String("from-env", "", "Read the value from this environment variable instead of stdin")
}

// readSecretValue reads the value from the named environment variable, or else
// the whole of stdin with one trailing newline removed
func readSecretValue(stdin io.Reader, fromEnv string) (string, error) {
	if fromEnv != "" {
		v, ok := os.LookupEnv(fromEnv)
		if !ok {
			return "", fmt.Errorf("environment variable %s is not set", fromEnv)
		}
		return v, nil
	}

	data, err := io.ReadAll(bufio.NewReader(stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read secret from stdin: %w", err)
	}
	value := strings.TrimSuffix(strings.TrimSuffix(string(data), "\n"), "\r")
	if value == "" {
		return "", fmt.Errorf("secret value is empty")
	}
	return value, nil
}
