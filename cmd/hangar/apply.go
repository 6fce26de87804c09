package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/containerd/errdefs"
	"github.com/cuemby/hangar/pkg/client"
	"github.com/cuemby/hangar/pkg/manager"
	"github.com/cuemby/hangar/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a configuration file",
	Long: `Apply nodes and secrets from a YAML file.

A file may hold several documents separated by "---". Values are never
written in the file; they are read from the environment variables the
document names.

Examples:
  # Register a node whose password is in $PVE1_PASSWORD
  hangar apply -f pve1.yaml

  # Apply a whole lab
  hangar apply -f lab.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")
}

// Manifest is one document of an apply file
type Manifest struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   ManifestMetadata `yaml:"metadata"`
	Spec       yaml.Node        `yaml:"spec"`
}

type ManifestMetadata struct {
	Name string `yaml:"name"`
}

// NodeSpec is the spec of a Node document
type NodeSpec struct {
	types.NodeConfig `yaml:",inline"`
	PasswordEnv      string `yaml:"passwordEnv"`
}

// SecretSpec is the spec of a Secret document
type SecretSpec struct {
	Description string `yaml:"description"`
	ValueEnv    string `yaml:"valueEnv"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	manifests, err := parseManifests(data)
	if err != nil {
		return err
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	// Secrets first so nodes can reference them
	for _, kind := range []string{"Secret", "Node"} {
		for _, m := range manifests {
			if m.Kind != kind {
				continue
			}
			switch m.Kind {
			case "Secret":
				err = applySecret(cmd.Context(), c, m)
			case "Node":
				err = applyNode(cmd.Context(), c, m)
			}
			if err != nil {
				return fmt.Errorf("%s %s: %w", m.Kind, m.Metadata.Name, err)
			}
		}
	}
	return nil
}

// parseManifests decodes every document and checks kinds and names up front
// so a bad file changes nothing
func parseManifests(data []byte) ([]*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var manifests []*Manifest
	for i := 1; ; i++ {
		var m Manifest
		if err := dec.Decode(&m); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to parse YAML document %d: %w", i, err)
		}
		if m.Kind == "" && m.Metadata.Name == "" {
			continue
		}
		switch m.Kind {
		case "Node", "Secret":
		default:
			return nil, fmt.Errorf("document %d: unsupported resource kind: %q", i, m.Kind)
		}
		if m.Metadata.Name == "" {
			return nil, fmt.Errorf("document %d: metadata.name is required", i)
		}
		if err := m.validate(); err != nil {
			return nil, fmt.Errorf("document %d (%s %s): %w", i, m.Kind, m.Metadata.Name, err)
		}
		manifests = append(manifests, &m)
	}

	if len(manifests) == 0 {
		return nil, fmt.Errorf("no resources found")
	}
	return manifests, nil
}

func (m *Manifest) validate() error {
	var err error
	switch m.Kind {
	case "Node":
		_, err = m.nodeSpec()
	case "Secret":
		_, err = m.secretSpec()
	}
	return err
}

func (m *Manifest) nodeSpec() (*NodeSpec, error) {
	var spec NodeSpec
	if err := m.Spec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("invalid spec: %w", err)
	}
	spec.Name = m.Metadata.Name
	if spec.Port == 0 {
		spec.Port = types.DefaultNodePort
	}
	if spec.PasswordEnv == "" && spec.CredentialRef == "" {
		return nil, fmt.Errorf("spec.passwordEnv or spec.credential_ref is required")
	}
	if spec.PasswordEnv != "" && spec.CredentialRef != "" && spec.CredentialRef != manager.CredentialKey(spec.Name) {
		return nil, fmt.Errorf("spec.passwordEnv and spec.credential_ref are mutually exclusive")
	}
	return &spec, nil
}

func (m *Manifest) secretSpec() (*SecretSpec, error) {
	var spec SecretSpec
	if err := m.Spec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("invalid spec: %w", err)
	}
	if spec.ValueEnv == "" {
		return nil, fmt.Errorf("spec.valueEnv is required")
	}
	return &spec, nil
}

func applySecret(ctx context.Context, c *client.Client, m *Manifest) error {
	spec, err := m.secretSpec()
	if err != nil {
		return err
	}
	value, err := readSecretValue(nil, spec.ValueEnv)
	if err != nil {
		return err
	}

	fmt.Printf("Storing secret: %s\n", m.Metadata.Name)
	if _, err := c.PutSecret(ctx, m.Metadata.Name, value, spec.Description); err != nil {
		return err
	}
	fmt.Printf("✓ Secret stored: %s\n", m.Metadata.Name)
	return nil
}

func applyNode(ctx context.Context, c *client.Client, m *Manifest) error {
	spec, err := m.nodeSpec()
	if err != nil {
		return err
	}

	// Nodes are immutable once registered
	if existing, err := c.GetNode(ctx, spec.Name); err == nil && existing != nil {
		fmt.Printf("Node already exists: %s (skipping)\n", spec.Name)
		return nil
	} else if err != nil && !errdefs.IsNotFound(err) {
		return err
	}

	var password string
	if spec.PasswordEnv != "" {
		if password, err = readSecretValue(nil, spec.PasswordEnv); err != nil {
			return err
		}
	}

	fmt.Printf("Adding node: %s\n", spec.Name)
	created, err := c.AddNode(ctx, &spec.NodeConfig, password)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Node added: %s (%s)\n", created.Name, created.Host)
	return nil
}
