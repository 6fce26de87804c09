// Package config loads Hangar's runtime settings.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// HANGAR_* environment variables. Command-line flags are applied last by the
// CLI. The master passphrase is read from HANGAR_MASTER_PASSPHRASE only and is
// never accepted from a file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/cuemby/hangar/pkg/faults"
	"github.com/cuemby/hangar/pkg/log"
	"github.com/cuemby/hangar/pkg/manager"
	"github.com/cuemby/hangar/pkg/proxmox"
	"github.com/cuemby/hangar/pkg/reconciler"
	"github.com/cuemby/hangar/pkg/security"
	"gopkg.in/yaml.v3"
)

// Environment variables
const (
	EnvDataDir          = "HANGAR_DATA_DIR"
	EnvAPIAddr          = "HANGAR_API_ADDR"
	EnvLogLevel         = "HANGAR_LOG_LEVEL"
	EnvLogJSON          = "HANGAR_LOG_JSON"
	EnvSyncInterval     = "HANGAR_SYNC_INTERVAL"
	EnvSyncConcurrency  = "HANGAR_SYNC_CONCURRENCY"
	EnvRequestTimeout   = "HANGAR_REQUEST_TIMEOUT"
	EnvMasterPassphrase = "HANGAR_MASTER_PASSPHRASE"
)

// Config holds runtime settings
type Config struct {
	DataDir      string             `yaml:"data_dir"`
	APIAddr      string             `yaml:"api_addr"`
	Log          LogConfig          `yaml:"log"`
	Reconciler   ReconcilerConfig   `yaml:"reconciler"`
	ControlPlane ControlPlaneConfig `yaml:"control_plane"`

	// MasterPassphrase comes from the environment only
	MasterPassphrase string `yaml:"-"`
}

// LogConfig configures pkg/log
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ReconcilerConfig configures the background inventory sync
type ReconcilerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
}

// ControlPlaneConfig configures requests to Proxmox nodes
type ControlPlaneConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Default returns a Config populated with defaults
func Default() *Config {
	return &Config{
		DataDir: "/var/lib/hangar",
		APIAddr: "127.0.0.1:8420",
		Log: LogConfig{
			Level: "info",
		},
		Reconciler: ReconcilerConfig{
			Interval:    reconciler.DefaultInterval,
			Concurrency: reconciler.DefaultConcurrency,
		},
		ControlPlane: ControlPlaneConfig{
			RequestTimeout: proxmox.DefaultRequestTimeout,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, &faults.ConfigurationError{Reason: fmt.Sprintf("failed to open config file: %v", err)}
		}
		defer f.Close()
		if err := cfg.decode(f); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return &faults.ConfigurationError{Reason: fmt.Sprintf("failed to read config file: %v", err)}
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return &faults.ConfigurationError{Reason: fmt.Sprintf("invalid config file: %v", err)}
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv(EnvDataDir); ok {
		c.DataDir = v
	}
	if v, ok := os.LookupEnv(EnvAPIAddr); ok {
		c.APIAddr = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		c.Log.Level = v
	}
	if v, ok := os.LookupEnv(EnvLogJSON); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError(EnvLogJSON, err)
		}
		c.Log.JSON = b
	}
	if v, ok := os.LookupEnv(EnvSyncInterval); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError(EnvSyncInterval, err)
		}
		c.Reconciler.Interval = d
	}
	if v, ok := os.LookupEnv(EnvSyncConcurrency); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError(EnvSyncConcurrency, err)
		}
		c.Reconciler.Concurrency = n
	}
	if v, ok := os.LookupEnv(EnvRequestTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError(EnvRequestTimeout, err)
		}
		c.ControlPlane.RequestTimeout = d
	}
	c.MasterPassphrase = os.Getenv(EnvMasterPassphrase)
	return nil
}

func envError(name string, err error) error {
	return &faults.ConfigurationError{Reason: fmt.Sprintf("invalid %s: %v", name, err)}
}

// Validate checks the settings that cannot be defaulted
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return &faults.ConfigurationError{Reason: "data directory cannot be empty"}
	}
	if c.Reconciler.Interval <= 0 {
		return &faults.ConfigurationError{Reason: "reconciler interval must be positive"}
	}
	if c.Reconciler.Concurrency <= 0 {
		return &faults.ConfigurationError{Reason: "reconciler concurrency must be positive"}
	}
	if c.ControlPlane.RequestTimeout <= 0 {
		return &faults.ConfigurationError{Reason: "control plane request timeout must be positive"}
	}
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return &faults.ConfigurationError{Reason: err.Error()}
	}
	c.Log.Level = string(level)
	return nil
}

// MasterKey derives the encryption key from the master passphrase.
// A missing passphrase is a *faults.ConfigurationError.
func (c *Config) MasterKey() (security.MasterKey, error) {
	if c.MasterPassphrase == "" {
		return security.MasterKey{}, &faults.ConfigurationError{Reason: EnvMasterPassphrase + " is not set"}
	}
	return security.DeriveKey(c.MasterPassphrase)
}

// ManagerConfig builds the configuration of a manager.Manager
func (c *Config) ManagerConfig() (*manager.Config, error) {
	key, err := c.MasterKey()
	if err != nil {
		return nil, err
	}
	return &manager.Config{
		DataDir:   c.DataDir,
		MasterKey: key,
		Reconciler: reconciler.Config{
			Interval:    c.Reconciler.Interval,
			Concurrency: c.Reconciler.Concurrency,
		},
		ControlPlane: proxmox.Config{
			RequestTimeout: c.ControlPlane.RequestTimeout,
		},
	}, nil
}
