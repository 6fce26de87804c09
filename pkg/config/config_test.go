package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hangar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()

	assert.Equal(t, "/var/lib/hangar", c.DataDir)
	assert.Equal(t, "127.0.0.1:8420", c.APIAddr)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, 60*time.Second, c.Reconciler.Interval)
	assert.Equal(t, 8, c.Reconciler.Concurrency)
	assert.Equal(t, 15*time.Second, c.ControlPlane.RequestTimeout)
	assert.NoError(t, c.Validate())
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
data_dir: /srv/hangar
log:
  level: debug
  json: true
reconciler:
  interval: 5m
  concurrency: 2
control_plane:
  request_timeout: 30s
`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/hangar", c.DataDir)
	assert.Equal(t, "127.0.0.1:8420", c.APIAddr, "unset keys keep their defaults")
	assert.Equal(t, "debug", c.Log.Level)
	assert.True(t, c.Log.JSON)
	assert.Equal(t, 5*time.Minute, c.Reconciler.Interval)
	assert.Equal(t, 2, c.Reconciler.Concurrency)
	assert.Equal(t, 30*time.Second, c.ControlPlane.RequestTimeout)
}

func TestLoadEmptyFile(t *testing.T) {
	c, err := Load(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default().DataDir, c.DataDir)
}

func TestLoadRejectsPassphraseInFile(t *testing.T) {
	_, err := Load(writeFile(t, "master_passphrase: hunter2\n"))
	assert.True(t, errdefs.IsFailedPrecondition(err))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errdefs.IsFailedPrecondition(err))
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "data_dir: /srv/hangar\nreconciler:\n  interval: 5m\n")

	t.Setenv(EnvDataDir, "/tmp/hangar")
	t.Setenv(EnvAPIAddr, ":9000")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvLogJSON, "true")
	t.Setenv(EnvSyncInterval, "90s")
	t.Setenv(EnvSyncConcurrency, "3")
	t.Setenv(EnvRequestTimeout, "5s")
	t.Setenv(EnvMasterPassphrase, "correct horse")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/hangar", c.DataDir)
	assert.Equal(t, ":9000", c.APIAddr)
	assert.Equal(t, "warn", c.Log.Level)
	assert.True(t, c.Log.JSON)
	assert.Equal(t, 90*time.Second, c.Reconciler.Interval)
	assert.Equal(t, 3, c.Reconciler.Concurrency)
	assert.Equal(t, 5*time.Second, c.ControlPlane.RequestTimeout)
	assert.Equal(t, "correct horse", c.MasterPassphrase)
}

func TestInvalidEnv(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		value string
	}{
		{"bad interval", EnvSyncInterval, "soon"},
		{"zero interval", EnvSyncInterval, "0s"},
		{"bad concurrency", EnvSyncConcurrency, "many"},
		{"negative concurrency", EnvSyncConcurrency, "-1"},
		{"bad timeout", EnvRequestTimeout, "fast"},
		{"bad json flag", EnvLogJSON, "maybe"},
		{"unknown log level", EnvLogLevel, "verbose"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			_, err := Load("")
			assert.True(t, errdefs.IsFailedPrecondition(err), "got %v", err)
		})
	}
}

func TestMasterKey(t *testing.T) {
	c := Default()

	_, err := c.MasterKey()
	assert.True(t, errdefs.IsFailedPrecondition(err))
	assert.Contains(t, err.Error(), EnvMasterPassphrase)

	_, err = c.ManagerConfig()
	assert.Error(t, err)

	c.MasterPassphrase = "correct horse"
	key, err := c.MasterKey()
	require.NoError(t, err)
	assert.False(t, key.IsZero())

	mc, err := c.ManagerConfig()
	require.NoError(t, err)
	assert.Equal(t, c.DataDir, mc.DataDir)
	assert.Equal(t, key, mc.MasterKey)
	assert.Equal(t, c.Reconciler.Interval, mc.Reconciler.Interval)
	assert.Equal(t, c.ControlPlane.RequestTimeout, mc.ControlPlane.RequestTimeout)
}
