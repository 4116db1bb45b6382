package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.GamePort)
	assert.Equal(t, 8082, cfg.WSPort)
	assert.Equal(t, 8081, cfg.AdminPort)
	assert.Equal(t, 100, cfg.MaxSessions)
	assert.Equal(t, 30, cfg.TickRateHz)
	assert.Equal(t, 20, cfg.SnapshotRateHz)
	assert.Equal(t, 4096.0, cfg.WorldBounds)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("wsPort: 9090\nmaxSessions: 5\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.WSPort)
	assert.Equal(t, 5, cfg.MaxSessions)
	// Untouched keys keep their defaults.
	assert.Equal(t, 8080, cfg.GamePort)
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("TOPSAIL_WSPORT", "7000")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.WSPort)
}

func TestValidationRejectsBadValues(t *testing.T) {
	t.Setenv("TOPSAIL_MAXSESSIONS", "0")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidationRejectsSnapshotRateAboveTickRate(t *testing.T) {
	t.Setenv("TOPSAIL_SNAPSHOTRATEHZ", "90")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wsPort: [not a port"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
