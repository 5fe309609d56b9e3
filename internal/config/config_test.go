package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	err := os.WriteFile(path, []byte(`
[matching]
floor = 0.55

[orchestrator]
workers = 8

[memgraph]
uri = "bolt://graph:7687"
`), 0o600)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.55, cfg.Matching.Floor)
	assert.Equal(t, 0.92, cfg.Matching.High)
	assert.Equal(t, 8, cfg.Orchestrator.Workers)
	assert.Equal(t, "bolt://graph:7687", cfg.Memgraph.URI)
	assert.Equal(t, 5, cfg.Persistence.MaxAttempts)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())

	cfg.Matching.Floor = 0.95
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Persistence.TxTimeout = "soon"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Persistence.Store = "postgres"
	assert.Error(t, cfg.Validate())
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("MEMGRAPH_URI", "bolt://env:7687")
	t.Setenv("GEARGRAPH_WORKERS", "3")
	t.Setenv("PORT", "9090")

	cfg := Default()
	cfg.ApplyEnv()

	assert.Equal(t, "bolt://env:7687", cfg.Memgraph.URI)
	assert.Equal(t, 3, cfg.Orchestrator.Workers)
	assert.Equal(t, "9090", cfg.Server.Port)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 2*time.Second, Duration("2s", time.Second))
	assert.Equal(t, time.Second, Duration("bogus", time.Second))
}
