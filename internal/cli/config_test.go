package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/engine"
	"github.com/roach88/strata/internal/storage/backend"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_Valid(t *testing.T) {
	path := writeConfig(t, `
backend:
  type: badger
  path: ./data
  gc_interval: 5m
workers: 3
budget:
  max_iterations: 50
  timeout: 2s
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, backend.Badger, cfg.Backend.Type)
	assert.Equal(t, "./data", cfg.Backend.Path)
	assert.Equal(t, 5*time.Minute, cfg.Backend.GCInterval)
	assert.Equal(t, 3, cfg.Workers)

	b := cfg.budget()
	assert.Equal(t, 50, b.MaxIterations)
	assert.Equal(t, 2*time.Second, b.Timeout)
	assert.Zero(t, b.MaxDerived)
}

func TestLoadConfig_Empty(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, engine.DefaultMaxIterations, cfg.budget().MaxIterations)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown field", "backend:\n  type: memory\ncache: true\n", "field cache not found"},
		{"unknown backend", "backend:\n  type: postgres\n", "unknown backend"},
		{"missing path", "backend:\n  type: sqlite\n", "path"},
		{"negative workers", "workers: -1\n", "workers must be non-negative"},
		{"negative budget", "budget:\n  max_derived: -5\n", "budget limits"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestResolveConfig_Overrides(t *testing.T) {
	path := writeConfig(t, "backend:\n  type: badger\n  path: ./data\nworkers: 2\n")

	opts := &RootOptions{ConfigPath: path, Workers: 8}
	cfg, err := opts.resolveConfig()
	require.NoError(t, err)
	assert.Equal(t, backend.Badger, cfg.Backend.Type)
	assert.Equal(t, 8, cfg.Workers)

	opts = &RootOptions{ConfigPath: path, Database: "./other"}
	cfg, err = opts.resolveConfig()
	require.NoError(t, err)
	assert.Equal(t, backend.Badger, cfg.Backend.Type, "--db keeps a configured backend")
	assert.Equal(t, "./other", cfg.Backend.Path)
}

func TestResolveConfig_DatabaseSelectsSQLite(t *testing.T) {
	cfg, err := (&RootOptions{Database: "strata.db"}).resolveConfig()
	require.NoError(t, err)
	assert.Equal(t, backend.SQLite, cfg.Backend.Type)

	cfg, err = (&RootOptions{Backend: "badger", Database: "data"}).resolveConfig()
	require.NoError(t, err)
	assert.Equal(t, backend.Badger, cfg.Backend.Type)

	cfg, err = (&RootOptions{}).resolveConfig()
	require.NoError(t, err)
	assert.Equal(t, backend.Memory, cfg.Backend.Type)

	_, err = (&RootOptions{Backend: "badger"}).resolveConfig()
	assert.Error(t, err, "badger needs a path")
}

func TestRun_WithConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "backend:\n  type: sqlite\n  path: "+filepath.Join(dir, "cfg.db")+"\n")

	_, _, err := execute(t, "run", "testdata/store_edges.cue", "--config", path)
	require.NoError(t, err)
	out, _, err := execute(t, "dump", "edge", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "[1, 2]\n[1, 3]\n[2, 3]\n", out)
}
