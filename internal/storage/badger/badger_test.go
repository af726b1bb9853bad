package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/storage"
	"github.com/roach88/strata/internal/storage/storagetest"
)

func TestConformance_InMemory(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Engine {
		e, err := Open(InMemoryConfig())
		require.NoError(t, err)
		return e
	})
}

func TestConformance_OnDisk(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Engine {
		cfg := DefaultConfig(t.TempDir())
		cfg.SyncWrites = false
		cfg.GCInterval = 0
		e, err := Open(cfg)
		require.NoError(t, err)
		return e
	})
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestReopen_Persists(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = 0

	e, err := Open(cfg)
	require.NoError(t, err)
	storagetest.Write(t, e, "k", "v")
	require.NoError(t, e.Close())
	require.NoError(t, e.Close(), "close is idempotent")

	e, err = Open(cfg)
	require.NoError(t, err)
	defer e.Close()
	snap, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	defer snap.Release()
	got, err := snap.Get(context.Background(), []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestClosed(t *testing.T) {
	e, err := Open(InMemoryConfig())
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = e.Snapshot(context.Background())
	assert.ErrorIs(t, err, storage.ErrClosed)
	_, err = e.BeginWrite(context.Background())
	assert.ErrorIs(t, err, storage.ErrClosed)
}
