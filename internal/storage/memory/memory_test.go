package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/storage"
	"github.com/roach88/strata/internal/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Engine {
		return New()
	})
}

func TestClose_RejectsNewWork(t *testing.T) {
	e := New()
	snap, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	defer snap.Release()

	require.NoError(t, e.Close())
	_, err = e.Snapshot(context.Background())
	assert.ErrorIs(t, err, storage.ErrClosed)
	_, err = e.BeginWrite(context.Background())
	assert.ErrorIs(t, err, storage.ErrClosed)

	_, err = snap.Get(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, storage.ErrNotFound, "open snapshots stay readable")
}

func TestReleasedSnapshot(t *testing.T) {
	e := New()
	snap, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	snap.Release()

	_, err = snap.Get(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, storage.ErrClosed)
	_, err = storage.Collect(snap.Scan(context.Background(), nil))
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestClock(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())
}

func TestCommit_CanceledContext(t *testing.T) {
	e := New()
	wb, err := e.BeginWrite(context.Background())
	require.NoError(t, err)
	require.NoError(t, wb.Put([]byte("a"), []byte("1")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, wb.Commit(ctx), context.Canceled)

	snap, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	defer snap.Release()
	assert.Empty(t, storagetest.ScanAll(t, snap, ""))
}
