// Package storagetest holds the conformance suite every storage.Engine
// passes, and a fault-injecting wrapper for atomicity tests.
package storagetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/strata/internal/storage"
)

// Opener returns a fresh, empty engine. The suite closes it.
type Opener func(t *testing.T) storage.Engine

// Run runs the conformance suite against engines produced by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, e storage.Engine)
	}{
		{"GetMissing", testGetMissing},
		{"PutCommitGet", testPutCommitGet},
		{"EmptyValue", testEmptyValue},
		{"ScanPrefixOrder", testScanPrefixOrder},
		{"ScanRestartable", testScanRestartable},
		{"ScanHighPrefix", testScanHighPrefix},
		{"ScanAcrossPages", testScanAcrossPages},
		{"ScanNested", testScanNested},
		{"ReleaseStopsScan", testReleaseStopsScan},
		{"SnapshotIsolation", testSnapshotIsolation},
		{"DeleteHides", testDeleteHides},
		{"LastWriteInBatchWins", testLastWriteInBatchWins},
		{"Discard", testDiscard},
		{"WriteConflict", testWriteConflict},
		{"DisjointWritesCommit", testDisjointWritesCommit},
		{"ConcurrentReads", testConcurrentReads},
		{"FinishedBatch", testFinishedBatch},
		{"FaultyCommitIsAtomic", testFaultyCommitIsAtomic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := open(t)
			t.Cleanup(func() { e.Close() })
			tt.fn(t, e)
		})
	}
}

// Write commits the given key/value pairs in one batch.
func Write(t *testing.T, e storage.Engine, kvs ...string) {
	t.Helper()
	require.Zero(t, len(kvs)%2, "Write takes key/value pairs")
	ctx := context.Background()
	wb, err := e.BeginWrite(ctx)
	require.NoError(t, err)
	for i := 0; i < len(kvs); i += 2 {
		require.NoError(t, wb.Put([]byte(kvs[i]), []byte(kvs[i+1])))
	}
	require.NoError(t, wb.Commit(ctx))
}

// ScanAll returns the pairs under prefix formatted as "key=value".
func ScanAll(t *testing.T, snap storage.Snapshot, prefix string) []string {
	t.Helper()
	kvs, err := storage.Collect(snap.Scan(context.Background(), []byte(prefix)))
	require.NoError(t, err)
	var out []string
	for _, kv := range kvs {
		out = append(out, string(kv.Key)+"="+string(kv.Value))
	}
	return out
}

func snapshot(t *testing.T, e storage.Engine) storage.Snapshot {
	t.Helper()
	snap, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	t.Cleanup(snap.Release)
	return snap
}

func testGetMissing(t *testing.T, e storage.Engine) {
	_, err := snapshot(t, e).Get(context.Background(), []byte("nope"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testPutCommitGet(t *testing.T, e storage.Engine) {
	Write(t, e, "a", "1", "b", "2")
	got, err := snapshot(t, e).Get(context.Background(), []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), got)
}

func testEmptyValue(t *testing.T, e storage.Engine) {
	ctx := context.Background()
	wb, err := e.BeginWrite(ctx)
	require.NoError(t, err)
	require.NoError(t, wb.Put([]byte("k"), []byte{}))
	require.NoError(t, wb.Commit(ctx))

	got, err := snapshot(t, e).Get(ctx, []byte("k"))
	require.NoError(t, err, "an empty value is present, not missing")
	assert.Empty(t, got)
}

func testScanPrefixOrder(t *testing.T, e storage.Engine) {
	Write(t, e, "r/c", "3", "r/a", "1", "s/a", "x", "r/b", "2", "q", "y", "r", "0")
	snap := snapshot(t, e)
	assert.Equal(t, []string{"r=0", "r/a=1", "r/b=2", "r/c=3"}, ScanAll(t, snap, "r"))
	assert.Equal(t, []string{"r/a=1", "r/b=2", "r/c=3"}, ScanAll(t, snap, "r/"))
	assert.Empty(t, ScanAll(t, snap, "t"))
	assert.Len(t, ScanAll(t, snap, ""), 6)
}

func testScanRestartable(t *testing.T, e storage.Engine) {
	Write(t, e, "k1", "a", "k2", "b")
	snap := snapshot(t, e)
	first := ScanAll(t, snap, "k")
	assert.Equal(t, first, ScanAll(t, snap, "k"))
}

func testScanHighPrefix(t *testing.T, e storage.Engine) {
	high := string([]byte{0xff, 0xff})
	Write(t, e, high+"a", "1", high+"b", "2", "\xfe", "x")
	assert.Equal(t, []string{high + "a=1", high + "b=2"}, ScanAll(t, snapshot(t, e), high))
}

// writeMany commits n keys "<prefix>NNNNN" in one batch.
func writeMany(t *testing.T, e storage.Engine, prefix string, n int) {
	t.Helper()
	var kvs []string
	for i := 0; i < n; i++ {
		kvs = append(kvs, fmt.Sprintf("%s%05d", prefix, i), fmt.Sprint(i))
	}
	Write(t, e, kvs...)
}

func testScanAcrossPages(t *testing.T, e storage.Engine) {
	n := 2*storage.PageSize + 7
	writeMany(t, e, "p/", n)
	Write(t, e, "q", "after")

	got := ScanAll(t, snapshot(t, e), "p/")
	require.Len(t, got, n)
	for i, kv := range got {
		assert.Equal(t, fmt.Sprintf("p/%05d=%d", i, i), kv)
	}
}

func testScanNested(t *testing.T, e storage.Engine) {
	Write(t, e, "a/1", "x", "a/2", "y", "b/x", "1", "b/y", "2")
	snap := snapshot(t, e)
	ctx := context.Background()

	var joined []string
	outer := snap.Scan(ctx, []byte("a/"))
	for outer.Next() {
		v := string(outer.Value())
		inner := snap.Scan(ctx, []byte("b/"+v))
		for inner.Next() {
			joined = append(joined, string(outer.Key())+"->"+string(inner.Value()))
		}
		require.NoError(t, inner.Err())
		inner.Close()
	}
	require.NoError(t, outer.Err())
	outer.Close()
	assert.Equal(t, []string{"a/1->1", "a/2->2"}, joined)
}

func testReleaseStopsScan(t *testing.T, e storage.Engine) {
	writeMany(t, e, "r/", 2*storage.PageSize)
	snap, err := e.Snapshot(context.Background())
	require.NoError(t, err)

	it := snap.Scan(context.Background(), []byte("r/"))
	require.True(t, it.Next())
	snap.Release()
	n := 1
	for it.Next() {
		n++
	}
	it.Close()
	assert.Less(t, n, 2*storage.PageSize, "a released snapshot stops serving the range")
	assert.ErrorIs(t, it.Err(), storage.ErrClosed)
}

func testSnapshotIsolation(t *testing.T, e storage.Engine) {
	ctx := context.Background()
	Write(t, e, "k", "old")
	before := snapshot(t, e)
	Write(t, e, "k", "new", "k2", "added")

	got, err := before.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got)
	_, err = before.Get(ctx, []byte("k2"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, []string{"k=old"}, ScanAll(t, before, "k"))

	after := snapshot(t, e)
	assert.Equal(t, []string{"k=new", "k2=added"}, ScanAll(t, after, "k"))
}

func testDeleteHides(t *testing.T, e storage.Engine) {
	ctx := context.Background()
	Write(t, e, "a", "1", "b", "2")
	before := snapshot(t, e)

	wb, err := e.BeginWrite(ctx)
	require.NoError(t, err)
	require.NoError(t, wb.Delete([]byte("a")))
	require.NoError(t, wb.Delete([]byte("missing")))
	require.NoError(t, wb.Commit(ctx))

	after := snapshot(t, e)
	_, err = after.Get(ctx, []byte("a"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, []string{"b=2"}, ScanAll(t, after, ""))
	assert.Equal(t, []string{"a=1", "b=2"}, ScanAll(t, before, ""), "older snapshot still sees the key")

	Write(t, e, "a", "3")
	assert.Equal(t, []string{"a=3", "b=2"}, ScanAll(t, snapshot(t, e), ""))
}

func testLastWriteInBatchWins(t *testing.T, e storage.Engine) {
	ctx := context.Background()
	wb, err := e.BeginWrite(ctx)
	require.NoError(t, err)
	require.NoError(t, wb.Put([]byte("a"), []byte("1")))
	require.NoError(t, wb.Put([]byte("a"), []byte("2")))
	require.NoError(t, wb.Put([]byte("b"), []byte("1")))
	require.NoError(t, wb.Delete([]byte("b")))
	require.NoError(t, wb.Commit(ctx))

	assert.Equal(t, []string{"a=2"}, ScanAll(t, snapshot(t, e), ""))
}

func testDiscard(t *testing.T, e storage.Engine) {
	ctx := context.Background()
	wb, err := e.BeginWrite(ctx)
	require.NoError(t, err)
	require.NoError(t, wb.Put([]byte("a"), []byte("1")))
	wb.Discard()
	wb.Discard()

	assert.Empty(t, ScanAll(t, snapshot(t, e), ""))
	// A discarded batch holds nothing back.
	Write(t, e, "a", "2")
}

func testWriteConflict(t *testing.T, e storage.Engine) {
	ctx := context.Background()
	Write(t, e, "k", "0")

	b1, err := e.BeginWrite(ctx)
	require.NoError(t, err)
	b2, err := e.BeginWrite(ctx)
	require.NoError(t, err)

	require.NoError(t, b1.Put([]byte("k"), []byte("1")))
	require.NoError(t, b2.Put([]byte("k"), []byte("2")))
	require.NoError(t, b2.Put([]byte("other"), []byte("2")))

	require.NoError(t, b1.Commit(ctx))
	err = b2.Commit(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.True(t, storage.IsConflict(err))

	assert.Equal(t, []string{"k=1"}, ScanAll(t, snapshot(t, e), ""), "loser wrote nothing")
}

func testDisjointWritesCommit(t *testing.T, e storage.Engine) {
	ctx := context.Background()
	b1, err := e.BeginWrite(ctx)
	require.NoError(t, err)
	b2, err := e.BeginWrite(ctx)
	require.NoError(t, err)

	require.NoError(t, b1.Put([]byte("a"), []byte("1")))
	require.NoError(t, b2.Put([]byte("b"), []byte("2")))
	require.NoError(t, b1.Commit(ctx))
	require.NoError(t, b2.Commit(ctx))

	assert.Equal(t, []string{"a=1", "b=2"}, ScanAll(t, snapshot(t, e), ""))
}

func testConcurrentReads(t *testing.T, e storage.Engine) {
	var kvs []string
	for i := 0; i < 50; i++ {
		kvs = append(kvs, fmt.Sprintf("k%03d", i), fmt.Sprintf("v%d", i))
	}
	Write(t, e, kvs...)
	snap := snapshot(t, e)

	ctx := context.Background()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			for i := 0; i < 50; i++ {
				got, err := snap.Get(gctx, []byte(fmt.Sprintf("k%03d", i)))
				if err != nil {
					return err
				}
				if string(got) != fmt.Sprintf("v%d", i) {
					return fmt.Errorf("k%03d: got %q", i, got)
				}
			}
			all, err := storage.Collect(snap.Scan(gctx, []byte("k")))
			if err != nil {
				return err
			}
			if len(all) != 50 {
				return fmt.Errorf("scan returned %d pairs", len(all))
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func testFinishedBatch(t *testing.T, e storage.Engine) {
	ctx := context.Background()
	wb, err := e.BeginWrite(ctx)
	require.NoError(t, err)
	require.NoError(t, wb.Commit(ctx))

	assert.ErrorIs(t, wb.Put([]byte("a"), []byte("1")), storage.ErrClosed)
	assert.ErrorIs(t, wb.Commit(ctx), storage.ErrClosed)
	wb.Discard()
}

func testFaultyCommitIsAtomic(t *testing.T, e storage.Engine) {
	ctx := context.Background()
	Write(t, e, "a", "0")

	faulty := &Faulty{Engine: e, FailAfterWrites: 2}
	wb, err := faulty.BeginWrite(ctx)
	require.NoError(t, err)
	require.NoError(t, wb.Put([]byte("a"), []byte("1")))
	require.NoError(t, wb.Put([]byte("b"), []byte("1")))
	require.ErrorIs(t, wb.Put([]byte("c"), []byte("1")), ErrInjected)
	err = wb.Commit(ctx)
	require.ErrorIs(t, err, ErrInjected)
	assert.True(t, storage.IsStorageError(err))
	assert.Zero(t, faulty.Commits())

	assert.Equal(t, []string{"a=0"}, ScanAll(t, snapshot(t, e), ""))
}
