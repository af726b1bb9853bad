package storagetest

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/roach88/strata/internal/storage"
)

// ErrInjected is the failure returned by a Faulty engine.
var ErrInjected = errors.New("storagetest: injected failure")

// Faulty wraps an engine and fails write batches on demand. Writes before
// the failure point reach the wrapped batch, which is then discarded, so a
// failing commit exercises the partially-written path.
type Faulty struct {
	storage.Engine

	// FailAfterWrites makes the n+1th Put or Delete of every batch fail.
	// Zero disables it.
	FailAfterWrites int

	// FailCommit makes Commit fail after forwarding every write.
	FailCommit bool

	commits atomic.Int64
}

// Commits reports how many batches reached the wrapped engine's Commit.
func (f *Faulty) Commits() int64 {
	return f.commits.Load()
}

// BeginWrite implements storage.Engine.
func (f *Faulty) BeginWrite(ctx context.Context) (storage.WriteBatch, error) {
	wb, err := f.Engine.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyBatch{WriteBatch: wb, faulty: f}, nil
}

type faultyBatch struct {
	storage.WriteBatch
	faulty *Faulty
	writes int
	failed bool
}

func (b *faultyBatch) step() error {
	b.writes++
	if b.faulty.FailAfterWrites > 0 && b.writes > b.faulty.FailAfterWrites {
		b.failed = true
		return &storage.Error{Backend: "faulty", Op: "write", Err: ErrInjected}
	}
	return nil
}

func (b *faultyBatch) Put(key, value []byte) error {
	if err := b.step(); err != nil {
		return err
	}
	return b.WriteBatch.Put(key, value)
}

func (b *faultyBatch) Delete(key []byte) error {
	if err := b.step(); err != nil {
		return err
	}
	return b.WriteBatch.Delete(key)
}

func (b *faultyBatch) Commit(ctx context.Context) error {
	if b.failed || b.faulty.FailCommit {
		b.WriteBatch.Discard()
		return &storage.Error{Backend: "faulty", Op: "commit", Err: ErrInjected}
	}
	b.faulty.commits.Add(1)
	return b.WriteBatch.Commit(ctx)
}
