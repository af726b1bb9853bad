// Package memory is an in-process storage.Engine.
//
// Data lives in a google/btree B-tree. Snapshots are copy-on-write clones,
// so taking one is O(1) and later commits never disturb it. Conflict
// detection compares the commit version of each written key against the
// version current when the batch began.
package memory

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/google/btree"

	"github.com/roach88/strata/internal/storage"
)

const backendName = "memory"

type entry struct {
	key   []byte
	value []byte
}

func lessEntry(a, b entry) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// Engine is an in-memory storage.Engine. It is safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	tree     *btree.BTreeG[entry]
	versions map[string]int64
	clock    *Clock
	closed   bool
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for commit diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New returns an empty engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		tree:     btree.NewG(32, lessEntry),
		versions: make(map[string]int64),
		clock:    NewClock(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Snapshot implements storage.Engine.
func (e *Engine) Snapshot(ctx context.Context) (storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, storage.ErrClosed
	}
	return &snapshot{tree: e.tree.Clone()}, nil
}

// BeginWrite implements storage.Engine.
func (e *Engine) BeginWrite(ctx context.Context) (storage.WriteBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, storage.ErrClosed
	}
	return &batch{engine: e, start: e.clock.Current(), ops: make(map[string][]byte)}, nil
}

// Close implements storage.Engine. Outstanding snapshots stay readable.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

type snapshot struct {
	mu       sync.RWMutex
	tree     *btree.BTreeG[entry]
	released bool
}

func (s *snapshot) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.released {
		return nil, storage.ErrClosed
	}
	item, ok := s.tree.Get(entry{key: key})
	if !ok {
		return nil, storage.ErrNotFound
	}
	return bytes.Clone(item.value), nil
}

func (s *snapshot) Scan(ctx context.Context, prefix []byte) storage.Iterator {
	if err := ctx.Err(); err != nil {
		return storage.NewSliceIterator(nil, err)
	}
	return storage.NewPagedIterator(func(after []byte, limit int) ([]storage.KV, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.released {
			return nil, storage.ErrClosed
		}
		pivot := prefix
		if after != nil {
			pivot = after
		}
		var kvs []storage.KV
		s.tree.AscendGreaterOrEqual(entry{key: pivot}, func(item entry) bool {
			if after != nil && bytes.Equal(item.key, after) {
				return true
			}
			if !bytes.HasPrefix(item.key, prefix) {
				return false
			}
			kvs = append(kvs, storage.KV{Key: item.key, Value: item.value})
			return len(kvs) < limit
		})
		return kvs, nil
	})
}

func (s *snapshot) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	s.tree = nil
}

type batch struct {
	engine *Engine
	start  int64
	// ops maps key to value; a nil value is a delete.
	ops  map[string][]byte
	done bool
}

func (b *batch) Put(key, value []byte) error {
	if b.done {
		return storage.ErrClosed
	}
	if value == nil {
		value = []byte{}
	}
	b.ops[string(key)] = bytes.Clone(value)
	return nil
}

func (b *batch) Delete(key []byte) error {
	if b.done {
		return storage.ErrClosed
	}
	b.ops[string(key)] = nil
	return nil
}

func (b *batch) Commit(ctx context.Context) error {
	if b.done {
		return storage.ErrClosed
	}
	b.done = true
	if err := ctx.Err(); err != nil {
		return err
	}

	e := b.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return storage.ErrClosed
	}

	for k := range b.ops {
		if e.versions[k] > b.start {
			e.logger.Debug("write conflict", "key", []byte(k), "batch_start", b.start, "key_version", e.versions[k])
			return storage.ErrConflict
		}
	}

	version := e.clock.Next()
	for k, v := range b.ops {
		if v == nil {
			e.tree.Delete(entry{key: []byte(k)})
		} else {
			e.tree.ReplaceOrInsert(entry{key: []byte(k), value: v})
		}
		e.versions[k] = version
	}
	return nil
}

func (b *batch) Discard() {
	b.done = true
	b.ops = nil
}

var _ storage.Engine = (*Engine)(nil)
