// Package badger is a storage.Engine backed by BadgerDB.
//
// Snapshots are read-only badger transactions. Write batches are read-write
// transactions that read each key before writing it, so badger's
// serializable snapshot isolation reports concurrent writers to the same key
// as badger.ErrConflict at commit time.
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/strata/internal/storage"
)

const backendName = "badger"

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. If nil, it is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64
}

// DefaultConfig returns defaults for an on-disk database at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Engine is a storage.Engine over a BadgerDB database.
type Engine struct {
	db     *badger.DB
	logger *slog.Logger

	stopGC chan struct{}
	gcDone chan struct{}
	once   sync.Once
}

// Open opens (creating if needed) a BadgerDB database.
func Open(cfg Config) (*Engine, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.Default()
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, storage.Wrap(backendName, "open", err)
	}

	e := &Engine{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		e.stopGC = make(chan struct{})
		e.gcDone = make(chan struct{})
		go e.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return e, nil
}

func (e *Engine) runGC(interval time.Duration, ratio float64) {
	defer close(e.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means there was nothing to collect.
			if err := e.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				e.logger.Warn("badger value log GC error", "error", err)
			}
		}
	}
}

// Snapshot implements storage.Engine.
func (e *Engine) Snapshot(ctx context.Context) (storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.db.IsClosed() {
		return nil, storage.ErrClosed
	}
	return &snapshot{txn: e.db.NewTransaction(false)}, nil
}

// BeginWrite implements storage.Engine.
func (e *Engine) BeginWrite(ctx context.Context) (storage.WriteBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.db.IsClosed() {
		return nil, storage.ErrClosed
	}
	return &batch{txn: e.db.NewTransaction(true)}, nil
}

// Close stops garbage collection and closes the database.
func (e *Engine) Close() error {
	var err error
	e.once.Do(func() {
		if e.stopGC != nil {
			close(e.stopGC)
			<-e.gcDone
		}
		err = storage.Wrap(backendName, "close", e.db.Close())
	})
	return err
}

// snapshot serialises access to its read-only transaction, which badger
// does not allow to be used from several goroutines at once.
type snapshot struct {
	mu   sync.Mutex
	txn  *badger.Txn
	open map[*iterator]struct{}
}

func (s *snapshot) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn == nil {
		return nil, storage.ErrClosed
	}
	item, err := s.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storage.Wrap(backendName, "get", err)
	}
	val, err := item.ValueCopy(nil)
	return val, storage.Wrap(backendName, "get", err)
}

func (s *snapshot) Scan(ctx context.Context, prefix []byte) storage.Iterator {
	if err := ctx.Err(); err != nil {
		return storage.NewSliceIterator(nil, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn == nil {
		return storage.NewSliceIterator(nil, storage.ErrClosed)
	}

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := &iterator{ctx: ctx, snap: s, it: s.txn.NewIterator(opts), prefix: prefix}
	if s.open == nil {
		s.open = make(map[*iterator]struct{})
	}
	s.open[it] = struct{}{}
	return it
}

// Release closes any iterator still open, then discards the transaction.
func (s *snapshot) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for it := range s.open {
		it.closeLocked()
		it.err = storage.ErrClosed
	}
	if s.txn != nil {
		s.txn.Discard()
		s.txn = nil
	}
}

// iterator walks one prefix of a snapshot lazily. Each step holds the
// snapshot lock, never the span between steps.
type iterator struct {
	ctx     context.Context
	snap    *snapshot
	it      *badger.Iterator
	prefix  []byte
	started bool
	key     []byte
	value   []byte
	err     error
}

func (it *iterator) Next() bool {
	it.snap.mu.Lock()
	defer it.snap.mu.Unlock()
	if it.err != nil || it.it == nil {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		it.closeLocked()
		return false
	}
	if it.started {
		it.it.Next()
	} else {
		it.it.Seek(it.prefix)
		it.started = true
	}
	if !it.it.ValidForPrefix(it.prefix) {
		it.closeLocked()
		return false
	}
	item := it.it.Item()
	val, err := item.ValueCopy(nil)
	if err != nil {
		it.err = storage.Wrap(backendName, "scan", err)
		it.closeLocked()
		return false
	}
	it.key, it.value = item.KeyCopy(nil), val
	return true
}

func (it *iterator) Key() []byte   { return it.key }
func (it *iterator) Value() []byte { return it.value }
func (it *iterator) Err() error    { return it.err }

func (it *iterator) Close() {
	it.snap.mu.Lock()
	defer it.snap.mu.Unlock()
	it.closeLocked()
}

func (it *iterator) closeLocked() {
	if it.it == nil {
		return
	}
	it.it.Close()
	it.it = nil
	delete(it.snap.open, it)
}

type batch struct {
	mu  sync.Mutex
	txn *badger.Txn
}

// track reads key inside the transaction so a concurrent commit of the same
// key makes this transaction fail with badger.ErrConflict.
func (b *batch) track(key []byte) error {
	_, err := b.txn.Get(key)
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return storage.Wrap(backendName, "get", err)
	}
	return nil
}

func (b *batch) Put(key, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txn == nil {
		return storage.ErrClosed
	}
	if err := b.track(key); err != nil {
		return err
	}
	return storage.Wrap(backendName, "put", b.txn.Set(bytes.Clone(key), bytes.Clone(value)))
}

func (b *batch) Delete(key []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txn == nil {
		return storage.ErrClosed
	}
	if err := b.track(key); err != nil {
		return err
	}
	return storage.Wrap(backendName, "delete", b.txn.Delete(bytes.Clone(key)))
}

func (b *batch) Commit(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txn == nil {
		return storage.ErrClosed
	}
	txn := b.txn
	b.txn = nil
	if err := ctx.Err(); err != nil {
		txn.Discard()
		return err
	}
	err := txn.Commit()
	if errors.Is(err, badger.ErrConflict) {
		return storage.ErrConflict
	}
	return storage.Wrap(backendName, "commit", err)
}

func (b *batch) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txn != nil {
		b.txn.Discard()
		b.txn = nil
	}
}

var _ storage.Engine = (*Engine)(nil)
