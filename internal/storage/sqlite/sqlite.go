// Package sqlite is a storage.Engine backed by a SQLite database.
//
// Keys live in a versioned table: each commit inserts its writes at the next
// version and a snapshot is the version current when it was taken, so reads
// never block writers. Commits run in an immediate transaction that rejects
// the batch when any of its keys has a version newer than the batch start.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/strata/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

const backendName = "sqlite"

// Schema version tracking:
// 1 - versioned kv table and commit counter
const currentSchemaVersion = 1

// Engine is a storage.Engine over SQLite.
type Engine struct {
	db     *sql.DB
	logger *slog.Logger

	mu sync.Mutex
	// live counts open snapshots and batches per start version; Compact
	// keeps every row one of them can still see.
	live map[int64]int
}

// Open creates or opens a SQLite database at the given path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - immediate transactions so commits take the write lock up front
func Open(path string, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path+"?_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, storage.Wrap(backendName, "open", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storage.Wrap(backendName, "open", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, storage.Wrap(backendName, "open", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, storage.Wrap(backendName, "open", err)
	}

	return &Engine{db: db, logger: logger, live: make(map[int64]int)}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (e *Engine) currentVersion(ctx context.Context) (int64, error) {
	var v int64
	err := e.db.QueryRowContext(ctx, "SELECT version FROM commits WHERE id = 1").Scan(&v)
	return v, err
}

// acquire registers a reader or writer at the current version.
func (e *Engine) acquire(ctx context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.live == nil {
		return 0, storage.ErrClosed
	}
	v, err := e.currentVersion(ctx)
	if err != nil {
		return 0, storage.Wrap(backendName, "version", err)
	}
	e.live[v]++
	return v, nil
}

func (e *Engine) release(v int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.live == nil {
		return
	}
	if e.live[v]--; e.live[v] <= 0 {
		delete(e.live, v)
	}
}

// Snapshot implements storage.Engine.
func (e *Engine) Snapshot(ctx context.Context) (storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &snapshot{engine: e, version: v}, nil
}

// BeginWrite implements storage.Engine.
func (e *Engine) BeginWrite(ctx context.Context) (storage.WriteBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &batch{engine: e, start: v, ops: make(map[string][]byte)}, nil
}

// Compact deletes row versions no open snapshot or batch can see.
func (e *Engine) Compact(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.live == nil {
		return storage.ErrClosed
	}
	floor, err := e.currentVersion(ctx)
	if err != nil {
		return storage.Wrap(backendName, "compact", err)
	}
	for v := range e.live {
		floor = min(floor, v)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Wrap(backendName, "compact", err)
	}
	defer tx.Rollback()

	shadowed, err := tx.ExecContext(ctx, `
		DELETE FROM kv WHERE version < (
			SELECT MAX(newer.version) FROM kv AS newer
			WHERE newer.key = kv.key AND newer.version <= ?
		)`, floor)
	if err != nil {
		return storage.Wrap(backendName, "compact", err)
	}
	tombstones, err := tx.ExecContext(ctx, `
		DELETE FROM kv WHERE value IS NULL AND version <= ? AND NOT EXISTS (
			SELECT 1 FROM kv AS newer WHERE newer.key = kv.key AND newer.version > kv.version
		)`, floor)
	if err != nil {
		return storage.Wrap(backendName, "compact", err)
	}
	if err := tx.Commit(); err != nil {
		return storage.Wrap(backendName, "compact", err)
	}

	n1, _ := shadowed.RowsAffected()
	n2, _ := tombstones.RowsAffected()
	e.logger.Debug("sqlite compaction", "floor", floor, "shadowed", n1, "tombstones", n2)
	return nil
}

// Close compacts and closes the database.
func (e *Engine) Close() error {
	if err := e.Compact(context.Background()); err != nil && !errors.Is(err, storage.ErrClosed) {
		e.logger.Warn("sqlite compaction on close failed", "error", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.live == nil {
		return nil
	}
	e.live = nil
	return storage.Wrap(backendName, "close", e.db.Close())
}

type snapshot struct {
	engine  *Engine
	version int64

	once     sync.Once
	released bool
}

func (s *snapshot) Get(ctx context.Context, key []byte) ([]byte, error) {
	if s.released {
		return nil, storage.ErrClosed
	}
	var value []byte
	err := s.engine.db.QueryRowContext(ctx, `
		SELECT value FROM kv WHERE key = ? AND version <= ?
		ORDER BY version DESC LIMIT 1`, key, s.version).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storage.Wrap(backendName, "get", err)
	}
	if value == nil {
		return nil, storage.ErrNotFound
	}
	return value, nil
}

// Scan reads the range one page per query. The pool has a single
// connection, so a cursor left open across Next would block nested scans
// and commits.
func (s *snapshot) Scan(ctx context.Context, prefix []byte) storage.Iterator {
	if s.released {
		return storage.NewSliceIterator(nil, storage.ErrClosed)
	}

	query := `
		SELECT key, value FROM kv AS cur
		WHERE key >= ?1 AND (?2 IS NULL OR key < ?2)
		  AND (?4 IS NULL OR key > ?4)
		  AND version = (
			SELECT MAX(version) FROM kv
			WHERE kv.key = cur.key AND kv.version <= ?3
		  )
		  AND value IS NOT NULL
		ORDER BY key
		LIMIT ?5`
	var end any
	if e := storage.PrefixEnd(prefix); e != nil {
		end = e
	}
	if prefix == nil {
		prefix = []byte{}
	}

	return storage.NewPagedIterator(func(after []byte, limit int) ([]storage.KV, error) {
		if s.released {
			return nil, storage.ErrClosed
		}
		var from any
		if after != nil {
			from = after
		}
		rows, err := s.engine.db.QueryContext(ctx, query, prefix, end, s.version, from, limit)
		if err != nil {
			return nil, storage.Wrap(backendName, "scan", err)
		}
		defer rows.Close()

		var kvs []storage.KV
		for rows.Next() {
			var kv storage.KV
			if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
				return nil, storage.Wrap(backendName, "scan", err)
			}
			kvs = append(kvs, kv)
		}
		return kvs, storage.Wrap(backendName, "scan", rows.Err())
	})
}

func (s *snapshot) Release() {
	s.once.Do(func() {
		s.released = true
		s.engine.release(s.version)
	})
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
	b.ops[string(key)] = slices.Clone(value)
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
	defer b.engine.release(b.start)

	tx, err := b.engine.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Wrap(backendName, "begin", err)
	}
	defer tx.Rollback()

	var current int64
	if err := tx.QueryRowContext(ctx, "SELECT version FROM commits WHERE id = 1").Scan(&current); err != nil {
		return storage.Wrap(backendName, "commit", err)
	}

	keys := make([]string, 0, len(b.ops))
	for k := range b.ops {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	if current > b.start {
		check, err := tx.PrepareContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM kv WHERE key = ?")
		if err != nil {
			return storage.Wrap(backendName, "commit", err)
		}
		defer check.Close()
		for _, k := range keys {
			var v int64
			if err := check.QueryRowContext(ctx, []byte(k)).Scan(&v); err != nil {
				return storage.Wrap(backendName, "commit", err)
			}
			if v > b.start {
				return storage.ErrConflict
			}
		}
	}

	next := current + 1
	insert, err := tx.PrepareContext(ctx, "INSERT INTO kv (key, version, value) VALUES (?, ?, ?)")
	if err != nil {
		return storage.Wrap(backendName, "commit", err)
	}
	defer insert.Close()
	for _, k := range keys {
		var value any
		if v := b.ops[k]; v != nil {
			value = v
		}
		if _, err := insert.ExecContext(ctx, []byte(k), next, value); err != nil {
			return storage.Wrap(backendName, "commit", err)
		}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE commits SET version = ? WHERE id = 1", next); err != nil {
		return storage.Wrap(backendName, "commit", err)
	}
	return storage.Wrap(backendName, "commit", tx.Commit())
}

func (b *batch) Discard() {
	if b.done {
		return
	}
	b.done = true
	b.ops = nil
	b.engine.release(b.start)
}

var _ storage.Engine = (*Engine)(nil)
