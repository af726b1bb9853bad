package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Snapshot.Get for a missing key.
	ErrNotFound = errors.New("storage: key not found")

	// ErrConflict is returned by WriteBatch.Commit when a key written by
	// the batch was committed by someone else after the batch began.
	ErrConflict = errors.New("storage: transaction conflict")

	// ErrClosed is returned by operations on a closed engine or a finished
	// batch.
	ErrClosed = errors.New("storage: closed")
)

// Error wraps a backend failure verbatim.
type Error struct {
	Backend string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns err as a *Error. Nil, sentinel and already-wrapped errors
// are returned unchanged so callers can keep testing them with errors.Is.
func Wrap(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrClosed) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Backend: backend, Op: op, Err: err}
}

// IsConflict returns true if err reports a transaction conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsStorageError returns true if err is a wrapped backend failure.
func IsStorageError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

// Engine is a transactional ordered key-value store.
type Engine interface {
	// Snapshot acquires a consistent read view. The caller must Release it.
	Snapshot(ctx context.Context) (Snapshot, error)

	// BeginWrite opens a write batch. The caller must Commit or Discard it.
	BeginWrite(ctx context.Context) (WriteBatch, error)

	Close() error
}

// Snapshot is a read-only point-in-time view.
type Snapshot interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Scan iterates the keys starting with prefix in ascending byte order.
	// Each call starts a fresh iteration.
	Scan(ctx context.Context, prefix []byte) Iterator

	Release()
}

// Iterator walks a finite ordered key range. Key and Value are valid until
// the next call to Next.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close()
}

// WriteBatch buffers writes until Commit. Later operations on a key replace
// earlier ones.
type WriteBatch interface {
	Put(key, value []byte) error
	Delete(key []byte) error

	// Commit applies every buffered operation atomically. On any error none
	// of them are visible.
	Commit(ctx context.Context) error

	// Discard drops the batch. Safe to call after Commit.
	Discard()
}

// Collect drains it into key/value pairs and closes it.
func Collect(it Iterator) ([]KV, error) {
	defer it.Close()
	var out []KV
	for it.Next() {
		out = append(out, KV{Key: bytes.Clone(it.Key()), Value: bytes.Clone(it.Value())})
	}
	return out, it.Err()
}

// KV is one key/value pair.
type KV struct {
	Key   []byte
	Value []byte
}

// PrefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// SliceIterator iterates a pre-sorted slice of pairs. Backends also use it
// to report an error found before iteration starts.
type SliceIterator struct {
	kvs []KV
	pos int
	err error
}

// NewSliceIterator returns an iterator over kvs, which must already be in
// ascending key order.
func NewSliceIterator(kvs []KV, err error) *SliceIterator {
	return &SliceIterator{kvs: kvs, pos: -1, err: err}
}

func (it *SliceIterator) Next() bool {
	if it.err != nil || it.pos+1 >= len(it.kvs) {
		it.pos = len(it.kvs)
		return false
	}
	it.pos++
	return true
}

func (it *SliceIterator) Key() []byte   { return it.kvs[it.pos].Key }
func (it *SliceIterator) Value() []byte { return it.kvs[it.pos].Value }
func (it *SliceIterator) Err() error    { return it.err }
func (it *SliceIterator) Close()        {}

// PageSize is how many pairs a PagedIterator fetches at a time.
const PageSize = 256

// PageFunc returns up to limit pairs of a range in ascending key order,
// starting after the key after, or at the start of the range when after is
// nil.
type PageFunc func(after []byte, limit int) ([]KV, error)

// PagedIterator walks a range one page at a time. Backends whose native
// cursor cannot outlive a lock or a connection use it, so nothing is held
// between calls to Next and at most one page is in memory.
type PagedIterator struct {
	fetch PageFunc
	page  []KV
	pos   int
	last  []byte
	done  bool
	err   error
}

// NewPagedIterator returns an iterator that calls fetch whenever its
// current page runs out.
func NewPagedIterator(fetch PageFunc) *PagedIterator {
	return &PagedIterator{fetch: fetch, pos: -1}
}

func (it *PagedIterator) Next() bool {
	if it.err != nil {
		return false
	}
	it.pos++
	if it.pos < len(it.page) {
		return true
	}
	if it.done {
		it.page = nil
		return false
	}
	page, err := it.fetch(it.last, PageSize)
	if err != nil {
		it.err = err
		it.page = nil
		return false
	}
	if len(page) < PageSize {
		it.done = true
	}
	if len(page) == 0 {
		it.page = nil
		return false
	}
	it.page, it.pos = page, 0
	it.last = page[len(page)-1].Key
	return true
}

func (it *PagedIterator) Key() []byte   { return it.page[it.pos].Key }
func (it *PagedIterator) Value() []byte { return it.page[it.pos].Value }
func (it *PagedIterator) Err() error    { return it.err }

func (it *PagedIterator) Close() {
	it.page = nil
	it.done = true
}
