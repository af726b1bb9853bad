package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/strata/internal/codec"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/storage"
)

// readCatalog returns the stored schemas of the named relations. Relations
// without a catalog entry are absent from the map.
func readCatalog(ctx context.Context, snap storage.Snapshot, names []string) (map[string]ir.Schema, error) {
	out := make(map[string]ir.Schema)
	for _, name := range names {
		if _, ok := out[name]; ok {
			continue
		}
		s, err := lookupSchema(ctx, snap, name)
		if errors.Is(err, ErrRelationNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[name] = s
	}
	return out, nil
}

// lookupSchema reads one catalog entry.
func lookupSchema(ctx context.Context, snap storage.Snapshot, name string) (ir.Schema, error) {
	data, err := snap.Get(ctx, codec.CatalogKey(name))
	if errors.Is(err, storage.ErrNotFound) {
		return ir.Schema{}, fmt.Errorf("%w: %q", ErrRelationNotFound, name)
	}
	if err != nil {
		return ir.Schema{}, fmt.Errorf("read catalog entry %q: %w", name, err)
	}
	s, err := codec.DecodeSchema(data)
	if err != nil {
		return ir.Schema{}, fmt.Errorf("catalog entry %q: %w", name, err)
	}
	s.Relation = name
	return s, nil
}

// scanStored calls fn for every stored tuple of s whose leading columns
// equal leading, in key order.
func scanStored(ctx context.Context, snap storage.Snapshot, s ir.Schema, leading ir.Tuple, fn func(ir.Tuple) error) error {
	bound := leading
	if len(bound) > s.KeyArity() {
		bound = bound[:s.KeyArity()]
	}
	prefix, err := codec.KeyPrefix(s.Relation, bound)
	if err != nil {
		return NewTypeError(-1, s.Relation, "scan prefix: %v", err)
	}
	it := snap.Scan(ctx, prefix)
	defer it.Close()
	for it.Next() {
		t, err := codec.DecodeTuple(s, it.Key(), it.Value())
		if err != nil {
			return fmt.Errorf("decode %s: %w", s.Relation, err)
		}
		if len(leading) > len(bound) && !t.HasPrefix(leading) {
			continue
		}
		if err := fn(t); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", s.Relation, err)
	}
	return nil
}

// errStopScan ends a stored scan early without reporting an error.
var errStopScan = errors.New("stop scan")

// storedSource is a join source over a stored relation. Every Scan is a
// prefix scan of the snapshot over the bound leading columns. It belongs to
// one join; after the first storage error every Scan is empty and Err
// reports it.
type storedSource struct {
	ctx    context.Context
	snap   storage.Snapshot
	schema ir.Schema
	err    error
}

func (s *storedSource) Scan(prefix ir.Tuple, fn func(ir.Tuple) bool) {
	if s.err != nil {
		return
	}
	err := scanStored(s.ctx, s.snap, s.schema, prefix, func(t ir.Tuple) error {
		if !fn(t) {
			return errStopScan
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		s.err = err
	}
}

func (s *storedSource) Err() error {
	return s.err
}

// loadStored inserts every stored tuple of s into r.
func loadStored(ctx context.Context, snap storage.Snapshot, s ir.Schema, r *Relation) (int, error) {
	n := 0
	err := scanStored(ctx, snap, s, nil, func(t ir.Tuple) error {
		if _, err := r.Insert(t); err != nil {
			return keyConflictError(-1, err)
		}
		n++
		return nil
	})
	return n, err
}

// Relations lists the schemas of all stored relations in name order.
func (e *Engine) Relations(ctx context.Context) ([]ir.Schema, error) {
	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire snapshot: %w", err)
	}
	defer snap.Release()

	it := snap.Scan(ctx, codec.CatalogPrefix())
	defer it.Close()
	var out []ir.Schema
	for it.Next() {
		name, err := codec.CatalogRelation(it.Key())
		if err != nil {
			return nil, err
		}
		s, err := codec.DecodeSchema(it.Value())
		if err != nil {
			return nil, fmt.Errorf("catalog entry %q: %w", name, err)
		}
		s.Relation = name
		out = append(out, s)
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("scan catalog: %w", err)
	}
	return out, nil
}

// Scan returns the stored tuples of relation whose leading columns equal
// leading, in key order, with the relation's schema. It fails with
// ErrRelationNotFound when the relation is not in the catalog.
func (e *Engine) Scan(ctx context.Context, relation string, leading ir.Tuple) (ir.Schema, []ir.Tuple, error) {
	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return ir.Schema{}, nil, fmt.Errorf("acquire snapshot: %w", err)
	}
	defer snap.Release()

	s, err := lookupSchema(ctx, snap, relation)
	if err != nil {
		return ir.Schema{}, nil, err
	}
	var out []ir.Tuple
	err = scanStored(ctx, snap, s, leading, func(t ir.Tuple) error {
		out = append(out, t)
		return nil
	})
	if err != nil {
		return ir.Schema{}, nil, err
	}
	return s, out, nil
}

// Drop deletes a stored relation's tuples and its catalog entry in one
// transaction and returns the number of tuples removed.
func (e *Engine) Drop(ctx context.Context, relation string) (int, error) {
	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire snapshot: %w", err)
	}
	defer snap.Release()
	wb, err := e.store.BeginWrite(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin write: %w", err)
	}
	defer wb.Discard()

	if _, err := lookupSchema(ctx, snap, relation); err != nil {
		return 0, err
	}
	n, err := deletePrefix(ctx, snap, wb, codec.RelationPrefix(relation))
	if err != nil {
		return 0, err
	}
	if err := wb.Delete(codec.CatalogKey(relation)); err != nil {
		return 0, fmt.Errorf("delete catalog entry %q: %w", relation, err)
	}
	if err := wb.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit drop %q: %w", relation, err)
	}
	e.logger.Info("relation dropped", "relation", relation, "tuples", n)
	return n, nil
}

// deletePrefix deletes every key under prefix visible in snap.
func deletePrefix(ctx context.Context, snap storage.Snapshot, wb storage.WriteBatch, prefix []byte) (int, error) {
	it := snap.Scan(ctx, prefix)
	defer it.Close()
	n := 0
	for it.Next() {
		key := append([]byte(nil), it.Key()...)
		if err := wb.Delete(key); err != nil {
			return n, fmt.Errorf("delete: %w", err)
		}
		n++
	}
	if err := it.Err(); err != nil {
		return n, fmt.Errorf("scan: %w", err)
	}
	return n, nil
}
