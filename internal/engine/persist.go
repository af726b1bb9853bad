package engine

import (
	"bytes"
	"context"
	"fmt"

	"github.com/roach88/strata/internal/codec"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/storage"
)

// persist stages the output tuples into wb according to directive and
// returns how many tuples it wrote or deleted.
//
// A target without a catalog entry is created with the output schema; rm
// against such a target does nothing. The target's stored schema must have
// the output's arity, and every tuple must satisfy it.
func persist(
	ctx context.Context,
	snap storage.Snapshot,
	wb storage.WriteBatch,
	catalog map[string]ir.Schema,
	directive ir.Persist,
	schema ir.Schema,
	tuples []ir.Tuple,
) (int, error) {
	target := directive.Target(schema.Relation)
	stored, exists := catalog[target]
	if !exists {
		if directive.Mode == ir.PersistRemove {
			return 0, nil
		}
		stored = ir.Schema{Relation: target, Columns: append([]ir.Column(nil), schema.Columns...)}
		data, err := codec.EncodeSchema(stored)
		if err != nil {
			return 0, fmt.Errorf("encode schema of %q: %w", target, err)
		}
		if err := wb.Put(codec.CatalogKey(target), data); err != nil {
			return 0, fmt.Errorf("write catalog entry %q: %w", target, err)
		}
	}
	if stored.Arity() != schema.Arity() {
		return 0, NewTypeError(-1, target, "output %q has %d columns, stored relation has %d",
			schema.Relation, schema.Arity(), stored.Arity())
	}

	if directive.Mode == ir.PersistReplace && exists {
		if _, err := deletePrefix(ctx, snap, wb, codec.RelationPrefix(target)); err != nil {
			return 0, fmt.Errorf("clear %q: %w", target, err)
		}
	}

	n := 0
	written := make(map[string][]byte, len(tuples))
	for _, t := range tuples {
		if directive.Mode == ir.PersistRemove {
			key, err := codec.KeyPrefix(target, stored.KeyOf(t))
			if err != nil {
				return 0, NewTypeError(-1, target, "%v", err)
			}
			if err := wb.Delete(key); err != nil {
				return 0, fmt.Errorf("delete from %q: %w", target, err)
			}
			n++
			continue
		}

		key, value, err := codec.EncodeTuple(stored, t)
		if err != nil {
			return 0, NewTypeError(-1, target, "%v", err)
		}
		if prev, ok := written[string(key)]; ok {
			if !bytes.Equal(prev, value) {
				return 0, NewTypeError(-1, target, "tuple %s repeats a key with different values", t)
			}
			continue
		}
		written[string(key)] = value
		if err := wb.Put(key, value); err != nil {
			return 0, fmt.Errorf("write to %q: %w", target, err)
		}
		n++
	}
	return n, nil
}
