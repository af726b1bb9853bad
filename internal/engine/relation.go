package engine

import (
	"fmt"

	"github.com/google/btree"

	"github.com/roach88/strata/internal/ir"
)

// Relation is an in-memory ordered tuple set.
//
// Tuples are kept in tuple order in a B-tree so lookups bound on leading
// columns become range scans. A relation with fewer key columns than
// columns enforces key uniqueness on Insert.
//
// Thread-safety: concurrent readers are safe while no goroutine inserts.
// The evaluator only inserts between rounds.
type Relation struct {
	name     string
	arity    int
	keyArity int
	tree     *btree.BTreeG[ir.Tuple]
}

func lessTuple(a, b ir.Tuple) bool {
	return ir.CompareTuples(a, b) < 0
}

// NewRelation creates an empty relation. keyArity is clamped to arity.
func NewRelation(name string, arity, keyArity int) *Relation {
	if keyArity <= 0 || keyArity > arity {
		keyArity = arity
	}
	return &Relation{
		name:     name,
		arity:    arity,
		keyArity: keyArity,
		tree:     btree.NewG(32, lessTuple),
	}
}

// Name returns the relation name.
func (r *Relation) Name() string { return r.name }

// Arity returns the number of columns.
func (r *Relation) Arity() int { return r.arity }

// Len returns the number of tuples.
func (r *Relation) Len() int { return r.tree.Len() }

// Has reports whether t is present.
func (r *Relation) Has(t ir.Tuple) bool {
	return r.tree.Has(t)
}

// KeyConflictError reports two tuples sharing key columns.
type KeyConflictError struct {
	Relation string
	Existing ir.Tuple
	Incoming ir.Tuple
}

func (e *KeyConflictError) Error() string {
	return fmt.Sprintf("relation %q: tuple %s conflicts with %s on key columns", e.Relation, e.Incoming, e.Existing)
}

// Insert adds t and reports whether it was new. It fails with
// *KeyConflictError when a different tuple with the same key is present.
func (r *Relation) Insert(t ir.Tuple) (bool, error) {
	if len(t) != r.arity {
		return false, fmt.Errorf("relation %q expects %d columns, got %d", r.name, r.arity, len(t))
	}
	if r.tree.Has(t) {
		return false, nil
	}
	if r.keyArity < r.arity {
		var existing ir.Tuple
		key := t[:r.keyArity]
		r.tree.AscendGreaterOrEqual(key, func(item ir.Tuple) bool {
			if item.HasPrefix(key) {
				existing = item
			}
			return false
		})
		if existing != nil {
			return false, &KeyConflictError{Relation: r.name, Existing: existing, Incoming: t}
		}
	}
	r.tree.ReplaceOrInsert(t)
	return true, nil
}

// Scan calls fn for every tuple whose leading columns equal prefix, in
// tuple order, until fn returns false.
func (r *Relation) Scan(prefix ir.Tuple, fn func(ir.Tuple) bool) {
	if len(prefix) == 0 {
		r.tree.Ascend(fn)
		return
	}
	r.tree.AscendGreaterOrEqual(prefix, func(item ir.Tuple) bool {
		if !item.HasPrefix(prefix) {
			return false
		}
		return fn(item)
	})
}

// Tuples returns all tuples in tuple order.
func (r *Relation) Tuples() []ir.Tuple {
	out := make([]ir.Tuple, 0, r.tree.Len())
	r.tree.Ascend(func(t ir.Tuple) bool {
		out = append(out, t)
		return true
	})
	return out
}
