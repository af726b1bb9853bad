package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/ir"
)

func TestRelation_InsertDeduplicates(t *testing.T) {
	r := NewRelation("edge", 2, 2)
	added, err := r.Insert(ir.T(1, 2))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = r.Insert(ir.T(1, 2))
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.Has(ir.T(1, 2)))
}

func TestRelation_TupleOrder(t *testing.T) {
	r := NewRelation("mixed", 1, 1)
	for _, v := range []any{"b", 3, 1.5, nil, true, "a", 2} {
		_, err := r.Insert(ir.T(v))
		require.NoError(t, err)
	}
	assert.Equal(t, []ir.Tuple{
		ir.T(nil), ir.T(true), ir.T(2), ir.T(3), ir.T(1.5), ir.T("a"), ir.T("b"),
	}, r.Tuples())
}

func TestRelation_ArityChecked(t *testing.T) {
	r := NewRelation("edge", 2, 2)
	_, err := r.Insert(ir.T(1))
	assert.Error(t, err)
}

func TestRelation_KeyConflict(t *testing.T) {
	r := NewRelation("cost", 2, 1)
	_, err := r.Insert(ir.T("a", 1))
	require.NoError(t, err)

	_, err = r.Insert(ir.T("a", 2))
	var kc *KeyConflictError
	require.ErrorAs(t, err, &kc)
	assert.Equal(t, ir.T("a", 1), kc.Existing)
	assert.Equal(t, ir.T("a", 2), kc.Incoming)

	added, err := r.Insert(ir.T("a", 1))
	require.NoError(t, err, "the same tuple is not a conflict")
	assert.False(t, added)
}

func TestRelation_ScanPrefix(t *testing.T) {
	r := NewRelation("edge", 2, 2)
	for _, e := range [][2]int{{2, 1}, {1, 3}, {1, 2}, {3, 1}, {2, 2}} {
		_, err := r.Insert(ir.T(e[0], e[1]))
		require.NoError(t, err)
	}

	var got []ir.Tuple
	r.Scan(ir.T(2), func(t ir.Tuple) bool {
		got = append(got, t)
		return true
	})
	assert.Equal(t, []ir.Tuple{ir.T(2, 1), ir.T(2, 2)}, got)

	got = nil
	r.Scan(nil, func(t ir.Tuple) bool {
		got = append(got, t)
		return len(got) < 2
	})
	assert.Equal(t, []ir.Tuple{ir.T(1, 2), ir.T(1, 3)}, got, "scan stops when fn returns false")

	got = nil
	r.Scan(ir.T(9), func(t ir.Tuple) bool {
		got = append(got, t)
		return true
	})
	assert.Empty(t, got)
}
