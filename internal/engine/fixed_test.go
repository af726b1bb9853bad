package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/ir"
	tu "github.com/roach88/strata/internal/testutil"
)

func degreeProgram(direction string) *ir.Program {
	p := tu.Program("deg",
		tu.Facts("edge", tu.Edges([2]int{1, 2}, [2]int{1, 3}, [2]int{2, 3})...),
		tu.Fixed(tu.Head("deg", "node", "k"), "Degree", "edge"),
	)
	if direction != "" {
		p.Rules[1].Fixed.Options["direction"] = ir.String(direction)
	}
	return p
}

func TestDegree_Directions(t *testing.T) {
	tests := []struct {
		direction string
		want      []ir.Tuple
	}{
		{"", []ir.Tuple{ir.T(1, 2), ir.T(2, 1), ir.T(3, 0)}},
		{"in", []ir.Tuple{ir.T(1, 0), ir.T(2, 1), ir.T(3, 2)}},
		{"both", []ir.Tuple{ir.T(1, 2), ir.T(2, 2), ir.T(3, 2)}},
	}
	for _, tt := range tests {
		t.Run("direction="+tt.direction, func(t *testing.T) {
			e, _ := setupTestEngine(t)
			res := run(t, e, degreeProgram(tt.direction))
			assert.Equal(t, tt.want, res.Tuples)
			assert.Equal(t, 2, res.Strata, "fixed rules read finalized inputs")
		})
	}
}

func TestDegree_BadOption(t *testing.T) {
	e, _ := setupTestEngine(t)
	_, err := e.Run(context.Background(), degreeProgram("sideways"))
	require.Error(t, err)
	assert.True(t, IsTypeError(err))

	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "deg", re.Relation)
	assert.Equal(t, 1, re.Rule)
}

func TestFixedRule_ArityChecked(t *testing.T) {
	wide := FixedRuleFunc(func(context.Context, []FixedInput, map[string]ir.Value) ([]ir.Tuple, error) {
		return []ir.Tuple{ir.T(1, 2, 3)}, nil
	})
	e, _ := setupTestEngine(t, WithFixedRule("Wide", wide))
	p := tu.Program("out",
		tu.Facts("in", ir.T(1)),
		tu.Fixed(tu.Head("out", "a", "b"), "Wide", "in"),
	)
	_, err := e.Run(context.Background(), p)
	require.Error(t, err)
	assert.True(t, IsTypeError(err))
	assert.Contains(t, err.Error(), "produced 3 columns")
}

func TestFixedRule_ErrorIsWrapped(t *testing.T) {
	boom := errors.New("boom")
	failing := FixedRuleFunc(func(context.Context, []FixedInput, map[string]ir.Value) ([]ir.Tuple, error) {
		return nil, boom
	})
	e, _ := setupTestEngine(t, WithFixedRule("Failing", failing))
	p := tu.Program("out",
		tu.Facts("in", ir.T(1)),
		tu.Fixed(tu.Head("out", "a"), "Failing", "in"),
	)
	_, err := e.Run(context.Background(), p)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "fixed rule Failing")
}

func TestFixedRule_Unknown(t *testing.T) {
	e, _ := setupTestEngine(t)
	p := tu.Program("out",
		tu.Facts("in", ir.T(1)),
		tu.Fixed(tu.Head("out", "a"), "PageRank", "in"),
	)
	_, err := e.Run(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, KindValidation, Classify(err))
}
