package compiler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/aggr"
	"github.com/roach88/strata/internal/expr"
	"github.com/roach88/strata/internal/ir"
	tu "github.com/roach88/strata/internal/testutil"
)

func testEnv() Env {
	return Env{Aggregations: aggr.DefaultRegistry(), Operators: expr.DefaultTable()}
}

func storedSet(names ...string) func(string) bool {
	set := make(map[string]bool)
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

// TestBuildGraph_TransitiveClosure checks nodes and edge labels of the
// canonical path program.
func TestBuildGraph_TransitiveClosure(t *testing.T) {
	g, err := BuildGraph(tu.TransitiveClosure([2]int{1, 2}), nil)
	require.NoError(t, err)

	require.Len(t, g.Nodes, 2)
	assert.Equal(t, "edge", g.Nodes[0].Name)
	assert.Equal(t, "path", g.Nodes[1].Name)
	assert.Equal(t, []int{1, 2}, g.Nodes[1].Rules)

	require.Len(t, g.Edges, 2)
	assert.Equal(t, Edge{From: 1, To: 0, Kind: EdgePositive, Rule: 1}, g.Edges[0])
	assert.Equal(t, Edge{From: 1, To: 1, Kind: EdgePositive, Rule: 2}, g.Edges[1], "self loop for direct recursion")
}

// TestBuildGraph_EdgeKinds checks negative and aggregated labelling.
func TestBuildGraph_EdgeKinds(t *testing.T) {
	p := tu.Program("out",
		tu.Facts("e", ir.T(1, 2)),
		tu.Rule(tu.Head("n", "x", tu.Agg("count", "y")), tu.Atom("e", "x", "y")),
		tu.Rule(tu.Head("out", "x"), tu.Atom("e", "x", "_"), tu.Not("n", "x", 1)),
		tu.Fixed(tu.Head("deg", "a", "b"), "Degree", "e"),
	)
	g, err := BuildGraph(p, nil)
	require.NoError(t, err)

	kinds := make(map[[2]string]EdgeKind)
	for _, e := range g.Edges {
		kinds[[2]string{g.Nodes[e.From].Name, g.Nodes[e.To].Name}] = e.Kind
	}
	assert.Equal(t, EdgeAggregated, kinds[[2]string{"n", "e"}])
	assert.Equal(t, EdgePositive, kinds[[2]string{"out", "e"}])
	assert.Equal(t, EdgeNegative, kinds[[2]string{"out", "n"}])
	assert.Equal(t, EdgeAggregated, kinds[[2]string{"deg", "e"}])
}

// TestBuildGraph_UnboundRelation names the relation and the rule.
func TestBuildGraph_UnboundRelation(t *testing.T) {
	p := tu.Program("p",
		tu.Rule(tu.Head("p", "x"), tu.Atom("q", "x")),
	)
	_, err := BuildGraph(p, nil)
	require.Error(t, err)

	var unbound *UnboundRelationError
	require.True(t, errors.As(err, &unbound))
	assert.Equal(t, "q", unbound.Relation)
	assert.Equal(t, 0, unbound.Rule)
	assert.True(t, IsUnboundRelation(err))
}

// TestBuildGraph_StoredRelationIsBound accepts relations held in storage.
func TestBuildGraph_StoredRelationIsBound(t *testing.T) {
	p := tu.Program("p",
		tu.Rule(tu.Head("p", "x"), tu.Atom("q", "x")),
	)
	g, err := BuildGraph(p, storedSet("q"))
	require.NoError(t, err)
	i, ok := g.Lookup("q")
	require.True(t, ok)
	assert.True(t, g.Nodes[i].Stored)
	assert.False(t, g.Nodes[i].Derived())
}

// TestBuildGraph_Output checks the output relation must exist.
func TestBuildGraph_Output(t *testing.T) {
	p := tu.Program("missing", tu.Facts("e", ir.T(1)))
	_, err := BuildGraph(p, nil)
	var unbound *UnboundRelationError
	require.True(t, errors.As(err, &unbound))
	assert.Equal(t, -1, unbound.Rule)

	p = tu.Program("stored", tu.Facts("e", ir.T(1)))
	g, err := BuildGraph(p, storedSet("stored"))
	require.NoError(t, err)
	_, ok := g.Lookup("stored")
	assert.True(t, ok, "a stored output joins the graph")
}

// TestStratify_TransitiveClosure puts recursion in one stratum.
func TestStratify_TransitiveClosure(t *testing.T) {
	strat, err := Compile(tu.TransitiveClosure([2]int{1, 2}), testEnv(), nil)
	require.NoError(t, err)

	require.Len(t, strat.Strata, 1)
	assert.Equal(t, []string{"edge", "path"}, strat.Strata[0].Relations)
	assert.Equal(t, []int{0, 1, 2}, strat.Strata[0].Rules)
	assert.True(t, strat.Strata[0].Recursive)
}

// TestStratify_NegationOrdersStrata places negated relations strictly earlier.
func TestStratify_NegationOrdersStrata(t *testing.T) {
	p := tu.Program("unreachable",
		tu.Facts("node", ir.T(1), ir.T(2), ir.T(3)),
		tu.Facts("edge", ir.T(1, 2)),
		tu.Rule(tu.Head("reach", "y"), tu.Atom("edge", 1, "y")),
		tu.Rule(tu.Head("reach", "y"), tu.Atom("reach", "x"), tu.Atom("edge", "x", "y")),
		tu.Rule(tu.Head("unreachable", "x"), tu.Atom("node", "x"), tu.Not("reach", "x")),
	)
	strat, err := Compile(p, testEnv(), nil)
	require.NoError(t, err)

	require.Len(t, strat.Strata, 2)
	assert.Equal(t, []string{"node", "edge", "reach"}, strat.Strata[0].Relations)
	assert.Equal(t, []string{"unreachable"}, strat.Strata[1].Relations)
	assert.Equal(t, []int{4}, strat.Strata[1].Rules)
	assert.False(t, strat.Strata[1].Recursive)
	assert.Less(t, strat.Of["reach"], strat.Of["unreachable"])
}

// TestStratify_AggregationOrdersStrata places aggregated inputs earlier.
func TestStratify_AggregationOrdersStrata(t *testing.T) {
	p := tu.Program("cnt",
		tu.Facts("edge", ir.T(1, 2), ir.T(1, 3), ir.T(2, 4)),
		tu.Rule(tu.Head("cnt", "x", tu.Agg("count", "y")), tu.Atom("edge", "x", "y")),
	)
	strat, err := Compile(p, testEnv(), nil)
	require.NoError(t, err)
	require.Len(t, strat.Strata, 2)
	assert.Equal(t, []string{"edge"}, strat.Strata[0].Relations)
	assert.Equal(t, []string{"cnt"}, strat.Strata[1].Relations)
}

// TestStratify_RejectsNegationThroughRecursion covers a(x) :- b(x), not a(x)
// where b depends on a.
func TestStratify_RejectsNegationThroughRecursion(t *testing.T) {
	p := tu.Program("a",
		tu.Facts("seed", ir.T(1)),
		tu.Rule(tu.Head("b", "x"), tu.Atom("seed", "x")),
		tu.Rule(tu.Head("b", "x"), tu.Atom("a", "x")),
		tu.Rule(tu.Head("a", "x"), tu.Atom("b", "x"), tu.Not("a", "x")),
	)
	_, err := Compile(p, testEnv(), nil)
	require.Error(t, err)

	var strErr *StratificationError
	require.True(t, errors.As(err, &strErr))
	assert.Equal(t, "a", strErr.From)
	assert.Equal(t, "a", strErr.To)
	assert.Equal(t, EdgeNegative, strErr.Kind)
	assert.Equal(t, 3, strErr.Rule)
	assert.Contains(t, err.Error(), "negative")
}

// TestStratify_RejectsAggregationThroughRecursion covers an aggregate that
// feeds back into its own input.
func TestStratify_RejectsAggregationThroughRecursion(t *testing.T) {
	p := tu.Program("total",
		tu.Facts("base", ir.T(1, 1)),
		tu.Rule(tu.Head("val", "k", "v"), tu.Atom("base", "k", "v")),
		tu.Rule(tu.Head("val", "k", "v"), tu.Atom("total", "k", "v")),
		tu.Rule(tu.Head("total", "k", tu.Agg("sum", "v")), tu.Atom("val", "k", "v")),
	)
	_, err := Compile(p, testEnv(), nil)
	require.Error(t, err)

	var strErr *StratificationError
	require.True(t, errors.As(err, &strErr))
	assert.Equal(t, EdgeAggregated, strErr.Kind)
	assert.True(t, IsStratification(err))
}

// TestStratify_Deterministic runs the same program repeatedly.
func TestStratify_Deterministic(t *testing.T) {
	build := func() *ir.Program {
		return tu.Program("z",
			tu.Facts("e", ir.T(1, 2)),
			tu.Rule(tu.Head("c", "x"), tu.Atom("e", "x", "_")),
			tu.Rule(tu.Head("b", "x"), tu.Atom("e", "_", "x")),
			tu.Rule(tu.Head("a", "x"), tu.Atom("b", "x"), tu.Not("c", "x")),
			tu.Rule(tu.Head("z", "x"), tu.Atom("a", "x"), tu.Not("b", "x")),
		)
	}
	first, err := Compile(build(), testEnv(), nil)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Compile(build(), testEnv(), nil)
		require.NoError(t, err)
		assert.Equal(t, first.String(), again.String())
	}

	assert.Equal(t,
		"stratum 0: e, c, b (rules [0 1 2]) recursive\n"+
			"stratum 1: a, z (rules [3 4]) recursive\n",
		first.String())
}

// TestStratify_StoredOnlyRelationsHaveNoStratum keeps base relations out.
func TestStratify_StoredOnlyRelationsHaveNoStratum(t *testing.T) {
	p := tu.Program("p",
		tu.Rule(tu.Head("p", "x"), tu.Atom("q", "x"), tu.Not("r", "x")),
	)
	strat, err := Compile(p, testEnv(), storedSet("q", "r"))
	require.NoError(t, err)
	require.Len(t, strat.Strata, 1)
	assert.Equal(t, []string{"p"}, strat.Strata[0].Relations)
	_, ok := strat.Of["q"]
	assert.False(t, ok)
}

// TestCompile_ValidationErrorsComeFirst reports shape problems before graph errors.
func TestCompile_ValidationErrorsComeFirst(t *testing.T) {
	p := tu.Program("p",
		tu.Rule(tu.Head("p", "x", "y"), tu.Atom("q", "x")),
	)
	_, err := Compile(p, testEnv(), nil)
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, ErrUnsafeVariable, verrs[0].Code)
}
