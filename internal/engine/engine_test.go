package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/compiler"
	"github.com/roach88/strata/internal/expr"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/storage"
	"github.com/roach88/strata/internal/storage/memory"
	"github.com/roach88/strata/internal/storage/storagetest"
	tu "github.com/roach88/strata/internal/testutil"
)

func setupTestEngine(t *testing.T, opts ...Option) (*Engine, storage.Engine) {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { store.Close() })
	opts = append([]Option{WithQueryIDGenerator(tu.NewFixedQueryIDGenerator("test-query"))}, opts...)
	return New(store, opts...), store
}

func run(t *testing.T, e *Engine, p *ir.Program) *Result {
	t.Helper()
	res, err := e.Run(context.Background(), p)
	require.NoError(t, err)
	return res
}

func TestRun_TransitiveClosure(t *testing.T) {
	e, _ := setupTestEngine(t)
	res := run(t, e, tu.TransitiveClosure([2]int{1, 2}, [2]int{2, 3}, [2]int{3, 4}))

	assert.Equal(t, "test-query", res.QueryID)
	assert.Equal(t, "path", res.Relation)
	assert.Equal(t, []ir.Tuple{
		ir.T(1, 2), ir.T(1, 3), ir.T(1, 4),
		ir.T(2, 3), ir.T(2, 4),
		ir.T(3, 4),
	}, res.Tuples)
	assert.Equal(t, 1, res.Strata)
	assert.Equal(t, 9, res.Derived, "3 facts and 6 paths")
	assert.Equal(t, 4, res.Rounds, "three productive rounds and one that derives nothing")
	assert.Equal(t, []string{"x", "y"}, []string{res.Schema.Columns[0].Name, res.Schema.Columns[1].Name})
}

func TestRun_CountAggregation(t *testing.T) {
	e, _ := setupTestEngine(t)
	p := tu.Program("cnt",
		tu.Facts("edge", tu.Edges([2]int{1, 2}, [2]int{1, 3}, [2]int{2, 4})...),
		tu.Rule(tu.Head("cnt", "x", tu.Agg("count", "y")), tu.Atom("edge", "x", "y")),
	)
	res := run(t, e, p)
	assert.Equal(t, []ir.Tuple{ir.T(1, 2), ir.T(2, 1)}, res.Tuples)
	assert.Equal(t, 2, res.Strata)
	assert.Equal(t, 1, res.Schema.KeyArity(), "grouping columns are the key")
}

func TestRun_AggregationReducers(t *testing.T) {
	e, _ := setupTestEngine(t)
	p := tu.Program("stats",
		tu.Facts("score", ir.T("a", 1), ir.T("a", 5), ir.T("b", 2), ir.T("a", 3)),
		tu.Rule(tu.Head("stats", "k", tu.Agg("min", "v"), tu.Agg("max", "v"), tu.Agg("sum", "v"), tu.Agg("collect", "v")),
			tu.Atom("score", "k", "v")),
	)
	res := run(t, e, p)
	assert.Equal(t, []ir.Tuple{
		{ir.String("a"), ir.Int(1), ir.Int(5), ir.Int(9), ir.List{ir.Int(1), ir.Int(3), ir.Int(5)}},
		{ir.String("b"), ir.Int(2), ir.Int(2), ir.Int(2), ir.List{ir.Int(2)}},
	}, res.Tuples)
}

func TestRun_AggregationAcrossRules(t *testing.T) {
	tests := []struct {
		name string
		head func(y string) ir.Head
		want []ir.Tuple
	}{
		{
			name: "grouped",
			head: func(y string) ir.Head { return tu.Head("cnt", "x", tu.Agg("count", y)) },
			want: []ir.Tuple{ir.T(1, 3)},
		},
		{
			name: "ungrouped",
			head: func(y string) ir.Head { return tu.Head("cnt", tu.Agg("count", y)) },
			want: []ir.Tuple{ir.T(3)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := setupTestEngine(t)
			p := tu.Program("cnt",
				tu.Facts("e", ir.T(1, 2), ir.T(1, 3)),
				tu.Facts("f", ir.T(1, 4), ir.T(1, 2)),
				tu.Rule(tt.head("y"), tu.Atom("e", "x", "y")),
				tu.Rule(tt.head("y"), tu.Atom("f", "x", "y")),
			)
			res := run(t, e, p)
			assert.Equal(t, tt.want, res.Tuples, "both rules feed one reduction and shared tuples count once")
		})
	}
}

func TestRun_AggregationWithoutGroupsOnEmptyInput(t *testing.T) {
	e, _ := setupTestEngine(t)
	p := tu.Program("n",
		tu.Facts("item", ir.T(1, 10), ir.T(2, 20)),
		tu.Rule(tu.Head("n", tu.Agg("count", "v")), tu.Atom("item", "_", "v"), tu.Filter(tu.Op(">", "v", 100))),
	)
	res := run(t, e, p)
	assert.Equal(t, []ir.Tuple{ir.T(0)}, res.Tuples)
}

func TestRun_Negation(t *testing.T) {
	e, _ := setupTestEngine(t)
	p := tu.Program("unreachable",
		tu.Facts("node", ir.T(1), ir.T(2), ir.T(3), ir.T(4), ir.T(5)),
		tu.Facts("edge", tu.Edges([2]int{1, 2}, [2]int{2, 3}, [2]int{4, 5})...),
		tu.Rule(tu.Head("reach", "y"), tu.Atom("edge", 1, "y")),
		tu.Rule(tu.Head("reach", "y"), tu.Atom("reach", "x"), tu.Atom("edge", "x", "y")),
		tu.Rule(tu.Head("unreachable", "x"), tu.Atom("node", "x"), tu.Not("reach", "x"), tu.Filter(tu.Op("!=", "x", 1))),
	)
	res := run(t, e, p)
	assert.Equal(t, []ir.Tuple{ir.T(4), ir.T(5)}, res.Tuples)
	assert.Equal(t, 2, res.Strata)
}

func TestRun_NegationThroughRecursionRejected(t *testing.T) {
	e, store := setupTestEngine(t)
	p := tu.Program("a",
		tu.Facts("seed", ir.T(1)),
		tu.Rule(tu.Head("b", "x"), tu.Atom("seed", "x")),
		tu.Rule(tu.Head("b", "x"), tu.Atom("a", "x")),
		tu.Rule(tu.Head("a", "x"), tu.Atom("b", "x"), tu.Not("a", "x")),
	)
	p.Persist = &ir.Persist{Mode: ir.PersistPut}

	_, err := e.Run(context.Background(), p)
	require.Error(t, err)
	assert.True(t, compiler.IsStratification(err))
	assert.Equal(t, KindStratification, Classify(err))
	assertEmptyStore(t, store)
}

func TestRun_UnboundRelation(t *testing.T) {
	e, _ := setupTestEngine(t)
	p := tu.Program("p", tu.Rule(tu.Head("p", "x"), tu.Atom("missing", "x")))
	_, err := e.Run(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, KindUnboundRelation, Classify(err))
}

func TestRun_ValidationFailure(t *testing.T) {
	e, _ := setupTestEngine(t)
	p := tu.Program("p", tu.Rule(tu.Head("p", "x", "y"), tu.Atom("q", "x")))
	_, err := e.Run(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, KindValidation, Classify(err))
}

func divergentProgram() *ir.Program {
	return tu.Program("n",
		tu.Facts("n", ir.T(0)),
		tu.Rule(tu.Head("n", "x"), tu.Atom("n", "y"), tu.Bind("x", tu.Op("+", "y", 1))),
	)
}

func TestRun_DivergentRecursionExhaustsIterations(t *testing.T) {
	e, _ := setupTestEngine(t)
	p := divergentProgram()
	p.Budget.MaxIterations = 50

	_, err := e.Run(context.Background(), p)
	require.Error(t, err)
	assert.True(t, IsResourceExhausted(err))
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "max_iterations", re.Details["limit"])
}

func TestRun_DivergentRecursionExhaustsDerived(t *testing.T) {
	e, _ := setupTestEngine(t, WithDefaultBudget(ir.Budget{MaxDerived: 100}))
	_, err := e.Run(context.Background(), divergentProgram())
	require.Error(t, err)
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "max_derived", re.Details["limit"])
}

func TestRun_DivergentRecursionTimesOut(t *testing.T) {
	e, _ := setupTestEngine(t, WithDefaultBudget(ir.Budget{}))
	p := divergentProgram()
	p.Budget.Timeout = 20 * time.Millisecond

	_, err := e.Run(context.Background(), p)
	require.Error(t, err)
	assert.True(t, IsResourceExhausted(err))
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "timeout", re.Details["limit"])
	assert.Equal(t, KindResourceExhausted, Classify(err))
}

func TestRun_Canceled(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Run(ctx, tu.TransitiveClosure([2]int{1, 2}))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, KindCanceled, Classify(err))
}

func TestRun_SchemaTypeError(t *testing.T) {
	e, store := setupTestEngine(t)
	p := tu.Program("edge", tu.Facts("edge", ir.T(1, 2), ir.T(2, "three")))
	p.Schemas["edge"] = ir.Schema{Relation: "edge", Columns: []ir.Column{
		{Name: "src", Type: ir.TypeInt, Key: true},
		{Name: "dst", Type: ir.TypeInt, Key: true},
	}}
	p.Persist = &ir.Persist{Mode: ir.PersistPut}

	_, err := e.Run(context.Background(), p)
	require.Error(t, err)
	assert.True(t, IsTypeError(err))
	assert.Contains(t, err.Error(), `"dst"`)
	assertEmptyStore(t, store)
}

func TestRun_DuplicateKeyIsTypeError(t *testing.T) {
	e, _ := setupTestEngine(t)
	p := tu.Program("owner", tu.Facts("owner", ir.T("car", "ann"), ir.T("car", "bob")))
	p.Schemas["owner"] = ir.Schema{Relation: "owner", Columns: []ir.Column{
		{Name: "thing", Type: ir.TypeString, Key: true},
		{Name: "who", Type: ir.TypeString},
	}}
	_, err := e.Run(context.Background(), p)
	require.Error(t, err)
	assert.True(t, IsTypeError(err))
	assert.Contains(t, err.Error(), "duplicate key")
}

func TestRun_AtomArityMismatch(t *testing.T) {
	e, _ := setupTestEngine(t)
	p := tu.Program("p",
		tu.Facts("edge", ir.T(1, 2)),
		tu.Rule(tu.Head("p", "x"), tu.Atom("edge", "x")),
	)
	_, err := e.Run(context.Background(), p)
	require.Error(t, err)
	assert.True(t, IsTypeError(err))
}

func TestRun_WorkersAgree(t *testing.T) {
	edges := [][2]int{{1, 2}, {2, 3}, {3, 1}, {3, 4}, {4, 5}, {5, 6}, {6, 4}}
	var want []ir.Tuple
	for _, workers := range []int{1, 2, 8} {
		e, _ := setupTestEngine(t, WithWorkers(workers))
		res := run(t, e, tu.TransitiveClosure(edges...))
		if want == nil {
			want = res.Tuples
			continue
		}
		assert.Equal(t, want, res.Tuples, "workers=%d", workers)
	}
	assert.Len(t, want, 3*6+3*3)
}

func TestRun_CustomOperator(t *testing.T) {
	e, _ := setupTestEngine(t,
		WithOperator(expr.Op{Name: "double", Arity: 1, Fn: func(args []ir.Value) (ir.Value, error) {
			return args[0].(ir.Int) * 2, nil
		}}),
	)
	p := tu.Program("d",
		tu.Facts("v", ir.T(1), ir.T(2)),
		tu.Rule(tu.Head("d", "y"), tu.Atom("v", "x"), tu.Bind("y", tu.Op("double", "x"))),
	)
	res := run(t, e, p)
	assert.Equal(t, []ir.Tuple{ir.T(2), ir.T(4)}, res.Tuples)
}

func TestEngine_Check(t *testing.T) {
	e, _ := setupTestEngine(t)
	strat, err := e.Check(context.Background(), tu.TransitiveClosure([2]int{1, 2}))
	require.NoError(t, err)
	assert.Equal(t, "stratum 0: edge, path (rules [0 1 2]) recursive\n", strat.String())

	_, err = e.Check(context.Background(), tu.Program("p", tu.Rule(tu.Head("p", "x"), tu.Atom("q", "x"))))
	assert.True(t, compiler.IsUnboundRelation(err))
}

func assertEmptyStore(t *testing.T, store storage.Engine) {
	t.Helper()
	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	defer snap.Release()
	assert.Empty(t, storagetest.ScanAll(t, snap, ""), "nothing may be committed")
}
