package compiler

import (
	"testing"
	"time"

	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/ir"
)

func TestCompileProgramBasic(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		output: "path"
		relations: edge: columns: [
			{name: "src", type: "int", key: true},
			{name: "dst", type: "int", key: true},
		]
		rules: [
			{head: {relation: "edge", args: ["a", "b"]}, facts: [[1, 2], [2, 3]]},
			{head: {relation: "path", args: ["x", "y"]}, body: [{atom: "edge", args: ["x", "y"]}]},
			{
				head: {relation: "path", args: ["x", "y"]}
				body: [
					{atom: "path", args: ["x", "z"]},
					{atom: "edge", args: ["z", "y"]},
				]
			},
		]
	`)
	require.NoError(t, v.Err())

	p, err := CompileProgram(v)
	require.NoError(t, err)

	assert.Equal(t, "path", p.Output)
	require.Len(t, p.Rules, 3)
	assert.True(t, p.Rules[0].IsFacts())
	assert.Equal(t, []ir.Tuple{ir.T(1, 2), ir.T(2, 3)}, p.Rules[0].Facts)
	assert.Equal(t, "path(x, y) :- path(x, z), edge(z, y)", p.Rules[2].String())

	schema := p.Schemas["edge"]
	assert.Equal(t, 2, schema.Arity())
	assert.Equal(t, 2, schema.KeyArity())
	assert.Equal(t, ir.TypeInt, schema.Columns[0].Type)
}

func TestCompileProgramLiterals(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		output: "big"
		rules: [{
			head: {relation: "big", args: ["n", "d"]}
			body: [
				{atom: "item", args: ["n", "_", {const: "blue"}, 2.5]},
				{not: "banned", args: ["n"]},
				{bind: "d", expr: {op: "*", args: ["n", 2]}},
				{filter: {op: ">", args: ["d", 10]}},
			]
		}]
	`)
	require.NoError(t, v.Err())

	p, err := CompileProgram(v)
	require.NoError(t, err)
	body := p.Rules[0].Body
	require.Len(t, body, 4)

	assert.Equal(t, ir.LitPositive, body[0].Kind)
	args := body[0].Atom.Args
	assert.True(t, args[0].IsVar())
	assert.True(t, args[1].IsWildcard())
	assert.Equal(t, ir.String("blue"), args[2].Const)
	assert.Equal(t, ir.Float(2.5), args[3].Const)

	assert.Equal(t, ir.LitNegated, body[1].Kind)
	assert.Equal(t, "banned", body[1].Atom.Relation)

	assert.Equal(t, ir.LitBind, body[2].Kind)
	assert.Equal(t, "d", body[2].Var)
	assert.Equal(t, "(n * 2)", body[2].Expr.String())

	assert.Equal(t, ir.LitFilter, body[3].Kind)
	assert.Equal(t, "(d > 10)", body[3].Expr.String())
}

func TestCompileProgramAggregation(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		output: "deg"
		rules: [{
			head: {relation: "deg", args: ["x", {aggr: "count", var: "y"}]}
			body: [{atom: "edge", args: ["x", "y"]}]
		}]
	`)
	require.NoError(t, v.Err())

	p, err := CompileProgram(v)
	require.NoError(t, err)
	head := p.Rules[0].Head
	assert.True(t, head.IsAggregate())
	assert.Equal(t, ir.HeadArg{Var: "y", Aggr: "count"}, head.Args[1])
}

func TestCompileProgramFixedPersistBudget(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		output: "rank"
		rules: [{
			head: {relation: "rank", args: ["n", "r"]}
			fixed: {name: "PageRank", inputs: ["edge"], options: {iterations: 20, key: {bytes: "ff00"}}}
		}]
		persist: {mode: "replace", into: "rank_v2"}
		budget: {max_iterations: 50, max_derived: 1000, timeout: "2s"}
	`)
	require.NoError(t, v.Err())

	p, err := CompileProgram(v)
	require.NoError(t, err)

	call := p.Rules[0].Fixed
	require.NotNil(t, call)
	assert.Equal(t, "PageRank", call.Name)
	assert.Equal(t, []string{"edge"}, call.Inputs)
	assert.Equal(t, ir.Int(20), call.Options["iterations"])
	assert.Equal(t, ir.Bytes{0xff, 0x00}, call.Options["key"])

	require.NotNil(t, p.Persist)
	assert.Equal(t, ir.PersistReplace, p.Persist.Mode)
	assert.Equal(t, "rank_v2", p.Persist.Target(p.Output))

	assert.Equal(t, 50, p.Budget.MaxIterations)
	assert.Equal(t, 1000, p.Budget.MaxDerived)
	assert.Equal(t, 2*time.Second, p.Budget.Timeout)
}

func TestCompileProgramErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "missing output",
			src:  `rules: []`,
			want: "output is required",
		},
		{
			name: "missing rules",
			src:  `output: "p"`,
			want: "rules are required",
		},
		{
			name: "rule with body and facts",
			src: `output: "p", rules: [{
				head: {relation: "p", args: ["x"]}
				body: [{atom: "q", args: ["x"]}]
				facts: [[1]]
			}]`,
			want: "exactly one of body, facts or fixed",
		},
		{
			name: "unknown literal",
			src:  `output: "p", rules: [{head: {relation: "p", args: ["x"]}, body: [{call: "q"}]}]`,
			want: "literal must be one of",
		},
		{
			name: "fact is not a list",
			src:  `output: "p", rules: [{head: {relation: "p", args: ["x"]}, facts: [1]}]`,
			want: "each fact must be a list",
		},
		{
			name: "bad timeout",
			src:  `output: "p", rules: [], budget: {timeout: "soon"}`,
			want: "budget.timeout",
		},
		{
			name: "bad hex",
			src:  `output: "p", rules: [{head: {relation: "p", args: ["x"]}, facts: [[{bytes: "zz"}]]}]`,
			want: "hex",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := cuecontext.New().CompileString(tt.src)
			require.NoError(t, v.Err())
			_, err := CompileProgram(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompileProgramCUEError(t *testing.T) {
	v := cuecontext.New().CompileString(`output: "p" & "q"`)
	_, err := CompileProgram(v)
	require.Error(t, err)

	var compileErr *CompileError
	assert.ErrorAs(t, err, &compileErr)
}
