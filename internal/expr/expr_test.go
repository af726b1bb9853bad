package expr

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/ir"
)

func c(v any) ir.Expr {
	val, err := ir.FromGo(v)
	if err != nil {
		panic(err)
	}
	return ir.ConstExpr(val)
}

func eval(t *testing.T, e ir.Expr) ir.Value {
	t.Helper()
	v, err := Eval(e, nil, DefaultTable())
	require.NoError(t, err, "eval %s", e)
	return v
}

func TestArithmetic_IntStaysInt(t *testing.T) {
	assert.Equal(t, ir.Int(5), eval(t, ir.Apply("+", c(2), c(3))))
	assert.Equal(t, ir.Int(-1), eval(t, ir.Apply("-", c(2), c(3))))
	assert.Equal(t, ir.Int(6), eval(t, ir.Apply("*", c(2), c(3))))
	assert.Equal(t, ir.Int(1), eval(t, ir.Apply("%", c(7), c(3))))
}

func TestArithmetic_Promotion(t *testing.T) {
	assert.Equal(t, ir.Float(3.5), eval(t, ir.Apply("+", c(1), c(2.5))))
	assert.Equal(t, ir.Float(2.5), eval(t, ir.Apply("*", c(0.5), c(5))))
}

func TestArithmetic_DivisionAndPowerAreFloat(t *testing.T) {
	assert.Equal(t, ir.Float(2), eval(t, ir.Apply("/", c(4), c(2))))
	assert.Equal(t, ir.Float(8), eval(t, ir.Apply("**", c(2), c(3))))

	v := eval(t, ir.Apply("/", c(1), c(0)))
	assert.True(t, math.IsInf(float64(v.(ir.Float)), 1))
}

func TestArithmetic_NullPropagates(t *testing.T) {
	assert.Equal(t, ir.Null{}, eval(t, ir.Apply("+", c(nil), c(1))))
	assert.Equal(t, ir.Null{}, eval(t, ir.Apply("neg", c(nil))))
}

func TestArithmetic_TypeErrors(t *testing.T) {
	table := DefaultTable()
	for _, e := range []ir.Expr{
		ir.Apply("+", c("a"), c(1)),
		ir.Apply("%", c(1.5), c(1)),
		ir.Apply("%", c(1), c(0)),
		ir.Apply("neg", c("x")),
		ir.Apply("<", c("a"), c(1)),
		ir.Apply("&&", c(true), c(1)),
		ir.Apply("!", c(nil)),
		ir.Apply("++", c("a"), c(1)),
	} {
		_, err := Eval(e, nil, table)
		require.Error(t, err, "%s", e)
		var opErr *Error
		assert.True(t, errors.As(err, &opErr), "%s should fail with *Error, got %v", e, err)
	}
}

func TestComparison(t *testing.T) {
	assert.Equal(t, ir.Bool(true), eval(t, ir.Apply("<", c(1), c(1.5))))
	assert.Equal(t, ir.Bool(true), eval(t, ir.Apply("==", c(1), c(1.0))), "numbers compare numerically")
	assert.Equal(t, ir.Bool(false), eval(t, ir.Apply("==", c(1), c("1"))))
	assert.Equal(t, ir.Bool(true), eval(t, ir.Apply("!=", c("a"), c("b"))))
	assert.Equal(t, ir.Bool(true), eval(t, ir.Apply(">=", c("b"), c("a"))))
	assert.Equal(t, ir.Bool(true), eval(t, ir.Apply("<=", c(nil), c(nil))))
}

func TestLogic(t *testing.T) {
	assert.Equal(t, ir.Bool(false), eval(t, ir.Apply("&&", c(true), c(false))))
	assert.Equal(t, ir.Bool(true), eval(t, ir.Apply("||", c(false), c(true))))
	assert.Equal(t, ir.Bool(false), eval(t, ir.Apply("!", c(true))))
}

func TestConcat(t *testing.T) {
	assert.Equal(t, ir.String("abc"), eval(t, ir.Apply("++", c("a"), c("bc"))))
	assert.Equal(t, ir.List{ir.Int(1), ir.Int(2)}, eval(t, ir.Apply("++", c([]any{1}), c([]any{2}))))
	assert.Equal(t, ir.Bytes{1, 2}, eval(t, ir.Apply("++", c([]byte{1}), c([]byte{2}))))
}

func TestFunctions(t *testing.T) {
	assert.Equal(t, ir.Int(3), eval(t, ir.Apply("abs", c(-3))))
	assert.Equal(t, ir.Float(2), eval(t, ir.Apply("to_float", c(2))))
	assert.Equal(t, ir.Bool(true), eval(t, ir.Apply("is_null", c(nil))))
	assert.Equal(t, ir.Int(2), eval(t, ir.Apply("length", c("éa"))))
}

func TestEval_Variables(t *testing.T) {
	e := ir.Apply("+", ir.VarExpr("x"), ir.Apply("*", ir.VarExpr("y"), c(2)))
	v, err := Eval(e, map[string]ir.Value{"x": ir.Int(1), "y": ir.Int(4)}, DefaultTable())
	require.NoError(t, err)
	assert.Equal(t, ir.Int(9), v)

	_, err = Eval(e, map[string]ir.Value{"x": ir.Int(1)}, DefaultTable())
	assert.ErrorContains(t, err, `"y"`)
}

func TestCompile_UnknownOperator(t *testing.T) {
	_, err := Compile(ir.Apply("frob", c(1)), func(string) (int, bool) { return 0, false }, DefaultTable())
	assert.ErrorIs(t, err, ErrUnknownOp)

	assert.ErrorIs(t, Check(ir.Apply("+", c(1), ir.Apply("frob")), DefaultTable()), ErrUnknownOp)
	assert.ErrorContains(t, Check(ir.Apply("+", c(1)), DefaultTable()), "takes 2 arguments")
	assert.NoError(t, Check(ir.Apply("&&", c(true), c(true), c(false)), DefaultTable()))
}

func TestTable_RegisterCustom(t *testing.T) {
	table := DefaultTable()
	table.Register(Op{Name: "double", Arity: 1, Fn: func(args []ir.Value) (ir.Value, error) {
		return args[0].(ir.Int) * 2, nil
	}})

	v, err := Eval(ir.Apply("double", c(21)), nil, table)
	require.NoError(t, err)
	assert.Equal(t, ir.Int(42), v)

	_, ok := DefaultTable()["double"]
	assert.False(t, ok, "registering on one table must not leak into another")
}
