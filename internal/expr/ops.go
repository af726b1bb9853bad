package expr

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/roach88/strata/internal/ir"
)

// ErrUnknownOp is returned when an expression names an operator missing
// from the table.
var ErrUnknownOp = errors.New("unknown operator")

// Error reports an operator applied to values it does not accept.
type Error struct {
	Op      string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func typeErr(op string, format string, args ...any) error {
	return &Error{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Op is one operator implementation. Arity < 0 means variadic.
type Op struct {
	Name  string
	Arity int
	Fn    func(args []ir.Value) (ir.Value, error)
}

// Table maps operator names to implementations. Tables are values owned by
// the engine configuration; DefaultTable returns a fresh copy each call.
type Table map[string]Op

// Register adds or replaces an operator.
func (t Table) Register(op Op) {
	t[op.Name] = op
}

// DefaultTable returns the built-in operators.
func DefaultTable() Table {
	t := Table{}
	for _, op := range []Op{
		{"+", 2, add},
		{"-", 2, sub},
		{"*", 2, mul},
		{"/", 2, div},
		{"%", 2, mod},
		{"**", 2, pow},
		{"neg", 1, neg},
		{"abs", 1, abs},
		{"==", 2, eq},
		{"!=", 2, neq},
		{"<", 2, cmpOp("<", func(c int) bool { return c < 0 })},
		{"<=", 2, cmpOp("<=", func(c int) bool { return c <= 0 })},
		{">", 2, cmpOp(">", func(c int) bool { return c > 0 })},
		{">=", 2, cmpOp(">=", func(c int) bool { return c >= 0 })},
		{"&&", -1, and},
		{"||", -1, or},
		{"!", 1, not},
		{"++", -1, concat},
		{"is_null", 1, isNull},
		{"to_float", 1, toFloat},
		{"length", 1, length},
	} {
		t.Register(op)
	}
	return t
}

// numeric extracts a number; ok is false for non-numeric kinds.
func numeric(v ir.Value) (i int64, f float64, isInt, ok bool) {
	switch n := v.(type) {
	case ir.Int:
		return int64(n), float64(n), true, true
	case ir.Float:
		return 0, float64(n), false, true
	}
	return 0, 0, false, false
}

func isNullValue(v ir.Value) bool {
	return v == nil || v.Kind() == ir.KindNull
}

// arith applies an int or float operation with int/float promotion.
// Null operands make the result null.
func arith(op string, args []ir.Value, onInt func(a, b int64) ir.Value, onFloat func(a, b float64) ir.Value) (ir.Value, error) {
	a, b := args[0], args[1]
	if isNullValue(a) || isNullValue(b) {
		return ir.Null{}, nil
	}
	ai, af, aInt, aok := numeric(a)
	bi, bf, bInt, bok := numeric(b)
	if !aok || !bok {
		return nil, typeErr(op, "expects numbers, got %s and %s", a.Kind(), b.Kind())
	}
	if aInt && bInt && onInt != nil {
		return onInt(ai, bi), nil
	}
	return onFloat(af, bf), nil
}

func add(args []ir.Value) (ir.Value, error) {
	return arith("+", args,
		func(a, b int64) ir.Value { return ir.Int(a + b) },
		func(a, b float64) ir.Value { return ir.Float(a + b) })
}

func sub(args []ir.Value) (ir.Value, error) {
	return arith("-", args,
		func(a, b int64) ir.Value { return ir.Int(a - b) },
		func(a, b float64) ir.Value { return ir.Float(a - b) })
}

func mul(args []ir.Value) (ir.Value, error) {
	return arith("*", args,
		func(a, b int64) ir.Value { return ir.Int(a * b) },
		func(a, b float64) ir.Value { return ir.Float(a * b) })
}

// div always produces a float.
func div(args []ir.Value) (ir.Value, error) {
	return arith("/", args, nil,
		func(a, b float64) ir.Value { return ir.Float(a / b) })
}

func pow(args []ir.Value) (ir.Value, error) {
	return arith("**", args, nil,
		func(a, b float64) ir.Value { return ir.Float(math.Pow(a, b)) })
}

func mod(args []ir.Value) (ir.Value, error) {
	a, b := args[0], args[1]
	if isNullValue(a) || isNullValue(b) {
		return ir.Null{}, nil
	}
	ai, aok := a.(ir.Int)
	bi, bok := b.(ir.Int)
	if !aok || !bok {
		return nil, typeErr("%", "expects integers, got %s and %s", a.Kind(), b.Kind())
	}
	if bi == 0 {
		return nil, typeErr("%", "division by zero")
	}
	return ai % bi, nil
}

func neg(args []ir.Value) (ir.Value, error) {
	switch v := args[0].(type) {
	case nil, ir.Null:
		return ir.Null{}, nil
	case ir.Int:
		return -v, nil
	case ir.Float:
		return -v, nil
	default:
		return nil, typeErr("neg", "expects a number, got %s", v.Kind())
	}
}

func abs(args []ir.Value) (ir.Value, error) {
	switch v := args[0].(type) {
	case nil, ir.Null:
		return ir.Null{}, nil
	case ir.Int:
		if v < 0 {
			return -v, nil
		}
		return v, nil
	case ir.Float:
		return ir.Float(math.Abs(float64(v))), nil
	default:
		return nil, typeErr("abs", "expects a number, got %s", v.Kind())
	}
}

// eq compares numbers by numeric value and everything else by the value order.
func eq(args []ir.Value) (ir.Value, error) {
	return ir.Bool(equalValues(args[0], args[1])), nil
}

func neq(args []ir.Value) (ir.Value, error) {
	return ir.Bool(!equalValues(args[0], args[1])), nil
}

func equalValues(a, b ir.Value) bool {
	_, af, _, aok := numeric(a)
	_, bf, _, bok := numeric(b)
	if aok && bok && a.Kind() != b.Kind() {
		return af == bf
	}
	return ir.Equal(a, b)
}

// cmpOp builds an ordering comparison. Numbers compare numerically across
// int and float; otherwise both operands must share a kind.
func cmpOp(name string, test func(int) bool) func([]ir.Value) (ir.Value, error) {
	return func(args []ir.Value) (ir.Value, error) {
		a, b := args[0], args[1]
		_, af, _, aok := numeric(a)
		_, bf, _, bok := numeric(b)
		switch {
		case aok && bok && a.Kind() != b.Kind():
			switch {
			case af < bf:
				return ir.Bool(test(-1)), nil
			case af > bf:
				return ir.Bool(test(1)), nil
			default:
				return ir.Bool(test(0)), nil
			}
		case kindOf(a) == kindOf(b):
			return ir.Bool(test(ir.Compare(a, b))), nil
		default:
			return nil, typeErr(name, "cannot compare %s with %s", kindOf(a), kindOf(b))
		}
	}
}

func kindOf(v ir.Value) ir.Kind {
	if v == nil {
		return ir.KindNull
	}
	return v.Kind()
}

func and(args []ir.Value) (ir.Value, error) {
	for _, a := range args {
		b, ok := a.(ir.Bool)
		if !ok {
			return nil, typeErr("&&", "expects booleans, got %s", kindOf(a))
		}
		if !b {
			return ir.Bool(false), nil
		}
	}
	return ir.Bool(true), nil
}

func or(args []ir.Value) (ir.Value, error) {
	for _, a := range args {
		b, ok := a.(ir.Bool)
		if !ok {
			return nil, typeErr("||", "expects booleans, got %s", kindOf(a))
		}
		if b {
			return ir.Bool(true), nil
		}
	}
	return ir.Bool(false), nil
}

func not(args []ir.Value) (ir.Value, error) {
	b, ok := args[0].(ir.Bool)
	if !ok {
		return nil, typeErr("!", "expects a boolean, got %s", kindOf(args[0]))
	}
	return !b, nil
}

// concat joins strings, byte strings or lists; all operands share a kind.
func concat(args []ir.Value) (ir.Value, error) {
	if len(args) == 0 {
		return nil, typeErr("++", "expects at least one operand")
	}
	switch args[0].(type) {
	case ir.String:
		var sb strings.Builder
		for _, a := range args {
			s, ok := a.(ir.String)
			if !ok {
				return nil, typeErr("++", "cannot concatenate string with %s", kindOf(a))
			}
			sb.WriteString(string(s))
		}
		return ir.NewString(sb.String()), nil
	case ir.Bytes:
		var out ir.Bytes
		for _, a := range args {
			b, ok := a.(ir.Bytes)
			if !ok {
				return nil, typeErr("++", "cannot concatenate bytes with %s", kindOf(a))
			}
			out = append(out, b...)
		}
		return out, nil
	case ir.List:
		out := ir.List{}
		for _, a := range args {
			l, ok := a.(ir.List)
			if !ok {
				return nil, typeErr("++", "cannot concatenate list with %s", kindOf(a))
			}
			out = append(out, l...)
		}
		return out, nil
	default:
		return nil, typeErr("++", "expects strings, bytes or lists, got %s", kindOf(args[0]))
	}
}

func isNull(args []ir.Value) (ir.Value, error) {
	return ir.Bool(isNullValue(args[0])), nil
}

func toFloat(args []ir.Value) (ir.Value, error) {
	if isNullValue(args[0]) {
		return ir.Null{}, nil
	}
	_, f, _, ok := numeric(args[0])
	if !ok {
		return nil, typeErr("to_float", "expects a number, got %s", args[0].Kind())
	}
	return ir.Float(f), nil
}

func length(args []ir.Value) (ir.Value, error) {
	switch v := args[0].(type) {
	case ir.String:
		return ir.Int(len([]rune(string(v)))), nil
	case ir.Bytes:
		return ir.Int(len(v)), nil
	case ir.List:
		return ir.Int(len(v)), nil
	default:
		return nil, typeErr("length", "expects a string, bytes or list, got %s", kindOf(args[0]))
	}
}
