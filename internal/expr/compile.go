package expr

import (
	"fmt"

	"github.com/roach88/strata/internal/ir"
)

// Func evaluates a compiled expression against a row of bound variables.
type Func func(row []ir.Value) (ir.Value, error)

// Compile resolves variables to row slots and operators to table entries.
// slot returns the row index of a bound variable.
func Compile(e ir.Expr, slot func(name string) (int, bool), table Table) (Func, error) {
	switch {
	case e.IsVar():
		idx, ok := slot(e.Var)
		if !ok {
			return nil, fmt.Errorf("variable %q is not bound", e.Var)
		}
		return func(row []ir.Value) (ir.Value, error) {
			return row[idx], nil
		}, nil

	case e.IsApply():
		op, ok := table[e.Op]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownOp, e.Op)
		}
		if op.Arity >= 0 && len(e.Args) != op.Arity {
			return nil, fmt.Errorf("operator %q takes %d arguments, got %d", e.Op, op.Arity, len(e.Args))
		}
		args := make([]Func, len(e.Args))
		for i, a := range e.Args {
			f, err := Compile(a, slot, table)
			if err != nil {
				return nil, err
			}
			args[i] = f
		}
		return func(row []ir.Value) (ir.Value, error) {
			vals := make([]ir.Value, len(args))
			for i, f := range args {
				v, err := f(row)
				if err != nil {
					return nil, err
				}
				vals[i] = v
			}
			return op.Fn(vals)
		}, nil

	default:
		c := e.Const
		if c == nil {
			c = ir.Null{}
		}
		return func([]ir.Value) (ir.Value, error) {
			return c, nil
		}, nil
	}
}

// Check verifies that every operator in e exists with a matching arity,
// without binding variables.
func Check(e ir.Expr, table Table) error {
	if !e.IsApply() {
		return nil
	}
	op, ok := table[e.Op]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownOp, e.Op)
	}
	if op.Arity >= 0 && len(e.Args) != op.Arity {
		return fmt.Errorf("operator %q takes %d arguments, got %d", e.Op, op.Arity, len(e.Args))
	}
	for _, a := range e.Args {
		if err := Check(a, table); err != nil {
			return err
		}
	}
	return nil
}

// Eval evaluates e with variables looked up in env. It is the uncompiled
// path used by tests and one-off evaluation.
func Eval(e ir.Expr, env map[string]ir.Value, table Table) (ir.Value, error) {
	names := e.Vars(nil)
	row := make([]ir.Value, len(names))
	index := make(map[string]int, len(names))
	for i, n := range names {
		v, ok := env[n]
		if !ok {
			return nil, fmt.Errorf("variable %q is not bound", n)
		}
		row[i] = v
		index[n] = i
	}
	f, err := Compile(e, func(name string) (int, bool) {
		i, ok := index[name]
		return i, ok
	}, table)
	if err != nil {
		return nil, err
	}
	return f(row)
}
