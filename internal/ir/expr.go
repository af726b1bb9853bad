package ir

import (
	"fmt"
	"strings"
)

// Expr is a filter or binding expression tree.
// Exactly one form is populated:
//   - Var != "": variable reference
//   - Op != "": operator application over Args
//   - otherwise: the constant Const (nil means null)
type Expr struct {
	Var   string `json:"var,omitempty"`
	Const Value  `json:"-"`
	Op    string `json:"op,omitempty"`
	Args  []Expr `json:"args,omitempty"`
}

// VarExpr creates a variable reference.
func VarExpr(name string) Expr {
	return Expr{Var: name}
}

// ConstExpr creates a constant expression.
func ConstExpr(v Value) Expr {
	return Expr{Const: v}
}

// Apply creates an operator application.
func Apply(op string, args ...Expr) Expr {
	return Expr{Op: op, Args: args}
}

// IsVar reports whether e is a variable reference.
func (e Expr) IsVar() bool { return e.Var != "" }

// IsApply reports whether e is an operator application.
func (e Expr) IsApply() bool { return e.Op != "" }

// Vars appends the variables referenced by e to dst, in first-occurrence
// order, skipping names already present.
func (e Expr) Vars(dst []string) []string {
	switch {
	case e.IsVar():
		for _, v := range dst {
			if v == e.Var {
				return dst
			}
		}
		return append(dst, e.Var)
	case e.IsApply():
		for _, a := range e.Args {
			dst = a.Vars(dst)
		}
	}
	return dst
}

func (e Expr) String() string {
	switch {
	case e.IsVar():
		return e.Var
	case e.IsApply():
		if len(e.Args) == 2 {
			return fmt.Sprintf("(%s %s %s)", e.Args[0], e.Op, e.Args[1])
		}
		parts := make([]string, len(e.Args))
		for i, a := range e.Args {
			parts[i] = a.String()
		}
		return fmt.Sprintf("%s(%s)", e.Op, strings.Join(parts, ", "))
	default:
		return FormatValue(e.Const)
	}
}
