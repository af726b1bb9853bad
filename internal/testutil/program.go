// Package testutil holds helpers shared by tests: program builders and
// deterministic generators.
package testutil

import (
	"fmt"

	"github.com/roach88/strata/internal/ir"
)

// term converts a builder argument: strings are variables ("_" the
// wildcard), ir.Value and other Go scalars are constants.
func term(arg any) ir.Term {
	if s, ok := arg.(string); ok {
		return ir.V(s)
	}
	v, err := ir.FromGo(arg)
	if err != nil {
		panic(fmt.Sprintf("testutil: %v", err))
	}
	return ir.C(v)
}

func terms(args []any) []ir.Term {
	out := make([]ir.Term, len(args))
	for i, a := range args {
		out[i] = term(a)
	}
	return out
}

// Atom builds a positive body literal. Use ir.String for string constants.
func Atom(relation string, args ...any) ir.Literal {
	return ir.Literal{Kind: ir.LitPositive, Atom: ir.Atom{Relation: relation, Args: terms(args)}}
}

// Not builds a negated body literal.
func Not(relation string, args ...any) ir.Literal {
	return ir.Literal{Kind: ir.LitNegated, Atom: ir.Atom{Relation: relation, Args: terms(args)}}
}

// Filter builds a filter literal.
func Filter(e ir.Expr) ir.Literal {
	return ir.Literal{Kind: ir.LitFilter, Expr: e}
}

// Bind builds a binding literal name = e.
func Bind(name string, e ir.Expr) ir.Literal {
	return ir.Literal{Kind: ir.LitBind, Var: name, Expr: e}
}

// Op builds an operator expression; string args are variables.
func Op(op string, args ...any) ir.Expr {
	exprs := make([]ir.Expr, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case ir.Expr:
			exprs[i] = v
		case string:
			exprs[i] = ir.VarExpr(v)
		default:
			exprs[i] = ir.ConstExpr(term(v).Const)
		}
	}
	return ir.Apply(op, exprs...)
}

// Agg builds an aggregated head argument.
func Agg(aggr, variable string) ir.HeadArg {
	return ir.HeadArg{Var: variable, Aggr: aggr}
}

// Head builds a rule head; args are variable names or ir.HeadArg values.
func Head(relation string, args ...any) ir.Head {
	h := ir.Head{Relation: relation}
	for _, a := range args {
		switch v := a.(type) {
		case string:
			h.Args = append(h.Args, ir.HeadArg{Var: v})
		case ir.HeadArg:
			h.Args = append(h.Args, v)
		default:
			panic(fmt.Sprintf("testutil: head argument %T", a))
		}
	}
	return h
}

// Rule builds a rule from a head and body literals.
func Rule(head ir.Head, body ...ir.Literal) ir.Rule {
	return ir.Rule{Head: head, Body: body}
}

// Facts builds an inline fact rule for relation. Head variables are named
// c0, c1, ... after the arity of the first tuple.
func Facts(relation string, tuples ...ir.Tuple) ir.Rule {
	arity := 0
	if len(tuples) > 0 {
		arity = len(tuples[0])
	}
	h := ir.Head{Relation: relation}
	for i := 0; i < arity; i++ {
		h.Args = append(h.Args, ir.HeadArg{Var: fmt.Sprintf("c%d", i)})
	}
	return ir.Rule{Head: h, Facts: tuples}
}

// Fixed builds a fixed-rule invocation.
func Fixed(head ir.Head, name string, inputs ...string) ir.Rule {
	return ir.Rule{Head: head, Fixed: &ir.FixedCall{Name: name, Inputs: inputs, Options: map[string]ir.Value{}}}
}

// Program builds a program with the given output relation and rules.
func Program(output string, rules ...ir.Rule) *ir.Program {
	return &ir.Program{Rules: rules, Output: output, Schemas: map[string]ir.Schema{}}
}

// Edges returns the fact tuples for pairs of ints.
func Edges(pairs ...[2]int) []ir.Tuple {
	out := make([]ir.Tuple, len(pairs))
	for i, p := range pairs {
		out[i] = ir.T(p[0], p[1])
	}
	return out
}

// TransitiveClosure is the canonical path program over an edge relation:
//
//	path(x, y) :- edge(x, y).
//	path(x, y) :- path(x, z), edge(z, y).
func TransitiveClosure(edges ...[2]int) *ir.Program {
	return Program("path",
		Facts("edge", Edges(edges...)...),
		Rule(Head("path", "x", "y"), Atom("edge", "x", "y")),
		Rule(Head("path", "x", "y"), Atom("path", "x", "z"), Atom("edge", "z", "y")),
	)
}
