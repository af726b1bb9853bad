package compiler

import (
	"encoding/hex"
	"fmt"
	"time"

	"cuelang.org/go/cue"

	"github.com/roach88/strata/internal/ir"
)

// CompileProgram parses a CUE value into a Program.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The expected document shape:
//
//	output: "path"
//	relations: edge: columns: [{name: "src", type: "int", key: true}, ...]
//	rules: [
//		{head: {relation: "path", args: ["x", "y"]},
//		 body: [{atom: "edge", args: ["x", "y"]}]},
//	]
//	persist: {mode: "put", into: "reach"}
//	budget: {max_iterations: 100, max_derived: 100000, timeout: "5s"}
//
// Identifier strings are variables, "_" is a wildcard, other scalars are
// constants and {const: v} wraps any constant (including strings).
// Shape checks only; semantic checks live in ValidateProgram.
func CompileProgram(v cue.Value) (*ir.Program, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	p := &ir.Program{Schemas: map[string]ir.Schema{}}

	out, err := requiredString(v, "output")
	if err != nil {
		return nil, err
	}
	p.Output = out

	if rels := v.LookupPath(cue.ParsePath("relations")); rels.Exists() {
		iter, err := rels.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			schema, err := parseSchema(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			p.Schemas[schema.Relation] = schema
		}
	}

	rulesVal := v.LookupPath(cue.ParsePath("rules"))
	if !rulesVal.Exists() {
		return nil, &CompileError{Field: "rules", Message: "rules are required", Pos: v.Pos()}
	}
	iter, err := rulesVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for i := 0; iter.Next(); i++ {
		rule, err := parseRule(iter.Value(), fmt.Sprintf("rules[%d]", i))
		if err != nil {
			return nil, err
		}
		p.Rules = append(p.Rules, rule)
	}

	if pv := v.LookupPath(cue.ParsePath("persist")); pv.Exists() {
		persist, err := parsePersist(pv)
		if err != nil {
			return nil, err
		}
		p.Persist = persist
	}

	if bv := v.LookupPath(cue.ParsePath("budget")); bv.Exists() {
		budget, err := parseBudget(bv)
		if err != nil {
			return nil, err
		}
		p.Budget = budget
	}

	return p, nil
}

func requiredString(v cue.Value, field string) (string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return "", &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	s, err := f.String()
	if err != nil {
		return "", &CompileError{Field: field, Message: "must be a string", Pos: f.Pos()}
	}
	return s, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", &CompileError{Field: field, Message: "must be a string", Pos: f.Pos()}
	}
	return s, nil
}

func optionalBool(v cue.Value, field string) (bool, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return false, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, &CompileError{Field: field, Message: "must be a boolean", Pos: f.Pos()}
	}
	return b, nil
}

func parseSchema(name string, v cue.Value) (ir.Schema, error) {
	schema := ir.Schema{Relation: name}
	cols := v.LookupPath(cue.ParsePath("columns"))
	if !cols.Exists() {
		return schema, &CompileError{Field: "relations." + name, Message: "columns are required", Pos: v.Pos()}
	}
	iter, err := cols.List()
	if err != nil {
		return schema, formatCUEError(err)
	}
	for iter.Next() {
		cv := iter.Value()
		colName, err := requiredString(cv, "name")
		if err != nil {
			return schema, err
		}
		typ, err := optionalString(cv, "type")
		if err != nil {
			return schema, err
		}
		if typ == "" {
			typ = string(ir.TypeAny)
		}
		key, err := optionalBool(cv, "key")
		if err != nil {
			return schema, err
		}
		nullable, err := optionalBool(cv, "nullable")
		if err != nil {
			return schema, err
		}
		schema.Columns = append(schema.Columns, ir.Column{
			Name:     colName,
			Type:     ir.ColumnType(typ),
			Key:      key,
			Nullable: nullable,
		})
	}
	return schema, nil
}

func parseRule(v cue.Value, field string) (ir.Rule, error) {
	var rule ir.Rule

	hv := v.LookupPath(cue.ParsePath("head"))
	if !hv.Exists() {
		return rule, &CompileError{Field: field + ".head", Message: "head is required", Pos: v.Pos()}
	}
	head, err := parseHead(hv, field+".head")
	if err != nil {
		return rule, err
	}
	rule.Head = head

	body := v.LookupPath(cue.ParsePath("body"))
	facts := v.LookupPath(cue.ParsePath("facts"))
	fixed := v.LookupPath(cue.ParsePath("fixed"))

	n := 0
	for _, f := range []cue.Value{body, facts, fixed} {
		if f.Exists() {
			n++
		}
	}
	if n != 1 {
		return rule, &CompileError{
			Field:   field,
			Message: "rule needs exactly one of body, facts or fixed",
			Pos:     v.Pos(),
		}
	}

	switch {
	case body.Exists():
		iter, err := body.List()
		if err != nil {
			return rule, formatCUEError(err)
		}
		for i := 0; iter.Next(); i++ {
			lit, err := parseLiteral(iter.Value(), fmt.Sprintf("%s.body[%d]", field, i))
			if err != nil {
				return rule, err
			}
			rule.Body = append(rule.Body, lit)
		}
		if len(rule.Body) == 0 {
			return rule, &CompileError{Field: field + ".body", Message: "body must not be empty", Pos: body.Pos()}
		}

	case facts.Exists():
		iter, err := facts.List()
		if err != nil {
			return rule, formatCUEError(err)
		}
		rule.Facts = []ir.Tuple{}
		for iter.Next() {
			val, err := parseValue(iter.Value(), field+".facts")
			if err != nil {
				return rule, err
			}
			list, ok := val.(ir.List)
			if !ok {
				return rule, &CompileError{Field: field + ".facts", Message: "each fact must be a list", Pos: iter.Value().Pos()}
			}
			rule.Facts = append(rule.Facts, ir.Tuple(list))
		}

	default:
		call, err := parseFixed(fixed, field+".fixed")
		if err != nil {
			return rule, err
		}
		rule.Fixed = call
	}

	return rule, nil
}

func parseHead(v cue.Value, field string) (ir.Head, error) {
	rel, err := requiredString(v, "relation")
	if err != nil {
		return ir.Head{}, err
	}
	head := ir.Head{Relation: rel}

	args := v.LookupPath(cue.ParsePath("args"))
	if !args.Exists() {
		return head, &CompileError{Field: field + ".args", Message: "args are required", Pos: v.Pos()}
	}
	iter, err := args.List()
	if err != nil {
		return head, formatCUEError(err)
	}
	for iter.Next() {
		av := iter.Value()
		switch av.Kind() {
		case cue.StringKind:
			name, _ := av.String()
			head.Args = append(head.Args, ir.HeadArg{Var: name})
		case cue.StructKind:
			aggr, err := requiredString(av, "aggr")
			if err != nil {
				return head, err
			}
			name, err := requiredString(av, "var")
			if err != nil {
				return head, err
			}
			head.Args = append(head.Args, ir.HeadArg{Var: name, Aggr: aggr})
		default:
			return head, &CompileError{
				Field:   field + ".args",
				Message: "head arguments must be variable names or {aggr, var}",
				Pos:     av.Pos(),
			}
		}
	}
	return head, nil
}

func parseLiteral(v cue.Value, field string) (ir.Literal, error) {
	has := func(name string) bool { return v.LookupPath(cue.ParsePath(name)).Exists() }

	switch {
	case has("atom"), has("not"):
		kind, label := ir.LitPositive, "atom"
		if has("not") {
			kind, label = ir.LitNegated, "not"
		}
		rel, err := requiredString(v, label)
		if err != nil {
			return ir.Literal{}, err
		}
		terms, err := parseTerms(v.LookupPath(cue.ParsePath("args")), field+".args")
		if err != nil {
			return ir.Literal{}, err
		}
		return ir.Literal{Kind: kind, Atom: ir.Atom{Relation: rel, Args: terms}}, nil

	case has("filter"):
		e, err := parseExpr(v.LookupPath(cue.ParsePath("filter")), field+".filter")
		if err != nil {
			return ir.Literal{}, err
		}
		return ir.Literal{Kind: ir.LitFilter, Expr: e}, nil

	case has("bind"):
		name, err := requiredString(v, "bind")
		if err != nil {
			return ir.Literal{}, err
		}
		ev := v.LookupPath(cue.ParsePath("expr"))
		if !ev.Exists() {
			return ir.Literal{}, &CompileError{Field: field + ".expr", Message: "bind requires expr", Pos: v.Pos()}
		}
		e, err := parseExpr(ev, field+".expr")
		if err != nil {
			return ir.Literal{}, err
		}
		return ir.Literal{Kind: ir.LitBind, Var: name, Expr: e}, nil

	default:
		return ir.Literal{}, &CompileError{
			Field:   field,
			Message: "literal must be one of {atom, args}, {not, args}, {filter} or {bind, expr}",
			Pos:     v.Pos(),
		}
	}
}

func parseTerms(v cue.Value, field string) ([]ir.Term, error) {
	if !v.Exists() {
		return nil, &CompileError{Field: field, Message: "args are required", Pos: v.Pos()}
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var terms []ir.Term
	for iter.Next() {
		tv := iter.Value()
		if tv.Kind() == cue.StringKind {
			name, _ := tv.String()
			terms = append(terms, ir.V(name))
			continue
		}
		val, err := parseValue(tv, field)
		if err != nil {
			return nil, err
		}
		terms = append(terms, ir.C(val))
	}
	return terms, nil
}

func parseExpr(v cue.Value, field string) (ir.Expr, error) {
	switch v.Kind() {
	case cue.StringKind:
		name, _ := v.String()
		return ir.VarExpr(name), nil
	case cue.StructKind:
		if !v.LookupPath(cue.ParsePath("op")).Exists() {
			val, err := parseValue(v, field)
			if err != nil {
				return ir.Expr{}, err
			}
			return ir.ConstExpr(val), nil
		}
		op, err := requiredString(v, "op")
		if err != nil {
			return ir.Expr{}, err
		}
		e := ir.Expr{Op: op}
		if av := v.LookupPath(cue.ParsePath("args")); av.Exists() {
			iter, err := av.List()
			if err != nil {
				return ir.Expr{}, formatCUEError(err)
			}
			for i := 0; iter.Next(); i++ {
				arg, err := parseExpr(iter.Value(), fmt.Sprintf("%s.args[%d]", field, i))
				if err != nil {
					return ir.Expr{}, err
				}
				e.Args = append(e.Args, arg)
			}
		}
		return e, nil
	default:
		val, err := parseValue(v, field)
		if err != nil {
			return ir.Expr{}, err
		}
		return ir.ConstExpr(val), nil
	}
}

// parseValue converts a concrete CUE value to a constant. Structs are only
// accepted in the wrapped forms {const: v} and {bytes: "hex"}.
func parseValue(v cue.Value, field string) (ir.Value, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	switch v.Kind() {
	case cue.NullKind:
		return ir.Null{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Bool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
		}
		return ir.Int(n), nil
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nil, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
		}
		return ir.Float(f), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.NewString(s), nil
	case cue.BytesKind:
		b, err := v.Bytes()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Bytes(b), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		list := ir.List{}
		for iter.Next() {
			elem, err := parseValue(iter.Value(), field)
			if err != nil {
				return nil, err
			}
			list = append(list, elem)
		}
		return list, nil
	case cue.StructKind:
		if cv := v.LookupPath(cue.ParsePath("const")); cv.Exists() {
			return parseValue(cv, field)
		}
		if bv := v.LookupPath(cue.ParsePath("bytes")); bv.Exists() {
			s, err := bv.String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			raw, err := hex.DecodeString(s)
			if err != nil {
				return nil, &CompileError{Field: field, Message: "bytes must be hex encoded", Pos: bv.Pos()}
			}
			return ir.Bytes(raw), nil
		}
		return nil, &CompileError{Field: field, Message: "structs are not values; use {const: v}", Pos: v.Pos()}
	default:
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("value must be concrete, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func parseFixed(v cue.Value, field string) (*ir.FixedCall, error) {
	name, err := requiredString(v, "name")
	if err != nil {
		return nil, err
	}
	call := &ir.FixedCall{Name: name, Options: map[string]ir.Value{}}

	if iv := v.LookupPath(cue.ParsePath("inputs")); iv.Exists() {
		iter, err := iv.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			in, err := iter.Value().String()
			if err != nil {
				return nil, &CompileError{Field: field + ".inputs", Message: "inputs must be relation names", Pos: iter.Value().Pos()}
			}
			call.Inputs = append(call.Inputs, in)
		}
	}

	if ov := v.LookupPath(cue.ParsePath("options")); ov.Exists() {
		iter, err := ov.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			val, err := parseValue(iter.Value(), field+".options."+iter.Label())
			if err != nil {
				return nil, err
			}
			call.Options[iter.Label()] = val
		}
	}
	return call, nil
}

func parsePersist(v cue.Value) (*ir.Persist, error) {
	mode, err := requiredString(v, "mode")
	if err != nil {
		return nil, err
	}
	into, err := optionalString(v, "into")
	if err != nil {
		return nil, err
	}
	return &ir.Persist{Mode: ir.PersistMode(mode), Into: into}, nil
}

func parseBudget(v cue.Value) (ir.Budget, error) {
	var b ir.Budget
	if f := v.LookupPath(cue.ParsePath("max_iterations")); f.Exists() {
		n, err := f.Int64()
		if err != nil {
			return b, &CompileError{Field: "budget.max_iterations", Message: "must be an integer", Pos: f.Pos()}
		}
		b.MaxIterations = int(n)
	}
	if f := v.LookupPath(cue.ParsePath("max_derived")); f.Exists() {
		n, err := f.Int64()
		if err != nil {
			return b, &CompileError{Field: "budget.max_derived", Message: "must be an integer", Pos: f.Pos()}
		}
		b.MaxDerived = int(n)
	}
	if f := v.LookupPath(cue.ParsePath("timeout")); f.Exists() {
		s, err := f.String()
		if err != nil {
			return b, &CompileError{Field: "budget.timeout", Message: "must be a duration string", Pos: f.Pos()}
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return b, &CompileError{Field: "budget.timeout", Message: err.Error(), Pos: f.Pos()}
		}
		b.Timeout = d
	}
	return b, nil
}
