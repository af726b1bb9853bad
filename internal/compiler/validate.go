package compiler

import (
	"fmt"

	"github.com/roach88/strata/internal/aggr"
	"github.com/roach88/strata/internal/expr"
	"github.com/roach88/strata/internal/ir"
)

// Validation error codes (E200-E299)
const (
	ErrMissingOutput      = "E200" // output relation is required
	ErrEmptyHead          = "E201" // head needs at least one argument
	ErrArityMismatch      = "E202" // rules of one relation disagree on arity
	ErrAggregateMismatch  = "E203" // rules of one relation disagree on aggregation
	ErrUnknownAggregation = "E204" // aggregation not in registry
	ErrUnknownOperator    = "E205" // operator not in table
	ErrUnsafeVariable     = "E206" // variable not bound by a positive atom or binding
	ErrWildcardInHead     = "E207" // "_" used in head
	ErrRebinding          = "E208" // bind target already bound
	ErrFactArity          = "E209" // fact arity differs from head arity
	ErrSchemaMismatch     = "E210" // declared schema disagrees with rule heads
	ErrAggregateLayout    = "E211" // aggregated positions must follow grouping positions
	ErrInvalidPersistMode = "E212" // unknown persistence mode
	ErrInvalidFixedRule   = "E213" // fixed rule missing name or unknown
	ErrInvalidSchema      = "E214" // declared schema layout is invalid
	ErrInvalidBudget      = "E215" // negative budget values
)

// ValidationError represents a program validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors is the error returned when a program fails validation.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 1 {
		return errs[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", errs[0].Error(), len(errs)-1)
}

// Env is what validation needs from the engine configuration.
type Env struct {
	Aggregations aggr.Registry
	Operators    expr.Table
	// FixedRule reports whether a fixed rule is registered. Nil accepts any name.
	FixedRule func(name string) bool
}

// ValidateProgram checks program shape: safety, arities, aggregation
// layout, operator and reducer names. Returns all errors found (does not
// fail-fast). Relation existence is checked later by BuildGraph.
func ValidateProgram(p *ir.Program, env Env) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if p.Output == "" {
		add("output", ErrMissingOutput, "output relation is required")
	}

	type headShape struct {
		arity int
		aggr  []string
		rule  int
	}
	shapes := make(map[string]headShape)

	for i, r := range p.Rules {
		field := fmt.Sprintf("rules[%d]", i)
		head := r.Head

		if len(head.Args) == 0 {
			add(field+".head", ErrEmptyHead, "relation %q: head needs at least one argument", head.Relation)
			continue
		}

		aggrs := make([]string, len(head.Args))
		seenAggr := false
		for j, a := range head.Args {
			if a.Var == ir.Wildcard {
				add(field+".head", ErrWildcardInHead, "wildcard cannot appear in a rule head")
			}
			aggrs[j] = a.Aggr
			if a.IsAggregate() {
				seenAggr = true
				if _, ok := env.Aggregations.Lookup(a.Aggr); !ok {
					add(field+".head", ErrUnknownAggregation, "unknown aggregation %q", a.Aggr)
				}
			} else if seenAggr {
				add(field+".head", ErrAggregateLayout,
					"grouping argument %q follows an aggregated argument", a.Var)
			}
		}

		if prev, ok := shapes[head.Relation]; ok {
			if prev.arity != len(head.Args) {
				add(field+".head", ErrArityMismatch, "relation %q has arity %d here but %d in rule %d",
					head.Relation, len(head.Args), prev.arity, prev.rule)
			} else if !sameAggregation(prev.aggr, aggrs) {
				add(field+".head", ErrAggregateMismatch,
					"rules for relation %q must aggregate the same positions with the same reducers (see rule %d)",
					head.Relation, prev.rule)
			}
		} else {
			shapes[head.Relation] = headShape{arity: len(head.Args), aggr: aggrs, rule: i}
		}

		switch {
		case r.Fixed != nil:
			if head.IsAggregate() {
				add(field+".head", ErrAggregateMismatch, "fixed rules cannot aggregate")
			}
			if r.Fixed.Name == "" {
				add(field+".fixed", ErrInvalidFixedRule, "fixed rule name is required")
			} else if env.FixedRule != nil && !env.FixedRule(r.Fixed.Name) {
				add(field+".fixed", ErrInvalidFixedRule, "unknown fixed rule %q", r.Fixed.Name)
			}
		case r.IsFacts():
			if head.IsAggregate() {
				add(field+".head", ErrAggregateMismatch, "fact rules cannot aggregate")
			}
			for k, f := range r.Facts {
				if len(f) != len(head.Args) {
					add(fmt.Sprintf("%s.facts[%d]", field, k), ErrFactArity,
						"fact has %d values, head %q has %d", len(f), head.Relation, len(head.Args))
				}
			}
		default:
			errs = append(errs, validateBody(field, r, env)...)
		}
	}

	for name, s := range p.Schemas {
		field := "relations." + name
		if err := s.CheckLayout(); err != nil {
			add(field, ErrInvalidSchema, "%v", err)
			continue
		}
		shape, ok := shapes[name]
		if !ok {
			continue
		}
		if shape.arity != s.Arity() {
			add(field, ErrSchemaMismatch, "schema declares %d columns, rules produce %d", s.Arity(), shape.arity)
			continue
		}
		groups := 0
		for _, a := range shape.aggr {
			if a == "" {
				groups++
			}
		}
		if groups > 0 && groups < len(shape.aggr) && s.KeyArity() != groups {
			add(field, ErrSchemaMismatch,
				"aggregating rules group by %d columns but the schema has %d key columns", groups, s.KeyArity())
		}
	}

	if p.Persist != nil && !ir.ValidPersistModes[p.Persist.Mode] {
		add("persist.mode", ErrInvalidPersistMode, "invalid mode %q, must be \"put\", \"replace\" or \"rm\"", p.Persist.Mode)
	}

	if p.Budget.MaxIterations < 0 || p.Budget.MaxDerived < 0 || p.Budget.Timeout < 0 {
		add("budget", ErrInvalidBudget, "budget values must not be negative")
	}

	return errs
}

func sameAggregation(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// validateBody checks range restriction: every variable used by the head,
// a negated atom, a filter or a binding expression is bound by some positive
// atom or binding of the same body.
func validateBody(field string, r ir.Rule, env Env) []ValidationError {
	var errs []ValidationError
	add := func(code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field + ".body", Code: code, Message: fmt.Sprintf(format, args...)})
	}

	bound := make(map[string]bool)
	for _, l := range r.Body {
		if l.Kind == ir.LitPositive {
			for _, t := range l.Atom.Args {
				if t.IsVar() && !t.IsWildcard() {
					bound[t.Var] = true
				}
			}
		}
	}
	// Bindings may chain, so iterate until no new variable becomes bound.
	for changed := true; changed; {
		changed = false
		for _, l := range r.Body {
			if l.Kind != ir.LitBind || bound[l.Var] {
				continue
			}
			if allBound(l.Expr.Vars(nil), bound) {
				bound[l.Var] = true
				changed = true
			}
		}
	}

	binders := make(map[string]int)
	for _, l := range r.Body {
		switch l.Kind {
		case ir.LitPositive:
			for _, t := range l.Atom.Args {
				if t.IsVar() && !t.IsWildcard() {
					binders[t.Var]++
				}
			}
		case ir.LitNegated:
			for _, t := range l.Atom.Args {
				if t.IsVar() && !t.IsWildcard() && !bound[t.Var] {
					add(ErrUnsafeVariable, "variable %q in negated atom %s is not bound by a positive atom", t.Var, l.Atom.Relation)
				}
			}
		case ir.LitFilter:
			if err := expr.Check(l.Expr, env.Operators); err != nil {
				add(ErrUnknownOperator, "%v", err)
			}
			for _, v := range l.Expr.Vars(nil) {
				if !bound[v] {
					add(ErrUnsafeVariable, "variable %q in filter %s is not bound", v, l.Expr)
				}
			}
		case ir.LitBind:
			if l.Var == "" || l.Var == ir.Wildcard {
				add(ErrRebinding, "bind needs a named variable")
			}
			if err := expr.Check(l.Expr, env.Operators); err != nil {
				add(ErrUnknownOperator, "%v", err)
			}
			for _, v := range l.Expr.Vars(nil) {
				if !bound[v] {
					add(ErrUnsafeVariable, "variable %q in binding of %q is not bound", v, l.Var)
				}
			}
		}
	}
	for _, l := range r.Body {
		if l.Kind == ir.LitBind && binders[l.Var] > 0 {
			add(ErrRebinding, "variable %q is bound by an atom and by a binding; use a filter to compare", l.Var)
		}
	}
	bindCount := make(map[string]int)
	for _, l := range r.Body {
		if l.Kind == ir.LitBind {
			bindCount[l.Var]++
			if bindCount[l.Var] == 2 {
				add(ErrRebinding, "variable %q is bound twice", l.Var)
			}
		}
	}

	for _, a := range r.Head.Args {
		if a.Var != ir.Wildcard && !bound[a.Var] {
			add(ErrUnsafeVariable, "head variable %q of %s is not bound by the body", a.Var, r.Head.Relation)
		}
	}
	return errs
}

func allBound(vars []string, bound map[string]bool) bool {
	for _, v := range vars {
		if !bound[v] {
			return false
		}
	}
	return true
}
