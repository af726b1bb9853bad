package ir

import (
	"fmt"
	"strings"
	"time"
)

// Wildcard is the anonymous variable; every occurrence is distinct.
const Wildcard = "_"

// Term is an atom argument: a variable or a constant.
// Exactly one of Var and Const is meaningful; Var == "" means constant.
type Term struct {
	Var   string `json:"var,omitempty"`
	Const Value  `json:"-"`
}

// V creates a variable term.
func V(name string) Term {
	return Term{Var: name}
}

// C creates a constant term.
func C(v Value) Term {
	return Term{Const: v}
}

// IsVar reports whether the term is a (possibly wildcard) variable.
func (t Term) IsVar() bool {
	return t.Var != ""
}

// IsWildcard reports whether the term is the anonymous variable.
func (t Term) IsWildcard() bool {
	return t.Var == Wildcard
}

func (t Term) String() string {
	if t.IsVar() {
		return t.Var
	}
	return FormatValue(t.Const)
}

// Atom references a relation with positional bindings.
type Atom struct {
	Relation string `json:"relation"`
	Args     []Term `json:"args"`
}

func (a Atom) String() string {
	parts := make([]string, len(a.Args))
	for i, t := range a.Args {
		parts[i] = t.String()
	}
	return fmt.Sprintf("%s(%s)", a.Relation, strings.Join(parts, ", "))
}

// LiteralKind tags the body literal variants.
type LiteralKind string

const (
	LitPositive LiteralKind = "atom"
	LitNegated  LiteralKind = "not"
	LitFilter   LiteralKind = "filter"
	LitBind     LiteralKind = "bind"
)

// Literal is one conjunct of a rule body.
//   - LitPositive / LitNegated use Atom
//   - LitFilter uses Expr (must evaluate to true)
//   - LitBind binds Var to the value of Expr
type Literal struct {
	Kind LiteralKind `json:"kind"`
	Atom Atom        `json:"atom,omitempty"`
	Expr Expr        `json:"-"`
	Var  string      `json:"var,omitempty"`
}

func (l Literal) String() string {
	switch l.Kind {
	case LitPositive:
		return l.Atom.String()
	case LitNegated:
		return "not " + l.Atom.String()
	case LitFilter:
		return l.Expr.String()
	case LitBind:
		return fmt.Sprintf("%s = %s", l.Var, l.Expr)
	default:
		return fmt.Sprintf("<%s>", l.Kind)
	}
}

// HeadArg is one position of a rule head: a plain variable or an
// aggregation (Aggr names a reducer applied to Var).
type HeadArg struct {
	Var  string `json:"var"`
	Aggr string `json:"aggr,omitempty"`
}

// IsAggregate reports whether the position is aggregated.
func (h HeadArg) IsAggregate() bool {
	return h.Aggr != ""
}

func (h HeadArg) String() string {
	if h.IsAggregate() {
		return fmt.Sprintf("%s(%s)", h.Aggr, h.Var)
	}
	return h.Var
}

// Head is the derived side of a rule.
type Head struct {
	Relation string    `json:"relation"`
	Args     []HeadArg `json:"args"`
}

// IsAggregate reports whether any head position is aggregated.
func (h Head) IsAggregate() bool {
	for _, a := range h.Args {
		if a.IsAggregate() {
			return true
		}
	}
	return false
}

func (h Head) String() string {
	parts := make([]string, len(h.Args))
	for i, a := range h.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", h.Relation, strings.Join(parts, ", "))
}

// FixedCall invokes an opaque relation-transforming function (a bundled
// graph algorithm, for instance) over finalized input relations.
type FixedCall struct {
	Name    string           `json:"name"`
	Inputs  []string         `json:"inputs"`
	Options map[string]Value `json:"-"`
}

// Rule is one derivation. Exactly one of Body, Facts and Fixed is used:
//   - Body: conjunction of literals
//   - Facts: inline constant tuples for the head relation
//   - Fixed: output of a fixed rule
type Rule struct {
	Head  Head       `json:"head"`
	Body  []Literal  `json:"body,omitempty"`
	Facts []Tuple    `json:"facts,omitempty"`
	Fixed *FixedCall `json:"fixed,omitempty"`
}

// IsFacts reports whether the rule is an inline fact list.
func (r Rule) IsFacts() bool {
	return r.Fixed == nil && len(r.Body) == 0
}

// IsAggregate reports whether the rule aggregates its head.
func (r Rule) IsAggregate() bool {
	return r.Head.IsAggregate()
}

func (r Rule) String() string {
	switch {
	case r.Fixed != nil:
		return fmt.Sprintf("%s <~ %s(%s)", r.Head, r.Fixed.Name, strings.Join(r.Fixed.Inputs, ", "))
	case r.IsFacts():
		return fmt.Sprintf("%s <- %d facts", r.Head, len(r.Facts))
	default:
		parts := make([]string, len(r.Body))
		for i, l := range r.Body {
			parts[i] = l.String()
		}
		return fmt.Sprintf("%s :- %s", r.Head, strings.Join(parts, ", "))
	}
}

// PersistMode selects how the output relation is written back to storage.
type PersistMode string

const (
	// PersistPut upserts the output tuples into the stored relation,
	// creating it when it does not exist.
	PersistPut PersistMode = "put"
	// PersistReplace drops the stored relation's tuples first.
	PersistReplace PersistMode = "replace"
	// PersistRemove deletes the keys of the output tuples.
	PersistRemove PersistMode = "rm"
)

// ValidPersistModes defines allowed persistence modes.
var ValidPersistModes = map[PersistMode]bool{
	PersistPut:     true,
	PersistReplace: true,
	PersistRemove:  true,
}

// Persist requests that the output relation be committed to storage.
type Persist struct {
	Mode PersistMode `json:"mode"`
	// Into names the stored relation; defaults to the output relation.
	Into string `json:"into,omitempty"`
}

// Target returns the stored relation name written by the directive.
func (p Persist) Target(output string) string {
	if p.Into != "" {
		return p.Into
	}
	return output
}

// Budget bounds one query's evaluation. Zero fields mean "use the
// engine default".
type Budget struct {
	MaxIterations int           `json:"max_iterations,omitempty"`
	MaxDerived    int           `json:"max_derived,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
}

// Merge returns b with zero fields filled from defaults.
func (b Budget) Merge(defaults Budget) Budget {
	if b.MaxIterations == 0 {
		b.MaxIterations = defaults.MaxIterations
	}
	if b.MaxDerived == 0 {
		b.MaxDerived = defaults.MaxDerived
	}
	if b.Timeout == 0 {
		b.Timeout = defaults.Timeout
	}
	return b
}

// Program is the full rule set submitted for one query.
type Program struct {
	// Rules in declaration order. Order is significant for deterministic
	// stratification and evaluation.
	Rules []Rule `json:"rules"`

	// Schemas declares typed schemas for derived or stored relations.
	Schemas map[string]Schema `json:"schemas,omitempty"`

	// Output names the relation whose tuples are returned.
	Output string `json:"output"`

	// Persist, when set, commits the output relation.
	Persist *Persist `json:"persist,omitempty"`

	Budget Budget `json:"budget"`
}

// HeadRelations returns the distinct head relation names in declaration order.
func (p *Program) HeadRelations() []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range p.Rules {
		if !seen[r.Head.Relation] {
			seen[r.Head.Relation] = true
			names = append(names, r.Head.Relation)
		}
	}
	return names
}

// BodyRelations returns the distinct relations referenced by rule bodies
// and fixed-rule inputs, in first-reference order.
func (p *Program) BodyRelations() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, r := range p.Rules {
		for _, l := range r.Body {
			if l.Kind == LitPositive || l.Kind == LitNegated {
				add(l.Atom.Relation)
			}
		}
		if r.Fixed != nil {
			for _, in := range r.Fixed.Inputs {
				add(in)
			}
		}
	}
	if p.Output != "" {
		add(p.Output)
	}
	return names
}
