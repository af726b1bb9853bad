package engine

import (
	"fmt"

	"github.com/roach88/strata/internal/expr"
	"github.com/roach88/strata/internal/ir"
)

type stepKind uint8

const (
	stepScan stepKind = iota
	stepNegate
	stepFilter
	stepBind
)

type argMode uint8

const (
	argIgnore argMode = iota // wildcard
	argConst                 // must equal value
	argCheck                 // must equal a slot bound earlier
	argBind                  // binds slot
)

type atomArg struct {
	mode  argMode
	slot  int
	value ir.Value
}

// step is one operation of a compiled rule body.
type step struct {
	kind     stepKind
	relation string
	args     []atomArg
	// prefix is the number of leading args known before the step runs;
	// they form the range-scan prefix.
	prefix int
	fn     expr.Func
	slot   int
	// literal is the body index of the literal the step came from.
	literal int
	text    string
}

// rulePlan is a rule body compiled to slot-addressed steps.
type rulePlan struct {
	rule      int
	head      string
	nslots    int
	steps     []step
	headSlots []int
}

// planRule orders the body greedily: positive atoms keep declaration order
// and every filter, binding or negation runs as soon as its variables are
// bound. Variables are resolved to row slots.
func planRule(index int, r ir.Rule, ops expr.Table) (*rulePlan, error) {
	p := &rulePlan{rule: index, head: r.Head.Relation}
	slots := make(map[string]int)
	slotOf := func(name string) (int, bool) {
		s, ok := slots[name]
		return s, ok
	}
	newSlot := func(name string) int {
		slots[name] = p.nslots
		p.nslots++
		return slots[name]
	}

	var pending []int
	for i, l := range r.Body {
		if l.Kind != ir.LitPositive {
			pending = append(pending, i)
		}
	}

	ready := func(l ir.Literal) bool {
		var vars []string
		switch l.Kind {
		case ir.LitNegated:
			for _, t := range l.Atom.Args {
				if t.IsVar() && !t.IsWildcard() {
					vars = append(vars, t.Var)
				}
			}
		default:
			vars = l.Expr.Vars(nil)
		}
		for _, v := range vars {
			if _, ok := slots[v]; !ok {
				return false
			}
		}
		return true
	}

	emitReady := func() error {
		for changed := true; changed; {
			changed = false
			rest := pending[:0]
			for _, i := range pending {
				l := r.Body[i]
				if !ready(l) {
					rest = append(rest, i)
					continue
				}
				changed = true
				switch l.Kind {
				case ir.LitNegated:
					p.steps = append(p.steps, atomStep(stepNegate, i, l, slots, newSlot))
				case ir.LitFilter:
					fn, err := expr.Compile(l.Expr, slotOf, ops)
					if err != nil {
						return fmt.Errorf("rule %d filter %s: %w", index, l.Expr, err)
					}
					p.steps = append(p.steps, step{kind: stepFilter, fn: fn, literal: i, text: l.String()})
				case ir.LitBind:
					fn, err := expr.Compile(l.Expr, slotOf, ops)
					if err != nil {
						return fmt.Errorf("rule %d binding %s: %w", index, l.Var, err)
					}
					p.steps = append(p.steps, step{kind: stepBind, fn: fn, slot: newSlot(l.Var), literal: i, text: l.String()})
				}
			}
			pending = rest
		}
		return nil
	}

	if err := emitReady(); err != nil {
		return nil, err
	}
	for i, l := range r.Body {
		if l.Kind != ir.LitPositive {
			continue
		}
		p.steps = append(p.steps, atomStep(stepScan, i, l, slots, newSlot))
		if err := emitReady(); err != nil {
			return nil, err
		}
	}
	if len(pending) > 0 {
		return nil, fmt.Errorf("rule %d: literal %s has unbound variables", index, r.Body[pending[0]])
	}

	for _, a := range r.Head.Args {
		s, ok := slots[a.Var]
		if !ok {
			return nil, fmt.Errorf("rule %d: head variable %q is not bound", index, a.Var)
		}
		p.headSlots = append(p.headSlots, s)
	}
	return p, nil
}

func atomStep(kind stepKind, literal int, l ir.Literal, slots map[string]int, newSlot func(string) int) step {
	s := step{kind: kind, relation: l.Atom.Relation, literal: literal, text: l.String()}
	prior := make(map[string]bool, len(slots))
	for name := range slots {
		prior[name] = true
	}
	leading := true
	for _, t := range l.Atom.Args {
		var a atomArg
		switch {
		case t.IsWildcard():
			a.mode = argIgnore
		case !t.IsVar():
			a.mode = argConst
			a.value = t.Const
		default:
			if slot, ok := slots[t.Var]; ok {
				a.mode = argCheck
				a.slot = slot
			} else {
				a.mode = argBind
				a.slot = newSlot(t.Var)
			}
		}
		known := a.mode == argConst || (a.mode == argCheck && prior[t.Var])
		if leading && known {
			s.prefix++
		} else {
			leading = false
		}
		s.args = append(s.args, a)
	}
	return s
}

// sameStratumAtoms returns the indices of scan steps reading a relation of
// the given set.
func (p *rulePlan) sameStratumAtoms(inStratum func(string) bool) []int {
	var out []int
	for i, s := range p.steps {
		if s.kind == stepScan && inStratum(s.relation) {
			out = append(out, i)
		}
	}
	return out
}
