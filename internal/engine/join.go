package engine

import (
	"context"
	"errors"

	"github.com/roach88/strata/internal/expr"
	"github.com/roach88/strata/internal/ir"
)

// checkEvery is how many candidate tuples a join inspects between context
// checks.
const checkEvery = 1024

// source is what a scan or negation step reads.
type source interface {
	Scan(prefix ir.Tuple, fn func(ir.Tuple) bool)
}

// sourceErr reports a failure of a source that can fail mid-scan.
func sourceErr(s source) error {
	if f, ok := s.(interface{ Err() error }); ok {
		return f.Err()
	}
	return nil
}

// join executes one rule plan against fixed sources and returns the head
// tuples it produces. Each join owns its row and output; nothing is shared
// with concurrent joins except the read-only sources.
type join struct {
	ctx     context.Context
	plan    *rulePlan
	sources []source
	row     []ir.Value
	out     []ir.Tuple
	ticks   int
}

func newJoin(ctx context.Context, plan *rulePlan, sources []source) *join {
	return &join{
		ctx:     ctx,
		plan:    plan,
		sources: sources,
		row:     make([]ir.Value, plan.nslots),
	}
}

func (j *join) run() ([]ir.Tuple, error) {
	if err := j.exec(0); err != nil {
		return nil, err
	}
	return j.out, nil
}

func (j *join) tick() error {
	j.ticks++
	if j.ticks%checkEvery == 0 {
		return j.ctx.Err()
	}
	return nil
}

func (j *join) exec(i int) error {
	if i == len(j.plan.steps) {
		t := make(ir.Tuple, len(j.plan.headSlots))
		for k, s := range j.plan.headSlots {
			t[k] = j.row[s]
		}
		j.out = append(j.out, t)
		return nil
	}

	s := &j.plan.steps[i]
	switch s.kind {
	case stepScan:
		var err error
		j.sources[i].Scan(j.prefix(s), func(t ir.Tuple) bool {
			if err = j.tick(); err != nil {
				return false
			}
			if !j.match(s, t) {
				return true
			}
			if err = j.exec(i + 1); err != nil {
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
		return sourceErr(j.sources[i])

	case stepNegate:
		found := false
		j.sources[i].Scan(j.prefix(s), func(t ir.Tuple) bool {
			if j.match(s, t) {
				found = true
				return false
			}
			return true
		})
		if err := sourceErr(j.sources[i]); err != nil {
			return err
		}
		if found {
			return nil
		}
		return j.exec(i + 1)

	case stepFilter:
		v, err := s.fn(j.row)
		if err != nil {
			return j.exprError(s, err)
		}
		switch b := v.(type) {
		case ir.Bool:
			if !b {
				return nil
			}
		case ir.Null:
			return nil
		default:
			return NewTypeError(j.plan.rule, j.plan.head,
				"filter %s evaluated to %s %s, want bool", s.text, v.Kind(), ir.FormatValue(v))
		}
		return j.exec(i + 1)

	case stepBind:
		v, err := s.fn(j.row)
		if err != nil {
			return j.exprError(s, err)
		}
		j.row[s.slot] = v
		return j.exec(i + 1)
	}
	return nil
}

// prefix builds the known leading values of an atom.
func (j *join) prefix(s *step) ir.Tuple {
	if s.prefix == 0 {
		return nil
	}
	p := make(ir.Tuple, s.prefix)
	for k := 0; k < s.prefix; k++ {
		a := s.args[k]
		if a.mode == argConst {
			p[k] = a.value
		} else {
			p[k] = j.row[a.slot]
		}
	}
	return p
}

// match tests t against the atom's arguments, binding fresh variables.
func (j *join) match(s *step, t ir.Tuple) bool {
	if len(t) != len(s.args) {
		return false
	}
	for k, a := range s.args {
		switch a.mode {
		case argConst:
			if !ir.Equal(t[k], a.value) {
				return false
			}
		case argCheck:
			if !ir.Equal(t[k], j.row[a.slot]) {
				return false
			}
		case argBind:
			j.row[a.slot] = t[k]
		}
	}
	return true
}

func (j *join) exprError(s *step, err error) error {
	var opErr *expr.Error
	if errors.As(err, &opErr) {
		return NewTypeError(j.plan.rule, j.plan.head, "%s: %v", s.text, err)
	}
	return err
}
