package engine

import (
	"context"

	"github.com/roach88/strata/internal/codec"
	"github.com/roach88/strata/internal/ir"
)

// FixedInput is one finalized input relation handed to a fixed rule.
type FixedInput struct {
	Name   string
	Tuples []ir.Tuple
}

// FixedRule is an opaque algorithm that maps finalized input relations to
// the tuples of its head relation. Its inputs always come from earlier
// strata, so it runs exactly once per query.
type FixedRule interface {
	Run(ctx context.Context, inputs []FixedInput, options map[string]ir.Value) ([]ir.Tuple, error)
}

// FixedRuleFunc adapts a function to FixedRule.
type FixedRuleFunc func(ctx context.Context, inputs []FixedInput, options map[string]ir.Value) ([]ir.Tuple, error)

// Run calls f.
func (f FixedRuleFunc) Run(ctx context.Context, inputs []FixedInput, options map[string]ir.Value) ([]ir.Tuple, error) {
	return f(ctx, inputs, options)
}

// DefaultFixedRules returns the bundled fixed rules.
func DefaultFixedRules() map[string]FixedRule {
	return map[string]FixedRule{
		"Degree": FixedRuleFunc(Degree),
	}
}

// Degree computes node degrees of an edge relation: its single input holds
// (from, to, ...) tuples and it outputs one (node, degree) tuple per node
// seen in either column.
//
// Option "direction" selects what is counted: "out" (default), "in" or
// "both".
func Degree(ctx context.Context, inputs []FixedInput, options map[string]ir.Value) ([]ir.Tuple, error) {
	if len(inputs) != 1 {
		return nil, NewTypeError(-1, "", "Degree takes one edge relation, got %d", len(inputs))
	}
	direction := "out"
	if v, ok := options["direction"]; ok {
		s, isString := v.(ir.String)
		if !isString {
			return nil, NewTypeError(-1, "", "Degree option direction must be a string, got %s", v.Kind())
		}
		direction = string(s)
	}
	countOut, countIn := true, false
	switch direction {
	case "out":
	case "in":
		countOut, countIn = false, true
	case "both":
		countIn = true
	default:
		return nil, NewTypeError(-1, "", "Degree option direction must be out, in or both, got %q", direction)
	}

	nodes := NewRelation("degree", 1, 1)
	counts := make(map[string]int64)
	bump := func(node ir.Value, n int64) error {
		key, err := codec.EncodeValue(nil, node)
		if err != nil {
			return NewTypeError(-1, inputs[0].Name, "Degree node: %v", err)
		}
		if _, err := nodes.Insert(ir.Tuple{node}); err != nil {
			return err
		}
		counts[string(key)] += n
		return nil
	}
	for i, t := range inputs[0].Tuples {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if len(t) < 2 {
			return nil, NewTypeError(-1, inputs[0].Name, "Degree needs edges with at least 2 columns, got %d", len(t))
		}
		var from, to int64
		if countOut {
			from = 1
		}
		if countIn {
			to = 1
		}
		if err := bump(t[0], from); err != nil {
			return nil, err
		}
		if err := bump(t[1], to); err != nil {
			return nil, err
		}
	}

	out := make([]ir.Tuple, 0, nodes.Len())
	for _, t := range nodes.Tuples() {
		key, _ := codec.EncodeValue(nil, t[0])
		out = append(out, ir.Tuple{t[0], ir.Int(counts[string(key)])})
	}
	return out, nil
}

// fixedArityError reports a fixed rule whose output does not fit its head.
func fixedArityError(rule int, relation, name string, got, want int) error {
	return NewTypeError(rule, relation, "fixed rule %s produced %d columns, head has %d", name, got, want)
}
