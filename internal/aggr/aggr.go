// Package aggr provides the reducers used by aggregating rule heads.
//
// A reducer folds every value bound to its head position within one group
// (the non-aggregated head positions) into a single value. Reducers are
// registered by name in a Registry owned by the engine configuration.
//
// Early termination is opt-in: only aggregations declared Monotone whose
// accumulators implement Saturating may stop consuming a group's input,
// and only once Saturated reports true.
package aggr

import (
	"fmt"

	"github.com/roach88/strata/internal/ir"
)

// Accumulator folds values of one group.
type Accumulator interface {
	Add(v ir.Value) error
	Result() ir.Value
}

// Saturating is implemented by accumulators whose result can no longer
// change once Saturated returns true.
type Saturating interface {
	Saturated() bool
}

// Aggregation describes a named reducer.
type Aggregation struct {
	Name string
	New  func() Accumulator
	// Monotone declares that the result only moves in one direction as input
	// grows, which makes saturation-based early termination sound.
	Monotone bool
}

// Error reports a value an aggregation cannot consume.
type Error struct {
	Aggr    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("aggregation %s: %s", e.Aggr, e.Message)
}

// Registry maps aggregation names to implementations.
type Registry map[string]Aggregation

// Register adds or replaces an aggregation.
func (r Registry) Register(a Aggregation) {
	r[a.Name] = a
}

// Lookup returns the named aggregation.
func (r Registry) Lookup(name string) (Aggregation, bool) {
	a, ok := r[name]
	return a, ok
}

// DefaultRegistry returns a fresh registry holding the built-in reducers.
func DefaultRegistry() Registry {
	r := Registry{}
	for _, a := range []Aggregation{
		{Name: "count", New: func() Accumulator { return &countAcc{} }, Monotone: true},
		{Name: "count_unique", New: func() Accumulator { return &uniqueAcc{count: true} }, Monotone: true},
		{Name: "sum", New: func() Accumulator { return &sumAcc{} }},
		{Name: "mean", New: func() Accumulator { return &meanAcc{} }},
		{Name: "min", New: func() Accumulator { return &extremeAcc{name: "min", want: -1} }, Monotone: true},
		{Name: "max", New: func() Accumulator { return &extremeAcc{name: "max", want: 1} }, Monotone: true},
		{Name: "collect", New: func() Accumulator { return &collectAcc{} }},
		{Name: "unique", New: func() Accumulator { return &uniqueAcc{} }},
		{Name: "and", New: func() Accumulator { return &boolAcc{name: "and", result: true} }, Monotone: true},
		{Name: "or", New: func() Accumulator { return &boolAcc{name: "or", result: false} }, Monotone: true},
	} {
		r.Register(a)
	}
	return r
}

// Reduce folds vals with a fresh accumulator of a. When a is monotone and
// the accumulator saturates, the remaining values are skipped; skipped
// reports how many.
func Reduce(a Aggregation, vals []ir.Value) (result ir.Value, skipped int, err error) {
	acc := a.New()
	sat, canStop := acc.(Saturating)
	canStop = canStop && a.Monotone
	for i, v := range vals {
		if canStop && sat.Saturated() {
			return acc.Result(), len(vals) - i, nil
		}
		if err := acc.Add(v); err != nil {
			return nil, 0, err
		}
	}
	return acc.Result(), 0, nil
}
