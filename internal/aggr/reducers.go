package aggr

import (
	"github.com/google/btree"

	"github.com/roach88/strata/internal/ir"
)

type countAcc struct {
	n int64
}

func (a *countAcc) Add(ir.Value) error { a.n++; return nil }
func (a *countAcc) Result() ir.Value   { return ir.Int(a.n) }

// sumAcc keeps an int sum until a float arrives. Nulls are skipped.
type sumAcc struct {
	i       int64
	f       float64
	isFloat bool
}

func (a *sumAcc) Add(v ir.Value) error {
	switch n := v.(type) {
	case nil, ir.Null:
	case ir.Int:
		if a.isFloat {
			a.f += float64(n)
		} else {
			a.i += int64(n)
		}
	case ir.Float:
		if !a.isFloat {
			a.isFloat = true
			a.f = float64(a.i)
		}
		a.f += float64(n)
	default:
		return &Error{Aggr: "sum", Message: "expects numbers, got " + n.Kind().String()}
	}
	return nil
}

func (a *sumAcc) Result() ir.Value {
	if a.isFloat {
		return ir.Float(a.f)
	}
	return ir.Int(a.i)
}

// meanAcc averages numbers; the mean of no values is null.
type meanAcc struct {
	sum float64
	n   int64
}

func (a *meanAcc) Add(v ir.Value) error {
	switch n := v.(type) {
	case nil, ir.Null:
	case ir.Int:
		a.sum += float64(n)
		a.n++
	case ir.Float:
		a.sum += float64(n)
		a.n++
	default:
		return &Error{Aggr: "mean", Message: "expects numbers, got " + n.Kind().String()}
	}
	return nil
}

func (a *meanAcc) Result() ir.Value {
	if a.n == 0 {
		return ir.Null{}
	}
	return ir.Float(a.sum / float64(a.n))
}

// extremeAcc tracks the min (want=-1) or max (want=1) under the value
// order, skipping nulls.
type extremeAcc struct {
	name string
	want int
	best ir.Value
}

func (a *extremeAcc) Add(v ir.Value) error {
	if v == nil || v.Kind() == ir.KindNull {
		return nil
	}
	if a.best == nil || ir.Compare(v, a.best) == a.want {
		a.best = v
	}
	return nil
}

func (a *extremeAcc) Result() ir.Value {
	if a.best == nil {
		return ir.Null{}
	}
	return a.best
}

type collectAcc struct {
	vals ir.List
}

func (a *collectAcc) Add(v ir.Value) error {
	a.vals = append(a.vals, v)
	return nil
}

func (a *collectAcc) Result() ir.Value {
	if a.vals == nil {
		return ir.List{}
	}
	return a.vals
}

// uniqueAcc keeps a sorted distinct set of values. With count set it
// returns the set size, otherwise the set as an ordered list.
type uniqueAcc struct {
	count bool
	set   *btree.BTreeG[ir.Value]
}

func (a *uniqueAcc) Add(v ir.Value) error {
	if a.set == nil {
		a.set = btree.NewG(8, func(x, y ir.Value) bool { return ir.Compare(x, y) < 0 })
	}
	if v == nil {
		v = ir.Null{}
	}
	a.set.ReplaceOrInsert(v)
	return nil
}

func (a *uniqueAcc) Result() ir.Value {
	if a.set == nil {
		if a.count {
			return ir.Int(0)
		}
		return ir.List{}
	}
	if a.count {
		return ir.Int(a.set.Len())
	}
	out := make(ir.List, 0, a.set.Len())
	a.set.Ascend(func(v ir.Value) bool {
		out = append(out, v)
		return true
	})
	return out
}

// boolAcc implements and/or. It saturates on the absorbing element.
type boolAcc struct {
	name      string
	result    bool
	saturated bool
}

func (a *boolAcc) Add(v ir.Value) error {
	b, ok := v.(ir.Bool)
	if !ok {
		kind := ir.KindNull
		if v != nil {
			kind = v.Kind()
		}
		return &Error{Aggr: a.name, Message: "expects booleans, got " + kind.String()}
	}
	if a.name == "and" && !bool(b) {
		a.result, a.saturated = false, true
	}
	if a.name == "or" && bool(b) {
		a.result, a.saturated = true, true
	}
	return nil
}

func (a *boolAcc) Result() ir.Value { return ir.Bool(a.result) }
func (a *boolAcc) Saturated() bool  { return a.saturated }
