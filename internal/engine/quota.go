package engine

import (
	"context"
	"errors"

	"github.com/roach88/strata/internal/ir"
)

// QuotaEnforcer tracks one query's consumption of its budget.
//
// Rounds are counted per stratum and derived tuples across the whole query.
// The deadline lives in the query context; CheckContext turns its expiry
// into a resource error while caller cancellation passes through unchanged.
//
// A QuotaEnforcer is owned by the goroutine driving the query.
type QuotaEnforcer struct {
	budget  ir.Budget
	derived int
	rounds  int
}

// NewQuotaEnforcer creates an enforcer for budget. Zero limits are
// unlimited.
func NewQuotaEnforcer(budget ir.Budget) *QuotaEnforcer {
	return &QuotaEnforcer{budget: budget}
}

// CheckRound validates the round number of the current stratum and the
// context.
func (q *QuotaEnforcer) CheckRound(ctx context.Context, round int) error {
	q.rounds++
	if err := q.CheckContext(ctx); err != nil {
		return err
	}
	if q.budget.MaxIterations > 0 && round > q.budget.MaxIterations {
		return NewResourceExhaustedError("max_iterations", int64(round), int64(q.budget.MaxIterations), nil)
	}
	return nil
}

// AddDerived records n newly derived tuples.
func (q *QuotaEnforcer) AddDerived(n int) error {
	q.derived += n
	if q.budget.MaxDerived > 0 && q.derived > q.budget.MaxDerived {
		return NewResourceExhaustedError("max_derived", int64(q.derived), int64(q.budget.MaxDerived), nil)
	}
	return nil
}

// CheckContext returns nil while ctx is live.
func (q *QuotaEnforcer) CheckContext(ctx context.Context) error {
	return q.contextError(ctx.Err())
}

// contextError maps deadline expiry to a resource error.
func (q *QuotaEnforcer) contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewResourceExhaustedError("timeout", int64(q.budget.Timeout.Milliseconds()), 0, err)
	}
	return err
}

// Derived returns the number of tuples derived so far.
func (q *QuotaEnforcer) Derived() int {
	return q.derived
}

// Rounds returns the number of rounds run so far across all strata.
func (q *QuotaEnforcer) Rounds() int {
	return q.rounds
}
