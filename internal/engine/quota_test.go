package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/ir"
)

// TestQuotaEnforcer_WithinLimit tests normal operation within the budget.
func TestQuotaEnforcer_WithinLimit(t *testing.T) {
	q := NewQuotaEnforcer(ir.Budget{MaxIterations: 10, MaxDerived: 100})
	ctx := context.Background()

	for round := 1; round <= 10; round++ {
		require.NoError(t, q.CheckRound(ctx, round), "round %d should be allowed", round)
	}
	require.NoError(t, q.AddDerived(100))

	assert.Equal(t, 10, q.Rounds())
	assert.Equal(t, 100, q.Derived())
}

// TestQuotaEnforcer_ExceedsIterations tests the round limit.
func TestQuotaEnforcer_ExceedsIterations(t *testing.T) {
	q := NewQuotaEnforcer(ir.Budget{MaxIterations: 5})
	err := q.CheckRound(context.Background(), 6)
	require.Error(t, err)

	assert.True(t, IsResourceExhausted(err))
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "max_iterations", re.Details["limit"])
	assert.Equal(t, "6", re.Details["used"])
	assert.Equal(t, "5", re.Details["max"])
	assert.Contains(t, err.Error(), "RESOURCE_EXHAUSTED")
}

// TestQuotaEnforcer_ExceedsDerived tests the derived tuple limit.
func TestQuotaEnforcer_ExceedsDerived(t *testing.T) {
	q := NewQuotaEnforcer(ir.Budget{MaxDerived: 10})
	require.NoError(t, q.AddDerived(6))
	err := q.AddDerived(5)
	require.Error(t, err)
	assert.True(t, IsResourceExhausted(err))
	assert.Contains(t, err.Error(), "max_derived")
}

// TestQuotaEnforcer_ZeroIsUnlimited tests that zero limits never trip.
func TestQuotaEnforcer_ZeroIsUnlimited(t *testing.T) {
	q := NewQuotaEnforcer(ir.Budget{})
	require.NoError(t, q.CheckRound(context.Background(), 1_000_000))
	require.NoError(t, q.AddDerived(1_000_000))
}

// TestQuotaEnforcer_Deadline maps deadline expiry to resource exhaustion.
func TestQuotaEnforcer_Deadline(t *testing.T) {
	q := NewQuotaEnforcer(ir.Budget{Timeout: time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	err := q.CheckRound(ctx, 1)
	require.Error(t, err)
	assert.True(t, IsResourceExhausted(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, KindResourceExhausted, Classify(err))
}

// TestQuotaEnforcer_CancelPassesThrough keeps caller cancellation distinct.
func TestQuotaEnforcer_CancelPassesThrough(t *testing.T) {
	q := NewQuotaEnforcer(ir.Budget{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := q.CheckContext(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsResourceExhausted(err))
	assert.Equal(t, KindCanceled, Classify(fmt.Errorf("run: %w", err)))
}
