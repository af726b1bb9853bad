package harness

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// FormatSnapshot renders the step trace and final state of a result in the
// golden file format: one header line per step followed by its tuples, then
// every stored relation with its tuples. The output is deterministic.
//
//	scenario: closure
//	step 0 (edges.cue): path strata=1 rounds=4 derived=9 persisted=0
//	  [1, 2]
//	step 1 (inline): error=stratification
//	state edge:
//	  [1, 2]
func FormatSnapshot(scenarioName string, result *Result) []byte {
	var buf strings.Builder
	fmt.Fprintf(&buf, "scenario: %s\n", scenarioName)

	for _, st := range result.Trace {
		if st.Error != "" {
			fmt.Fprintf(&buf, "step %d (%s): error=%s\n", st.Step, st.Program, st.Error)
			continue
		}
		fmt.Fprintf(&buf, "step %d (%s): %s strata=%d rounds=%d derived=%d persisted=%d\n",
			st.Step, st.Program, st.Relation, st.Strata, st.Rounds, st.Derived, st.Persisted)
		for _, t := range st.Tuples {
			fmt.Fprintf(&buf, "  %s\n", t)
		}
	}

	for _, name := range stateNames(result.State) {
		fmt.Fprintf(&buf, "state %s:\n", name)
		for _, t := range result.State[name] {
			fmt.Fprintf(&buf, "  %s\n", t)
		}
	}
	return []byte(buf.String())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario, opts...)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an already computed result against the golden file
// for scenarioName.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, FormatSnapshot(scenarioName, result))
}
