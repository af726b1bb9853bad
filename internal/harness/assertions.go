package harness

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/strata/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes the stored relations to help debug the failure.
type AssertionError struct {
	Type     string                // Assertion type for categorization
	Expected string                // Human-readable expected outcome
	Actual   string                // Human-readable actual outcome
	State    map[string][]ir.Tuple // Stored relations for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.State) > 0 {
		fmt.Fprintf(&buf, "\nStored relations:\n")
		for _, name := range stateNames(e.State) {
			fmt.Fprintf(&buf, "  %s: %d tuples\n", name, len(e.State[name]))
		}
	}
	return buf.String()
}

func stateNames(state map[string][]ir.Tuple) []string {
	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// assertRelationContains checks every expected tuple is stored
// (subset semantics: extra stored tuples are allowed).
func assertRelationContains(state map[string][]ir.Tuple, a Assertion) error {
	stored, ok := state[a.Relation]
	if !ok {
		return missingRelation(state, a)
	}
	want, err := toTuples(a.Tuples)
	if err != nil {
		return fmt.Errorf("%s %s: %w", a.Type, a.Relation, err)
	}
	for _, t := range want {
		if !containsTuple(stored, t) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s contains %s", a.Relation, t),
				Actual:   fmt.Sprintf("not found in %s", formatTuples(stored)),
				State:    state,
			}
		}
	}
	return nil
}

// assertRelationEquals checks the stored relation is exactly the expected
// tuples, in any order.
func assertRelationEquals(state map[string][]ir.Tuple, a Assertion) error {
	stored, ok := state[a.Relation]
	if !ok {
		return missingRelation(state, a)
	}
	want, err := toTuples(a.Tuples)
	if err != nil {
		return fmt.Errorf("%s %s: %w", a.Type, a.Relation, err)
	}
	slices.SortFunc(want, ir.CompareTuples)
	if !tuplesEqual(want, stored) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s = %s", a.Relation, formatTuples(want)),
			Actual:   formatTuples(stored),
			State:    state,
		}
	}
	return nil
}

// assertRelationCount checks the stored relation holds exactly Count tuples.
func assertRelationCount(state map[string][]ir.Tuple, a Assertion) error {
	stored, ok := state[a.Relation]
	if !ok {
		return missingRelation(state, a)
	}
	if len(stored) != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d tuples in %s", a.Count, a.Relation),
			Actual:   fmt.Sprintf("%d tuples", len(stored)),
			State:    state,
		}
	}
	return nil
}

// assertRelationAbsent checks no relation of the name is stored.
func assertRelationAbsent(state map[string][]ir.Tuple, a Assertion) error {
	if stored, ok := state[a.Relation]; ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("no stored relation %s", a.Relation),
			Actual:   fmt.Sprintf("%s is stored with %d tuples", a.Relation, len(stored)),
			State:    state,
		}
	}
	return nil
}

// assertRelations checks the catalog lists exactly the expected names.
func assertRelations(state map[string][]ir.Tuple, a Assertion) error {
	want := slices.Clone(a.Relations)
	sort.Strings(want)
	got := stateNames(state)
	if !slices.Equal(want, got) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("stored relations %v", want),
			Actual:   fmt.Sprintf("%v", got),
			State:    state,
		}
	}
	return nil
}

func missingRelation(state map[string][]ir.Tuple, a Assertion) error {
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("stored relation %s", a.Relation),
		Actual:   "relation not found",
		State:    state,
	}
}

func containsTuple(tuples []ir.Tuple, t ir.Tuple) bool {
	for _, s := range tuples {
		if s.Equal(t) {
			return true
		}
	}
	return false
}

// EvaluateAssertions evaluates all assertions against the result's final
// state. Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertRelationContains:
			err = assertRelationContains(result.State, a)
		case AssertRelationEquals:
			err = assertRelationEquals(result.State, a)
		case AssertRelationCount:
			err = assertRelationCount(result.State, a)
		case AssertRelationAbsent:
			err = assertRelationAbsent(result.State, a)
		case AssertRelations:
			err = assertRelations(result.State, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
