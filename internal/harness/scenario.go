package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/strata/internal/engine"
	"github.com/roach88/strata/internal/storage/backend"
)

// Scenario defines a conformance test scenario: programs run in order
// against one store, with expectations on each run and on the final
// stored state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Backend is the storage backend to run against. Defaults to memory.
	Backend string `yaml:"backend,omitempty"`

	// Workers overrides the engine worker count.
	Workers int `yaml:"workers,omitempty"`

	// Steps are the programs to run, in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the stored relations after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// QueryID is the fixed query ID for every step. Defaults to
	// "test-query-default".
	QueryID string `yaml:"query_id,omitempty"`
}

// Step is one program run. Exactly one of Program and Source is set.
type Step struct {
	// Program is a path to a .cue or .json program, or to a directory
	// holding one CUE package. Relative to the scenario file.
	Program string `yaml:"program,omitempty"`

	// Source is inline program source.
	Source string `yaml:"source,omitempty"`

	// Expect specifies the expected outcome. If nil, the step must
	// succeed and nothing else is checked.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step. Unset fields are
// not checked.
type ExpectClause struct {
	// Tuples is the exact output relation, in tuple order.
	Tuples [][]any `yaml:"tuples,omitempty"`

	// Count is the number of output tuples.
	Count *int `yaml:"count,omitempty"`

	// Strata is the number of strata evaluated.
	Strata *int `yaml:"strata,omitempty"`

	// Persisted is the number of tuples the step wrote.
	Persisted *int `yaml:"persisted,omitempty"`

	// Error is the error kind the step must fail with, e.g.
	// "stratification" or "resource_exhausted".
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the stored state after the last step.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Relation is the stored relation (all types except relations).
	Relation string `yaml:"relation,omitempty"`

	// Tuples are the expected tuples (relation_contains, relation_equals).
	Tuples [][]any `yaml:"tuples,omitempty"`

	// Count is the expected tuple count (relation_count).
	Count int `yaml:"count,omitempty"`

	// Relations are the expected catalog names (relations).
	Relations []string `yaml:"relations,omitempty"`
}

// Assertion type constants.
const (
	AssertRelationContains = "relation_contains"
	AssertRelationEquals   = "relation_equals"
	AssertRelationCount    = "relation_count"
	AssertRelationAbsent   = "relation_absent"
	AssertRelations        = "relations"
)

// LoadScenario reads and parses a scenario YAML file. Program paths are
// resolved relative to the file. Returns an error if the file doesn't
// exist, is malformed, contains unknown fields (typos), or is missing
// required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario parses scenario YAML, resolving relative program paths
// against basePath.
func ParseScenario(data []byte, basePath string) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, step := range scenario.Steps {
		if step.Program != "" && !filepath.IsAbs(step.Program) && basePath != "" {
			scenario.Steps[i].Program = filepath.Join(basePath, step.Program)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Backend == "" {
		s.Backend = backend.Memory
	}
	if err := (backend.Config{Type: s.Backend, Path: "-"}).Validate(); err != nil {
		return err
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must be non-negative")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if (step.Program == "") == (step.Source == "") {
			return fmt.Errorf("steps[%d]: exactly one of program or source is required", i)
		}
		if step.Program != "" {
			if _, err := os.Stat(step.Program); os.IsNotExist(err) {
				return fmt.Errorf("steps[%d]: program not found: %s", i, step.Program)
			}
		}
		if step.Expect == nil || step.Expect.Error == "" {
			continue
		}
		if _, ok := engine.ParseErrorKind(step.Expect.Error); !ok {
			return fmt.Errorf("steps[%d].expect: unknown error kind %q", i, step.Expect.Error)
		}
		if step.Expect.Tuples != nil || step.Expect.Count != nil || step.Expect.Persisted != nil {
			return fmt.Errorf("steps[%d].expect: error excludes tuples, count and persisted", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertRelations:
		return nil
	case AssertRelationContains, AssertRelationEquals, AssertRelationCount, AssertRelationAbsent:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Relation == "" {
		return fmt.Errorf("assertions[%d]: relation is required for %s", index, a.Type)
	}
	if a.Type == AssertRelationContains && len(a.Tuples) == 0 {
		return fmt.Errorf("assertions[%d]: tuples are required for %s", index, a.Type)
	}
	if a.Type == AssertRelationCount && a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
	}
	return nil
}
