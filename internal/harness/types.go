package harness

import "github.com/roach88/strata/internal/ir"

// StepTrace records what one step produced. Counters come from the engine
// result; Error holds the error kind when the step failed.
type StepTrace struct {
	Step      int        `json:"step"`
	Program   string     `json:"program"`
	Relation  string     `json:"relation,omitempty"`
	Tuples    []ir.Tuple `json:"tuples,omitempty"`
	Strata    int        `json:"strata,omitempty"`
	Rounds    int        `json:"rounds,omitempty"`
	Derived   int        `json:"derived,omitempty"`
	Persisted int        `json:"persisted,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace holds one entry per step, in order.
	Trace []StepTrace `json:"trace"`

	// Errors holds the failed expectations. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State holds the stored relations after the last step.
	State map[string][]ir.Tuple `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:  true,
		Trace: []StepTrace{},
		State: make(map[string][]ir.Tuple),
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
