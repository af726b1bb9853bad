package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/strata/internal/compiler"
	"github.com/roach88/strata/internal/engine"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/storage"
	"github.com/roach88/strata/internal/storage/backend"
	"github.com/roach88/strata/internal/testutil"
)

// inlineProgram names steps given as inline source.
const inlineProgram = "inline"

// Harness is the scenario execution engine. It holds one store and one
// query engine with a fixed query ID generator.
type Harness struct {
	store  storage.Engine
	engine *engine.Engine
	logger *slog.Logger
}

// Option configures Run.
type Option func(*options)

type options struct {
	backend string
	logger  *slog.Logger
}

// WithBackend runs the scenario against the named backend instead of the
// one the scenario declares.
func WithBackend(name string) Option {
	return func(o *options) {
		o.backend = name
	}
}

// WithLogger sets the logger handed to the engine and backend. Logs are
// discarded by default.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh store: on-disk backends get a
// temporary directory that is removed afterwards. A step failing its
// expectation fails the result; Run only returns an error when the
// scenario could not be executed at all.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{
		backend: scenario.Backend,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.backend == "" {
		o.backend = backend.Memory
	}

	cfg := backend.Config{Type: o.backend}
	if o.backend != backend.Memory {
		dir, err := os.MkdirTemp("", "strata-harness-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		defer os.RemoveAll(dir)
		cfg.Path = filepath.Join(dir, "store")
	}

	st, err := backend.Open(cfg, o.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", o.backend, err)
	}
	defer st.Close()

	engineOpts := []engine.Option{
		engine.WithLogger(o.logger),
		engine.WithQueryIDGenerator(testutil.NewFixedQueryIDGenerator(scenario.QueryID)),
	}
	if scenario.Workers > 0 {
		engineOpts = append(engineOpts, engine.WithWorkers(scenario.Workers))
	}

	h := &Harness{
		store:  st,
		engine: engine.New(st, engineOpts...),
		logger: o.logger,
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step, result)
	}

	if err := h.captureState(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// executeStep runs one program and checks it against the step's expect
// clause, recording the outcome in result.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) {
	trace := StepTrace{Step: i, Program: inlineProgram}
	if step.Program != "" {
		trace.Program = filepath.Base(step.Program)
	}

	res, err := h.runStep(ctx, step)
	if err != nil {
		trace.Error = engine.Classify(err).String()
	} else {
		trace.Relation = res.Relation
		trace.Tuples = res.Tuples
		trace.Strata = res.Strata
		trace.Rounds = res.Rounds
		trace.Derived = res.Derived
		trace.Persisted = res.Persisted
	}
	result.Trace = append(result.Trace, trace)

	h.logger.Info("step completed",
		"step", i,
		"program", trace.Program,
		"tuples", len(trace.Tuples),
		"error", trace.Error,
	)

	for _, msg := range checkExpect(step.Expect, res, err) {
		result.AddError(fmt.Sprintf("step %d (%s): %s", i, trace.Program, msg))
	}
}

func (h *Harness) runStep(ctx context.Context, step Step) (*engine.Result, error) {
	var (
		p   *ir.Program
		err error
	)
	if step.Program != "" {
		p, err = compiler.LoadProgram(step.Program)
	} else {
		p, err = compiler.LoadSource(inlineProgram+".cue", []byte(step.Source))
	}
	if err != nil {
		return nil, err
	}
	return h.engine.Run(ctx, p)
}

// checkExpect compares a step outcome with its expect clause and returns
// the mismatches.
func checkExpect(expect *ExpectClause, res *engine.Result, err error) []string {
	if err != nil {
		kind := engine.Classify(err)
		if expect == nil || expect.Error == "" {
			return []string{fmt.Sprintf("unexpected error: %v", err)}
		}
		if kind.String() != expect.Error {
			return []string{fmt.Sprintf("expected error %s, got %s: %v", expect.Error, kind, err)}
		}
		return nil
	}
	if expect == nil {
		return nil
	}
	if expect.Error != "" {
		return []string{fmt.Sprintf("expected error %s, step succeeded", expect.Error)}
	}

	var errs []string
	if expect.Tuples != nil {
		want, convErr := toTuples(expect.Tuples)
		if convErr != nil {
			return []string{fmt.Sprintf("expect.tuples: %v", convErr)}
		}
		if !tuplesEqual(want, res.Tuples) {
			errs = append(errs, fmt.Sprintf("expected tuples %s, got %s", formatTuples(want), formatTuples(res.Tuples)))
		}
	}
	if expect.Count != nil && *expect.Count != len(res.Tuples) {
		errs = append(errs, fmt.Sprintf("expected %d tuples, got %d", *expect.Count, len(res.Tuples)))
	}
	if expect.Strata != nil && *expect.Strata != res.Strata {
		errs = append(errs, fmt.Sprintf("expected %d strata, got %d", *expect.Strata, res.Strata))
	}
	if expect.Persisted != nil && *expect.Persisted != res.Persisted {
		errs = append(errs, fmt.Sprintf("expected %d persisted, got %d", *expect.Persisted, res.Persisted))
	}
	return errs
}

// captureState reads every stored relation into result.State.
func (h *Harness) captureState(ctx context.Context, result *Result) error {
	schemas, err := h.engine.Relations(ctx)
	if err != nil {
		return err
	}
	for _, s := range schemas {
		_, tuples, err := h.engine.Scan(ctx, s.Relation, nil)
		if err != nil {
			return fmt.Errorf("scan %s: %w", s.Relation, err)
		}
		result.State[s.Relation] = tuples
	}
	return nil
}

// toTuples converts YAML-decoded rows to tuples.
func toTuples(rows [][]any) ([]ir.Tuple, error) {
	out := make([]ir.Tuple, len(rows))
	for i, row := range rows {
		t := make(ir.Tuple, len(row))
		for j, v := range row {
			val, err := ir.FromGo(v)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", i, j, err)
			}
			t[j] = val
		}
		out[i] = t
	}
	return out, nil
}

func tuplesEqual(a, b []ir.Tuple) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func formatTuples(tuples []ir.Tuple) string {
	if len(tuples) == 0 {
		return "[]"
	}
	var buf []byte
	buf = append(buf, '[')
	for i, t := range tuples {
		if i > 0 {
			buf = append(buf, ", "...)
		}
		buf = append(buf, t.String()...)
	}
	return string(append(buf, ']'))
}
