package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/strata/internal/compiler"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/storage"
)

// Engine evaluates programs against a storage engine.
//
// Thread-safety model:
//   - Run, Relations, Scan and Drop are safe from any goroutine
//   - each Run owns its snapshot, write batch and working relations; queries
//     never share mutable state
//   - concurrent persisting queries touching the same keys are resolved by
//     the storage engine at commit time (TransactionConflict)
type Engine struct {
	store  storage.Engine
	cfg    Config
	logger *slog.Logger
}

// New creates an Engine over store.
//
// Options can be passed to configure the engine (e.g., WithWorkers,
// WithFixedRule).
func New(store storage.Engine, opts ...Option) *Engine {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Engine{
		store:  store,
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Result is the outcome of one query.
type Result struct {
	QueryID string

	// Relation is the output relation name.
	Relation string
	Schema   ir.Schema
	// Tuples holds the output relation in tuple order.
	Tuples []ir.Tuple

	Strata  int
	Rounds  int
	Derived int

	// Persisted counts the tuples written or deleted by the persistence
	// directive.
	Persisted int

	Duration time.Duration
}

// Check validates p and stratifies it against the current catalog without
// evaluating anything.
func (e *Engine) Check(ctx context.Context, p *ir.Program) (*compiler.Stratification, error) {
	if errs := compiler.ValidateProgram(p, e.cfg.env()); len(errs) > 0 {
		return nil, compiler.ValidationErrors(errs)
	}
	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire snapshot: %w", err)
	}
	defer snap.Release()

	catalog, err := readCatalog(ctx, snap, referenced(p))
	if err != nil {
		return nil, err
	}
	return stratify(p, catalog)
}

// Run evaluates p and returns its output relation.
//
// On any failure nothing is committed and the snapshot is released. Budget
// expiry and exhaustion return a RuntimeError with ErrCodeResourceExhausted;
// cancellation of ctx returns context.Canceled.
func (e *Engine) Run(ctx context.Context, p *ir.Program) (res *Result, err error) {
	queryID := e.cfg.QueryIDs.Generate()
	logger := e.logger.With("query_id", queryID)
	start := time.Now()

	ctx, span := tracer.Start(ctx, "strata.Query",
		trace.WithAttributes(
			attribute.String("query.id", queryID),
			attribute.String("query.output", p.Output),
			attribute.Int("query.rules", len(p.Rules)),
		),
	)
	defer span.End()

	budget := p.Budget.Merge(e.cfg.Budget)
	quota := NewQuotaEnforcer(budget)

	defer func() {
		if err != nil && !IsResourceExhausted(err) {
			err = quota.contextError(err)
		}
		kind := Classify(err)
		queriesTotal.WithLabelValues(kind.String()).Inc()
		queryDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			res = nil
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("query failed", "kind", kind.String(), "error", err)
			return
		}
		span.SetStatus(codes.Ok, "")
		logger.Info("query finished",
			"output", res.Relation,
			"tuples", len(res.Tuples),
			"strata", res.Strata,
			"rounds", res.Rounds,
			"derived", res.Derived,
			"duration", res.Duration,
		)
	}()

	if budget.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget.Timeout)
		defer cancel()
	}

	if errs := compiler.ValidateProgram(p, e.cfg.env()); len(errs) > 0 {
		return nil, compiler.ValidationErrors(errs)
	}

	logger.Debug("query starting", "output", p.Output, "rules", len(p.Rules), "fingerprint", ir.Fingerprint(p))

	// The batch starts before the snapshot is taken, so any commit the
	// snapshot does not see is newer than the batch and conflicts with it
	// at commit time.
	var wb storage.WriteBatch
	if p.Persist != nil {
		wb, err = e.store.BeginWrite(ctx)
		if err != nil {
			return nil, fmt.Errorf("begin write: %w", err)
		}
		defer wb.Discard()
	}

	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire snapshot: %w", err)
	}
	defer snap.Release()

	catalog, err := readCatalog(ctx, snap, referenced(p))
	if err != nil {
		return nil, err
	}
	strat, err := stratify(p, catalog)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("query.strata", len(strat.Strata)))

	ev, err := newEvaluator(&e.cfg, logger, p, strat, snap, catalog, quota)
	if err != nil {
		return nil, err
	}
	if err := ev.run(ctx); err != nil {
		return nil, err
	}
	out, err := ev.relation(ctx, p.Output)
	if err != nil {
		return nil, err
	}

	res = &Result{
		QueryID:  queryID,
		Relation: p.Output,
		Schema:   ev.schemas[p.Output],
		Tuples:   out.Tuples(),
		Strata:   len(strat.Strata),
		Rounds:   quota.Rounds(),
		Derived:  quota.Derived(),
	}

	if p.Persist != nil {
		n, err := persist(ctx, snap, wb, catalog, *p.Persist, res.Schema, res.Tuples)
		if err != nil {
			return nil, err
		}
		if err := wb.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		res.Persisted = n
		persistedTotal.WithLabelValues(string(p.Persist.Mode)).Add(float64(n))
		logger.Info("output persisted",
			"relation", p.Persist.Target(p.Output),
			"mode", p.Persist.Mode,
			"tuples", n,
		)
	}

	res.Duration = time.Since(start)
	return res, nil
}

// referenced returns every relation name whose catalog entry the query may
// need.
func referenced(p *ir.Program) []string {
	names := append(p.HeadRelations(), p.BodyRelations()...)
	if p.Persist != nil {
		names = append(names, p.Persist.Target(p.Output))
	}
	return names
}

// stratify builds the dependency graph against the catalog and orders it.
func stratify(p *ir.Program, catalog map[string]ir.Schema) (*compiler.Stratification, error) {
	g, err := compiler.BuildGraph(p, func(name string) bool {
		_, ok := catalog[name]
		return ok
	})
	if err != nil {
		return nil, err
	}
	return compiler.Stratify(g)
}
