package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/strata/internal/aggr"
	"github.com/roach88/strata/internal/compiler"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/storage"
)

// evaluator computes the strata of one query against one snapshot.
//
// Finalized relations of earlier strata and the relations of the current
// stratum live in relations. The map and the relations themselves are only
// mutated by the goroutine driving the query, between rounds; rule
// evaluations within a round read them concurrently and return freshly
// owned result slices.
type evaluator struct {
	cfg     *Config
	logger  *slog.Logger
	program *ir.Program
	strat   *compiler.Stratification
	snap    storage.Snapshot
	catalog map[string]ir.Schema
	quota   *QuotaEnforcer

	schemas   map[string]ir.Schema
	relations map[string]*Relation
	// recompute marks aggregated and fixed relations, which ignore their
	// stored contents.
	recompute map[string]bool
	plans     []*rulePlan
}

func newEvaluator(
	cfg *Config,
	logger *slog.Logger,
	p *ir.Program,
	strat *compiler.Stratification,
	snap storage.Snapshot,
	catalog map[string]ir.Schema,
	quota *QuotaEnforcer,
) (*evaluator, error) {
	ev := &evaluator{
		cfg:       cfg,
		logger:    logger,
		program:   p,
		strat:     strat,
		snap:      snap,
		catalog:   catalog,
		quota:     quota,
		schemas:   make(map[string]ir.Schema),
		relations: make(map[string]*Relation),
		recompute: make(map[string]bool),
		plans:     make([]*rulePlan, len(p.Rules)),
	}
	if err := ev.prepare(); err != nil {
		return nil, err
	}
	return ev, nil
}

// prepare resolves every relation's schema and plans every rule body.
func (ev *evaluator) prepare() error {
	p := ev.program
	for _, r := range p.Rules {
		if r.Fixed != nil || r.IsAggregate() {
			ev.recompute[r.Head.Relation] = true
		}
	}
	for _, name := range p.HeadRelations() {
		s, err := ev.headSchema(name)
		if err != nil {
			return err
		}
		ev.schemas[name] = s
	}
	for _, name := range p.BodyRelations() {
		if _, ok := ev.schemas[name]; ok {
			continue
		}
		s, ok := ev.catalog[name]
		if !ok {
			return fmt.Errorf("relation %q has neither rules nor a stored schema", name)
		}
		ev.schemas[name] = s
	}

	for i, r := range p.Rules {
		for _, l := range r.Body {
			if l.Kind != ir.LitPositive && l.Kind != ir.LitNegated {
				continue
			}
			if s := ev.schemas[l.Atom.Relation]; s.Arity() != len(l.Atom.Args) {
				return NewTypeError(i, r.Head.Relation, "atom %s has %d arguments, relation %q has %d columns",
					l.Atom, len(l.Atom.Args), l.Atom.Relation, s.Arity())
			}
		}
		if len(r.Body) == 0 {
			continue
		}
		plan, err := planRule(i, r, ev.cfg.Operators)
		if err != nil {
			return err
		}
		ev.plans[i] = plan
	}
	return nil
}

// headSchema picks the schema of a derived relation: the declared one, else
// the stored one (for relations seeded from storage), else one derived from
// the first rule's head.
func (ev *evaluator) headSchema(name string) (ir.Schema, error) {
	var head ir.Head
	for _, r := range ev.program.Rules {
		if r.Head.Relation == name {
			head = r.Head
			break
		}
	}
	arity := len(head.Args)

	if s, ok := ev.program.Schemas[name]; ok {
		s.Relation = name
		return s, nil
	}
	if s, ok := ev.catalog[name]; ok && !ev.recompute[name] {
		if s.Arity() != arity {
			return ir.Schema{}, NewTypeError(-1, name, "rules produce %d columns, stored relation has %d", arity, s.Arity())
		}
		return s, nil
	}

	names := make([]string, arity)
	keyArity := arity
	if head.IsAggregate() {
		if groups := groupCount(head); groups > 0 {
			keyArity = groups
		}
	}
	for i, a := range head.Args {
		names[i] = a.Var
	}
	return ir.DerivedSchema(name, names, arity, keyArity), nil
}

// groupCount returns the number of leading non-aggregated head positions.
func groupCount(h ir.Head) int {
	n := 0
	for _, a := range h.Args {
		if a.IsAggregate() {
			break
		}
		n++
	}
	return n
}

// relation returns the working relation name, materializing a stored-only
// relation from the snapshot on first use. Only fixed-rule inputs and the
// output need that; joins read stored-only relations through storedSource.
func (ev *evaluator) relation(ctx context.Context, name string) (*Relation, error) {
	if r, ok := ev.relations[name]; ok {
		return r, nil
	}
	s, ok := ev.catalog[name]
	if !ok {
		return nil, fmt.Errorf("relation %q is not available", name)
	}
	r := NewRelation(name, s.Arity(), s.KeyArity())
	n, err := loadStored(ctx, ev.snap, s, r)
	if err != nil {
		return nil, err
	}
	ev.logger.Debug("stored relation loaded", "relation", name, "tuples", n)
	ev.relations[name] = r
	return r, nil
}

func (ev *evaluator) run(ctx context.Context) error {
	for _, st := range ev.strat.Strata {
		if err := ev.quota.CheckContext(ctx); err != nil {
			return err
		}
		if err := ev.evalStratum(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func (ev *evaluator) evalStratum(ctx context.Context, st compiler.Stratum) (err error) {
	ctx, span := tracer.Start(ctx, "strata.Stratum",
		trace.WithAttributes(
			attribute.Int("stratum.index", st.Index),
			attribute.StringSlice("stratum.relations", st.Relations),
			attribute.Bool("stratum.recursive", st.Recursive),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	start := time.Now()

	inStratum := make(map[string]bool, len(st.Relations))
	for _, name := range st.Relations {
		s := ev.schemas[name]
		r := NewRelation(name, s.Arity(), s.KeyArity())
		if cs, stored := ev.catalog[name]; stored && !ev.recompute[name] {
			if cs.Arity() != s.Arity() {
				return NewTypeError(-1, name, "schema has %d columns, stored relation has %d", s.Arity(), cs.Arity())
			}
			n, err := loadStored(ctx, ev.snap, cs, r)
			if err != nil {
				return err
			}
			ev.logger.Debug("relation seeded from storage", "relation", name, "tuples", n)
		}
		ev.relations[name] = r
		inStratum[name] = true
	}

	var body []int
	aggregated := make(map[string]bool)
	for _, ri := range st.Rules {
		r := ev.program.Rules[ri]
		switch {
		case r.Fixed != nil:
			err = ev.evalFixed(ctx, ri)
		case r.IsFacts():
			err = ev.evalFacts(ri)
		case r.IsAggregate():
			if aggregated[r.Head.Relation] {
				continue
			}
			aggregated[r.Head.Relation] = true
			err = ev.evalAggregate(ctx, ev.aggregateRules(st, r.Head.Relation))
		default:
			body = append(body, ri)
		}
		if err != nil {
			return err
		}
	}

	rounds, err := ev.fixpoint(ctx, st, body, inStratum)
	if err != nil {
		return err
	}
	strataTotal.Inc()
	span.SetAttributes(attribute.Int("stratum.rounds", rounds))
	ev.logger.Info("stratum evaluated",
		"stratum", st.Index,
		"relations", st.Relations,
		"rounds", rounds,
		"duration", time.Since(start),
	)
	return nil
}

// insert checks t against the schema of r and adds it, recording new
// tuples in delta when delta is not nil.
func (ev *evaluator) insert(rule int, r *Relation, t ir.Tuple, delta *Relation) (bool, error) {
	if err := ev.schemas[r.Name()].CheckTuple(t); err != nil {
		return false, NewTypeError(rule, r.Name(), "%v", err)
	}
	added, err := r.Insert(t)
	if err != nil {
		return false, keyConflictError(rule, err)
	}
	if added && delta != nil {
		if _, err := delta.Insert(t); err != nil {
			return false, keyConflictError(rule, err)
		}
	}
	return added, nil
}

// addDerived charges n new tuples to the query budget.
func (ev *evaluator) addDerived(n int) error {
	derivedTotal.Add(float64(n))
	return ev.quota.AddDerived(n)
}

func (ev *evaluator) evalFacts(ri int) error {
	r := ev.program.Rules[ri]
	rel := ev.relations[r.Head.Relation]
	n := 0
	for _, t := range r.Facts {
		added, err := ev.insert(ri, rel, t, nil)
		if err != nil {
			return err
		}
		if added {
			n++
		}
	}
	return ev.addDerived(n)
}

func (ev *evaluator) evalFixed(ctx context.Context, ri int) error {
	r := ev.program.Rules[ri]
	call := r.Fixed
	rule, ok := ev.cfg.FixedRules[call.Name]
	if !ok {
		return fmt.Errorf("fixed rule %q is not registered", call.Name)
	}

	inputs := make([]FixedInput, len(call.Inputs))
	for i, name := range call.Inputs {
		rel, err := ev.relation(ctx, name)
		if err != nil {
			return err
		}
		inputs[i] = FixedInput{Name: name, Tuples: rel.Tuples()}
	}

	out, err := rule.Run(ctx, inputs, call.Options)
	if err != nil {
		var re *RuntimeError
		if errors.As(err, &re) {
			if re.Relation == "" {
				re.Relation = r.Head.Relation
			}
			if re.Rule < 0 {
				re.Rule = ri
			}
			return re
		}
		return fmt.Errorf("fixed rule %s: %w", call.Name, err)
	}

	rel := ev.relations[r.Head.Relation]
	n := 0
	for _, t := range out {
		if len(t) != len(r.Head.Args) {
			return fixedArityError(ri, r.Head.Relation, call.Name, len(t), len(r.Head.Args))
		}
		added, err := ev.insert(ri, rel, t, nil)
		if err != nil {
			return err
		}
		if added {
			n++
		}
	}
	ev.logger.Debug("fixed rule evaluated", "rule", ri, "name", call.Name, "tuples", n)
	return ev.addDerived(n)
}

// aggregateRules returns the rules of st that aggregate into rel, in
// program order.
func (ev *evaluator) aggregateRules(st compiler.Stratum, rel string) []int {
	var rules []int
	for _, ri := range st.Rules {
		r := ev.program.Rules[ri]
		if r.IsAggregate() && r.Head.Relation == rel {
			rules = append(rules, ri)
		}
	}
	return rules
}

// evalAggregate evaluates the aggregating rules of one relation over their
// finalized inputs.
//
// The head tuples of every rule's body are de-duplicated together, grouped
// by the leading non-aggregated positions and each aggregated position is
// reduced within its group. Without grouping positions an empty input still
// yields one tuple holding each reducer's empty result.
func (ev *evaluator) evalAggregate(ctx context.Context, rules []int) error {
	ri := rules[0]
	head := ev.program.Rules[ri].Head

	distinct := NewRelation(head.Relation, len(head.Args), len(head.Args))
	for _, rj := range rules {
		plan := ev.plans[rj]
		sources, err := ev.sources(ctx, plan, -1, nil)
		if err != nil {
			return err
		}
		matched, err := newJoin(ctx, plan, sources).run()
		if err != nil {
			return err
		}
		for _, t := range matched {
			if _, err := distinct.Insert(t); err != nil {
				return err
			}
		}
	}

	groups := groupCount(head)
	reducers := make([]aggr.Aggregation, len(head.Args))
	for j := groups; j < len(head.Args); j++ {
		a, ok := ev.cfg.Aggregations.Lookup(head.Args[j].Aggr)
		if !ok {
			return fmt.Errorf("aggregation %q is not registered", head.Args[j].Aggr)
		}
		reducers[j] = a
	}

	rel := ev.relations[head.Relation]
	n := 0
	emit := func(group []ir.Tuple) error {
		row := make(ir.Tuple, len(head.Args))
		if groups > 0 {
			copy(row, group[0][:groups])
		}
		for j := groups; j < len(head.Args); j++ {
			vals := make([]ir.Value, len(group))
			for k, t := range group {
				vals[k] = t[j]
			}
			res, skipped, err := aggr.Reduce(reducers[j], vals)
			if err != nil {
				return NewTypeError(ri, head.Relation, "%v", err)
			}
			aggregateSkipped.Add(float64(skipped))
			row[j] = res
		}
		added, err := ev.insert(ri, rel, row, nil)
		if added {
			n++
		}
		return err
	}

	all := distinct.Tuples()
	if len(all) == 0 {
		if groups == 0 {
			if err := emit(nil); err != nil {
				return err
			}
		}
		return ev.addDerived(n)
	}
	begin := 0
	for i := 1; i <= len(all); i++ {
		if i < len(all) && ir.CompareTuples(all[i][:groups], all[begin][:groups]) == 0 {
			continue
		}
		if err := emit(all[begin:i]); err != nil {
			return err
		}
		begin = i
	}
	return ev.addDerived(n)
}

// task is one rule evaluation of a round. When delta is set, the scan step
// deltaStep reads it instead of the full relation.
type task struct {
	plan      *rulePlan
	deltaStep int
	delta     *Relation
}

// fixpoint runs semi-naive rounds over the body rules of a stratum until
// no rule derives a new tuple. It returns the number of rounds run.
//
// Round 1 evaluates every rule against the full relations. Later rounds
// evaluate a rule once per same-stratum positive atom whose relation
// gained tuples in the previous round, with that atom reading only those
// tuples. Rules without same-stratum atoms therefore run only once.
func (ev *evaluator) fixpoint(ctx context.Context, st compiler.Stratum, rules []int, inStratum map[string]bool) (int, error) {
	isIn := func(name string) bool { return inStratum[name] }
	var deltas map[string]*Relation
	rounds := 0
	for round := 1; ; round++ {
		var tasks []task
		for _, ri := range rules {
			plan := ev.plans[ri]
			if round == 1 {
				tasks = append(tasks, task{plan: plan, deltaStep: -1})
				continue
			}
			for _, si := range plan.sameStratumAtoms(isIn) {
				if d := deltas[plan.steps[si].relation]; d != nil && d.Len() > 0 {
					tasks = append(tasks, task{plan: plan, deltaStep: si, delta: d})
				}
			}
		}
		if len(tasks) == 0 {
			return rounds, nil
		}
		if err := ev.quota.CheckRound(ctx, round); err != nil {
			return rounds, err
		}

		results, err := ev.runTasks(ctx, tasks)
		if err != nil {
			return rounds, err
		}
		rounds++
		roundsTotal.Inc()

		next := make(map[string]*Relation)
		added := 0
		for i, t := range tasks {
			rel := ev.relations[t.plan.head]
			d, ok := next[t.plan.head]
			if !ok {
				d = NewRelation(rel.Name(), rel.Arity(), rel.keyArity)
				next[t.plan.head] = d
			}
			for _, tup := range results[i] {
				ok, err := ev.insert(t.plan.rule, rel, tup, d)
				if err != nil {
					return rounds, err
				}
				if ok {
					added++
				}
			}
		}
		ev.logger.Debug("round finished",
			"stratum", st.Index,
			"round", round,
			"tasks", len(tasks),
			"derived", added,
		)
		if err := ev.addDerived(added); err != nil {
			return rounds, err
		}
		if added == 0 {
			return rounds, nil
		}
		deltas = next
	}
}

// runTasks evaluates the tasks of one round on a bounded worker pool.
// results[i] belongs to tasks[i] alone, so no locking is needed.
func (ev *evaluator) runTasks(ctx context.Context, tasks []task) ([][]ir.Tuple, error) {
	sources := make([][]source, len(tasks))
	for i, t := range tasks {
		s, err := ev.sources(ctx, t.plan, t.deltaStep, t.delta)
		if err != nil {
			return nil, err
		}
		sources[i] = s
	}

	results := make([][]ir.Tuple, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ev.cfg.Workers)
	for i, t := range tasks {
		g.Go(func() error {
			out, err := newJoin(gctx, t.plan, sources[i]).run()
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// sources resolves the relation read by every atom step of plan. Stored
// relations no rule derives are read from the snapshot, one prefix scan
// per lookup, and never loaded whole.
func (ev *evaluator) sources(ctx context.Context, plan *rulePlan, deltaStep int, delta *Relation) ([]source, error) {
	out := make([]source, len(plan.steps))
	for i, s := range plan.steps {
		if s.kind != stepScan && s.kind != stepNegate {
			continue
		}
		if i == deltaStep {
			out[i] = delta
			continue
		}
		if _, loaded := ev.relations[s.relation]; !loaded {
			if cs, ok := ev.catalog[s.relation]; ok {
				out[i] = &storedSource{ctx: ctx, snap: ev.snap, schema: cs}
				continue
			}
		}
		r, err := ev.relation(ctx, s.relation)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// keyConflictError turns a relation key conflict into a type error.
func keyConflictError(rule int, err error) error {
	var kc *KeyConflictError
	if errors.As(err, &kc) {
		return NewTypeError(rule, kc.Relation, "duplicate key: %s and %s share key columns", kc.Existing, kc.Incoming)
	}
	return err
}
