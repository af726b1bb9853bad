package engine

import (
	"log/slog"
	"runtime"

	"github.com/roach88/strata/internal/aggr"
	"github.com/roach88/strata/internal/compiler"
	"github.com/roach88/strata/internal/expr"
	"github.com/roach88/strata/internal/ir"
)

// DefaultMaxIterations bounds the rounds of one stratum when neither the
// program nor the configuration sets a limit. It keeps a divergent
// recursive rule from running forever.
const DefaultMaxIterations = 10000

// Config holds everything an Engine needs besides its storage. There is no
// package-level mutable state: two engines with different configurations
// can evaluate side by side.
type Config struct {
	// Workers bounds concurrent rule evaluations within a round.
	Workers int

	// Budget fills the zero fields of each program's budget.
	Budget ir.Budget

	Aggregations aggr.Registry
	Operators    expr.Table
	FixedRules   map[string]FixedRule

	Logger   *slog.Logger
	QueryIDs QueryIDGenerator
}

// DefaultConfig returns the built-in reducers, operators and fixed rules,
// one worker per CPU and DefaultMaxIterations.
func DefaultConfig() Config {
	return Config{
		Workers:      runtime.GOMAXPROCS(0),
		Budget:       ir.Budget{MaxIterations: DefaultMaxIterations},
		Aggregations: aggr.DefaultRegistry(),
		Operators:    expr.DefaultTable(),
		FixedRules:   DefaultFixedRules(),
		Logger:       slog.Default(),
		QueryIDs:     UUIDv7Generator{},
	}
}

// Option configures an Engine.
type Option func(*Config)

// WithWorkers sets the number of rule evaluations run concurrently.
// Values below one mean one.
func WithWorkers(n int) Option {
	return func(c *Config) {
		if n < 1 {
			n = 1
		}
		c.Workers = n
	}
}

// WithDefaultBudget sets the budget applied to programs that leave fields
// zero.
func WithDefaultBudget(b ir.Budget) Option {
	return func(c *Config) {
		c.Budget = b
	}
}

// WithAggregation registers an additional reducer.
func WithAggregation(a aggr.Aggregation) Option {
	return func(c *Config) {
		c.Aggregations.Register(a)
	}
}

// WithOperator registers an additional expression operator.
func WithOperator(op expr.Op) Option {
	return func(c *Config) {
		c.Operators.Register(op)
	}
}

// WithFixedRule registers a fixed rule under name.
func WithFixedRule(name string, rule FixedRule) Option {
	return func(c *Config) {
		c.FixedRules[name] = rule
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithQueryIDGenerator sets the query ID source. Tests use a fixed generator
// for reproducible logs and golden output.
func WithQueryIDGenerator(g QueryIDGenerator) Option {
	return func(c *Config) {
		if g != nil {
			c.QueryIDs = g
		}
	}
}

// env is the view of the configuration program validation needs.
func (c *Config) env() compiler.Env {
	return compiler.Env{
		Aggregations: c.Aggregations,
		Operators:    c.Operators,
		FixedRule: func(name string) bool {
			_, ok := c.FixedRules[name]
			return ok
		},
	}
}
