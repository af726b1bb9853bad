package cli

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/strata/internal/engine"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/storage"
	"github.com/roach88/strata/internal/storage/backend"
)

// Config is the YAML configuration file:
//
//	backend:
//	  type: badger
//	  path: ./data
//	  sync_writes: false
//	workers: 4
//	budget:
//	  max_iterations: 1000
//	  max_derived: 1000000
//	  timeout: 30s
type Config struct {
	Backend backend.Config `yaml:"backend"`
	Workers int            `yaml:"workers,omitempty"`
	Budget  BudgetConfig   `yaml:"budget,omitempty"`
}

// BudgetConfig is the default budget applied to programs that leave a
// limit unset.
type BudgetConfig struct {
	MaxIterations int           `yaml:"max_iterations,omitempty"`
	MaxDerived    int           `yaml:"max_derived,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
}

// DefaultConfig returns the configuration used without a config file: an
// in-memory backend and the engine's default budget.
func DefaultConfig() Config {
	return Config{Backend: backend.Config{Type: backend.Memory}}
}

// LoadConfig reads a YAML config file. Unknown fields are rejected.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the backend and limits.
func (c Config) Validate() error {
	if err := c.Backend.Validate(); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative")
	}
	if c.Budget.MaxIterations < 0 || c.Budget.MaxDerived < 0 || c.Budget.Timeout < 0 {
		return fmt.Errorf("budget limits must be non-negative")
	}
	return nil
}

// budget returns the default budget, falling back to the engine defaults
// for unset limits.
func (c Config) budget() ir.Budget {
	b := ir.Budget{
		MaxIterations: c.Budget.MaxIterations,
		MaxDerived:    c.Budget.MaxDerived,
		Timeout:       c.Budget.Timeout,
	}
	return b.Merge(engine.DefaultConfig().Budget)
}

// resolveConfig loads the config file, if any, and applies flag overrides.
// A --db without a backend selects sqlite.
func (o *RootOptions) resolveConfig() (Config, error) {
	cfg := DefaultConfig()
	if o.ConfigPath != "" {
		loaded, err := LoadConfig(o.ConfigPath)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}

	if o.Backend != "" {
		cfg.Backend.Type = o.Backend
	}
	if o.Database != "" {
		cfg.Backend.Path = o.Database
		if o.Backend == "" && cfg.Backend.Type == backend.Memory {
			cfg.Backend.Type = backend.SQLite
		}
	}
	if o.Workers > 0 {
		cfg.Workers = o.Workers
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// session is an open store and an engine over it.
type session struct {
	store  storage.Engine
	engine *engine.Engine
	logger *slog.Logger
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing store", "error", err)
	}
}

// open resolves the configuration, opens the store and builds an engine.
// Logs go to errOut: debug level under --verbose, warnings otherwise.
func (o *RootOptions) open(errOut io.Writer) (*session, *ExitError) {
	cfg, err := o.resolveConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

	st, err := backend.Open(cfg.Backend, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	logger.Debug("store ready", "backend", cfg.Backend.Type, "path", cfg.Backend.Path)

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithDefaultBudget(cfg.budget()),
	}
	if cfg.Workers > 0 {
		engineOpts = append(engineOpts, engine.WithWorkers(cfg.Workers))
	}
	if o.QueryIDs != nil {
		engineOpts = append(engineOpts, engine.WithQueryIDGenerator(o.QueryIDs))
	}

	return &session{store: st, engine: engine.New(st, engineOpts...), logger: logger}, nil
}
