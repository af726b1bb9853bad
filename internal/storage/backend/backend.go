// Package backend opens a storage.Engine by name, for callers configured
// from files or flags.
package backend

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/strata/internal/storage"
	"github.com/roach88/strata/internal/storage/badger"
	"github.com/roach88/strata/internal/storage/memory"
	"github.com/roach88/strata/internal/storage/sqlite"
)

// Backend names.
const (
	Memory = "memory"
	Badger = "badger"
	SQLite = "sqlite"
)

// Names lists the supported backends.
var Names = []string{Memory, Badger, SQLite}

// Config selects and configures a backend.
type Config struct {
	Type string `yaml:"type"`

	// Path is the badger directory or the sqlite file. Unused by memory.
	Path string `yaml:"path,omitempty"`

	// SyncWrites and GCInterval apply to badger only.
	SyncWrites *bool          `yaml:"sync_writes,omitempty"`
	GCInterval time.Duration `yaml:"gc_interval,omitempty"`
}

// Validate checks the type is known and a path is set where one is needed.
func (c Config) Validate() error {
	switch c.Type {
	case Memory:
		return nil
	case Badger, SQLite:
		if c.Path == "" {
			return fmt.Errorf("backend %s requires a path", c.Type)
		}
		return nil
	default:
		return fmt.Errorf("unknown backend %q: must be one of %v", c.Type, Names)
	}
}

// Open opens the configured backend. A nil logger means slog.Default().
func Open(cfg Config, logger *slog.Logger) (storage.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("backend", cfg.Type)

	switch cfg.Type {
	case Badger:
		bc := badger.DefaultConfig(cfg.Path)
		bc.Logger = logger
		if cfg.SyncWrites != nil {
			bc.SyncWrites = *cfg.SyncWrites
		}
		if cfg.GCInterval > 0 {
			bc.GCInterval = cfg.GCInterval
		}
		return badger.Open(bc)
	case SQLite:
		return sqlite.Open(cfg.Path, logger)
	default:
		return memory.New(memory.WithLogger(logger)), nil
	}
}
