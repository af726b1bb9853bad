// Package cli implements the strata command line: running and checking
// programs, inspecting stored relations and running conformance scenarios.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/engine"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Backend    string
	Database   string
	Workers    int

	// QueryIDs overrides the query ID generator (for testing).
	// If nil, the engine default is used.
	QueryIDs engine.QueryIDGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the strata CLI.
//
// Commands report their own failures on stdout in the selected format and
// return an *ExitError carrying the exit status; any other error returned
// from Execute comes from cobra itself (unknown command, bad arguments).
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strata",
		Short: "strata - a deductive database",
		Long: `Evaluate stratified Datalog programs over stored relations.

Programs are CUE or JSON documents naming rules, an output relation and an
optional persistence directive. Stored relations live in a memory, badger
or sqlite backend selected by --backend/--db or a YAML config file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				msg := fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", msg)
				return NewExitError(ExitCommandError, msg)
			}
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output and debug logging")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	flags.StringVar(&opts.Backend, "backend", "", "storage backend (memory|badger|sqlite)")
	flags.StringVar(&opts.Database, "db", "", "database path for badger or sqlite")
	flags.IntVar(&opts.Workers, "workers", 0, "rule evaluation workers (default GOMAXPROCS)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewRelationsCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewDropCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}
