package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/compiler"
	"github.com/roach88/strata/internal/ir"
)

// RunOutput is the JSON payload of a successful run.
type RunOutput struct {
	QueryID    string     `json:"query_id"`
	Relation   string     `json:"relation"`
	Columns    []string   `json:"columns"`
	Tuples     []ir.Tuple `json:"tuples"`
	Strata     int        `json:"strata"`
	Rounds     int        `json:"rounds"`
	Derived    int        `json:"derived"`
	Persisted  int        `json:"persisted"`
	DurationMS int64      `json:"duration_ms"`
}

// NewRunCommand creates the run command.
func NewRunCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <program>",
		Short: "Evaluate a program and print its output relation",
		Long: `Evaluate a program against the configured store.

The program is a CUE or JSON file, or a directory holding one CUE package.
Result tuples are printed one per line in key order. A persist directive in
the program writes the result back to the store in the same transaction
that read it.

Exit codes:
  0 - Success
  1 - Runtime failure (type error, budget exceeded)
  2 - Invalid program or command error
  3 - Write conflict with a concurrent transaction

Examples:
  strata run closure.cue
  strata run closure.cue --db ./strata.db
  strata run ./programs/reach --backend badger --db ./data --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(cmd, opts, args[0])
		},
	}
	return cmd
}

func runProgram(cmd *cobra.Command, opts *RootOptions, path string) error {
	out := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	p, err := loadProgram(path)
	if err != nil {
		return out.Fail(err)
	}

	sess, err := opts.open(cmd.ErrOrStderr())
	if err != nil {
		return out.Fail(err)
	}
	defer sess.Close()

	res, runErr := sess.engine.Run(cmd.Context(), p)
	if runErr != nil {
		return out.Fail(engineError("run failed", runErr))
	}

	out.VerboseLog("query %s: %s strata=%d rounds=%d derived=%d persisted=%d in %s",
		res.QueryID, res.Relation, res.Strata, res.Rounds, res.Derived, res.Persisted, res.Duration)

	if opts.Format == "json" {
		return out.Success(RunOutput{
			QueryID:    res.QueryID,
			Relation:   res.Relation,
			Columns:    columnNames(res.Schema),
			Tuples:     nonNilTuples(res.Tuples),
			Strata:     res.Strata,
			Rounds:     res.Rounds,
			Derived:    res.Derived,
			Persisted:  res.Persisted,
			DurationMS: res.Duration.Milliseconds(),
		})
	}

	w := cmd.OutOrStdout()
	for _, t := range res.Tuples {
		fmt.Fprintln(w, t.String())
	}
	return nil
}

// loadProgram loads a program file or package directory. A missing path is
// a command error; anything else is classified like an engine error.
func loadProgram(path string) (*ir.Program, *ExitError) {
	p, err := compiler.LoadProgram(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, WrapExitError(ExitCommandError, "failed to load program", err)
		}
		return nil, engineError("failed to load program", err)
	}
	return p, nil
}

func columnNames(s ir.Schema) []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

func nonNilTuples(ts []ir.Tuple) []ir.Tuple {
	if ts == nil {
		return []ir.Tuple{}
	}
	return ts
}

// formatColumns renders a schema as name:type pairs, with key columns
// marked by a trailing asterisk and nullable ones by a question mark.
func formatColumns(s ir.Schema) string {
	parts := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		var sb strings.Builder
		sb.WriteString(c.Name)
		sb.WriteByte(':')
		sb.WriteString(string(c.Type))
		if c.Nullable {
			sb.WriteByte('?')
		}
		if c.Key {
			sb.WriteByte('*')
		}
		parts[i] = sb.String()
	}
	return strings.Join(parts, ", ")
}
