package cli

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/ir"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Prefix string // JSON array of leading column values
}

// DumpOutput is the JSON payload of the dump command.
type DumpOutput struct {
	Relation string     `json:"relation"`
	Columns  []string   `json:"columns"`
	Tuples   []ir.Tuple `json:"tuples"`
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump <relation>",
		Short: "Print the stored tuples of a relation",
		Long: `Print the tuples of a stored relation in key order.

--prefix restricts the output to tuples whose leading columns equal the
given JSON array, which is answered by a range scan over the key order.

Examples:
  strata dump path --db ./strata.db
  strata dump path --db ./strata.db --prefix '[1]'
  strata dump edge --db ./strata.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "JSON array of leading column values")

	return cmd
}

func runDump(cmd *cobra.Command, opts *DumpOptions, relation string) error {
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	leading, perr := parsePrefix(opts.Prefix)
	if perr != nil {
		return out.Fail(WrapExitError(ExitCommandError, "invalid --prefix", perr))
	}

	sess, err := opts.open(cmd.ErrOrStderr())
	if err != nil {
		return out.Fail(err)
	}
	defer sess.Close()

	schema, tuples, scanErr := sess.engine.Scan(cmd.Context(), relation, leading)
	if scanErr != nil {
		return out.Fail(engineError(fmt.Sprintf("failed to dump %s", relation), scanErr))
	}

	if opts.Format == "json" {
		return out.Success(DumpOutput{
			Relation: relation,
			Columns:  columnNames(schema),
			Tuples:   nonNilTuples(tuples),
		})
	}

	for _, t := range tuples {
		fmt.Fprintln(out.Writer, t.String())
	}
	out.VerboseLog("%d tuple(s) in %s", len(tuples), relation)
	return nil
}

// parsePrefix decodes a JSON array into a tuple. Integral numbers stay
// integers.
func parsePrefix(s string) (ir.Tuple, error) {
	if s == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("prefix must be a JSON array: %w", err)
	}
	t := make(ir.Tuple, len(raw))
	for i, v := range raw {
		val, err := ir.FromGo(v)
		if err != nil {
			return nil, fmt.Errorf("prefix[%d]: %w", i, err)
		}
		t[i] = val
	}
	return t, nil
}
