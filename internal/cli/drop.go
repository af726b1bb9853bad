package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// DropOutput is the JSON payload of the drop command.
type DropOutput struct {
	Relation string `json:"relation"`
	Removed  int    `json:"removed"`
}

// NewDropCommand creates the drop command.
func NewDropCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <relation>",
		Short: "Delete a stored relation",
		Long: `Delete a stored relation's tuples and catalog entry in one transaction.

Examples:
  strata drop path --db ./strata.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrop(cmd, opts, args[0])
		},
	}
}

func runDrop(cmd *cobra.Command, opts *RootOptions, relation string) error {
	out := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	sess, err := opts.open(cmd.ErrOrStderr())
	if err != nil {
		return out.Fail(err)
	}
	defer sess.Close()

	n, dropErr := sess.engine.Drop(cmd.Context(), relation)
	if dropErr != nil {
		return out.Fail(engineError(fmt.Sprintf("failed to drop %s", relation), dropErr))
	}

	if opts.Format == "json" {
		return out.Success(DropOutput{Relation: relation, Removed: n})
	}
	fmt.Fprintf(out.Writer, "dropped %s (%d tuples)\n", relation, n)
	return nil
}
