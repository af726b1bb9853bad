package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// RelationInfo describes one stored relation.
type RelationInfo struct {
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns"`
}

// ColumnInfo describes one column of a stored relation.
type ColumnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Key      bool   `json:"key"`
	Nullable bool   `json:"nullable,omitempty"`
}

// NewRelationsCommand creates the relations command.
func NewRelationsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "relations",
		Short: "List stored relations and their schemas",
		Long: `List every relation in the store's catalog with its columns.

Key columns are marked with an asterisk and nullable columns with a
question mark.

Examples:
  strata relations --db ./strata.db
  strata relations --config strata.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelations(cmd, opts)
		},
	}
}

func runRelations(cmd *cobra.Command, opts *RootOptions) error {
	out := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	sess, err := opts.open(cmd.ErrOrStderr())
	if err != nil {
		return out.Fail(err)
	}
	defer sess.Close()

	schemas, listErr := sess.engine.Relations(cmd.Context())
	if listErr != nil {
		return out.Fail(engineError("failed to list relations", listErr))
	}

	if opts.Format == "json" {
		infos := make([]RelationInfo, 0, len(schemas))
		for _, s := range schemas {
			info := RelationInfo{Name: s.Relation, Columns: make([]ColumnInfo, len(s.Columns))}
			for i, c := range s.Columns {
				info.Columns[i] = ColumnInfo{Name: c.Name, Type: string(c.Type), Key: c.Key, Nullable: c.Nullable}
			}
			infos = append(infos, info)
		}
		return out.Success(infos)
	}

	if len(schemas) == 0 {
		fmt.Fprintln(out.Writer, "No stored relations.")
		return nil
	}
	tw := tabwriter.NewWriter(out.Writer, 0, 4, 2, ' ', 0)
	for _, s := range schemas {
		fmt.Fprintf(tw, "%s\t%s\n", s.Relation, formatColumns(s))
	}
	return tw.Flush()
}
