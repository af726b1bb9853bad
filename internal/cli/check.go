package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/compiler"
	"github.com/roach88/strata/internal/ir"
)

// CheckResult holds the outcome of checking a program.
type CheckResult struct {
	Valid       bool                       `json:"valid"`
	Fingerprint string                     `json:"fingerprint,omitempty"`
	Output      string                     `json:"output,omitempty"`
	Strata      []StratumInfo              `json:"strata,omitempty"`
	Errors      []compiler.ValidationError `json:"errors,omitempty"`
}

// StratumInfo describes one stratum of a checked program.
type StratumInfo struct {
	Index     int      `json:"index"`
	Relations []string `json:"relations"`
	Rules     []int    `json:"rules"`
	Recursive bool     `json:"recursive"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <program>",
		Short: "Validate and stratify a program without evaluating it",
		Long: `Validate a program, build its rule graph and print its strata.

Stored relations referenced by the program are resolved against the
configured store, so a program reading stored data checks against the
same catalog it would run against. Nothing is evaluated or written.

Examples:
  strata check closure.cue
  strata check closure.cue --db ./strata.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts, args[0])
		},
	}
	return cmd
}

func runCheck(cmd *cobra.Command, opts *RootOptions, path string) error {
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

	strat, checkErr := sess.engine.Check(cmd.Context(), p)
	var verrs compiler.ValidationErrors
	if errors.As(checkErr, &verrs) {
		return outputValidationErrors(out, verrs)
	}
	if checkErr != nil {
		return out.Fail(engineError("check failed", checkErr))
	}

	result := CheckResult{Valid: true, Fingerprint: ir.Fingerprint(p), Output: p.Output}
	for _, st := range strat.Strata {
		result.Strata = append(result.Strata, StratumInfo{
			Index:     st.Index,
			Relations: st.Relations,
			Rules:     st.Rules,
			Recursive: st.Recursive,
		})
	}

	if opts.Format == "json" {
		return out.Success(result)
	}

	fmt.Fprintf(out.Writer, "✓ %s is valid (%d strata, output %s)\n", path, len(strat.Strata), p.Output)
	fmt.Fprint(out.Writer, strat.String())
	out.VerboseLog("fingerprint %s", result.Fingerprint)
	return nil
}

// outputValidationErrors outputs every validation error of a program.
func outputValidationErrors(out *OutputFormatter, errs compiler.ValidationErrors) error {
	exitErr := &ExitError{
		Code:    ExitCommandError,
		Kind:    "validation",
		Message: fmt.Sprintf("validation failed with %d error(s)", len(errs)),
		Err:     errs,
	}

	if out.Format == "json" {
		if err := out.Success(CheckResult{Valid: false, Errors: errs}); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintf(out.Writer, "✗ Validation failed with %d error(s):\n", len(errs))
	for _, e := range errs {
		fmt.Fprintf(out.Writer, "  %s\n", e.Error())
	}
	return exitErr
}
