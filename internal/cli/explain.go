package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/keel/internal/expr"
	"github.com/roach88/keel/internal/planner"
	"github.com/roach88/keel/internal/schema"
)

// ExplainResult holds a rendered query plan.
type ExplainResult struct {
	Table    string `json:"table"`
	Index    string `json:"index,omitempty"`
	FullScan bool   `json:"fullScan"`
	Probes   int    `json:"probes,omitempty"`
	Plan     string `json:"plan"`
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	var allowFullScan bool

	cmd := &cobra.Command{
		Use:   "explain <schema.yaml> <table> <filter>",
		Short: "Compile a filter and print the chosen plan",
		Long: `Compile a filter expression against one table of a schema and
print the index scan the planner selects: equality prefix, range
bounds, probe sets for expanded IN conditions, and the residual
predicate evaluated post-fetch.

Filter syntax, for example:
  status == "active" AND age >= 21
  email IN ("a@x.co", "b@x.co") AND NOT (banned == true)`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(rootOpts, args[0], args[1], args[2], allowFullScan, cmd)
		},
	}

	cmd.Flags().BoolVar(&allowFullScan, "allow-full-scan", false, "permit a plan with no index")
	return cmd
}

func runExplain(opts *RootOptions, path, table, filter string, allowFullScan bool, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	sc, err := schema.LoadFile(path)
	if err != nil {
		_ = formatter.Error("E_SCHEMA", err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}
	t := sc.Table(table)
	if t == nil {
		msg := fmt.Sprintf("unknown table %q", table)
		_ = formatter.Error("E_TABLE", msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	pred, err := expr.Parse(filter)
	if err != nil {
		_ = formatter.Error("E_FILTER", err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}
	formatter.VerboseLog("parsed filter over fields %v", expr.Fields(pred))

	plan, err := planner.Compile(t, pred, planner.Options{AllowFullScan: allowFullScan})
	if err != nil {
		if formatter.Format == "json" {
			_ = formatter.Error("E_PLAN", err.Error(), nil)
		} else {
			fmt.Fprintln(formatter.Writer, "✗ Planning failed")
			fmt.Fprintf(formatter.Writer, "  %s\n", err)
		}
		return NewExitError(ExitFailure, err.Error())
	}

	if formatter.Format == "json" {
		return formatter.Success(ExplainResult{
			Table:    plan.Table,
			Index:    plan.Index,
			FullScan: plan.FullScan,
			Probes:   len(plan.Probes),
			Plan:     plan.Explain(),
		})
	}
	fmt.Fprint(formatter.Writer, plan.Explain())
	return nil
}
