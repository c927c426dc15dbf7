package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/keel/internal/schema"
)

// ValidationResult holds the outcome of a schema validation.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Tables []string `json:"tables,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <schema.yaml>",
		Short: "Validate a schema file",
		Long: `Validate a YAML schema file: columns, indexes, unique indexes,
check constraints, foreign keys, delete modes, and row-level security
policies, including cross-table referential consistency.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if _, err := os.Stat(path); err != nil {
		_ = formatter.Error("E_PATH", err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	sc, err := schema.LoadFile(path)
	if err != nil {
		if formatter.Format == "json" {
			_ = formatter.Success(ValidationResult{Valid: false, Error: err.Error()})
		} else {
			fmt.Fprintln(formatter.Writer, "✗ Validation failed")
			fmt.Fprintf(formatter.Writer, "  %s\n", err)
		}
		return NewExitError(ExitFailure, err.Error())
	}

	names := make([]string, 0, len(sc.Tables()))
	for _, t := range sc.Tables() {
		formatter.VerboseLog("validated table %s (%d columns, %d indexes)",
			t.Name, len(t.Columns), len(t.Indexes)+len(t.UniqueIndexes))
		names = append(names, t.Name)
	}

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Tables: names})
	}
	fmt.Fprintf(formatter.Writer, "✓ Schema valid (%d tables)\n", len(names))
	return nil
}
