package main

import (
	"fmt"
	"io"
	"os"

	"github.com/michelebogoni/sitepilot/internal/security"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check PHP code against the security deny-list",
	Long: `Check a PHP file against the same deny-list the executor applies
before running generated code. Use "-" to read from stdin.

Exits non-zero when any violation is found.

Example:
  sitepilotctl validate snippet.php
  echo 'exec("id");' | sitepilotctl validate -`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	var (
		code []byte
		err  error
	)
	if args[0] == "-" {
		code, err = io.ReadAll(cmd.InOrStdin())
	} else {
		code, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read code: %w", err)
	}

	report := security.Default().Validate(string(code))
	out := cmd.OutOrStdout()

	if report.Passed {
		fmt.Fprintln(out, "OK: no violations")
		return nil
	}

	fmt.Fprintf(out, "BLOCKED: %d violation(s)\n", len(report.Violations))
	for _, v := range report.Violations {
		fmt.Fprintf(out, "  - %s\n", v)
	}
	return fmt.Errorf("code failed security validation")
}
