package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seanankenbruck/nl2sql-guard/internal/policy"
	"github.com/seanankenbruck/nl2sql-guard/internal/security"
)

// ErrBlocked is returned by check when the statement would be refused.
var ErrBlocked = errors.New("statement blocked")

// CheckResult is the json output of the check command.
type CheckResult struct {
	security.Decision
	Namespace  string             `json:"namespace,omitempty"`
	Violations []policy.Violation `json:"violations,omitempty"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	var namespace string

	cmd := &cobra.Command{
		Use:   "check [sql]",
		Short: "Validate a statement and print its sanitized form",
		Long: `Validate a SQL statement with the security validator. With --namespace the
statement is also checked against that namespace's schema policy.

The SQL is read from the arguments, or from stdin when none are given.
Exits non-zero when the statement is blocked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			return runCheck(cmd, rootOpts, sql, namespace)
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "also check against this namespace's policy")

	return cmd
}

func runCheck(cmd *cobra.Command, opts *RootOptions, sql, namespace string) error {
	result := CheckResult{
		Decision:  opts.validator().Validate(sql),
		Namespace: namespace,
	}

	if result.Valid && namespace != "" {
		registry, err := opts.registry()
		if err != nil {
			return err
		}
		doc, err := registry.Get(namespace)
		if err != nil {
			return err
		}
		result.Violations = doc.Check(result.SanitizedSQL)
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		if err := writeJSON(out, result); err != nil {
			return err
		}
	} else {
		switch {
		case !result.Valid:
			fmt.Fprintf(out, "✗ blocked (%s): %s\n", result.Reason, result.Message)
		case len(result.Violations) > 0:
			fmt.Fprintf(out, "✗ policy violations in %s:\n", namespace)
			for _, v := range result.Violations {
				fmt.Fprintf(out, "  - %s\n", v.Message)
			}
		default:
			fmt.Fprintln(out, "✓ allowed")
			fmt.Fprintln(out, result.SanitizedSQL)
		}
	}

	if !result.Valid || len(result.Violations) > 0 {
		return ErrBlocked
	}
	return nil
}

// NewSanitizeCommand creates the sanitize command.
func NewSanitizeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sanitize [sql]",
		Short: "Print a statement with its trailing semicolon stripped and a LIMIT applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			if sql == "" {
				return fmt.Errorf("no SQL given")
			}
			sanitized := rootOpts.validator().Sanitize(sql)
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"sanitized_sql": sanitized})
			}
			fmt.Fprintln(cmd.OutOrStdout(), sanitized)
			return nil
		},
	}
}
