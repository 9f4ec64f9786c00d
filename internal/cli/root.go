package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seanankenbruck/nl2sql-guard/internal/policy"
	"github.com/seanankenbruck/nl2sql-guard/internal/security"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format           string // "json" | "text"
	MaxQueryLength   int
	MaxResultRows    int
	PolicyDir        string
	DefaultNamespace string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the sqlguard CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sqlguard",
		Short: "Check SQL against the gateway's safety and schema policies",
		Long: `sqlguard runs the same security validator and schema policies the query
gateway applies to generated SQL, without a database or an LLM.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().IntVar(&opts.MaxQueryLength, "max-length", security.DefaultMaxQueryLength, "maximum statement length in characters")
	cmd.PersistentFlags().IntVar(&opts.MaxResultRows, "max-rows", security.DefaultMaxResultRows, "LIMIT appended to statements without one")
	cmd.PersistentFlags().StringVar(&opts.PolicyDir, "policy-dir", "", "directory of extra policy YAML documents")
	cmd.PersistentFlags().StringVar(&opts.DefaultNamespace, "default-namespace", "checklist", "namespace used when routing finds no match")

	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewSanitizeCommand(opts))
	cmd.AddCommand(NewPolicyCommand(opts))

	return cmd
}

func (o *RootOptions) validator() *security.Validator {
	return security.NewValidator(security.Options{
		MaxQueryLength: o.MaxQueryLength,
		MaxResultRows:  o.MaxResultRows,
	})
}

func (o *RootOptions) registry() (*policy.Registry, error) {
	return policy.NewDefaultRegistry(o.DefaultNamespace, o.PolicyDir)
}

// readInput joins args, or reads stdin when there are none.
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
