package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewPolicyCommand creates the policy command group.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect schema policies",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the loaded namespaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := rootOpts.registry()
			if err != nil {
				return err
			}
			namespaces := registry.Namespaces()
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"default_namespace": registry.DefaultNamespace(),
					"namespaces":        namespaces,
				})
			}
			for _, ns := range namespaces {
				marker := " "
				if ns == registry.DefaultNamespace() {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, ns)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <namespace>",
		Short: "Print the schema context rendered for a namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := rootOpts.registry()
			if err != nil {
				return err
			}
			doc, err := registry.Get(args[0])
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), doc)
			}
			fmt.Fprint(cmd.OutOrStdout(), doc.Render())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "route [question]",
		Short: "Print the namespace a question routes to",
		RunE: func(cmd *cobra.Command, args []string) error {
			question, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			registry, err := rootOpts.registry()
			if err != nil {
				return err
			}
			ns, err := registry.Route(question)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"namespace": ns})
			}
			fmt.Fprintln(cmd.OutOrStdout(), ns)
			return nil
		},
	})

	return cmd
}
