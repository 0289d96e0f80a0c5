package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/loader"
	"github.com/aretw0/pergola/pkg/registry"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <graph.yaml>",
	Short: "Check a graph definition for consistency",
	Long: `Compiles the graph definition and reports every problem found: unknown
nodes in edges, missing entry, nodes without exactly one outgoing edge,
unknown handlers or routers and interrupt policies naming undeclared nodes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := loader.Load(args[0])
		if err != nil {
			return err
		}
		plan, err := def.Compile(registry.Default())
		if err != nil {
			var ce *domain.CompileError
			if errors.As(err, &ce) {
				lines := make([]string, len(ce.Errors))
				for i, e := range ce.Errors {
					lines[i] = "  - " + e.Error()
				}
				return fmt.Errorf("graph %q is invalid:\n%s", ce.Graph, strings.Join(lines, "\n"))
			}
			return err
		}

		out := cmd.OutOrStdout()
		topo := plan.Topology()
		fmt.Fprintf(out, "Graph %q is valid: %d nodes, %d edges.\n", plan.Name(), len(topo.Nodes), len(topo.Edges))
		if len(topo.Policy.Before) > 0 {
			fmt.Fprintf(out, "  interrupt before: %s\n", strings.Join(topo.Policy.Before, ", "))
		}
		if len(topo.Policy.After) > 0 {
			fmt.Fprintf(out, "  interrupt after: %s\n", strings.Join(topo.Policy.After, ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
