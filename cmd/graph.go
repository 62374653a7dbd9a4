package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/livegen/internal/engine"
)

var graphCmd = &cobra.Command{
	Use:   "graph [node-id]",
	Short: "Show recorded dependency edges",
	Long: `Show the dependency graph: edges declared via input sources or
discovered as @node-id.output tokens in node bodies. Edges are
informational; upstream changes do not cascade rebuilds.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/api/graph"
		if len(args) == 1 {
			path += "?node_id=" + args[0]
		}
		var graph engine.Graph
		if err := client.get(path, &graph); err != nil {
			return err
		}
		if len(graph.Dependencies) == 0 && len(graph.Dependents) == 0 {
			fmt.Println("No dependency edges recorded.")
			return nil
		}
		for _, edge := range graph.Dependencies {
			fmt.Printf("%s -> %s.%s\n", edge.DependentNodeID, edge.DependencyNodeID, edge.DependencyOutput)
		}
		if len(graph.Dependents) > 0 {
			fmt.Printf("Dependents of %s: %v\n", graph.NodeID, graph.Dependents)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
