package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/livegen/internal/types"
)

var titleCaser = cases.Title(language.English)

var registerCmd = &cobra.Command{
	Use:     "register <config-path>",
	Aliases: []string{"r"},
	Short:   "Register a node from a config file",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		absPath, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		var node types.Node
		if err := client.post("/api/nodes", map[string]string{"config_path": absPath}, &node); err != nil {
			return err
		}
		fmt.Printf("Registered %s node %s (%s)\n",
			titleCaser.String(string(node.Config.NodeType)), node.ID, absPath)
		return nil
	},
}

var unregisterCmd = &cobra.Command{
	Use:   "unregister <node-id>",
	Short: "Unregister a node and remove its instances",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.delete("/api/nodes/" + args[0]); err != nil {
			return err
		}
		fmt.Printf("Unregistered node %s\n", args[0])
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls", "l"},
	Short:   "List registered nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var nodes []types.Node
		if err := client.get("/api/nodes", &nodes); err != nil {
			return err
		}
		if len(nodes) == 0 {
			fmt.Println("No nodes registered.")
			return nil
		}

		fmt.Printf("%-14s %-10s %-10s %s\n", "NODE ID", "TYPE", "INSTANCES", "OUTPUTS")
		for _, node := range nodes {
			var instances []types.NodeInstance
			if err := client.get("/api/instances?node_id="+node.ID, &instances); err != nil {
				return err
			}
			fmt.Printf("%-14s %-10s %-10d %v\n",
				node.ID,
				titleCaser.String(string(node.Config.NodeType)),
				len(instances),
				node.Config.Outputs)
		}
		return nil
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild <node-id>",
	Short: "Rebuild every instance of a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.post("/api/nodes/"+args[0]+"/rebuild", nil, nil); err != nil {
			return err
		}
		fmt.Printf("Rebuilt instances of node %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(unregisterCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(rebuildCmd)
}
