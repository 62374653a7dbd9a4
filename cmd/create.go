package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var createInputs []string

var createCmd = &cobra.Command{
	Use:   "create <node-id> <output-path>",
	Short: "Create an instance of a node at an output path",
	Long: `Create an instance: the node's output is materialized at the given
path and kept up to date as inputs change.

Input values are passed as repeated --input flags. Values that parse as
JSON are passed structured; anything else is passed as a string

  livegen create ab12cd34ef56 greeting.txt --input name=Isaac
  livegen create ab12cd34ef56 report.txt --input 'items=["a","b"]'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		outputPath, err := filepath.Abs(args[1])
		if err != nil {
			return err
		}

		inputValues := make(map[string]interface{}, len(createInputs))
		for _, raw := range createInputs {
			name, value, ok := strings.Cut(raw, "=")
			if !ok {
				return fmt.Errorf("invalid --input %q, expected name=value", raw)
			}
			var parsed interface{}
			if err := json.Unmarshal([]byte(value), &parsed); err == nil {
				inputValues[name] = parsed
			} else {
				inputValues[name] = value
			}
		}

		var resp struct {
			InstanceID string `json:"instance_id"`
		}
		err = client.post("/api/nodes/"+args[0]+"/instances", map[string]interface{}{
			"output_path":  outputPath,
			"input_values": inputValues,
		}, &resp)
		if err != nil {
			return err
		}
		fmt.Printf("Created instance %s at %s\n", resp.InstanceID, outputPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().StringArrayVarP(&createInputs, "input", "i", nil, "input value as name=value (repeatable)")
}
