package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conneroisu/livegen/internal/types"
)

var logsLimit int

var logsCmd = &cobra.Command{
	Use:   "logs <node-id>",
	Short: "Show a node's execution log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var entries []types.ExecutionLog
		if err := client.get(fmt.Sprintf("/api/nodes/%s/logs?limit=%d", args[0], logsLimit), &entries); err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No log entries.")
			return nil
		}
		for _, entry := range entries {
			line := fmt.Sprintf("%s [%s] %s",
				entry.Timestamp.Format("2006-01-02 15:04:05"),
				strings.ToUpper(string(entry.Level)),
				entry.Message)
			if len(entry.Details) > 0 {
				if details, err := json.Marshal(entry.Details); err == nil {
					line += " " + string(details)
				}
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 50, "maximum entries to show")
}
