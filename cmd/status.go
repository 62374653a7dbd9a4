package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/livegen/internal/config"
	"github.com/conneroisu/livegen/internal/engine"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		pidFile := engine.NewPIDFile(cfg.PIDPath())
		if !pidFile.Running() {
			fmt.Println("Daemon: not running")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var status engine.Status
		if err := client.get("/api/status", &status); err != nil {
			return err
		}

		fmt.Println("Daemon: running")
		fmt.Printf("  PID:           %d\n", status.PID)
		fmt.Printf("  Started:       %s\n", status.StartedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("  Nodes:         %d\n", status.NodeCount)
		fmt.Printf("  Watched files: %d\n", status.WatchedFiles)
		fmt.Printf("  Tailed files:  %d\n", status.TailedFiles)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
