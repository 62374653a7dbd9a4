package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Populated at build time via -ldflags.
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var versionFormat string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		switch versionFormat {
		case "json":
			return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{
				"version":    version,
				"git_commit": gitCommit,
				"build_date": buildDate,
				"go_version": runtime.Version(),
				"platform":   runtime.GOOS + "/" + runtime.GOARCH,
			})
		case "text":
			fmt.Printf("livegen %s (%s, %s, %s, %s/%s)\n",
				version, gitCommit, buildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return nil
		default:
			return fmt.Errorf("unsupported format: %s (supported: text, json)", versionFormat)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "output format (text, json)")
}
