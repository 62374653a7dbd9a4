package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/livegen/internal/nodeconfig"
)

var validateCmd = &cobra.Command{
	Use:   "validate <config-path>...",
	Short: "Validate node config files without registering them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var failed int
		for _, path := range args {
			cfg, _, err := nodeconfig.ParseFile(path)
			if err != nil {
				fmt.Printf("FAIL %s: %v\n", path, err)
				failed++
				continue
			}
			fmt.Printf("OK   %s (%s, outputs %v)\n", path, cfg.NodeType, cfg.Outputs)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d config files invalid", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
