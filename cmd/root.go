// Package cmd provides the livegen command-line interface.
//
// Configuration sources, highest priority first:
//  1. Command-line flags (--config, --dir, etc.)
//  2. LIVEGEN_CONFIG_FILE environment variable (custom config file path)
//  3. Individual LIVEGEN_* environment variables (LIVEGEN_DAEMON_PORT, ...)
//  4. .livegen.yml in the current directory
package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "livegen",
	Short: "A reactive build daemon for living templates",
	Long: `Livegen keeps declared outputs up to date as their inputs change.

Nodes are registered from config files (YAML frontmatter plus an opaque
body) and come in several flavors: templates rendered from resolved
inputs, external programs, webhook receivers, and incrementally tailed
log files. The daemon watches inputs, rebuilds affected outputs, and
writes results with an atomic content-addressed swap or an incremental
append.

Quick start:
  livegen serve                       Start the daemon
  livegen register greeting.node      Register a node
  livegen create <id> greeting.txt    Materialize an instance
  livegen list                        Show registered nodes`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .livegen.yml, or LIVEGEN_CONFIG_FILE)")
	rootCmd.PersistentFlags().String("dir", "", "daemon directory (default ~/.livegen)")
	rootCmd.PersistentFlags().String("host", "", "daemon API host")
	rootCmd.PersistentFlags().Int("port", 0, "daemon API port")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")

	viper.BindPFlag("daemon.dir", rootCmd.PersistentFlags().Lookup("dir"))
	viper.BindPFlag("daemon.host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("daemon.port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("LIVEGEN_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".livegen")
	}

	viper.SetEnvPrefix("LIVEGEN")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Missing or malformed config files degrade to defaults.
	_ = viper.ReadInConfig()
}
