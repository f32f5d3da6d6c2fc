// Package cli implements the nox command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/noxd/nox/internal/config"
)

var (
	configPath string
)

// NewRootCommand builds the full command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "nox",
		Short:         "A configurable, pluggable HTTP server",
		Long:          "nox is a configurable HTTP server with mock responses,\nauthentication, sessions, static files, and reverse proxying,\nall driven by a plugin pipeline.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")

	root.AddCommand(
		newStartCommand(),
		newStopCommand(),
		newRestartCommand(),
		newStatusCommand(),
		newReloadCommand(),
		newLogsCommand(),
		newConfigCommand(),
		newPluginsCommand(),
		newHealthCommand(),
		newSessionsCommand(),
	)
	return root
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the configured file, or defaults when none is given.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configPath == "" {
		cfg = config.DefaultConfig()
	} else {
		loaded, err := config.NewLoader().Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}
