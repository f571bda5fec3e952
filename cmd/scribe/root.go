package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/scribe-notes/scribe/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "scribe",
	Short: "Personal knowledge assistant with sandboxed skills",
	Long: `Scribe is a personal knowledge assistant. It streams Claude
completions while executing note, scratchpad, website, and filesystem
tools as sandboxed subprocess skills confined to a workspace directory.

Run 'scribe serve' to start the streaming HTTP server, or 'scribe chat'
to talk to the assistant from the terminal.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: XDG config plus .scribe.yaml overrides)")
}

// loadConfig honors --config when given, otherwise the layered default
// lookup.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}
