package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scribe-notes/scribe/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the scribe version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("scribe version %s\n", version.Get())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
