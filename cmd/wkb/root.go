package main

import (
	"wkb/internal/version"

	"github.com/spf13/cobra"
)

var (
	// workspaceFlag is the CLI --workspace flag value
	workspaceFlag string
	// formatFlag selects json or human output
	formatFlag string
)

var rootCmd = &cobra.Command{
	Use:   "wkb",
	Short: "WKB - Workspace Knowledge Crawler",
	Long: `WKB (Workspace Knowledge Base) discovers the applications in a workspace,
crawls each one for entry points, structure, configuration, and database
evidence, and keeps the results in a fingerprint-validated cache that file
activity invalidates automatically.`,
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate("WKB version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", ".",
		"Workspace root directory")
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "human",
		"Output format (json, human)")
}
