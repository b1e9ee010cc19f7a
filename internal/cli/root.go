// Package cli provides the command-line interface for postersync.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ivlev/postersync/internal/config"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var (
	configPath  string
	dotEnvFiles []string
)

var rootCmd = &cobra.Command{
	Use:   "postersync",
	Short: "Rebuild poster walls when their sources change",
	Long: "postersync checks every poster in the manifest for a newer version, redraws the changed ones onto " +
		"the cached canvases and publishes the affected image and video variants.",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          syncAction,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "postersync %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "settings file (optional unless set explicitly)")
	rootCmd.PersistentFlags().StringSliceVar(&dotEnvFiles, "env-file", []string{".env"}, "dotenv files loaded before reading the environment")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(doctorCmd)
}

// Execute runs the root command. Cancelling ctx stops in-flight fetches and
// ffmpeg runs; nothing is committed.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
