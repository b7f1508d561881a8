package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// logLevel applies to every command; the daemon defaults to info when unset
var logLevel string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "earshot",
	Short: "Spotify now-playing overlay and controls",
	Long: `earshot keeps a Spotify session alive and watches what is playing.

It runs as a background daemon that polls the Spotify player API, shows
the current track whenever something changes and hides it again after a
few seconds without changes.

It also provides CLI commands to query the currently playing track,
useful for displaying in tmux status lines or other status bars, and to
control playback.`,
	Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
}
