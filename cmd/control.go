package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jfmyers9/earshot/internal/music"
	"github.com/spf13/cobra"
)

const controlTimeout = 15 * time.Second

// playpauseCmd represents the playpause command
var playpauseCmd = &cobra.Command{
	Use:   "playpause",
	Short: "Toggle play/pause in Spotify",
	Long:  `Toggle between play and pause states in Spotify. If playing, pauses. If paused, resumes.`,
	RunE:  runPlayPause,
}

// nextCmd represents the next command
var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Skip to next track in Spotify",
	Long:  `Skip to the next track on the active Spotify device.`,
	RunE:  runNext,
}

// prevCmd represents the prev command
var prevCmd = &cobra.Command{
	Use:   "prev",
	Short: "Go to previous track in Spotify",
	Long:  `Go to the previous track on the active Spotify device.`,
	RunE:  runPrev,
}

func init() {
	rootCmd.AddCommand(playpauseCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(prevCmd)
}

func runPlayPause(cmd *cobra.Command, args []string) error {
	return runControl("playpause", music.Client.TogglePlayPause)
}

func runNext(cmd *cobra.Command, args []string) error {
	return runControl("skip to next track", music.Client.Next)
}

func runPrev(cmd *cobra.Command, args []string) error {
	return runControl("go to previous track", music.Client.Previous)
}

// runControl restores the stored session and sends one playback command
func runControl(what string, fn func(music.Client, context.Context) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	logger := setupLogger("", levelOr("warn"))
	_, client, err := connect(ctx, cfg, logger, false)
	if err != nil {
		return err
	}

	if err := fn(client, ctx); err != nil {
		if errors.Is(err, music.ErrNoActiveDevice) {
			return fmt.Errorf("failed to %s: open Spotify on one of your devices first: %w", what, err)
		}
		return fmt.Errorf("failed to %s: %w", what, err)
	}

	return nil
}
