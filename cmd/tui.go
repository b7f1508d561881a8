package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/jfmyers9/earshot/internal/tui"
	"github.com/spf13/cobra"
)

var tuiLogFile string

// tuiCmd represents the tui command
var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Display a terminal overlay for now playing",
	Long: `Run the polling engine in the foreground with a terminal overlay.

The overlay appears whenever the track, play state or volume changes and
hides again after hide_after without changes. Progress is redrawn from
every poll while it is visible.

Keys:
  space  play/pause
  n      next track
  p      previous track
  s      pin the overlay open (unpin to let it hide again)
  q      quit

Logs go to a file because the terminal is taken by the overlay
(default: <data_dir>/logs/tui.log).`,
	RunE: runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)

	tuiCmd.Flags().StringVar(&tuiLogFile, "log-file", "", "Log file path (default: <data_dir>/logs/tui.log)")
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logFile := tuiLogFile
	if logFile == "" {
		logFile = filepath.Join(cfg.DataDir, "logs", "tui.log")
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	// Authorization may need the console before the overlay takes over
	console := setupLogger("", levelOr("info"))
	logger := setupLogger(logFile, levelOr("info"))

	d, err := newEngine(cfg, console, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)

	var plays tui.PlaySource
	if h := d.History(); h != nil {
		plays = h
	}
	app := tui.New(tui.DefaultConfig(), d, plays, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.RunContext(ctx); err != nil {
			logger.Error().Err(err).Msg("Daemon error")
		}
	}()

	runErr := app.Run(ctx)

	// Stop the engine once the overlay is closed
	cancel()
	wg.Wait()

	if err := d.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
	}
	return runErr
}
