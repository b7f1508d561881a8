package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jfmyers9/earshot/internal/config"
	"github.com/jfmyers9/earshot/internal/daemon"
	"github.com/jfmyers9/earshot/internal/discord"
	"github.com/jfmyers9/earshot/internal/music"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	daemonLogFile string
	daemonDataDir string
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the now-playing daemon",
	Long: `Run the daemon that watches Spotify playback.

The daemon will:
- Restore the stored Spotify session, or open the browser to authorize
- Poll the currently-playing endpoint every poll_interval
- Show the track whenever the title, play state or volume changes
- Hide it again after hide_after without changes
- Record every new track in the local play history
- Publish the last snapshot to state.json for 'earshot now'
- Mirror playback into Discord Rich Presence when discord.enabled is set
- Handle graceful shutdown on SIGINT/SIGTERM

The daemon runs in the foreground and logs to stderr by default.
Use the --log-file flag to log to a file (useful for launchd or systemd).`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	// Command-line flags
	daemonCmd.Flags().StringVar(&daemonLogFile, "log-file", "", "Log file path (default: stderr)")
	daemonCmd.Flags().StringVar(&daemonDataDir, "data-dir", "", "Data directory for state and history (default: ~/.local/share/earshot)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(daemonLogFile, levelOr("info"))

	logger.Info().
		Str("version", version).
		Msg("Starting earshot daemon")

	d, err := newEngine(cfg, logger, logger)
	if err != nil {
		return err
	}

	d.OnPlaybackChanged(func(ev daemon.Event) {
		if ev.Visible {
			logger.Info().
				Str("track", ev.Snapshot.Title).
				Str("artist", ev.Snapshot.Artist).
				Bool("playing", ev.Snapshot.IsPlaying).
				Int("volume", ev.Volume).
				Msg("Show")
			return
		}
		logger.Info().Msg("Hide")
	})

	// Rich Presence follows the engine until it closes the subscription
	presenceDone := make(chan struct{})
	if cfg.Discord.Enabled {
		presence := discord.New(cfg.Discord.AppID, logger)
		events := d.Subscribe()
		go func() {
			defer close(presenceDone)
			presence.Run(context.Background(), events)
		}()
	} else {
		close(presenceDone)
	}

	// Run daemon (blocks until shutdown signal)
	if err := d.Run(); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}
	<-presenceDone

	// Graceful shutdown
	if err := d.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
		return err
	}

	logger.Info().Msg("Daemon stopped")
	return nil
}

// newEngine restores the session and builds the polling engine. The
// interactive authorization can be interrupted with SIGINT. Session and
// authorization messages go to authLogger, everything else to logger.
func newEngine(cfg *config.Config, authLogger, logger zerolog.Logger) (*daemon.Daemon, error) {
	if daemonDataDir != "" {
		cfg.DataDir = daemonDataDir
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	logger.Info().Str("data_dir", cfg.DataDir).Msg("Using data directory")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, client, err := connect(ctx, cfg, authLogger, true)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	logger.Info().
		Str("session", session.State().String()).
		Bool("persist_refreshed", cfg.Auth.PersistRefreshed).
		Msg("Session ready")

	d, err := daemon.New(daemon.Config{
		PollInterval:     cfg.PollInterval,
		HideAfter:        cfg.HideAfter,
		StateFile:        cfg.StateFile(),
		HistoryDB:        cfg.HistoryDB(),
		HistoryRetention: cfg.HistoryRetention,
	}, client, music.NewVolumeReader(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon: %w", err)
	}
	return d, nil
}

// levelOr returns the --log-level flag, or def when it is unset
func levelOr(def string) string {
	if logLevel != "" {
		return logLevel
	}
	return def
}

// setupLogger creates a logger with the specified configuration
func setupLogger(logFile, logLevel string) zerolog.Logger {
	// Parse log level
	level := zerolog.InfoLevel
	switch logLevel {
	case "trace":
		level = zerolog.TraceLevel
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	case "disabled":
		level = zerolog.Disabled
	}

	// Set up output
	var output *os.File
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			output = os.Stderr
		} else {
			output = f
		}
	} else {
		output = os.Stderr
	}

	// Create logger
	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	// Use pretty console output if logging to stderr
	if output == os.Stderr {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	return logger
}
