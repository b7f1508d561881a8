package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/jfmyers9/earshot/internal/config"
	"github.com/jfmyers9/earshot/internal/daemon"
	"github.com/jfmyers9/earshot/internal/music"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
)

const (
	nowTimeout = 10 * time.Second

	// A running daemon rewrites its state file at least once per second
	stateMaxAge = 3 * time.Second
)

// nowCmd represents the now command
var nowCmd = &cobra.Command{
	Use:   "now",
	Short: "Display currently playing track from Spotify",
	Long: `Display the currently playing Spotify track.

When the daemon is running its published state is used, so the command
returns instantly and makes no API call. Otherwise the stored session is
restored and the currently-playing endpoint is queried once. Use --live to
always query the API.

The output format can be customized in ~/.config/earshot/config.yaml
using a Go template. Available fields: .Title, .Artist, .Album,
.ArtworkURL, .IsPlaying, .Progress, .Duration, .TrackID

Exit codes:
  0 - Track is currently playing
  1 - No track playing, paused, or Spotify not running`,
	RunE: runNow,
}

func init() {
	rootCmd.AddCommand(nowCmd)

	// Add format flag to override config
	nowCmd.Flags().StringP("format", "f", "", "Output format template (overrides config)")
	// Add width flag to set fixed output width
	nowCmd.Flags().IntP("width", "w", 0, "Fixed output width (0=disabled, overrides config)")
	// Add marquee flag to enable scrolling
	nowCmd.Flags().Bool("marquee", false, "Enable marquee scrolling for long text (overrides config)")
	nowCmd.Flags().Bool("live", false, "Query the API even when the daemon is running")
}

func runNow(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), nowTimeout)
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Check for format flag override
	formatFlag, _ := cmd.Flags().GetString("format")
	if formatFlag != "" {
		cfg.OutputFormat = formatFlag
	}

	live, _ := cmd.Flags().GetBool("live")
	snap, err := currentSnapshot(ctx, cfg, live)
	if err != nil {
		if music.IsNothingToShow(err) {
			os.Exit(1)
			return nil
		}
		return fmt.Errorf("failed to get current track: %w", err)
	}

	// If not playing, exit with code 1
	if snap == nil || !snap.IsPlaying {
		os.Exit(1)
		return nil
	}

	// Format and print output
	output, err := formatSnapshot(snap, cfg.OutputFormat)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}

	// Apply width padding/marquee if requested
	width, _ := cmd.Flags().GetInt("width")
	if width == 0 {
		width = cfg.OutputWidth
	}

	marquee, _ := cmd.Flags().GetBool("marquee")
	if !marquee && !cmd.Flags().Changed("marquee") {
		// Flag not set, use config default
		marquee = cfg.MarqueeEnabled
	}

	if width > 0 {
		if marquee {
			output = marqueeText(output, width, cfg.MarqueeSpeed, cfg.MarqueeSeparator)
		} else {
			output = padToWidth(output, width)
		}
	}

	fmt.Println(output)
	return nil
}

// currentSnapshot prefers the daemon's published state and falls back to a
// single API call. A nil snapshot with a nil error means nothing is playing.
func currentSnapshot(ctx context.Context, cfg *config.Config, live bool) (*music.Snapshot, error) {
	logger := setupLogger("", levelOr("warn"))

	if !live {
		snap, err := daemon.ReadStateFile(cfg.StateFile(), stateMaxAge)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, daemon.ErrStaleState) {
			logger.Debug().Err(err).Msg("Ignoring daemon state")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	_, client, err := connect(ctx, cfg, logger, false)
	if err != nil {
		return nil, err
	}
	return client.CurrentlyPlaying(ctx)
}

// nowView is what output templates see
type nowView struct {
	*music.Snapshot
	Progress string
	Duration string
}

// formatSnapshot applies the template to the snapshot. Progress and
// Duration are rendered as mm:ss.
func formatSnapshot(snap *music.Snapshot, templateStr string) (string, error) {
	tmpl, err := template.New("output").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("invalid template: %w", err)
	}

	view := nowView{
		Snapshot: snap,
		Progress: formatClock(snap.Progress()),
		Duration: formatClock(snap.Duration()),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("template execution failed: %w", err)
	}

	return buf.String(), nil
}

// formatClock formats a duration as mm:ss, or h:mm:ss past an hour
func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// padToWidth pads or truncates text to exactly width display columns.
// Truncated text ends in "...". A width <= 0 leaves text unchanged.
func padToWidth(text string, width int) string {
	if width <= 0 {
		return text
	}

	const ellipsis = "..."
	if runewidth.StringWidth(text) > width {
		if width <= len(ellipsis) {
			return ellipsis[:width]
		}
		text = runewidth.Truncate(text, width-len(ellipsis), "") + ellipsis
	}

	// Wide runes can leave truncation one column short
	return runewidth.FillRight(text, width)
}

// marqueeText scrolls text that exceeds width, advancing speed columns
// per second of wall-clock time. Text that fits is padded instead. Each
// call is stateless, so a status bar that re-runs the command every few
// seconds sees a step animation.
func marqueeText(text string, width int, speed int, separator string) string {
	return marqueeAt(text, width, speed, separator, time.Now().Unix())
}

// marqueeAt renders the marquee window for the given unix second
func marqueeAt(text string, width int, speed int, separator string, unix int64) string {
	if width <= 0 {
		return text
	}
	if runewidth.StringWidth(text) <= width {
		return padToWidth(text, width)
	}

	// "text{separator}text" loops without a visible seam
	loop := []rune(text + separator + text)
	total := len(loop)
	position := int(unix*int64(speed)) % total
	if position < 0 {
		position += total
	}

	var sb strings.Builder
	used := 0
	for i := 0; i < total; i++ {
		r := loop[(position+i)%total]
		rw := runewidth.RuneWidth(r)
		if used+rw > width {
			break
		}
		sb.WriteRune(r)
		used += rw
	}

	if used < width {
		sb.WriteString(strings.Repeat(" ", width-used))
	}
	return sb.String()
}
