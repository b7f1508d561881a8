// Package tui renders the now-playing overlay in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/jfmyers9/earshot/internal/daemon"
	"github.com/jfmyers9/earshot/internal/history"
	"github.com/jfmyers9/earshot/internal/music"
	"github.com/rivo/tview"
	"github.com/rs/zerolog"
)

const (
	maxRecentPlays = 5
	commandTimeout = 5 * time.Second

	pageOverlay = "overlay"
	pageIdle    = "idle"
)

// Config holds TUI configuration options
type Config struct {
	RefreshRate time.Duration // How often progress is redrawn
}

// DefaultConfig returns the default TUI configuration
func DefaultConfig() Config {
	return Config{
		RefreshRate: 500 * time.Millisecond,
	}
}

// Engine is the part of the polling engine the overlay drives
type Engine interface {
	Subscribe() <-chan daemon.Event
	CurrentSnapshot() *music.Snapshot
	Volume() int
	SetUserInteracting(interacting bool)
	TogglePlayPause(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
}

// PlaySource lists recent plays, usually a *history.Log
type PlaySource interface {
	Recent(ctx context.Context, limit int) ([]history.Play, error)
}

// App is the terminal overlay. It shows the panel on visible events, hides
// it on hide events and forwards playback keys to the engine.
type App struct {
	app        *tview.Application
	pages      *tview.Pages
	nowPlaying *tview.TextView
	progress   *tview.TextView
	recent     *tview.TextView
	status     *tview.TextView
	idle       *tview.TextView

	config Config
	engine Engine
	events <-chan daemon.Event
	plays  PlaySource
	logger zerolog.Logger

	// mu guards the fields below, written by the event goroutine and key
	// handlers and read by the redraw ticker
	mu          sync.Mutex
	visible     bool
	snapshot    *music.Snapshot
	volume      int
	pinned      bool
	message     string
	recentPlays []history.Play

	// Last-rendered content for change detection
	lastNowPlaying string
	lastProgress   string
	lastRecent     string
	lastStatus     string
	lastPage       string

	// Cached progress bar width to stabilize change detection.
	// Updated only when GetInnerRect returns a positive value.
	lastBarWidth int

	cancelFunc context.CancelFunc
}

// New creates the overlay and subscribes to the engine, so no event is
// missed between New and Run. plays may be nil.
func New(cfg Config, engine Engine, plays PlaySource, logger zerolog.Logger) *App {
	if cfg.RefreshRate <= 0 {
		cfg.RefreshRate = DefaultConfig().RefreshRate
	}
	a := &App{
		app:    tview.NewApplication(),
		config: cfg,
		engine: engine,
		events: engine.Subscribe(),
		plays:  plays,
		logger: logger.With().Str("component", "tui").Logger(),
		volume: music.UnknownVolume,
	}
	a.setupUI()
	return a
}

// setupUI creates the UI layout
func (a *App) setupUI() {
	a.nowPlaying = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	a.nowPlaying.SetBorder(true).
		SetTitle(" Now Playing ").
		SetTitleAlign(tview.AlignLeft)

	a.progress = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	a.progress.SetBorder(true)

	a.recent = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	a.recent.SetBorder(true).
		SetTitle(" Recent ").
		SetTitleAlign(tview.AlignLeft)

	a.status = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)

	a.idle = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("\n\n[gray]Nothing to show[-]")

	overlay := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.nowPlaying, 0, 3, false).
		AddItem(a.progress, 3, 1, false).
		AddItem(a.recent, maxRecentPlays+2, 1, false)

	a.pages = tview.NewPages().
		AddPage(pageIdle, a.idle, true, true).
		AddPage(pageOverlay, overlay, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, false).
		AddItem(a.status, 1, 1, false)

	a.app.SetInputCapture(a.handleKeyEvent)
	a.app.SetRoot(root, true)
}

// handleKeyEvent processes keyboard input
func (a *App) handleKeyEvent(event *tcell.EventKey) *tcell.EventKey {
	switch event.Rune() {
	case 'q', 'Q':
		a.Stop()
		return nil
	case ' ':
		a.runCommand("play/pause", a.engine.TogglePlayPause)
		return nil
	case 'n', 'N':
		a.runCommand("next", a.engine.Next)
		return nil
	case 'p', 'P':
		a.runCommand("previous", a.engine.Previous)
		return nil
	case 's', 'S':
		a.togglePin()
		return nil
	}
	return event
}

// runCommand sends a playback command off the UI goroutine
func (a *App) runCommand(name string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		err := fn(ctx)
		a.mu.Lock()
		if err != nil {
			a.logger.Debug().Err(err).Str("command", name).Msg("Command failed")
			a.message = fmt.Sprintf("%s failed: %v", name, err)
		} else {
			a.message = ""
		}
		a.mu.Unlock()
	}()
}

// togglePin keeps the overlay open while set, the terminal counterpart of
// an open settings surface
func (a *App) togglePin() {
	a.mu.Lock()
	a.pinned = !a.pinned
	pinned := a.pinned
	a.mu.Unlock()

	a.engine.SetUserInteracting(pinned)
}

// Run starts the overlay and blocks until it is closed or ctx is cancelled
func (a *App) Run(ctx context.Context) error {
	ctx, a.cancelFunc = context.WithCancel(ctx)
	defer a.cancelFunc()

	a.loadRecent(ctx)

	go a.handleEvents(ctx, a.events)
	go a.redrawLoop(ctx)

	if err := a.app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// handleEvents applies engine events to the overlay state
func (a *App) handleEvents(ctx context.Context, events <-chan daemon.Event) {
	for {
		select {
		case <-ctx.Done():
			a.app.Stop()
			return
		case ev, ok := <-events:
			if !ok {
				a.Stop()
				return
			}
			if a.applyEvent(ev) {
				a.loadRecent(ctx)
			}
			a.refresh()
		}
	}
}

// applyEvent records an event and reports whether the track changed
func (a *App) applyEvent(ev daemon.Event) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	trackChanged := ev.Snapshot != nil &&
		(a.snapshot == nil || a.snapshot.Title != ev.Snapshot.Title)

	a.visible = ev.Visible
	a.volume = ev.Volume
	a.snapshot = ev.Snapshot
	return trackChanged
}

// loadRecent reloads the recent plays panel from the play log
func (a *App) loadRecent(ctx context.Context) {
	if a.plays == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	plays, err := a.plays.Recent(ctx, maxRecentPlays)
	if err != nil {
		a.logger.Debug().Err(err).Msg("Failed to load recent plays")
		return
	}

	a.mu.Lock()
	a.recentPlays = plays
	a.mu.Unlock()
}

// redrawLoop is the only periodic source of redraws. Progress is read
// from the engine's latest snapshot, which moves on every poll.
func (a *App) redrawLoop(ctx context.Context) {
	ticker := time.NewTicker(a.config.RefreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			if a.visible {
				if snap := a.engine.CurrentSnapshot(); snap != nil {
					a.snapshot = snap
				}
			}
			a.mu.Unlock()
			a.refresh()
		}
	}
}

// refresh updates all UI components
func (a *App) refresh() {
	a.app.QueueUpdateDraw(func() {
		a.mu.Lock()
		defer a.mu.Unlock()

		page := pageIdle
		if a.visible && a.snapshot != nil {
			page = pageOverlay
		}
		if page != a.lastPage {
			a.lastPage = page
			a.pages.SwitchToPage(page)
		}

		a.setText(a.nowPlaying, &a.lastNowPlaying, renderNowPlaying(a.snapshot, a.volume))
		a.setText(a.progress, &a.lastProgress, a.renderProgress())
		a.setText(a.recent, &a.lastRecent, renderRecent(a.recentPlays))
		a.setText(a.status, &a.lastStatus, renderStatus(a.pinned, a.message))
	})
}

func (a *App) setText(view *tview.TextView, last *string, text string) {
	if text != *last {
		*last = text
		view.SetText(text)
	}
}

// renderProgress builds the progress line. Must be called with a.mu held.
func (a *App) renderProgress() string {
	if a.snapshot == nil {
		return ""
	}

	_, _, width, _ := a.progress.GetInnerRect()
	barWidth := width - 14 // Account for time display
	if barWidth > 0 {
		a.lastBarWidth = barWidth
	}
	if a.lastBarWidth < 10 {
		a.lastBarWidth = 10
	}

	return fmt.Sprintf("%s %s %s",
		formatDuration(a.snapshot.Progress()),
		buildProgressBar(a.snapshot.Progress(), a.snapshot.Duration(), a.lastBarWidth),
		formatDuration(a.snapshot.Duration()))
}

// Stop stops the TUI application
func (a *App) Stop() {
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	a.app.Stop()
}

// renderNowPlaying builds the now playing panel text
func renderNowPlaying(snap *music.Snapshot, volume int) string {
	if snap == nil {
		return "\n\n[gray]No track playing[-]"
	}

	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("[white::b]%s[-:-:-]\n", tview.Escape(snap.Title)))
	sb.WriteString(fmt.Sprintf("[yellow]%s[-]\n", tview.Escape(snap.Artist)))
	sb.WriteString(fmt.Sprintf("[gray]%s[-]", tview.Escape(snap.Album)))

	stateIcon := "[green]▶[-]" // Play triangle
	if !snap.IsPlaying {
		stateIcon = "[yellow]⏸[-]" // Pause icon
	}
	sb.WriteString(fmt.Sprintf("\n\n%s  %s", stateIcon, formatVolume(volume)))
	return sb.String()
}

// formatVolume renders the host volume, or a dash when it is unknown
func formatVolume(volume int) string {
	if volume == music.UnknownVolume {
		return "[gray]vol -[-]"
	}
	return fmt.Sprintf("[gray]vol %d%%[-]", volume)
}

// renderRecent builds the recent plays panel text
func renderRecent(plays []history.Play) string {
	if len(plays) == 0 {
		return "[gray]No recent tracks[-]"
	}

	var sb strings.Builder
	for i, p := range plays {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("[gray]%s[-] [white]%s[-] [yellow]%s[-]",
			p.StartedAt.Local().Format("15:04"),
			tview.Escape(truncate(p.Title, 32)),
			tview.Escape(truncate(p.Artist, 24))))
	}
	return sb.String()
}

// renderStatus builds the key help line, or the last command error
func renderStatus(pinned bool, message string) string {
	if message != "" {
		return fmt.Sprintf("[red]%s[-]", tview.Escape(message))
	}
	help := "[gray]q:quit  space:play/pause  n:next  p:prev  s:pin[-]"
	if pinned {
		help = "[gray]q:quit  space:play/pause  n:next  p:prev[-]  [green]s:unpin (pinned)[-]"
	}
	return help
}

// truncate shortens s to at most n runes, ending in "..."
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// buildProgressBar creates a text-based progress bar
func buildProgressBar(position, duration time.Duration, width int) string {
	if duration <= 0 || width <= 0 {
		return strings.Repeat("-", max(width, 0))
	}

	progress := float64(position) / float64(duration)
	if progress > 1 {
		progress = 1
	}
	if progress < 0 {
		progress = 0
	}

	filled := int(progress * float64(width))
	empty := width - filled

	return "[green]" + strings.Repeat("█", filled) + "[-]" +
		"[gray]" + strings.Repeat("░", empty) + "[-]"
}

// formatDuration formats a duration as MM:SS or H:MM:SS for longer durations
func formatDuration(d time.Duration) string {
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
