package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jfmyers9/earshot/internal/history"
	"github.com/jfmyers9/earshot/internal/music"
	"github.com/rs/zerolog"
)

const (
	defaultHideAfter = 5 * time.Second
	subscriberBuffer = 16
	historyTimeout   = 2 * time.Second
)

// Config holds daemon configuration
type Config struct {
	PollInterval     time.Duration // How often the playback API is polled
	HideAfter        time.Duration // Inactivity before the presentation hides
	StateFile        string        // Where the last snapshot is published ("" disables)
	HistoryDB        string        // Play log database ("" disables)
	HistoryRetention time.Duration // Plays older than this are pruned on shutdown
}

// Event is delivered to subscribers whenever the presentation should change
type Event struct {
	Snapshot *music.Snapshot // nil when there is nothing to show
	Volume   int
	Visible  bool
}

// Daemon is the polling engine. It owns the poller, the diff state and the
// inactivity timer, and fans change events out to the presentation layer.
type Daemon struct {
	config  Config
	client  music.Client
	state   *State
	poller  *Poller
	history *history.Log
	logger  zerolog.Logger

	interacting atomic.Bool
	interactCh  chan struct{}

	mu          sync.Mutex
	subscribers []chan Event
	callbacks   []func(Event)
	stopped     bool
}

// New creates a new Daemon instance. volume may be nil, in which case the
// volume is always unknown.
func New(cfg Config, client music.Client, volume music.VolumeReader, logger zerolog.Logger) (*Daemon, error) {
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", cfg.PollInterval)
	}
	if cfg.HideAfter <= 0 {
		cfg.HideAfter = defaultHideAfter
	}

	var plays *history.Log
	if cfg.HistoryDB != "" {
		var err error
		plays, err = history.Open(cfg.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
	}

	return &Daemon{
		config:     cfg,
		client:     client,
		state:      NewState(cfg.StateFile),
		poller:     NewPoller(client, volume, cfg.PollInterval, logger),
		history:    plays,
		logger:     logger.With().Str("component", "daemon").Logger(),
		interactCh: make(chan struct{}, 1),
	}, nil
}

// Subscribe returns a channel of change events. The channel is closed when
// the daemon stops. Events are dropped for subscribers that fall behind.
func (d *Daemon) Subscribe() <-chan Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if d.stopped {
		close(ch)
		return ch
	}
	d.subscribers = append(d.subscribers, ch)
	return ch
}

// OnPlaybackChanged registers a callback for change events. Callbacks run
// on the daemon goroutine and must not block.
func (d *Daemon) OnPlaybackChanged(fn func(Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = append(d.callbacks, fn)
}

// SetUserInteracting is asserted by the presentation layer while the user
// is interacting with it (a settings surface is open). A pending hide is
// suppressed while it is set; clearing it restarts the inactivity countdown.
func (d *Daemon) SetUserInteracting(interacting bool) {
	d.interacting.Store(interacting)
	select {
	case d.interactCh <- struct{}{}:
	default:
	}
}

// CurrentSnapshot returns the last observed snapshot, or nil when nothing
// is playing
func (d *Daemon) CurrentSnapshot() *music.Snapshot {
	return d.state.Snapshot()
}

// Volume returns the volume observed with the current snapshot
func (d *Daemon) Volume() int {
	return d.state.Volume()
}

// TogglePlayPause toggles playback and re-polls immediately
func (d *Daemon) TogglePlayPause(ctx context.Context) error {
	return d.command(ctx, "toggle", d.client.TogglePlayPause)
}

// Next skips to the next track and re-polls immediately
func (d *Daemon) Next(ctx context.Context) error {
	return d.command(ctx, "next", d.client.Next)
}

// Previous goes back a track and re-polls immediately
func (d *Daemon) Previous(ctx context.Context) error {
	return d.command(ctx, "previous", d.client.Previous)
}

func (d *Daemon) command(ctx context.Context, name string, fn func(context.Context) error) error {
	err := fn(ctx)
	d.poller.Trigger()
	if err != nil {
		d.logger.Warn().Err(err).Str("command", name).Msg("Playback command failed")
		return err
	}
	d.logger.Debug().Str("command", name).Msg("Playback command sent")
	return nil
}

// Run starts the daemon and blocks until shutdown signal received
func (d *Daemon) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Handle first signal gracefully, second signal forces exit
	go func() {
		select {
		case <-sigChan:
		case <-ctx.Done():
			return
		}
		d.logger.Info().Msg("Shutdown signal received, initiating graceful shutdown")
		cancel()

		<-sigChan
		d.logger.Warn().Msg("Second shutdown signal received, forcing exit")
		os.Exit(1)
	}()

	return d.RunContext(ctx)
}

// RunContext runs the polling engine until ctx is cancelled
func (d *Daemon) RunContext(ctx context.Context) error {
	d.logger.Info().
		Dur("poll_interval", d.config.PollInterval).
		Dur("hide_after", d.config.HideAfter).
		Msg("Starting daemon")

	var wg sync.WaitGroup
	updates := make(chan Update, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.poller.Run(ctx, updates); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error().Err(err).Msg("Poller error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.handleUpdates(ctx, updates)
	}()

	wg.Wait()
	d.closeSubscribers()

	d.logger.Info().Msg("Daemon stopped")
	return nil
}

// handleUpdates owns the inactivity timer and applies every poll result to
// the diff state
func (d *Daemon) handleUpdates(ctx context.Context, updates <-chan Update) {
	hide := time.NewTimer(d.config.HideAfter)
	hide.Stop()
	defer hide.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case update := <-updates:
			d.handleUpdate(ctx, update, hide)
		case <-hide.C:
			d.handleHideTimeout()
		case <-d.interactCh:
			if !d.interacting.Load() && d.state.Visible() {
				hide.Reset(d.config.HideAfter)
			}
		}
	}
}

func (d *Daemon) handleUpdate(ctx context.Context, update Update, hide *time.Timer) {
	changed := false

	switch {
	case update.Err == nil && update.Snapshot != nil:
		obs := d.state.Observe(update.Snapshot, update.Volume, update.At)
		if obs.TrackChanged {
			d.logger.Info().
				Str("track", update.Snapshot.Title).
				Str("artist", update.Snapshot.Artist).
				Msg("Track changed")
			d.recordPlay(ctx, update.Snapshot, update.At)
		}
		if obs.Changed {
			changed = true
			d.state.SetVisible(true)
			hide.Reset(d.config.HideAfter)
			d.emit(Event{Snapshot: update.Snapshot, Volume: update.Volume, Visible: true})
		}

	case music.IsNothingToShow(update.Err):
		if d.state.Snapshot() != nil || d.state.Visible() {
			changed = true
		}
		if d.state.Clear(update.At) {
			hide.Stop()
			d.logger.Debug().Err(update.Err).Msg("Nothing to show, hiding")
			d.emit(Event{Volume: music.UnknownVolume, Visible: false})
		}

	default:
		// Transient: keep the previous snapshot, the next poll retries
		d.state.Touch(update.At)
	}

	if err := d.state.Persist(changed); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to persist state")
	}
}

func (d *Daemon) handleHideTimeout() {
	if d.interacting.Load() {
		d.logger.Debug().Msg("Hide suppressed while user is interacting")
		return
	}
	if !d.state.SetVisible(false) {
		return
	}

	d.logger.Debug().Msg("Inactivity timeout, hiding")
	d.emit(Event{Snapshot: d.state.Snapshot(), Volume: d.state.Volume(), Visible: false})

	if err := d.state.Persist(true); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to persist state")
	}
}

func (d *Daemon) recordPlay(ctx context.Context, snap *music.Snapshot, at time.Time) {
	if d.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()
	if _, err := d.history.Add(ctx, history.PlayFromSnapshot(snap, at)); err != nil {
		d.logger.Warn().Err(err).Str("track", snap.Title).Msg("Failed to record play")
	}
}

func (d *Daemon) emit(ev Event) {
	d.mu.Lock()
	subscribers := d.subscribers
	callbacks := d.callbacks
	d.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- ev:
		default:
			d.logger.Warn().Bool("visible", ev.Visible).Msg("Subscriber is behind, dropping event")
		}
	}
	for _, fn := range callbacks {
		fn(ev)
	}
}

func (d *Daemon) closeSubscribers() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	for _, ch := range d.subscribers {
		close(ch)
	}
	d.subscribers = nil
}

// History returns the play log, or nil when it is disabled
func (d *Daemon) History() *history.Log {
	return d.history
}

// Shutdown prunes and closes the play log
func (d *Daemon) Shutdown() error {
	d.logger.Info().Msg("Shutting down daemon")

	if d.history == nil {
		return nil
	}

	if d.config.HistoryRetention > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()
		if deleted, err := d.history.Cleanup(ctx, d.config.HistoryRetention); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to cleanup history")
		} else if deleted > 0 {
			d.logger.Debug().Int64("deleted", deleted).Msg("Pruned old plays")
		}
	}

	if err := d.history.Close(); err != nil {
		return fmt.Errorf("failed to close history: %w", err)
	}
	return nil
}
