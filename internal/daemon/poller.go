package daemon

import (
	"context"
	"time"

	"github.com/jfmyers9/earshot/internal/music"
	"github.com/rs/zerolog"
)

// Update is the result of a single poll
type Update struct {
	Snapshot *music.Snapshot // Current playback (nil when Err is set)
	Volume   int             // Host output volume, music.UnknownVolume if unreadable
	Err      error           // Error from the playback client
	At       time.Time
}

// Poller polls the playback client at regular intervals. Polls run on the
// poller goroutine, so at most one is in flight; ticks that fire during a
// slow poll are dropped.
type Poller struct {
	client   music.Client
	volume   music.VolumeReader
	interval time.Duration
	trigger  chan struct{}
	logger   zerolog.Logger
}

// NewPoller creates a new Poller instance. volume may be nil.
func NewPoller(client music.Client, volume music.VolumeReader, interval time.Duration, logger zerolog.Logger) *Poller {
	return &Poller{
		client:   client,
		volume:   volume,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		logger:   logger.With().Str("component", "poller").Logger(),
	}
}

// Trigger asks for a poll as soon as the current one (if any) finishes.
// Multiple triggers before the next poll collapse into one.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run starts the polling loop and sends updates to the provided channel
// Blocks until context is cancelled
func (p *Poller) Run(ctx context.Context, updates chan<- Update) error {
	p.logger.Info().
		Dur("interval", p.interval).
		Msg("Starting poller")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Poll immediately on start
	p.poll(ctx, updates)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx, updates)
		case <-p.trigger:
			p.poll(ctx, updates)
			ticker.Reset(p.interval)
		}
	}
}

// poll queries the playback client and sends an update
func (p *Poller) poll(ctx context.Context, updates chan<- Update) {
	update := Update{Volume: music.UnknownVolume, At: time.Now()}

	snap, err := p.client.CurrentlyPlaying(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Debug().Err(err).Msg("Error getting playback state")
		update.Err = err
	} else {
		update.Snapshot = snap
		update.Volume = music.ReadVolume(ctx, p.volume)
	}

	select {
	case updates <- update:
		if snap != nil {
			p.logger.Trace().
				Str("track", snap.Title).
				Str("artist", snap.Artist).
				Bool("playing", snap.IsPlaying).
				Int("volume", update.Volume).
				Msg("Poll update")
		}
	case <-ctx.Done():
	}
}
