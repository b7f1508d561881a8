// Package discord mirrors Spotify playback into Discord Rich Presence.
package discord

import (
	"context"
	"time"

	"github.com/jfmyers9/earshot/internal/daemon"
	"github.com/jfmyers9/earshot/internal/music"
	"github.com/rs/zerolog"
)

const activityListening = 2

type rpcClient interface {
	SetActivity(Activity) error
	Close() error
}

// Presence manages Discord Rich Presence updates.
type Presence struct {
	appID   string
	logger  zerolog.Logger
	client  rpcClient
	connect func(string) (rpcClient, error)
	now     func() time.Time
	last    lastActivity
}

type lastActivity struct {
	title, artist, album string
	playing              bool
}

func New(appID string, logger zerolog.Logger) *Presence {
	return &Presence{
		appID:  appID,
		logger: logger.With().Str("component", "discord").Logger(),
		connect: func(appID string) (rpcClient, error) {
			return ipcConnect(appID)
		},
		now: time.Now,
	}
}

// Run consumes engine events until the channel closes or ctx is done.
// Connects lazily on the first playing track. If Discord isn't running,
// logs the error and retries on the next event.
func (p *Presence) Run(ctx context.Context, events <-chan daemon.Event) {
	for {
		select {
		case <-ctx.Done():
			p.close()
			return
		case ev, ok := <-events:
			if !ok {
				p.clearActivity()
				p.close()
				return
			}
			p.handleEvent(ev)
		}
	}
}

// handleEvent follows playback, not overlay visibility: an inactivity hide
// keeps the activity.
func (p *Presence) handleEvent(ev daemon.Event) {
	if ev.Snapshot == nil {
		p.stopped()
		return
	}
	if !ev.Visible {
		return
	}
	p.handleSnapshot(ev.Snapshot)
}

func (p *Presence) handleSnapshot(snap *music.Snapshot) {
	if !snap.IsPlaying {
		p.stopped()
		return
	}

	cur := lastActivity{
		title: snap.Title, artist: snap.Artist,
		album: snap.Album, playing: true,
	}
	if cur == p.last {
		return
	}

	if err := p.ensureConnected(); err != nil {
		p.logger.Warn().Err(err).Msg("Discord not available")
		return
	}

	if err := p.client.SetActivity(activityFor(snap, p.now())); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to set activity")
		p.close()
		return
	}
	p.last = cur
}

// activityFor builds a listening activity whose timestamps place the
// current position on Discord's progress bar
func activityFor(snap *music.Snapshot, now time.Time) Activity {
	start := now.Add(-snap.Progress())
	end := start.Add(snap.Duration())
	startUnix := start.Unix()
	endUnix := end.Unix()

	return Activity{
		Type:    activityListening,
		Name:    "Spotify",
		Details: snap.Title,
		State:   "by " + snap.Artist,
		Timestamps: &Timestamps{
			Start: &startUnix,
			End:   &endUnix,
		},
		Assets: &Assets{
			LargeImage: snap.ArtworkURL,
			LargeText:  snap.Album,
			SmallImage: "earshot",
			SmallText:  "earshot",
		},
	}
}

func (p *Presence) stopped() {
	if p.last.playing {
		p.clearActivity()
		p.last = lastActivity{}
	}
}

func (p *Presence) ensureConnected() error {
	if p.client != nil {
		return nil
	}
	client, err := p.connect(p.appID)
	if err != nil {
		return err
	}
	p.logger.Info().Msg("Connected to Discord")
	p.client = client
	return nil
}

func (p *Presence) clearActivity() {
	if p.client == nil {
		return
	}
	if err := p.client.SetActivity(Activity{}); err != nil {
		p.logger.Debug().Err(err).Msg("Failed to clear activity")
		p.close()
	}
}

func (p *Presence) close() {
	if p.client == nil {
		return
	}
	_ = p.client.Close()
	p.client = nil
}
