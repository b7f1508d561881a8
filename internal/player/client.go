// Package player talks to the Spotify player API on behalf of a session.
package player

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jfmyers9/earshot/internal/music"
	"github.com/rs/zerolog"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultRequestTimeout  = 10 * time.Second
	defaultCommandInterval = 250 * time.Millisecond
	defaultCommandBurst    = 3
)

// Session supplies the bearer token for every request and repairs it after
// the API rejects it.
type Session interface {
	oauth2.TokenSource
	AccessToken() string
	Refresh(ctx context.Context, stale string) error
}

// Options configure a Client
type Options struct {
	BaseURL         string        // API root, defaults to the public Web API
	RequestTimeout  time.Duration // Per-call timeout (default 10s)
	CommandInterval time.Duration // Minimum spacing between playback commands
	CommandBurst    int           // Commands allowed back to back
}

// Client implements music.Client against the Spotify Web API
type Client struct {
	api      *spotify.Client
	session  Session
	detector music.ProcessDetector
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   zerolog.Logger
}

var _ music.Client = (*Client)(nil)

// New creates a Client. A nil detector skips the local process check.
func New(session Session, detector music.ProcessDetector, opts Options, logger zerolog.Logger) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.CommandInterval <= 0 {
		opts.CommandInterval = defaultCommandInterval
	}
	if opts.CommandBurst <= 0 {
		opts.CommandBurst = defaultCommandBurst
	}

	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Source: session,
			Base:   &statusTransport{base: http.DefaultTransport},
		},
	}

	var apiOpts []spotify.ClientOption
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		apiOpts = append(apiOpts, spotify.WithBaseURL(base))
	}

	return &Client{
		api:      spotify.New(httpClient, apiOpts...),
		session:  session,
		detector: detector,
		limiter:  rate.NewLimiter(rate.Every(opts.CommandInterval), opts.CommandBurst),
		timeout:  opts.RequestTimeout,
		logger:   logger.With().Str("component", "player").Logger(),
	}
}

// CurrentlyPlaying fetches the current playback snapshot. When the desktop
// client is not running no request is made.
func (c *Client) CurrentlyPlaying(ctx context.Context) (*music.Snapshot, error) {
	if !c.clientRunning(ctx) {
		return nil, music.ErrNoActiveDevice
	}

	var current *spotify.CurrentlyPlaying
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		current, err = c.api.PlayerCurrentlyPlaying(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	return snapshotFrom(current)
}

// TogglePlayPause pauses when the current snapshot is playing and resumes
// otherwise. The state may change between the fetch and the command; the
// next poll reconciles it.
func (c *Client) TogglePlayPause(ctx context.Context) error {
	snap, err := c.CurrentlyPlaying(ctx)
	if err != nil {
		return fmt.Errorf("reading playback state: %w", err)
	}

	if snap.IsPlaying {
		c.logger.Debug().Str("track", snap.Title).Msg("Pausing")
		return c.command(ctx, "pause", c.api.Pause)
	}
	c.logger.Debug().Str("track", snap.Title).Msg("Resuming")
	return c.command(ctx, "play", c.api.Play)
}

// Next skips to the next track
func (c *Client) Next(ctx context.Context) error {
	return c.command(ctx, "next", c.api.Next)
}

// Previous goes back to the previous track
func (c *Client) Previous(ctx context.Context) error {
	return c.command(ctx, "previous", c.api.Previous)
}

func (c *Client) command(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := c.call(ctx, fn); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// call runs fn with the request timeout. A rejected token is refreshed and
// the call retried once.
func (c *Client) call(ctx context.Context, fn func(context.Context) error) error {
	stale := c.session.AccessToken()

	err := c.attempt(ctx, fn)
	if !errors.Is(err, music.ErrUnauthorized) {
		return err
	}

	c.logger.Debug().Msg("Access token rejected, refreshing")
	if rerr := c.session.Refresh(ctx, stale); rerr != nil {
		c.logger.Warn().Err(rerr).Msg("Token refresh after 401 failed")
		return err
	}

	return c.attempt(ctx, fn)
}

func (c *Client) attempt(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return classify(fn(ctx))
}

func (c *Client) clientRunning(ctx context.Context) bool {
	if c.detector == nil {
		return true
	}
	running, err := c.detector.Running(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Process detection failed, assuming running")
		return true
	}
	return running
}

// snapshotFrom validates the currently-playing payload. A missing item
// means nothing is loaded; any other missing field is a malformed response.
// An absent duration_ms decodes as 0 and is accepted.
func snapshotFrom(current *spotify.CurrentlyPlaying) (*music.Snapshot, error) {
	if current == nil || current.Item == nil {
		return nil, music.ErrNothingPlaying
	}
	item := current.Item

	var missing []string
	if item.Name == "" {
		missing = append(missing, "name")
	}
	if len(item.Artists) == 0 || item.Artists[0].Name == "" {
		missing = append(missing, "artists")
	}
	if item.Album.Name == "" {
		missing = append(missing, "album.name")
	}
	if len(item.Album.Images) == 0 || item.Album.Images[0].URL == "" {
		missing = append(missing, "album.images")
	}
	if item.Duration < 0 {
		missing = append(missing, "duration_ms")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", music.ErrMalformedResponse, strings.Join(missing, ", "))
	}

	progress := int(current.Progress)
	if progress < 0 {
		progress = 0
	}

	return &music.Snapshot{
		TrackID:    string(item.ID),
		Title:      item.Name,
		Artist:     item.Artists[0].Name,
		Album:      item.Album.Name,
		ArtworkURL: item.Album.Images[0].URL,
		IsPlaying:  current.Playing,
		ProgressMs: progress,
		DurationMs: int(item.Duration),
	}, nil
}
