package music

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Snapshot is the playback state observed by a single poll.
// Snapshots are never mutated after they are built.
type Snapshot struct {
	// Provider track ID, empty for local files
	TrackID string `json:"track_id,omitempty"`
	// Track title, also the identity key for change detection
	Title string `json:"title"`
	// First listed artist
	Artist string `json:"artist"`
	Album  string `json:"album"`
	// First album image
	ArtworkURL string `json:"artwork_url"`
	IsPlaying  bool   `json:"is_playing"`
	ProgressMs int    `json:"progress_ms"`
	DurationMs int    `json:"duration_ms"`
}

// Progress returns the playback position as a time.Duration
func (s *Snapshot) Progress() time.Duration {
	return time.Duration(s.ProgressMs) * time.Millisecond
}

// Duration returns the track length as a time.Duration
func (s *Snapshot) Duration() time.Duration {
	return time.Duration(s.DurationMs) * time.Millisecond
}

// String returns a short human-readable description
func (s *Snapshot) String() string {
	if s == nil {
		return "<nothing playing>"
	}
	state := "paused"
	if s.IsPlaying {
		state = "playing"
	}
	return fmt.Sprintf("%s - %s (%s)", s.Artist, s.Title, state)
}

var (
	// ErrNoActiveDevice means the desktop client is not running or no
	// device is currently active.
	ErrNoActiveDevice = errors.New("no active device")

	// ErrNothingPlaying means the API answered but no track is loaded.
	ErrNothingPlaying = errors.New("nothing playing")

	// ErrMalformedResponse means a required field was missing from the
	// currently-playing response.
	ErrMalformedResponse = errors.New("malformed currently-playing response")

	// ErrUnauthorized means the API rejected the access token, even after
	// a refresh attempt.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRejected means the API refused the request with a client error
	// other than 401, 404 or 429, such as 403 for a non-Premium account.
	ErrRejected = errors.New("playback API rejected the request")

	// ErrTransient covers network failures, timeouts, rate limiting and
	// server errors. The next poll retries.
	ErrTransient = errors.New("transient playback API error")
)

// IsNothingToShow reports whether err means the display should be
// cleared. Transient errors are excluded: the caller keeps the previous
// snapshot for those.
func IsNothingToShow(err error) bool {
	return errors.Is(err, ErrNoActiveDevice) ||
		errors.Is(err, ErrNothingPlaying) ||
		errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrRejected)
}

// Client defines the interface for interacting with a music player
type Client interface {
	// CurrentlyPlaying returns the current snapshot. Errors are one of the
	// sentinel errors above, possibly wrapped.
	CurrentlyPlaying(ctx context.Context) (*Snapshot, error)

	// TogglePlayPause pauses when playing and resumes otherwise
	TogglePlayPause(ctx context.Context) error

	// Next skips to the next track
	Next(ctx context.Context) error

	// Previous goes to the previous track
	Previous(ctx context.Context) error
}
