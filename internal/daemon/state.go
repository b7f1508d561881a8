package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jfmyers9/earshot/internal/music"
)

// defaultPersistInterval throttles state file writes when only progress moved
const defaultPersistInterval = time.Second

// ErrStaleState is returned by ReadStateFile when the daemon has not
// written the file recently
var ErrStaleState = errors.New("daemon state is stale")

// diffKey decides whether the presentation changed. Progress is not part
// of it. Two tracks with the same title are indistinguishable.
type diffKey struct {
	title     string
	isPlaying bool
	volume    int
}

// State is the diff engine. It keeps the last snapshot, the key it was
// compared under, and whether the presentation is currently visible.
type State struct {
	mu        sync.RWMutex
	snapshot  *music.Snapshot
	volume    int
	key       diffKey
	hasKey    bool
	lastTitle string
	visible   bool
	updatedAt time.Time

	filePath        string
	persistInterval time.Duration
	lastPersist     time.Time
}

// Observation describes what a new snapshot changed
type Observation struct {
	Changed      bool // Presentation key differs from the previous one
	TrackChanged bool // Title differs from the last track seen
}

// persistedState is the JSON representation of state for disk storage
type persistedState struct {
	Snapshot  *music.Snapshot `json:"snapshot,omitempty"`
	Volume    int             `json:"volume"`
	Visible   bool            `json:"visible"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewState creates a new State. If filePath is set the state is published
// there for one-shot readers such as the now command.
func NewState(filePath string) *State {
	return &State{
		volume:          music.UnknownVolume,
		filePath:        filePath,
		persistInterval: defaultPersistInterval,
	}
}

// Observe records a fresh snapshot and reports whether it changed the
// presentation key
func (s *State) Observe(snap *music.Snapshot, volume int, at time.Time) Observation {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := diffKey{title: snap.Title, isPlaying: snap.IsPlaying, volume: volume}
	obs := Observation{
		Changed:      !s.hasKey || key != s.key,
		TrackChanged: snap.Title != s.lastTitle,
	}

	s.snapshot = snap
	s.volume = volume
	s.key = key
	s.hasKey = true
	s.lastTitle = snap.Title
	s.updatedAt = at

	return obs
}

// Clear forgets the snapshot and its key, so the next snapshot counts as a
// change. It reports whether the presentation was visible.
func (s *State) Clear(at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasVisible := s.visible
	s.snapshot = nil
	s.volume = music.UnknownVolume
	s.key = diffKey{}
	s.hasKey = false
	s.visible = false
	s.updatedAt = at
	return wasVisible
}

// Touch marks the state as current without changing it
func (s *State) Touch(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updatedAt = at
}

// SetVisible records whether the presentation is showing the snapshot and
// reports whether that was a transition
func (s *State) SetVisible(visible bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.visible != visible
	s.visible = visible
	return changed
}

// Visible reports whether the presentation is showing the snapshot
func (s *State) Visible() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visible
}

// Snapshot returns the last observed snapshot, or nil
func (s *State) Snapshot() *music.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Volume returns the volume observed with the last snapshot
func (s *State) Volume() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.volume
}

// Persist writes the state file. Unless force is set, writes closer together
// than the persist interval are skipped.
func (s *State) Persist(force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filePath == "" {
		return nil
	}
	if !force && !s.lastPersist.IsZero() && time.Since(s.lastPersist) < s.persistInterval {
		return nil
	}
	return s.persist()
}

// persist saves the current state to disk
// Must be called with lock held
func (s *State) persist() error {
	ps := persistedState{
		Snapshot:  s.snapshot,
		Volume:    s.volume,
		Visible:   s.visible,
		UpdatedAt: s.updatedAt,
	}

	data, err := json.MarshalIndent(ps, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Write atomically via temp file + rename
	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return err
	}

	s.lastPersist = time.Now()
	return nil
}

// ReadStateFile returns the snapshot a running daemon last published. A nil
// snapshot with a nil error means the daemon sees nothing playing.
// ErrStaleState is returned when the file is older than maxAge.
func ReadStateFile(path string, maxAge time.Duration) (*music.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("invalid state file: %w", err)
	}

	if ps.UpdatedAt.IsZero() || time.Since(ps.UpdatedAt) > maxAge {
		return nil, ErrStaleState
	}
	return ps.Snapshot, nil
}
