// Package auth provides Spotify OAuth2 authentication with token persistence.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// TokenPair is the only durable session state
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TokenStore loads and saves the token pair
type TokenStore interface {
	// Load returns ErrNotFound when no usable pair is stored
	Load() (TokenPair, error)
	Save(TokenPair) error
}

// FileStore keeps the token pair in a single JSON file
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at the given path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file path where tokens are stored.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the stored pair. A missing file, malformed JSON and a pair
// without a refresh token all yield ErrNotFound.
func (s *FileStore) Load() (TokenPair, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TokenPair{}, ErrNotFound
		}
		return TokenPair{}, fmt.Errorf("%w: reading token file: %v", ErrNotFound, err)
	}

	var pair TokenPair
	if err := json.Unmarshal(data, &pair); err != nil {
		return TokenPair{}, fmt.Errorf("%w: parsing token file: %v", ErrNotFound, err)
	}

	if pair.RefreshToken == "" {
		return TokenPair{}, fmt.Errorf("%w: token file has no refresh token", ErrNotFound)
	}

	return pair, nil
}

// Save writes the pair atomically via temp file + rename, creating the
// parent directory if needed.
func (s *FileStore) Save(pair TokenPair) error {
	if pair.RefreshToken == "" {
		return errors.New("cannot save token pair without refresh token")
	}

	data, err := json.MarshalIndent(pair, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replacing token file: %w", err)
	}

	return nil
}

// Delete removes the token file.
// Returns nil if the file does not exist.
func (s *FileStore) Delete() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}
