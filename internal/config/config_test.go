package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points HOME and the working directory at empty temp dirs so
// Load never picks up a developer's real config file.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())
	for _, k := range []string{
		"SPOTIFY_CLIENT_ID", "SPOTIFY_CLIENT_SECRET", "SPOTIFY_REDIRECT_URI",
		"SPOTIFY_ID", "SPOTIFY_SECRET",
	} {
		t.Setenv(k, "")
	}
	return home
}

func TestLoad_Defaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.PollInterval != 100*time.Millisecond {
		t.Errorf("PollInterval = %s, want 100ms", cfg.PollInterval)
	}
	if cfg.HideAfter != 5*time.Second {
		t.Errorf("HideAfter = %s, want 5s", cfg.HideAfter)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %s, want 10s", cfg.RequestTimeout)
	}
	if !cfg.Auth.PersistRefreshed {
		t.Error("PersistRefreshed should default to true")
	}
	if cfg.HistoryRetention != 90*24*time.Hour {
		t.Errorf("HistoryRetention = %s, want 2160h", cfg.HistoryRetention)
	}
	dataDir := filepath.Join(home, ".local", "share", "earshot")
	if cfg.StateFile() != filepath.Join(dataDir, "state.json") {
		t.Errorf("StateFile() = %q", cfg.StateFile())
	}
	if cfg.HistoryDB() != filepath.Join(dataDir, "history.db") {
		t.Errorf("HistoryDB() = %q", cfg.HistoryDB())
	}
	want := filepath.Join(home, ".config", "earshot", "token.json")
	if cfg.Auth.TokenFile != want {
		t.Errorf("TokenFile = %q, want %q", cfg.Auth.TokenFile, want)
	}
	if cfg.Spotify.ProcessName != "Spotify" {
		t.Errorf("ProcessName = %q, want Spotify", cfg.Spotify.ProcessName)
	}
	if cfg.Discord.Enabled {
		t.Error("Discord presence should be off by default")
	}
}

func TestLoad_Environment(t *testing.T) {
	isolate(t)
	t.Setenv("EARSHOT_SPOTIFY_CLIENT_ID", "prefixed-id")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "plain-secret")
	t.Setenv("EARSHOT_POLL_INTERVAL", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Spotify.ClientID != "prefixed-id" {
		t.Errorf("ClientID = %q, want prefixed-id", cfg.Spotify.ClientID)
	}
	if cfg.Spotify.ClientSecret != "plain-secret" {
		t.Errorf("ClientSecret = %q, want plain-secret", cfg.Spotify.ClientSecret)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %s, want 250ms", cfg.PollInterval)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	isolate(t)
	yaml := `spotify:
  client_id: file-id
  client_secret: file-secret
hide_after: 2s
`
	if err := os.WriteFile("config.yaml", []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Spotify.ClientID != "file-id" || cfg.Spotify.ClientSecret != "file-secret" {
		t.Errorf("credentials = %q/%q, want file-id/file-secret", cfg.Spotify.ClientID, cfg.Spotify.ClientSecret)
	}
	if cfg.HideAfter != 2*time.Second {
		t.Errorf("HideAfter = %s, want 2s", cfg.HideAfter)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		spotify     SpotifyConfig
		wantErr     bool
		errContains []string
	}{
		{
			name: "all present",
			spotify: SpotifyConfig{
				ClientID: "id", ClientSecret: "secret", RedirectURI: "http://127.0.0.1:8888/callback",
			},
		},
		{
			name:        "missing everything",
			spotify:     SpotifyConfig{},
			wantErr:     true,
			errContains: []string{"spotify.client_id", "spotify.client_secret", "spotify.redirect_uri"},
		},
		{
			name:        "missing secret",
			spotify:     SpotifyConfig{ClientID: "id", RedirectURI: "http://127.0.0.1:8888/callback"},
			wantErr:     true,
			errContains: []string{"spotify.client_secret"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{PollInterval: time.Second, Spotify: tt.spotify}
			err := cfg.Validate()
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrMissingCredentials) {
				t.Fatalf("expected ErrMissingCredentials, got %v", err)
			}
			for _, s := range tt.errContains {
				if !strings.Contains(err.Error(), s) {
					t.Errorf("error %q does not mention %q", err.Error(), s)
				}
			}
		})
	}
}

func TestValidate_Discord(t *testing.T) {
	spotify := SpotifyConfig{ClientID: "id", ClientSecret: "secret", RedirectURI: "http://127.0.0.1:8888/callback"}

	cfg := &Config{PollInterval: time.Second, Spotify: spotify, Discord: DiscordConfig{Enabled: true}}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "discord.app_id") {
		t.Errorf("error = %v, want discord.app_id required", err)
	}

	cfg.Discord.AppID = "1234"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_PollInterval(t *testing.T) {
	cfg := &Config{Spotify: SpotifyConfig{ClientID: "id", ClientSecret: "secret", RedirectURI: "http://127.0.0.1:8888/callback"}}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "poll_interval") {
		t.Errorf("error = %v, want poll_interval error", err)
	}
}
