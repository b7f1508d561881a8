//go:build integration

package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

const currentlyPlaying = `{
  "progress_ms": 5000,
  "is_playing": true,
  "item": {
    "id": "track-1",
    "name": "Windowlicker",
    "duration_ms": 367000,
    "artists": [{"name": "Aphex Twin"}],
    "album": {"name": "Windowlicker EP", "images": [{"url": "https://i.scdn.co/image/large"}]}
  }
}`

// fakeSpotify serves the token endpoint and the currently-playing endpoint
func fakeSpotify(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/v1/me/player/currently-playing", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, currentlyPlaying)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// setupHome writes a config file and a stored session under a fresh HOME
func setupHome(t *testing.T, apiURL string) (home, dataDir string) {
	t.Helper()
	home = t.TempDir()
	dataDir = filepath.Join(home, "data")
	configDir := filepath.Join(home, ".config", "earshot")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatal(err)
	}

	config := fmt.Sprintf(`poll_interval: 50ms
hide_after: 1s
data_dir: %s
spotify:
  client_id: test-id
  client_secret: test-secret
  redirect_uri: http://127.0.0.1:8888/callback
  token_url: %s/api/token
  api_url: %s/v1/
  process_name: ""
`, dataDir, apiURL, apiURL)
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(config), 0644); err != nil {
		t.Fatal(err)
	}

	token := `{"access_token":"old","refresh_token":"refresh"}`
	if err := os.WriteFile(filepath.Join(configDir, "token.json"), []byte(token), 0600); err != nil {
		t.Fatal(err)
	}
	return home, dataDir
}

func buildBinary(t *testing.T) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "earshot_test")
	build := exec.Command("go", "build", "-o", bin, ".")
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, out)
	}
	return bin
}

func command(bin, home string, args ...string) *exec.Cmd {
	cmd := exec.Command(bin, args...)
	cmd.Dir = home
	cmd.Env = append(os.Environ(), "HOME="+home, "SPOTIFY_CLIENT_ID=", "SPOTIFY_CLIENT_SECRET=")
	return cmd
}

// TestDaemonLifecycle starts the daemon against a fake Spotify, reads the
// published state through the now and history commands and stops it
func TestDaemonLifecycle(t *testing.T) {
	bin := buildBinary(t)
	srv := fakeSpotify(t)
	home, dataDir := setupHome(t, srv.URL)

	var logs bytes.Buffer
	daemon := command(bin, home, "daemon", "--log-level", "debug")
	daemon.Stdout = &logs
	daemon.Stderr = &logs
	if err := daemon.Start(); err != nil {
		t.Fatalf("Failed to start daemon: %v", err)
	}
	t.Cleanup(func() { _ = daemon.Process.Kill() })

	// Wait for the first snapshot to be published
	stateFile := filepath.Join(dataDir, "state.json")
	deadline := time.Now().Add(10 * time.Second)
	for {
		data, err := os.ReadFile(stateFile)
		if err == nil && strings.Contains(string(data), "Windowlicker") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("state file never showed the track\nlogs:\n%s", logs.String())
		}
		time.Sleep(50 * time.Millisecond)
	}

	out, err := command(bin, home, "now").Output()
	if err != nil {
		t.Fatalf("now failed: %v", err)
	}
	if got := strings.TrimSpace(string(out)); got != "Aphex Twin - Windowlicker" {
		t.Errorf("now = %q, want %q", got, "Aphex Twin - Windowlicker")
	}

	out, err = command(bin, home, "now", "--format", "{{.Title}} {{.Progress}}/{{.Duration}}").Output()
	if err != nil {
		t.Fatalf("now --format failed: %v", err)
	}
	if got := strings.TrimSpace(string(out)); got != "Windowlicker 00:05/06:07" {
		t.Errorf("now --format = %q", got)
	}

	out, err = command(bin, home, "history").Output()
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(string(out), "Windowlicker") {
		t.Errorf("history output missing track:\n%s", out)
	}

	// Graceful shutdown
	if err := daemon.Process.Signal(syscall.SIGINT); err != nil {
		t.Fatalf("signal: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- daemon.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("daemon exited with error: %v\nlogs:\n%s", err, logs.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop after SIGINT")
	}

	if !strings.Contains(logs.String(), "Daemon stopped") {
		t.Errorf("missing shutdown log:\n%s", logs.String())
	}
}

// TestNowCommandLive queries the API directly when no daemon is running
func TestNowCommandLive(t *testing.T) {
	bin := buildBinary(t)
	srv := fakeSpotify(t)
	home, _ := setupHome(t, srv.URL)

	out, err := command(bin, home, "now", "--width", "12").Output()
	if err != nil {
		t.Fatalf("now failed: %v", err)
	}
	if got := strings.TrimRight(string(out), "\n"); got != "Aphex Twi..." {
		t.Errorf("now --width 12 = %q, want %q", got, "Aphex Twi...")
	}
}

// TestNowCommandNotAuthorized never opens a browser from the status line
func TestNowCommandNotAuthorized(t *testing.T) {
	bin := buildBinary(t)
	srv := fakeSpotify(t)
	home, _ := setupHome(t, srv.URL)
	if err := os.Remove(filepath.Join(home, ".config", "earshot", "token.json")); err != nil {
		t.Fatal(err)
	}

	out, err := command(bin, home, "now").CombinedOutput()
	if err == nil {
		t.Fatal("now should fail without a stored session")
	}
	if !strings.Contains(string(out), "earshot auth") {
		t.Errorf("output should point at 'earshot auth':\n%s", out)
	}
}
