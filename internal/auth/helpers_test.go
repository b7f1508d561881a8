package auth

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"golang.org/x/oauth2"
)

// tokenServer is a fake token endpoint that records every form it receives
type tokenServer struct {
	*httptest.Server

	mu       sync.Mutex
	forms    []url.Values
	status   int
	response string
}

func newTokenServer(t *testing.T, status int, response string) *tokenServer {
	t.Helper()
	ts := &tokenServer{status: status, response: response}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST request, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("expected form content type, got %s", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}

		ts.mu.Lock()
		ts.forms = append(ts.forms, r.PostForm)
		status, body := ts.status, ts.response
		ts.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) set(status int, response string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.status = status
	ts.response = response
}

func (ts *tokenServer) requests() []url.Values {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]url.Values, len(ts.forms))
	copy(out, ts.forms)
	return out
}

func testOAuthConfig(tokenURL, redirectURI string) *oauth2.Config {
	return OAuthConfig(Credentials{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		RedirectURI:  redirectURI,
		AuthURL:      "https://accounts.example.com/authorize",
		TokenURL:     tokenURL,
	})
}

// freePort reserves and releases a loopback port for the callback listener
func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

// memoryStore is an in-memory TokenStore
type memoryStore struct {
	mu    sync.Mutex
	pair  *TokenPair
	saves int
}

func (m *memoryStore) Load() (TokenPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pair == nil {
		return TokenPair{}, ErrNotFound
	}
	return *m.pair, nil
}

func (m *memoryStore) Save(p TokenPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair = &p
	m.saves++
	return nil
}

func (m *memoryStore) stored() (TokenPair, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pair == nil {
		return TokenPair{}, m.saves
	}
	return *m.pair, m.saves
}

// countingAuthorizer records how many times the interactive flow ran
type countingAuthorizer struct {
	mu    sync.Mutex
	calls int
	pair  TokenPair
	err   error
	store TokenStore
}

func (a *countingAuthorizer) Authorize(ctx context.Context) (TokenPair, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.err != nil {
		return TokenPair{}, a.err
	}
	if a.store != nil {
		_ = a.store.Save(a.pair)
	}
	return a.pair, nil
}

func (a *countingAuthorizer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}
