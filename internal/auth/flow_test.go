package auth

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const tokenResponse = `{"access_token":"access-1","refresh_token":"refresh-1","token_type":"Bearer","expires_in":3600}`

// newTestFlow builds a Flow whose "browser" follows the consent URL by
// calling visit with the redirect URI and the state it was given.
func newTestFlow(t *testing.T, tokenURL string, store TokenStore, visit func(redirect, state string)) *Flow {
	t.Helper()
	redirect := "http://" + freePort(t) + "/callback"
	flow, err := NewFlow(testOAuthConfig(tokenURL, redirect), store, 5*time.Second, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFlow: %v", err)
	}
	flow.newState = func() string { return "fixed-state" }
	flow.openBrowser = func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			t.Errorf("invalid auth URL: %v", err)
			return err
		}
		q := u.Query()
		go visit(q.Get("redirect_uri"), q.Get("state"))
		return nil
	}
	return flow
}

func get(t *testing.T, rawURL string) int {
	t.Helper()
	resp, err := http.Get(rawURL)
	if err != nil {
		t.Errorf("GET %s: %v", rawURL, err)
		return 0
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func TestFlow_AuthURL(t *testing.T) {
	flow, err := NewFlow(testOAuthConfig("http://unused/token", "http://127.0.0.1:8888/callback"), &memoryStore{}, 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFlow: %v", err)
	}

	u, err := url.Parse(flow.AuthURL("abc"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()

	checks := map[string]string{
		"client_id":     "test-client",
		"response_type": "code",
		"redirect_uri":  "http://127.0.0.1:8888/callback",
		"show_dialog":   "true",
		"state":         "abc",
	}
	for k, want := range checks {
		if got := q.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}

	scope := q.Get("scope")
	for _, s := range []string{"user-read-playback-state", "user-modify-playback-state", "user-read-currently-playing"} {
		if !strings.Contains(scope, s) {
			t.Errorf("scope %q missing %q", scope, s)
		}
	}

	if !strings.Contains(u.RawQuery, "redirect_uri=http%3A%2F%2F127.0.0.1%3A8888%2Fcallback") {
		t.Errorf("redirect_uri not URL-encoded in %q", u.RawQuery)
	}
}

func TestNewFlow_RejectsBadRedirect(t *testing.T) {
	for _, redirect := range []string{"", "https://example.com/callback", "not a url"} {
		if _, err := NewFlow(testOAuthConfig("http://unused", redirect), &memoryStore{}, 0, zerolog.Nop()); err == nil {
			t.Errorf("NewFlow(%q) should fail", redirect)
		}
	}
}

func TestFlow_Authorize_Success(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, tokenResponse)
	store := &memoryStore{}

	probes := make(chan []int, 1)
	flow := newTestFlow(t, ts.URL, store, func(redirect, state string) {
		base, _ := url.Parse(redirect)
		favicon := *base
		favicon.Path = "/favicon.ico"

		// Probes that are not the redirect must be ignored
		codes := []int{
			get(t, favicon.String()),
			get(t, redirect),
			get(t, redirect+"?code=the-code&state="+state),
		}
		probes <- codes
	})

	pair, err := flow.Authorize(context.Background())
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	want := TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"}
	if pair != want {
		t.Errorf("pair = %+v, want %+v", pair, want)
	}
	if stored, _ := store.stored(); stored != want {
		t.Errorf("stored = %+v, want %+v", stored, want)
	}

	codes := <-probes
	if codes[0] != http.StatusNotFound {
		t.Errorf("favicon status = %d, want 404", codes[0])
	}
	if codes[1] != http.StatusBadRequest {
		t.Errorf("bare redirect status = %d, want 400", codes[1])
	}
	if codes[2] != http.StatusOK {
		t.Errorf("redirect status = %d, want 200", codes[2])
	}

	reqs := ts.requests()
	if len(reqs) != 1 {
		t.Fatalf("token endpoint called %d times, want 1", len(reqs))
	}
	form := reqs[0]
	expect := map[string]string{
		"grant_type":    "authorization_code",
		"code":          "the-code",
		"redirect_uri":  flow.oauth.RedirectURL,
		"client_id":     "test-client",
		"client_secret": "test-secret",
	}
	for k, v := range expect {
		if got := form.Get(k); got != v {
			t.Errorf("form %s = %q, want %q", k, got, v)
		}
	}

	// The listener is closed once the flow is over
	if conn, err := net.DialTimeout("tcp", flow.redirect.Host, 200*time.Millisecond); err == nil {
		conn.Close()
		t.Error("callback listener still accepting connections")
	}
}

func TestFlow_Authorize_Failures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		response string
		query    func(state string) string
		wantErr  error
	}{
		{
			name:     "user denied consent",
			status:   http.StatusOK,
			response: tokenResponse,
			query:    func(state string) string { return "?error=access_denied&state=" + state },
			wantErr:  ErrAuthorizationDenied,
		},
		{
			name:     "state mismatch",
			status:   http.StatusOK,
			response: tokenResponse,
			query:    func(string) string { return "?code=abc&state=forged" },
			wantErr:  ErrMalformedRedirect,
		},
		{
			name:     "missing refresh token",
			status:   http.StatusOK,
			response: `{"access_token":"access-only","token_type":"Bearer"}`,
			query:    func(state string) string { return "?code=abc&state=" + state },
			wantErr:  ErrTokenExchangeFailed,
		},
		{
			name:     "missing access token",
			status:   http.StatusOK,
			response: `{"refresh_token":"refresh-only"}`,
			query:    func(state string) string { return "?code=abc&state=" + state },
			wantErr:  ErrTokenExchangeFailed,
		},
		{
			name:     "token endpoint rejects code",
			status:   http.StatusBadRequest,
			response: `{"error":"invalid_grant","error_description":"Invalid authorization code"}`,
			query:    func(state string) string { return "?code=abc&state=" + state },
			wantErr:  ErrTokenExchangeFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTokenServer(t, tt.status, tt.response)
			store := &memoryStore{}
			flow := newTestFlow(t, ts.URL, store, func(redirect, state string) {
				get(t, redirect+tt.query(state))
			})

			_, err := flow.Authorize(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Authorize() error = %v, want %v", err, tt.wantErr)
			}
			if _, saves := store.stored(); saves != 0 {
				t.Errorf("store saved %d times on failure", saves)
			}
		})
	}
}

func TestFlow_BrowserFailureIsNotFatal(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, tokenResponse)
	flow := newTestFlow(t, ts.URL, &memoryStore{}, nil)
	flow.openBrowser = func(authURL string) error {
		u, _ := url.Parse(authURL)
		q := u.Query()
		// The user copies the printed URL by hand
		go get(t, q.Get("redirect_uri")+"?code=manual&state="+q.Get("state"))
		return errors.New("no browser")
	}

	if _, err := flow.Authorize(context.Background()); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
}

func TestFlow_Timeout(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, tokenResponse)
	flow := newTestFlow(t, ts.URL, &memoryStore{}, func(string, string) {})
	flow.timeout = 50 * time.Millisecond

	_, err := flow.Authorize(context.Background())
	if !errors.Is(err, ErrAuthTimeout) {
		t.Fatalf("Authorize() error = %v, want ErrAuthTimeout", err)
	}
	if len(ts.requests()) != 0 {
		t.Error("token endpoint should not be called")
	}
}

func TestFlow_StartCancelled(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, tokenResponse)
	flow := newTestFlow(t, ts.URL, &memoryStore{}, func(string, string) {})

	ctx, cancel := context.WithCancel(context.Background())
	results := flow.Start(ctx)
	cancel()

	select {
	case res := <-results:
		if !errors.Is(res.Err, context.Canceled) {
			t.Errorf("result error = %v, want context.Canceled", res.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("flow did not stop after cancellation")
	}

	// Channel is closed after the single result
	if _, ok := <-results; ok {
		t.Error("results channel should be closed")
	}
}
