package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

const (
	defaultFlowTimeout = 3 * time.Minute
	exchangeTimeout    = 15 * time.Second
	shutdownTimeout    = 5 * time.Second
)

// Scopes requested during authorization
var Scopes = []string{
	spotifyauth.ScopeUserReadPlaybackState,
	spotifyauth.ScopeUserModifyPlaybackState,
	spotifyauth.ScopeUserReadCurrentlyPlaying,
}

// Credentials identify the application to the provider
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// Optional endpoint overrides (default to Spotify's accounts service)
	AuthURL  string
	TokenURL string
}

// OAuthConfig builds the oauth2 configuration shared by the authorization
// flow and the session manager. Client credentials travel in the form body.
func OAuthConfig(c Credentials) *oauth2.Config {
	authURL := c.AuthURL
	if authURL == "" {
		authURL = spotifyauth.AuthURL
	}
	tokenURL := c.TokenURL
	if tokenURL == "" {
		tokenURL = spotifyauth.TokenURL
	}

	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// FlowResult is delivered once by Flow.Start
type FlowResult struct {
	Tokens TokenPair
	Err    error
}

// Flow runs the interactive authorization-code grant: it opens the
// consent page in a browser, captures the redirect on a local listener,
// exchanges the code and stores the resulting pair.
type Flow struct {
	oauth    *oauth2.Config
	redirect *url.URL
	store    TokenStore
	timeout  time.Duration
	logger   zerolog.Logger

	// Replaced in tests
	openBrowser func(string) error
	newState    func() string
}

// NewFlow validates the redirect URI and creates a Flow.
// A zero timeout uses the default of three minutes.
func NewFlow(oauthCfg *oauth2.Config, store TokenStore, timeout time.Duration, logger zerolog.Logger) (*Flow, error) {
	redirect, err := url.Parse(oauthCfg.RedirectURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI %q: %w", oauthCfg.RedirectURL, err)
	}
	if redirect.Scheme != "http" || redirect.Host == "" {
		return nil, fmt.Errorf("redirect URI must be a local http URL, got %q", oauthCfg.RedirectURL)
	}
	if timeout <= 0 {
		timeout = defaultFlowTimeout
	}

	return &Flow{
		oauth:       oauthCfg,
		redirect:    redirect,
		store:       store,
		timeout:     timeout,
		logger:      logger.With().Str("component", "auth").Logger(),
		openBrowser: OpenBrowser,
		newState:    uuid.NewString,
	}, nil
}

// AuthURL returns the consent page URL. The consent dialog is always
// shown, even when the user approved the application before.
func (f *Flow) AuthURL(state string) string {
	return f.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("show_dialog", "true"))
}

// Authorize runs the flow and blocks until it completes
func (f *Flow) Authorize(ctx context.Context) (TokenPair, error) {
	res := <-f.Start(ctx)
	return res.Tokens, res.Err
}

// Start runs the flow on its own goroutine. The returned channel receives
// exactly one result and is then closed.
func (f *Flow) Start(ctx context.Context) <-chan FlowResult {
	results := make(chan FlowResult, 1)
	go func() {
		defer close(results)
		tokens, err := f.run(ctx)
		results <- FlowResult{Tokens: tokens, Err: err}
	}()
	return results
}

func (f *Flow) run(ctx context.Context) (TokenPair, error) {
	state := f.newState()

	code, err := f.captureCode(ctx, state)
	if err != nil {
		return TokenPair{}, err
	}

	pair, err := f.exchange(ctx, code)
	if err != nil {
		return TokenPair{}, err
	}

	if err := f.store.Save(pair); err != nil {
		return TokenPair{}, fmt.Errorf("saving token: %w", err)
	}

	f.logger.Info().Msg("Authorization complete")
	return pair, nil
}

// captureCode serves the redirect path until one acceptable redirect
// arrives, then shuts the listener down.
func (f *Flow) captureCode(ctx context.Context, state string) (string, error) {
	addr := f.redirect.Host
	if f.redirect.Port() == "" {
		addr = net.JoinHostPort(f.redirect.Hostname(), "80")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("starting callback listener on %s: %w", addr, err)
	}

	path := f.redirect.Path
	if path == "" {
		path = "/"
	}
	handler := newCallbackHandler(path, state)
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("callback server error: %w", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	authURL := f.AuthURL(state)
	f.logger.Info().Str("url", authURL).Msg("Waiting for authorization in browser")
	if err := f.openBrowser(authURL); err != nil {
		f.logger.Warn().Err(err).Msg("Could not open browser, visit the URL manually")
	}

	timer := time.NewTimer(f.timeout)
	defer timer.Stop()

	select {
	case res := <-handler.results:
		return res.code, res.err
	case err := <-serveErr:
		return "", err
	case <-timer.C:
		return "", ErrAuthTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *Flow) exchange(ctx context.Context, code string) (TokenPair, error) {
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	token, err := f.oauth.Exchange(ctx, code)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}
	if token.AccessToken == "" {
		return TokenPair{}, fmt.Errorf("%w: response missing access_token", ErrTokenExchangeFailed)
	}
	if token.RefreshToken == "" {
		return TokenPair{}, fmt.Errorf("%w: response missing refresh_token", ErrTokenExchangeFailed)
	}

	return TokenPair{AccessToken: token.AccessToken, RefreshToken: token.RefreshToken}, nil
}

type callbackResult struct {
	code string
	err  error
}

// callbackHandler accepts a single authorization redirect. Requests that
// are neither a code nor an error redirect (favicon probes, reloads) are
// answered and ignored.
type callbackHandler struct {
	path    string
	state   string
	results chan callbackResult
	once    sync.Once
	mu      sync.Mutex
	done    bool
}

func newCallbackHandler(path, state string) *callbackHandler {
	return &callbackHandler{
		path:    path,
		state:   state,
		results: make(chan callbackResult, 1),
	}
}

func (h *callbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != h.path {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	code := q.Get("code")
	errParam := q.Get("error")
	if code == "" && errParam == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	h.done = true
	h.mu.Unlock()

	if q.Get("state") != h.state {
		h.send(callbackResult{err: fmt.Errorf("%w: state mismatch", ErrMalformedRedirect)})
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	if errParam != "" {
		h.send(callbackResult{err: fmt.Errorf("%w: %s", ErrAuthorizationDenied, errParam)})
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		return
	}

	h.send(callbackResult{code: code})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, successPage)
}

func (h *callbackHandler) send(res callbackResult) {
	h.once.Do(func() {
		h.results <- res
	})
}

const successPage = `<!DOCTYPE html>
<html>
<head><title>earshot</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4rem;">
<h1>Connected to Spotify</h1>
<p>You can close this window.</p>
</body>
</html>
`
