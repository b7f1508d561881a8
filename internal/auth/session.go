package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// expiryDelta is how long before a known expiry the token is refreshed
const expiryDelta = 30 * time.Second

// State is the session lifecycle state
type State int

const (
	NoSession      State = iota // Nothing stored, authorization required
	SessionValid                // Access token obtained this run
	SessionExpired              // Refresh failed, re-authorization required
)

// String returns a human-readable representation of the State
func (s State) String() string {
	switch s {
	case NoSession:
		return "no_session"
	case SessionValid:
		return "valid"
	case SessionExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Authorizer runs the interactive authorization and returns a stored pair
type Authorizer interface {
	Authorize(ctx context.Context) (TokenPair, error)
}

// SessionOptions tune refresh behavior
type SessionOptions struct {
	// PersistRefreshed writes every refreshed pair back to the store.
	// When false, refreshed access tokens live only in memory and each
	// start refreshes from the originally stored refresh token.
	PersistRefreshed bool

	// RequestTimeout bounds each refresh request (default 10s)
	RequestTimeout time.Duration
}

// Session owns the access token. All reads and writes of the token are
// serialized; readers always observe the latest successfully obtained token.
type Session struct {
	mu    sync.RWMutex
	token *oauth2.Token
	state State

	// refreshMu makes concurrent refreshes collapse into one
	refreshMu sync.Mutex

	oauth      *oauth2.Config
	store      TokenStore
	authorizer Authorizer
	opts       SessionOptions
	logger     zerolog.Logger
}

// NewSession creates a session manager
func NewSession(oauthCfg *oauth2.Config, store TokenStore, authorizer Authorizer, opts SessionOptions, logger zerolog.Logger) *Session {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return &Session{
		oauth:      oauthCfg,
		store:      store,
		authorizer: authorizer,
		opts:       opts,
		logger:     logger.With().Str("component", "session").Logger(),
	}
}

// Start guarantees a valid access token. A stored pair is always
// refreshed once; when nothing is stored or the refresh fails, the
// interactive authorization runs.
func (s *Session) Start(ctx context.Context) error {
	pair, err := s.store.Load()
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("loading stored session: %w", err)
		}
		s.logger.Info().Msg("No stored session, starting authorization")
		return s.authorize(ctx)
	}

	s.setToken(&oauth2.Token{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, SessionExpired)

	s.logger.Debug().
		Bool("persist_refreshed", s.opts.PersistRefreshed).
		Msg("Refreshing stored session")

	s.refreshMu.Lock()
	err = s.refresh(ctx)
	s.refreshMu.Unlock()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("refreshing stored session: %w", ctxErr)
		}
		s.logger.Warn().Err(err).Msg("Stored session could not be refreshed, re-authorizing")
		return s.authorize(ctx)
	}

	s.logger.Info().Msg("Session restored")
	return nil
}

func (s *Session) authorize(ctx context.Context) error {
	pair, err := s.authorizer.Authorize(ctx)
	if err != nil {
		s.mu.Lock()
		s.token = nil
		s.state = NoSession
		s.mu.Unlock()
		return fmt.Errorf("authorization failed: %w", err)
	}

	s.setToken(&oauth2.Token{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, SessionValid)
	return nil
}

// Refresh exchanges the refresh token for a new access token. stale is the
// access token the caller saw rejected; when another caller has already
// replaced it, Refresh returns without a network call.
func (s *Session) Refresh(ctx context.Context, stale string) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if current := s.AccessToken(); current != "" && current != stale {
		return nil
	}

	if err := s.refresh(ctx); err != nil {
		s.mu.Lock()
		s.state = SessionExpired
		s.mu.Unlock()
		return err
	}
	return nil
}

// refresh must be called with refreshMu held
func (s *Session) refresh(ctx context.Context) error {
	s.mu.RLock()
	var refreshToken string
	if s.token != nil {
		refreshToken = s.token.RefreshToken
	}
	s.mu.RUnlock()

	if refreshToken == "" {
		return fmt.Errorf("%w: no refresh token", ErrRefreshFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	token, err := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	rotated := token.RefreshToken != "" && token.RefreshToken != refreshToken
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}

	s.setToken(token, SessionValid)

	s.logger.Debug().
		Bool("rotated", rotated).
		Time("expiry", token.Expiry).
		Msg("Access token refreshed")

	if s.opts.PersistRefreshed || rotated {
		pair := TokenPair{AccessToken: token.AccessToken, RefreshToken: token.RefreshToken}
		if err := s.store.Save(pair); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to persist refreshed token")
		}
	}

	return nil
}

func (s *Session) setToken(token *oauth2.Token, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.state = state
}

// AccessToken returns the current access token, or "" before Start
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return ""
	}
	return s.token.AccessToken
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Token implements oauth2.TokenSource. A token whose known expiry has
// passed is refreshed first; if that fails the old token is returned and
// the API call decides.
func (s *Session) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == nil || token.AccessToken == "" {
		return nil, ErrNoSession
	}

	if !token.Expiry.IsZero() && time.Now().Add(expiryDelta).After(token.Expiry) {
		if err := s.Refresh(context.Background(), token.AccessToken); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to refresh expiring token")
		}
		s.mu.RLock()
		token = s.token
		s.mu.RUnlock()
		if token == nil {
			return nil, ErrNoSession
		}
	}

	out := *token
	return &out, nil
}

// Logout forgets the in-memory token and deletes the stored pair when the
// store supports it.
func (s *Session) Logout() error {
	s.mu.Lock()
	s.token = nil
	s.state = NoSession
	s.mu.Unlock()

	if d, ok := s.store.(interface{ Delete() error }); ok {
		return d.Delete()
	}
	return nil
}
