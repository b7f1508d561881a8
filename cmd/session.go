package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/jfmyers9/earshot/internal/auth"
	"github.com/jfmyers9/earshot/internal/config"
	"github.com/jfmyers9/earshot/internal/music"
	"github.com/jfmyers9/earshot/internal/player"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// errNotAuthorized is returned by one-shot commands that never open a browser
var errNotAuthorized = errors.New("not authorized, run 'earshot auth' first")

// refuseAuthorizer stands in for the interactive flow in one-shot commands
type refuseAuthorizer struct{}

func (refuseAuthorizer) Authorize(context.Context) (auth.TokenPair, error) {
	return auth.TokenPair{}, errNotAuthorized
}

// loadConfig loads the configuration and checks the Spotify credentials
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w (set it in %s/config.yaml or the environment)", err, config.GetConfigDir())
	}
	return cfg, nil
}

func oauthConfig(cfg *config.Config) *oauth2.Config {
	return auth.OAuthConfig(auth.Credentials{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		RedirectURI:  cfg.Spotify.RedirectURI,
		AuthURL:      cfg.Spotify.AuthURL,
		TokenURL:     cfg.Spotify.TokenURL,
	})
}

// connect restores the stored session, falling back to the browser flow
// when interactive is set, and returns a player client bound to it.
func connect(ctx context.Context, cfg *config.Config, logger zerolog.Logger, interactive bool) (*auth.Session, *player.Client, error) {
	oauthCfg := oauthConfig(cfg)
	store := auth.NewFileStore(cfg.Auth.TokenFile)

	var authorizer auth.Authorizer = refuseAuthorizer{}
	if interactive {
		flow, err := auth.NewFlow(oauthCfg, store, cfg.Auth.Timeout, logger)
		if err != nil {
			return nil, nil, err
		}
		authorizer = flow
	}

	session := auth.NewSession(oauthCfg, store, authorizer, auth.SessionOptions{
		PersistRefreshed: cfg.Auth.PersistRefreshed,
		RequestTimeout:   cfg.RequestTimeout,
	}, logger)

	if err := session.Start(ctx); err != nil {
		return nil, nil, err
	}

	// An empty process name skips the desktop client check
	var detector music.ProcessDetector
	if cfg.Spotify.ProcessName != "" {
		detector = music.NewProcessDetector(cfg.Spotify.ProcessName)
	}

	client := player.New(session, detector, player.Options{
		BaseURL:        cfg.Spotify.APIURL,
		RequestTimeout: cfg.RequestTimeout,
	}, logger)

	return session, client, nil
}
