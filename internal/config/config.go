package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
)

// ErrMissingCredentials is returned by Validate when a required Spotify
// credential is not configured.
var ErrMissingCredentials = errors.New("missing Spotify credentials")

// Config holds application configuration
type Config struct {
	// Output format template for the now command
	// Default: "{{.Artist}} - {{.Title}}"
	OutputFormat string

	// Fixed output width for the now command (0 = disabled)
	OutputWidth int

	// Marquee scrolling for the now command
	MarqueeEnabled   bool
	MarqueeSpeed     int
	MarqueeSeparator string

	// How often the currently-playing endpoint is polled
	PollInterval time.Duration

	// How long the overlay stays visible after the last change
	HideAfter time.Duration

	// Client-side timeout for every API call
	RequestTimeout time.Duration

	// Directory for the play history database and daemon state file
	DataDir string

	// Plays older than this are pruned when the daemon stops (0 keeps all)
	HistoryRetention time.Duration

	Spotify SpotifyConfig
	Auth    AuthConfig
	Discord DiscordConfig
}

// SpotifyConfig holds Spotify specific configuration
type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// Endpoint overrides, mostly useful for testing
	AuthURL  string
	TokenURL string
	APIURL   string

	// Name of the desktop client process that must be running before
	// the API is polled
	ProcessName string
}

// AuthConfig controls token persistence and the authorization flow
type AuthConfig struct {
	TokenFile string

	// Write refreshed tokens back to TokenFile
	PersistRefreshed bool

	// Upper bound on the interactive authorization flow
	Timeout time.Duration
}

// DiscordConfig controls the Rich Presence mirror
type DiscordConfig struct {
	Enabled bool
	AppID   string
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	v := viper.New()

	// Set config name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configDir := getConfigDir()
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)

	// Read config file (optional - don't fail if missing)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// EARSHOT_SPOTIFY_CLIENT_ID maps to spotify.client_id
	v.SetEnvPrefix("EARSHOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The conventional variable names work too
	_ = v.BindEnv("spotify.client_id", "EARSHOT_SPOTIFY_CLIENT_ID", "SPOTIFY_CLIENT_ID", "SPOTIFY_ID")
	_ = v.BindEnv("spotify.client_secret", "EARSHOT_SPOTIFY_CLIENT_SECRET", "SPOTIFY_CLIENT_SECRET", "SPOTIFY_SECRET")
	_ = v.BindEnv("spotify.redirect_uri", "EARSHOT_SPOTIFY_REDIRECT_URI", "SPOTIFY_REDIRECT_URI")

	return fromViper(v), nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("output_format", "{{.Artist}} - {{.Title}}")
	v.SetDefault("output_width", 0)
	v.SetDefault("marquee_enabled", false)
	v.SetDefault("marquee_speed", 2)
	v.SetDefault("marquee_separator", " • ")
	v.SetDefault("poll_interval", 100*time.Millisecond)
	v.SetDefault("hide_after", 5*time.Second)
	v.SetDefault("request_timeout", 10*time.Second)
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("history_retention", 90*24*time.Hour)

	v.SetDefault("spotify.redirect_uri", "http://127.0.0.1:8888/callback")
	v.SetDefault("spotify.auth_url", spotifyauth.AuthURL)
	v.SetDefault("spotify.token_url", spotifyauth.TokenURL)
	v.SetDefault("spotify.api_url", "https://api.spotify.com/v1/")
	v.SetDefault("spotify.process_name", "Spotify")

	v.SetDefault("auth.token_file", filepath.Join(configDir, "token.json"))
	v.SetDefault("auth.persist_refreshed", true)
	v.SetDefault("auth.timeout", 3*time.Minute)

	v.SetDefault("discord.enabled", false)
	v.SetDefault("discord.app_id", "")
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		OutputFormat:     v.GetString("output_format"),
		OutputWidth:      v.GetInt("output_width"),
		MarqueeEnabled:   v.GetBool("marquee_enabled"),
		MarqueeSpeed:     v.GetInt("marquee_speed"),
		MarqueeSeparator: v.GetString("marquee_separator"),
		PollInterval:     v.GetDuration("poll_interval"),
		HideAfter:        v.GetDuration("hide_after"),
		RequestTimeout:   v.GetDuration("request_timeout"),
		DataDir:          v.GetString("data_dir"),
		HistoryRetention: v.GetDuration("history_retention"),
		Spotify: SpotifyConfig{
			ClientID:     v.GetString("spotify.client_id"),
			ClientSecret: v.GetString("spotify.client_secret"),
			RedirectURI:  v.GetString("spotify.redirect_uri"),
			AuthURL:      v.GetString("spotify.auth_url"),
			TokenURL:     v.GetString("spotify.token_url"),
			APIURL:       v.GetString("spotify.api_url"),
			ProcessName:  v.GetString("spotify.process_name"),
		},
		Auth: AuthConfig{
			TokenFile:        v.GetString("auth.token_file"),
			PersistRefreshed: v.GetBool("auth.persist_refreshed"),
			Timeout:          v.GetDuration("auth.timeout"),
		},
		Discord: DiscordConfig{
			Enabled: v.GetBool("discord.enabled"),
			AppID:   v.GetString("discord.app_id"),
		},
	}
}

// Validate checks that the three required Spotify values are present.
// The returned error names every missing key.
func (c *Config) Validate() error {
	var missing []string
	if c.Spotify.ClientID == "" {
		missing = append(missing, "spotify.client_id")
	}
	if c.Spotify.ClientSecret == "" {
		missing = append(missing, "spotify.client_secret")
	}
	if c.Spotify.RedirectURI == "" {
		missing = append(missing, "spotify.redirect_uri")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.Discord.Enabled && c.Discord.AppID == "" {
		return errors.New("discord.app_id is required when discord.enabled is set")
	}
	return nil
}

// getConfigDir returns the configuration directory path
// Creates the directory if it doesn't exist
func getConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	configDir := filepath.Join(homeDir, ".config", "earshot")

	// Create config directory if it doesn't exist
	_ = os.MkdirAll(configDir, 0755)

	return configDir
}

// GetConfigDir returns the configuration directory path (public helper)
func GetConfigDir() string {
	return getConfigDir()
}

func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(homeDir, ".local", "share", "earshot")
}

// StateFile is where the daemon publishes its last observed snapshot
func (c *Config) StateFile() string {
	return filepath.Join(c.DataDir, "state.json")
}

// HistoryDB is the play log database path
func (c *Config) HistoryDB() string {
	return filepath.Join(c.DataDir, "history.db")
}
