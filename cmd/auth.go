package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jfmyers9/earshot/internal/auth"
	"github.com/jfmyers9/earshot/internal/config"
	"github.com/spf13/cobra"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize earshot with your Spotify account",
	Long: `Authorize earshot to read and control your Spotify playback.

This command will:
1. Open the Spotify consent page in your browser
2. Wait for the redirect on the configured redirect URI
3. Exchange the authorization code for an access and refresh token
4. Save the tokens to the token file (default: ~/.config/earshot/token.json)

Any previously stored session is replaced. The redirect URI must be
registered for your application in the Spotify developer dashboard.`,
	RunE: runAuth,
}

// logoutCmd represents the logout command
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored Spotify session",
	RunE:  runLogout,
}

func init() {
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(logoutCmd)
}

func runAuth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger("", levelOr("info"))

	store := auth.NewFileStore(cfg.Auth.TokenFile)
	flow, err := auth.NewFlow(oauthConfig(cfg), store, cfg.Auth.Timeout, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("Opening the Spotify consent page in your browser...")
	fmt.Printf("If it does not open, the URL is logged below. Waiting up to %s.\n\n", cfg.Auth.Timeout)

	if _, err := flow.Authorize(ctx); err != nil {
		switch {
		case errors.Is(err, auth.ErrAuthorizationDenied):
			return fmt.Errorf("authorization was denied in the browser: %w", err)
		case errors.Is(err, auth.ErrAuthTimeout):
			return fmt.Errorf("no redirect arrived within %s: %w", cfg.Auth.Timeout, err)
		default:
			return fmt.Errorf("authorization failed: %w", err)
		}
	}

	fmt.Printf("\n✓ Authorized. Session saved to %s\n", store.Path())
	fmt.Println("\nYou can now run:")
	fmt.Println("  earshot daemon")
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store := auth.NewFileStore(cfg.Auth.TokenFile)
	if err := store.Delete(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	fmt.Printf("✓ Removed %s\n", store.Path())
	return nil
}
