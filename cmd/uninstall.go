package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/jfmyers9/earshot/internal/daemon"
	"github.com/spf13/cobra"
)

// uninstallCmd represents the uninstall command
var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Uninstall the earshot login service",
	Long: `Stop the earshot daemon and remove its login service.

This command will:
  - Stop the running daemon (if any)
  - Unregister it from launchd or systemd
  - Remove the service file

The stored Spotify session and the play history are kept. Use
'earshot logout' to forget the session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		goos := runtime.GOOS

		servicePath, err := daemon.ServicePath(goos)
		if err != nil {
			return err
		}

		if _, err := os.Stat(servicePath); os.IsNotExist(err) {
			fmt.Println("Daemon is not installed (service file not found)")
			return nil
		}

		fmt.Println("Stopping daemon...")
		if err := runService(unloadCommands(goos, os.Getuid())); err != nil {
			fmt.Printf("Warning: failed to unload daemon: %v\n", err)
			fmt.Println("Continuing with service file removal...")
		} else {
			fmt.Println("✓ Daemon stopped")
		}

		if err := os.Remove(servicePath); err != nil {
			return fmt.Errorf("failed to remove service file: %w", err)
		}

		fmt.Printf("✓ Removed %s\n", servicePath)
		fmt.Println("\nThe earshot daemon has been uninstalled successfully.")
		fmt.Println("It will no longer run automatically on login.")
		fmt.Println("\nTo reinstall, run:")
		fmt.Println("  earshot install")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(uninstallCmd)
}
