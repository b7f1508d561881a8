package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/jfmyers9/earshot/internal/daemon"
	"github.com/spf13/cobra"
)

// installCmd represents the install command
var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the earshot daemon as a login service",
	Long: `Install the earshot daemon as a service that runs automatically on login.

On macOS this writes a launchd agent to ~/Library/LaunchAgents/ and loads
it with launchctl. On Linux it writes a systemd user unit to
~/.config/systemd/user/ and enables it with systemctl --user.

Run 'earshot auth' first: the service has no browser to authorize with.`,
	RunE: runInstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	goos := runtime.GOOS

	// Get the path to the current executable
	binaryPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Resolve symlinks to get the actual binary path
	binaryPath, err = filepath.EvalSymlinks(binaryPath)
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	logPath, err := daemon.DefaultLogPath()
	if err != nil {
		return fmt.Errorf("failed to get log path: %w", err)
	}
	if err := os.MkdirAll(logPath, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	content, err := daemon.GenerateService(goos, daemon.ServiceConfig{
		BinaryPath:       binaryPath,
		LogPath:          logPath,
		WorkingDirectory: home,
	})
	if err != nil {
		return err
	}

	servicePath, err := daemon.ServicePath(goos)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(servicePath), 0755); err != nil {
		return fmt.Errorf("failed to create service directory: %w", err)
	}

	// Replace an existing installation
	if _, err := os.Stat(servicePath); err == nil {
		fmt.Println("Daemon is already installed. Uninstalling first...")
		if err := runService(unloadCommands(goos, os.Getuid())); err != nil {
			fmt.Printf("Warning: failed to unload existing daemon: %v\n", err)
		}
	}

	if err := os.WriteFile(servicePath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write service file: %w", err)
	}
	fmt.Printf("✓ Installed service to %s\n", servicePath)

	if err := runService(loadCommands(goos, os.Getuid(), servicePath)); err != nil {
		return fmt.Errorf("failed to load daemon: %w", err)
	}

	fmt.Println("✓ Daemon loaded and started successfully")
	fmt.Printf("✓ Logs will be written to %s\n", logPath)
	fmt.Println("\nThe earshot daemon is now running and will start automatically on login.")
	fmt.Println("\nYou can check the daemon status with:")
	if goos == "darwin" {
		fmt.Println("  launchctl list | grep earshot")
	} else {
		fmt.Println("  systemctl --user status " + daemon.SystemdUnit)
	}
	fmt.Println("\nTo uninstall, run:")
	fmt.Println("  earshot uninstall")

	return nil
}

// loadCommands returns the commands that register and start the service
func loadCommands(goos string, uid int, servicePath string) [][]string {
	switch goos {
	case "darwin":
		return [][]string{
			{"launchctl", "bootstrap", fmt.Sprintf("gui/%d", uid), servicePath},
		}
	case "linux":
		return [][]string{
			{"systemctl", "--user", "daemon-reload"},
			{"systemctl", "--user", "enable", "--now", daemon.SystemdUnit},
		}
	}
	return nil
}

// unloadCommands returns the commands that stop and unregister the service
func unloadCommands(goos string, uid int) [][]string {
	switch goos {
	case "darwin":
		return [][]string{
			{"launchctl", "bootout", fmt.Sprintf("gui/%d/%s", uid, daemon.ServiceLabel)},
		}
	case "linux":
		return [][]string{
			{"systemctl", "--user", "disable", "--now", daemon.SystemdUnit},
		}
	}
	return nil
}

// runService runs each command in order and stops at the first failure
func runService(commands [][]string) error {
	for _, args := range commands {
		output, err := exec.Command(args[0], args[1:]...).CombinedOutput()
		if err != nil {
			if msg := strings.TrimSpace(string(output)); msg != "" {
				return fmt.Errorf("%s failed: %s", strings.Join(args[:2], " "), msg)
			}
			return fmt.Errorf("failed to run %s: %w", args[0], err)
		}
	}
	return nil
}
