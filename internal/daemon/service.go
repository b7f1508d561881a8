package daemon

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

const (
	// ServiceLabel identifies the launchd agent
	ServiceLabel = "com.earshot.daemon"
	// SystemdUnit is the systemd user unit name
	SystemdUnit = "earshot.service"
)

const plistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{.Label}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.BinaryPath}}</string>
		<string>daemon</string>
		<string>--log-file</string>
		<string>{{.LogPath}}/earshot.log</string>
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
	<key>StandardErrorPath</key>
	<string>{{.LogPath}}/earshot.err</string>
	<key>WorkingDirectory</key>
	<string>{{.WorkingDirectory}}</string>
	<key>EnvironmentVariables</key>
	<dict>
		<key>PATH</key>
		<string>/usr/local/bin:/usr/bin:/bin:/usr/sbin:/sbin</string>
	</dict>
</dict>
</plist>
`

const systemdTemplate = `[Unit]
Description=earshot now-playing daemon
After=network-online.target

[Service]
ExecStart={{.BinaryPath}} daemon --log-file {{.LogPath}}/earshot.log
WorkingDirectory={{.WorkingDirectory}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`

// ServiceConfig holds what a login service definition needs
type ServiceConfig struct {
	BinaryPath       string
	LogPath          string
	WorkingDirectory string
}

// GenerateService renders the service definition for goos: a launchd
// plist on darwin, a systemd user unit on linux.
func GenerateService(goos string, config ServiceConfig) (string, error) {
	var text string
	switch goos {
	case "darwin":
		text = plistTemplate
	case "linux":
		text = systemdTemplate
	default:
		return "", fmt.Errorf("login services are not supported on %s", goos)
	}

	tmpl, err := template.New("service").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse service template: %w", err)
	}

	data := struct {
		ServiceConfig
		Label string
	}{config, ServiceLabel}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute service template: %w", err)
	}

	return buf.String(), nil
}

// ServicePath returns where the service definition is installed for goos
func ServicePath(goos string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents", ServiceLabel+".plist"), nil
	case "linux":
		return filepath.Join(home, ".config", "systemd", "user", SystemdUnit), nil
	default:
		return "", fmt.Errorf("login services are not supported on %s", goos)
	}
}

// DefaultLogPath returns the default directory for daemon logs
func DefaultLogPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, ".local", "share", "earshot", "logs"), nil
}
