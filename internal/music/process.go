package music

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// ProcessDetector reports whether the provider's desktop client is running
// on this machine.
type ProcessDetector interface {
	Running(ctx context.Context) (bool, error)
}

// runCommand executes a command and returns its stdout. Replaced in tests.
type runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)

func execOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// ExecDetector looks for a process by name using the platform's process
// listing tool (pgrep on macOS and Linux, tasklist on Windows).
type ExecDetector struct {
	name string
	goos string
	run  runCommand
}

// NewProcessDetector creates a detector for the named process
func NewProcessDetector(name string) *ExecDetector {
	return &ExecDetector{
		name: name,
		goos: runtime.GOOS,
		run:  execOutput,
	}
}

// Running checks if the process is currently running
func (d *ExecDetector) Running(ctx context.Context) (bool, error) {
	switch d.goos {
	case "darwin", "linux":
		_, err := d.run(ctx, "pgrep", "-x", "-i", d.name)
		if err == nil {
			return true, nil
		}
		// pgrep exits 1 when nothing matched
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("failed to check if %s is running: %w", d.name, err)
	case "windows":
		image := d.name
		if !strings.HasSuffix(strings.ToLower(image), ".exe") {
			image += ".exe"
		}
		output, err := d.run(ctx, "tasklist", "/FI", "IMAGENAME eq "+image, "/NH")
		if err != nil {
			return false, fmt.Errorf("failed to check if %s is running: %w", d.name, err)
		}
		return tasklistContains(string(output), image), nil
	default:
		return false, fmt.Errorf("unsupported platform: %s", d.goos)
	}
}

// tasklistContains parses tasklist output, which lists one process per
// line starting with the image name, or prints an INFO line when empty.
func tasklistContains(output, image string) bool {
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if strings.EqualFold(fields[0], image) {
			return true
		}
	}
	return false
}
