package music

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// UnknownVolume is reported when the host volume could not be read
const UnknownVolume = -1

// VolumeReader reads the host's master output volume (0-100)
type VolumeReader interface {
	Volume(ctx context.Context) (int, error)
}

// ExecVolumeReader reads the system output volume with osascript on macOS
// and pactl on Linux.
type ExecVolumeReader struct {
	goos string
	run  runCommand
}

// NewVolumeReader creates a volume reader for the current platform
func NewVolumeReader() *ExecVolumeReader {
	return &ExecVolumeReader{
		goos: runtime.GOOS,
		run:  execOutput,
	}
}

// Volume returns the current output volume
func (r *ExecVolumeReader) Volume(ctx context.Context) (int, error) {
	switch r.goos {
	case "darwin":
		output, err := r.run(ctx, "osascript", "-e", "output volume of (get volume settings)")
		if err != nil {
			return UnknownVolume, fmt.Errorf("failed to read volume: %w", err)
		}
		return parseOSAVolume(string(output))
	case "linux":
		output, err := r.run(ctx, "pactl", "get-sink-volume", "@DEFAULT_SINK@")
		if err != nil {
			return UnknownVolume, fmt.Errorf("failed to read volume: %w", err)
		}
		return parsePactlVolume(string(output))
	default:
		return UnknownVolume, fmt.Errorf("volume reading not supported on %s", r.goos)
	}
}

// ReadVolume returns the volume or UnknownVolume on any failure.
// A nil reader always yields UnknownVolume.
func ReadVolume(ctx context.Context, r VolumeReader) int {
	if r == nil {
		return UnknownVolume
	}
	v, err := r.Volume(ctx)
	if err != nil {
		return UnknownVolume
	}
	return v
}

// parseOSAVolume parses osascript output such as "42". Muted outputs and
// some devices report "missing value".
func parseOSAVolume(output string) (int, error) {
	s := strings.TrimSpace(output)
	if s == "missing value" {
		return UnknownVolume, fmt.Errorf("volume not available for current output device")
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return UnknownVolume, fmt.Errorf("failed to parse volume %q: %w", s, err)
	}
	return clampVolume(v), nil
}

var pactlPercent = regexp.MustCompile(`(\d+)%`)

// parsePactlVolume extracts the first channel percentage from output like
// "Volume: front-left: 42597 /  65% / -11.23 dB,   front-right: ..."
func parsePactlVolume(output string) (int, error) {
	m := pactlPercent.FindStringSubmatch(output)
	if m == nil {
		return UnknownVolume, fmt.Errorf("no volume percentage in %q", strings.TrimSpace(output))
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return UnknownVolume, fmt.Errorf("failed to parse volume %q: %w", m[1], err)
	}
	return clampVolume(v), nil
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
