package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/jfmyers9/earshot/internal/history"
	"github.com/mattn/go-runewidth"
)

func TestPrintPlays(t *testing.T) {
	started := time.Date(2026, 3, 14, 21, 5, 0, 0, time.Local)
	plays := []history.Play{
		{Title: "Windowlicker", Artist: "Aphex Twin", Duration: 367 * time.Second, StartedAt: started},
		{Title: "夜に駆ける", Artist: "YOASOBI", Duration: 261 * time.Second, StartedAt: started.Add(-5 * time.Minute)},
		{Title: "A Title Long Enough To Need Truncation In The Listing", Artist: "Someone", Duration: time.Minute, StartedAt: started},
	}

	var buf bytes.Buffer
	printPlays(&buf, plays)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != len(plays) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(plays), buf.String())
	}

	if !strings.HasPrefix(lines[0], "2026-03-14 21:05  Aphex Twin") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.HasSuffix(lines[0], "06:07") {
		t.Errorf("line 0 should end with the duration: %q", lines[0])
	}
	if !strings.Contains(lines[2], "...") {
		t.Errorf("long title should be truncated: %q", lines[2])
	}

	// Columns line up in display width, including wide runes
	width := runewidth.StringWidth(lines[0])
	for i, line := range lines {
		if w := runewidth.StringWidth(line); w != width {
			t.Errorf("line %d width = %d, want %d: %q", i, w, width, line)
		}
	}
}

func TestPrintPlays_Empty(t *testing.T) {
	var buf bytes.Buffer
	printPlays(&buf, nil)
	if !strings.Contains(buf.String(), "No plays") {
		t.Errorf("output = %q", buf.String())
	}
}
