package auth

import (
	"reflect"
	"testing"
)

func TestBrowserCommand(t *testing.T) {
	const url = "https://accounts.spotify.com/authorize?client_id=abc&state=xyz"

	tests := []struct {
		goos    string
		want    []string
		wantErr bool
	}{
		{goos: "darwin", want: []string{"open", url}},
		{goos: "linux", want: []string{"xdg-open", url}},
		{goos: "freebsd", want: []string{"xdg-open", url}},
		{goos: "windows", want: []string{"rundll32", "url.dll,FileProtocolHandler", url}},
		{goos: "plan9", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			got, err := browserCommand(tt.goos, url)
			if tt.wantErr {
				if err == nil {
					t.Errorf("browserCommand(%q) = %v, want error", tt.goos, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("browserCommand(%q) error = %v", tt.goos, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("browserCommand(%q) = %q, want %q", tt.goos, got, tt.want)
			}
		})
	}
}
