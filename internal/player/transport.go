package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/jfmyers9/earshot/internal/music"
)

// statusTransport turns the status codes the player API uses for
// "nothing to show" and "try again" into music sentinel errors before the
// body reaches the JSON decoder.
type statusTransport struct {
	base http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	var sentinel error
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		sentinel = music.ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		sentinel = music.ErrNoActiveDevice
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		sentinel = music.ErrTransient
	case resp.StatusCode >= 400:
		sentinel = music.ErrRejected
	default:
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return nil, fmt.Errorf("%w: %s %s returned %d", sentinel, req.Method, req.URL.Path, resp.StatusCode)
}

// classify maps client and decoder errors onto the music error taxonomy.
// Errors that already carry a sentinel pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	for _, sentinel := range []error{
		music.ErrUnauthorized,
		music.ErrNoActiveDevice,
		music.ErrNothingPlaying,
		music.ErrMalformedResponse,
		music.ErrRejected,
		music.ErrTransient,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", music.ErrMalformedResponse, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", music.ErrTransient, err)
	}

	return err
}
