package auth

import "errors"

var (
	// ErrNotFound is returned by a TokenStore when no usable session is
	// stored. It is not fatal: a fresh authorization follows.
	ErrNotFound = errors.New("no stored session")

	// ErrAuthorizationDenied is returned when the user declines consent
	// (the redirect carries an error parameter).
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrMalformedRedirect is returned when the redirect cannot be trusted
	// or lacks the authorization code.
	ErrMalformedRedirect = errors.New("malformed authorization redirect")

	// ErrTokenExchangeFailed is returned when the token endpoint rejects
	// the code or omits a token from its response.
	ErrTokenExchangeFailed = errors.New("token exchange failed")

	// ErrRefreshFailed is returned when a refresh-token grant fails.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrAuthTimeout is returned when no redirect arrives in time.
	ErrAuthTimeout = errors.New("authentication timed out waiting for callback")

	// ErrNoSession is returned when a token is requested before Start.
	ErrNoSession = errors.New("no active session")
)
