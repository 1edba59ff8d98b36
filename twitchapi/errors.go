package twitchapi

import (
	"errors"
	"fmt"
)

// ErrNeedRefresh indicates that Helix rejected the access token (HTTP 401).
// It must be checked using [errors.Is].
var ErrNeedRefresh = errors.New("need refresh")

// ErrNoMorePages is returned when Helix answers a cursor request with 400,
// which it does for exhausted or expired cursors.
var ErrNoMorePages = errors.New("no more pages")

// AuthError reports a failure to obtain a usable app access token.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "twitch auth failed: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// UpstreamError reports a Helix call that failed after retries.
// StatusCode is 0 when no HTTP response was received.
type UpstreamError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("helix %s failed: %s", e.Endpoint, e.Message)
	}
	return fmt.Sprintf("helix %s failed: %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// FormatError reports a Helix response whose body didn't have the expected shape.
type FormatError struct {
	Endpoint string
	Err      error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unexpected helix %s response: %v", e.Endpoint, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }
