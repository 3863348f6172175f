package models

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrStreamConsumed is yielded when a fragment sequence is ranged over a second time.
var ErrStreamConsumed = errors.New("fragment stream already consumed")

// PreconditionError reports a request that was refused before any network call, such as a missing
// credential or an unconfigured client.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Reason
}

// TransportError reports a failed exchange with a remote endpoint. StatusCode is zero when no HTTP
// response was received at all.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		msg := fmt.Sprintf("transport error: HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
		if body := strings.TrimSpace(e.Body); body != "" {
			msg += ": " + body
		}
		return msg
	}
	if e.Err != nil {
		return "transport error: " + e.Err.Error()
	}
	return "transport error"
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether repeating the same request may succeed: rate limiting, server-side failures
// and requests that never got a response.
func (e *TransportError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// MalformedResponseError reports a response whose payload did not have the expected shape.
type MalformedResponseError struct {
	Detail string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response: %s: %v", e.Detail, e.Err)
	}
	return "malformed response: " + e.Detail
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}
