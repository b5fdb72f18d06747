package plex

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrUpstreamUnavailable = errors.New("upstream: host unreachable or retries exhausted")
	ErrUpstreamAuth        = errors.New("upstream: credentials rejected")
	ErrUpstreamMalformed   = errors.New("upstream: invalid response format or malformed data")
)

// UpstreamError is a rich error type that wraps the sentinel errors with
// call context. Non-auth 4xx responses fail with ErrUpstreamUnavailable
// without retry; the Status field carries the detail.
type UpstreamError struct {
	Sentinel error
	Op       string
	Status   int
	Err      error // nested lower-level error (e.g. net.Error)
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("plex: %s: %v", e.Op, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Sentinel
}

func upstreamErr(sentinel error, op string, status int, err error) *UpstreamError {
	return &UpstreamError{Sentinel: sentinel, Op: op, Status: status, Err: err}
}
