package passkey

import (
	"errors"
	"fmt"
	"time"
)

// ErrAborted is returned once the portal has throttled too many requests in
// a row, the caller should give up on the whole pass.
var ErrAborted = errors.New("aborted after repeated throttling")

// SessionError means the portal session could not be established or was
// rejected (401/403) and has to be re-initialized.
type SessionError struct {
	Status int
	Err    error
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("portal session: %s", e.Err.Error())
	}
	return fmt.Sprintf("portal session rejected with status %d", e.Status)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// ThrottledError is a 429 from the portal.
type ThrottledError struct {
	RetryAfter string
	Throttles  int
}

func (e *ThrottledError) Error() string {
	if e.RetryAfter != "" {
		return fmt.Sprintf("throttled by portal (consecutive: %d, retry-after: %s)", e.Throttles, e.RetryAfter)
	}
	return fmt.Sprintf("throttled by portal (consecutive: %d)", e.Throttles)
}

// ParseError means the results page did not contain availability data in a
// shape we understand.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse results: %s: %s", e.Reason, e.Err.Error())
	}
	return fmt.Sprintf("parse results: %s", e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// StatusError is any other non-2xx response.
type StatusError struct {
	Status int
	Url    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Status, e.Url)
}

// RetriesExhaustedError wraps the last failure of a request that used up its
// attempts.
type RetriesExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts (%s): %s", e.Attempts, e.Elapsed.Round(time.Millisecond), e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Last
}
