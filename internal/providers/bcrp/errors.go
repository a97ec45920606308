package bcrp

import (
	"errors"
	"fmt"
)

// ErrKind classifies fetch failures.
type ErrKind string

const (
	KindTransport         ErrKind = "transport"
	KindHTTPStatus        ErrKind = "http_status"
	KindMalformedResponse ErrKind = "malformed_response"
	KindMalformedValue    ErrKind = "malformed_value"
	KindMalformedPeriod   ErrKind = "malformed_period"
)

// ErrFetch matches every *FetchError with errors.Is.
var ErrFetch = errors.New("bcrp fetch failed")

// FetchError is returned by Client.Fetch. Fetch failures are non-fatal for
// callers: the adapter always returns an empty table next to the error.
type FetchError struct {
	Kind       ErrKind
	URL        string
	StatusCode int    // set for KindHTTPStatus
	Value      string // offending literal for KindMalformedValue / KindMalformedPeriod
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("bcrp: HTTP status %d for %s", e.StatusCode, e.URL)
	case KindMalformedValue:
		return fmt.Sprintf("bcrp: malformed value %q: %v", e.Value, e.Err)
	case KindMalformedPeriod:
		return fmt.Sprintf("bcrp: malformed period %q: %v", e.Value, e.Err)
	}
	return fmt.Sprintf("bcrp: %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrFetch) true for any FetchError.
func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// IsTransport reports whether err is a transport-level failure (network,
// timeout, HTTP status or unexpected response shape).
func IsTransport(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	return fe.Kind == KindTransport || fe.Kind == KindHTTPStatus || fe.Kind == KindMalformedResponse
}
