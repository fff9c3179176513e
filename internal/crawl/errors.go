package crawl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies a node-level failure.
type ErrorKind string

// Failure kinds. RateLimited, ServerError and Timeout are transient; the
// rest are permanent and never retried.
const (
	KindRateLimited  ErrorKind = "rate_limited"
	KindServerError  ErrorKind = "server_error"
	KindTimeout      ErrorKind = "timeout"
	KindUnauthorized ErrorKind = "unauthorized"
	KindForbidden    ErrorKind = "forbidden"
	KindNotFound     ErrorKind = "not_found"
	KindMalformed    ErrorKind = "malformed"
	KindUnknown      ErrorKind = "unknown"
)

// FetchError is the tagged failure result returned by every SourceClient
// call. Workers hand it to the scheduler instead of letting errors cross
// goroutine boundaries untyped.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int
	Msg        string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindServerError, KindTimeout:
		return true
	default:
		return false
	}
}

// AuthFailure reports whether the failure means the source itself is
// unreachable for this job's credentials.
func (e *FetchError) AuthFailure() bool {
	return e.Kind == KindUnauthorized || e.Kind == KindForbidden
}

// NewFetchError builds a FetchError with an explicit kind.
func NewFetchError(kind ErrorKind, msg string) *FetchError {
	return &FetchError{Kind: kind, Msg: msg}
}

// ClassifyStatus maps an HTTP response status to a FetchError, or nil for
// success statuses.
func ClassifyStatus(status int, msg string) *FetchError {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return &FetchError{Kind: KindRateLimited, StatusCode: status, Msg: msg}
	case status == http.StatusUnauthorized:
		return &FetchError{Kind: KindUnauthorized, StatusCode: status, Msg: msg}
	case status == http.StatusForbidden:
		return &FetchError{Kind: KindForbidden, StatusCode: status, Msg: msg}
	case status == http.StatusNotFound:
		return &FetchError{Kind: KindNotFound, StatusCode: status, Msg: msg}
	case status >= 500:
		return &FetchError{Kind: KindServerError, StatusCode: status, Msg: msg}
	default:
		return &FetchError{Kind: KindUnknown, StatusCode: status, Msg: msg}
	}
}

// ClassifyErr normalizes an arbitrary transport error into a FetchError.
// Context cancellation is passed through untouched so callers can tell a
// cancelled job from a failed call.
func ClassifyErr(err error) error {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: KindTimeout, Msg: err.Error(), Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Kind: KindTimeout, Msg: err.Error(), Err: err}
	}
	return &FetchError{Kind: KindUnknown, Msg: err.Error(), Err: err}
}

// kindOf extracts the ErrorKind for the error record; unknown for non-fetch
// errors.
func kindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// retryableErr reports whether err is a transient FetchError.
func retryableErr(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return false
}
