package harvest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorClass is the status classification attached to every failed network
// call. It drives the retry and backoff decisions in the fetch clients.
type ErrorClass string

// Error classes, in rough order of severity.
const (
	ErrorClassNone      ErrorClass = ""          // success, no error to classify
	ErrorClassThrottled ErrorClass = "throttled" // retryable, triggers backoff
	ErrorClassTransient ErrorClass = "transient" // retryable: timeouts, 5xx, resets
	ErrorClassNotFound  ErrorClass = "not_found" // terminal for that single fetch
	ErrorClassFatal     ErrorClass = "fatal"     // terminal: malformed request, 4xx
)

// Retryable reports whether a call failing with this class may be attempted
// again.
func (c ErrorClass) Retryable() bool {
	return c == ErrorClassThrottled || c == ErrorClassTransient
}

// Throttling reports whether the class should widen the shared rate budget.
// Timeouts count: a server that stops answering in time is throttling us in
// all but name.
func (c ErrorClass) Throttling() bool {
	return c == ErrorClassThrottled
}

// Sentinel errors surfaced by the fetch clients and stores.
var (
	// ErrNotFound is returned when the remote reports the resource missing.
	ErrNotFound = errors.New("resource not found")

	// ErrRetryExhausted is returned when all retry attempts are spent.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// FetchError carries the HTTP status and classification of a failed call.
type FetchError struct {
	URL        string
	StatusCode int
	Class      ErrorClass
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s (status %d): %v", e.URL, e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Class, e.StatusCode)
}

// Unwrap supports errors.Is/As chains.
func (e *FetchError) Unwrap() error { return e.Err }

// ClassOf extracts the ErrorClass from err, defaulting to transient so that
// unclassified network failures stay retryable.
func ClassOf(err error) ErrorClass {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Class
	}
	if errors.Is(err, ErrNotFound) {
		return ErrorClassNotFound
	}
	if errors.Is(err, context.Canceled) {
		return ErrorClassFatal
	}
	return ErrorClassTransient
}

// ClassifyStatus maps an HTTP status code to an ErrorClass. 2xx codes do not
// reach this function.
func ClassifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassThrottled
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		// The upstream treats these as load shedding, so they feed backoff too.
		return ErrorClassThrottled
	case status == http.StatusNotFound, status == http.StatusGone:
		return ErrorClassNotFound
	case status >= 500:
		return ErrorClassTransient
	default:
		return ErrorClassFatal
	}
}

// ClassifyTransport maps a transport-level error (no HTTP response) to an
// ErrorClass.
func ClassifyTransport(err error) ErrorClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassThrottled
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassThrottled
	}
	if errors.Is(err, context.Canceled) {
		return ErrorClassFatal
	}
	return ErrorClassTransient
}

// PageFetchError records a page whose listing fetch exhausted its retries.
// The run continues; the page is reported as a gap.
type PageFetchError struct {
	Section string
	Index   int
	Err     error
}

// Error implements the error interface.
func (e *PageFetchError) Error() string {
	return fmt.Sprintf("page %s/%d: listing fetch exhausted: %v", e.Section, e.Index, e.Err)
}

// Unwrap supports errors.Is/As chains.
func (e *PageFetchError) Unwrap() error { return e.Err }

// ExtractionError reports that an artifact's bytes could not be turned into
// text. The owning record remains valid metadata.
type ExtractionError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract text: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extract text: %s", e.Reason)
}

// Unwrap supports errors.Is/As chains.
func (e *ExtractionError) Unwrap() error { return e.Err }

// StorageError is fatal for the current commit and propagates out of the
// pipeline: continuing after a failed write would break the atomic
// completion invariant.
type StorageError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Path, e.Err)
}

// Unwrap supports errors.Is/As chains.
func (e *StorageError) Unwrap() error { return e.Err }
