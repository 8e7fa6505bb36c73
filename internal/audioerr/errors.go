// Package audioerr defines the error taxonomy shared by the cache and the
// playback session.
package audioerr

import (
	"errors"
	"fmt"
	"time"
)

// Common errors for cache and playback operations.
var (
	// Input errors
	ErrInvalidInput   = errors.New("invalid input: payload is empty")
	ErrInvalidPayload = errors.New("invalid payload: cannot cache empty audio")
	ErrItemTooLarge   = errors.New("item too large for cache")

	// Format errors
	ErrUnsupportedFormat = errors.New("no supported audio format")

	// Playback errors
	ErrPlaybackFailed = errors.New("playback failed to start")
	ErrInvalidState   = errors.New("invalid state for operation")
	ErrCanceled       = errors.New("operation was canceled")

	// Probe errors
	ErrMetadataTimeout = errors.New("metadata probe timed out")
	ErrProbeFailed     = errors.New("metadata probe failed")

	// Lifecycle errors
	ErrDestroyed = errors.New("audio manager has been destroyed")
)

// Kind classifies an Error.
type Kind int

const (
	KindInput Kind = iota
	KindFormat
	KindPlayback
	KindProbe
	KindState
	KindLifecycle
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindFormat:
		return "format"
	case KindPlayback:
		return "playback"
	case KindProbe:
		return "probe"
	case KindState:
		return "state"
	case KindLifecycle:
		return "lifecycle"
	default:
		return "unknown"
	}
}

// Error carries a taxonomy error plus the details recorded for later
// inspection through the playback state.
type Error struct {
	Err       error                  // The underlying sentinel or cause
	Kind      Kind                   // Taxonomy bucket
	Code      string                 // Stable machine-readable code
	Message   string                 // Human-readable message
	Timestamp time.Time              // When the error occurred
	Context   map[string]interface{} // Additional context
}

// New creates an Error with the code derived from the sentinel.
func New(err error, kind Kind, message string) *Error {
	return &Error{
		Err:       err,
		Kind:      kind,
		Code:      CodeOf(err),
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]interface{}),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Message != "":
		return e.Message
	default:
		return "unknown audio error"
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithTimestamp overrides the error timestamp, used when a clock is injected.
func (e *Error) WithTimestamp(t time.Time) *Error {
	e.Timestamp = t
	return e
}

// CodeOf maps a sentinel (anywhere in the chain) to its code.
func CodeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, ErrInvalidPayload):
		return "INVALID_PAYLOAD"
	case errors.Is(err, ErrItemTooLarge):
		return "ITEM_TOO_LARGE"
	case errors.Is(err, ErrUnsupportedFormat):
		return "UNSUPPORTED_FORMAT"
	case errors.Is(err, ErrPlaybackFailed):
		return "PLAYBACK_FAILED"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, ErrCanceled):
		return "CANCELED"
	case errors.Is(err, ErrMetadataTimeout):
		return "METADATA_TIMEOUT"
	case errors.Is(err, ErrProbeFailed):
		return "PROBE_FAILED"
	case errors.Is(err, ErrDestroyed):
		return "DESTROYED"
	default:
		return "UNKNOWN"
	}
}

// IsFatal reports whether an error should surface to the caller as a failed
// operation. Cache-layer degradations are not fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrUnsupportedFormat),
		errors.Is(err, ErrMetadataTimeout),
		errors.Is(err, ErrProbeFailed):
		return false
	}
	return true
}
