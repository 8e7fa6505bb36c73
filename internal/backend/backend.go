// Package backend defines the playback primitive the session drives and
// provides an oto implementation plus a scriptable mock.
package backend

import (
	"time"

	"github.com/dgnsrekt/glow-audio/internal/probe"
)

// EventType identifies an asynchronous handle event.
type EventType int

const (
	// EventEnded fires when playback reaches the end of the stream.
	EventEnded EventType = iota
	// EventError fires when playback fails after it started.
	EventError
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered at most once per handle.
type Event struct {
	Type EventType
	Err  error
}

// Range is a buffered span [Start, End).
type Range struct {
	Start time.Duration
	End   time.Duration
}

// Handle is an opened, playable stream.
type Handle interface {
	// Start begins playback. It may fail transiently and be retried.
	Start() error
	Pause() error
	Resume() error
	Seek(pos time.Duration) error
	SetVolume(volume float64)
	SetRate(rate float64)
	Position() time.Duration
	Duration() time.Duration
	Buffered() []Range
	// Events delivers the handle's single ended or error event.
	Events() <-chan Event
	// Close stops playback and releases the stream.
	Close() error
}

// Opener opens a playable handle for a payload in the given format.
type Opener interface {
	Open(payload []byte, format probe.Format) (Handle, error)
}

// FormatSupport answers whether a format can be played.
type FormatSupport interface {
	Supports(format probe.Format) bool
}

// Backend is a complete playback primitive.
type Backend interface {
	Opener
	FormatSupport
	Close() error
}
