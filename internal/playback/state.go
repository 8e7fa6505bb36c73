package playback

import (
	"time"

	"github.com/dgnsrekt/glow-audio/internal/audioerr"
	"github.com/dgnsrekt/glow-audio/internal/backend"
	"github.com/dgnsrekt/glow-audio/internal/probe"
)

// State is the session state.
type State int

const (
	// StateIdle indicates no payload is loaded.
	StateIdle State = iota
	// StateLoading indicates a handle is being opened and started.
	StateLoading
	// StatePlaying indicates audio is playing.
	StatePlaying
	// StatePaused indicates playback is paused.
	StatePaused
	// StateEnded indicates the current payload played to the end.
	StateEnded
	// StateError indicates the current payload failed.
	StateError
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// IsActive returns true while a handle may be held.
func (s State) IsActive() bool {
	return s == StateLoading || s == StatePlaying || s == StatePaused
}

// Snapshot is the externally visible playback state.
type Snapshot struct {
	State      State
	Position   time.Duration
	Duration   time.Duration
	Volume     float64
	Rate       float64
	Buffered   []backend.Range
	Format     probe.Format
	RetryCount int
	Error      *audioerr.Error
}

// Result reports how a single play finished.
type Result struct {
	State State // StateEnded, StateError or StateIdle when stopped or superseded
	Err   error
}

// EndedFunc is called once when a play finishes on its own, with nil when
// the stream ended and the playback error otherwise. It is never called for
// plays that were stopped or replaced.
type EndedFunc func(err error)
