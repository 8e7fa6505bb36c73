package audioerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// TestErrorDefinitions tests that the sentinel errors carry stable codes.
func TestErrorDefinitions(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"ErrInvalidInput", ErrInvalidInput, "INVALID_INPUT"},
		{"ErrInvalidPayload", ErrInvalidPayload, "INVALID_PAYLOAD"},
		{"ErrItemTooLarge", ErrItemTooLarge, "ITEM_TOO_LARGE"},
		{"ErrUnsupportedFormat", ErrUnsupportedFormat, "UNSUPPORTED_FORMAT"},
		{"ErrPlaybackFailed", ErrPlaybackFailed, "PLAYBACK_FAILED"},
		{"ErrInvalidState", ErrInvalidState, "INVALID_STATE"},
		{"ErrCanceled", ErrCanceled, "CANCELED"},
		{"ErrMetadataTimeout", ErrMetadataTimeout, "METADATA_TIMEOUT"},
		{"ErrProbeFailed", ErrProbeFailed, "PROBE_FAILED"},
		{"ErrDestroyed", ErrDestroyed, "DESTROYED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.code {
				t.Errorf("CodeOf(%v) = %q, want %q", tt.err, got, tt.code)
			}
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if got := CodeOf(wrapped); got != tt.code {
				t.Errorf("CodeOf(wrapped) = %q, want %q", got, tt.code)
			}
		})
	}

	if CodeOf(nil) != "" {
		t.Error("CodeOf(nil) should be empty")
	}
	if CodeOf(errors.New("other")) != "UNKNOWN" {
		t.Error("unknown errors should map to UNKNOWN")
	}
}

func TestError_WrapAndContext(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	err := New(ErrPlaybackFailed, KindPlayback, "start failed after 3 attempts").
		WithContext("attempts", 3).
		WithTimestamp(at)

	if !errors.Is(err, ErrPlaybackFailed) {
		t.Error("errors.Is should see the sentinel")
	}

	var target *Error
	if !errors.As(fmt.Errorf("wrapped: %w", err), &target) {
		t.Fatal("errors.As should find *Error")
	}
	if target.Code != "PLAYBACK_FAILED" {
		t.Errorf("Code = %q", target.Code)
	}
	if target.Context["attempts"] != 3 {
		t.Errorf("Context[attempts] = %v", target.Context["attempts"])
	}
	if !target.Timestamp.Equal(at) {
		t.Errorf("Timestamp = %v, want %v", target.Timestamp, at)
	}
	if !strings.Contains(err.Error(), "start failed") || !strings.Contains(err.Error(), "playback failed") {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if target.Kind.String() != "playback" {
		t.Errorf("Kind = %s", target.Kind)
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil", nil, false},
		{"unsupported format degrades", ErrUnsupportedFormat, false},
		{"probe timeout degrades", ErrMetadataTimeout, false},
		{"probe failure degrades", fmt.Errorf("x: %w", ErrProbeFailed), false},
		{"playback failure", ErrPlaybackFailed, true},
		{"destroyed", ErrDestroyed, true},
		{"invalid state", ErrInvalidState, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.fatal)
			}
		})
	}
}
