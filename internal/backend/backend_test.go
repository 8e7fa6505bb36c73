package backend

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/dgnsrekt/glow-audio/internal/audioerr"
	"github.com/dgnsrekt/glow-audio/internal/probe"
)

func wavPayload(sampleRate, channels, bits, dataSize int) []byte {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*bits/8))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels*bits/8))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bits))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(make([]byte, dataSize))
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		payload  []byte
		format   probe.Format
		wantErr  error
		duration time.Duration
	}{
		{
			name:     "raw pcm",
			payload:  make([]byte, 88200),
			format:   probe.FormatPCM,
			duration: 500 * time.Millisecond,
		},
		{
			name:     "16-bit wav",
			payload:  wavPayload(44100, 2, 16, 176400),
			format:   probe.FormatWAV,
			duration: time.Second,
		},
		{
			name:    "8-bit wav",
			payload: wavPayload(8000, 1, 8, 8000),
			format:  probe.FormatWAV,
			wantErr: audioerr.ErrUnsupportedFormat,
		},
		{
			name:    "ogg",
			payload: []byte("OggS"),
			format:  probe.FormatOGG,
			wantErr: audioerr.ErrUnsupportedFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Decode(tt.payload, tt.format, 44100, 2)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if s.Duration() != tt.duration {
				t.Errorf("Duration = %v, want %v", s.Duration(), tt.duration)
			}
		})
	}
}

func TestStream_BytesAt(t *testing.T) {
	s := &Stream{SampleRate: 44100, Channels: 2, Size: 176400}
	if got := s.BytesAt(500 * time.Millisecond); got != 88200 {
		t.Errorf("BytesAt(500ms) = %d, want 88200", got)
	}
	if got := s.BytesAt(0); got != 0 {
		t.Errorf("BytesAt(0) = %d, want 0", got)
	}
}

func TestCountingReader(t *testing.T) {
	c := &countingReader{r: bytes.NewReader(make([]byte, 100))}
	buf := make([]byte, 30)
	_, _ = c.Read(buf)
	if c.Offset() != 30 {
		t.Errorf("offset = %d, want 30", c.Offset())
	}
	if _, err := c.Seek(10, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	if c.Offset() != 10 {
		t.Errorf("offset after seek = %d, want 10", c.Offset())
	}
}

func TestCountingReader_ConcurrentOffset(t *testing.T) {
	c := &countingReader{r: bytes.NewReader(make([]byte, 64*1024))}

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 16)
		for {
			if _, err := c.Read(buf); err != nil {
				return
			}
		}
	}()

	var last int64
	for i := 0; i < 1000; i++ {
		off := c.Offset()
		if off < last {
			t.Fatalf("offset went backwards: %d after %d", off, last)
		}
		last = off
	}
	<-done

	if c.Offset() != 64*1024 {
		t.Errorf("offset = %d, want %d", c.Offset(), 64*1024)
	}
}

func TestMock_StartFailures(t *testing.T) {
	m := NewMock()
	m.FailStarts(2, nil)

	h, err := m.Open([]byte{1, 2, 3, 4}, probe.FormatPCM)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := h.Start(); !errors.Is(err, ErrSimulatedStart) {
			t.Fatalf("start %d: expected scripted failure, got %v", i+1, err)
		}
	}
	if err := h.Start(); err != nil {
		t.Fatalf("third start should succeed, got %v", err)
	}

	mh := m.Last()
	if mh.Starts() != 3 || !mh.IsPlaying() {
		t.Errorf("starts=%d playing=%v", mh.Starts(), mh.IsPlaying())
	}
}

func TestMock_EventsFireOnce(t *testing.T) {
	m := NewMock()
	h, _ := m.Open(make([]byte, 8), probe.FormatPCM)
	mh := m.Last()

	mh.Finish()
	mh.Fail(errors.New("late"))

	ev := <-h.Events()
	if ev.Type != EventEnded {
		t.Errorf("event = %s, want ended", ev.Type)
	}
	select {
	case ev := <-h.Events():
		t.Errorf("unexpected second event %s", ev.Type)
	default:
	}
}

func TestMock_Supports(t *testing.T) {
	m := NewMock()
	if !m.Supports(probe.FormatMP3) || m.Supports(probe.FormatOGG) {
		t.Error("unexpected default support set")
	}
	m.SetSupported(probe.FormatOGG)
	if m.Supports(probe.FormatMP3) || !m.Supports(probe.FormatOGG) {
		t.Error("SetSupported should replace the support set")
	}
}

func TestMock_CountsOpensAndCloses(t *testing.T) {
	m := NewMock()
	h1, _ := m.Open([]byte{1}, probe.FormatPCM)
	h2, _ := m.Open([]byte{2}, probe.FormatPCM)
	_ = h1.Close()
	_ = h2.Close()

	if m.Opens() != 2 || m.Closes() != 2 {
		t.Errorf("opens=%d closes=%d, want 2/2", m.Opens(), m.Closes())
	}

	m.FailOpen(errors.New("no device"))
	if _, err := m.Open([]byte{3}, probe.FormatPCM); err == nil {
		t.Error("expected open failure")
	}
}

func TestMock_AutoFinish(t *testing.T) {
	m := NewMock()
	m.SetAutoFinish(true)
	m.SetDuration(10 * time.Millisecond)

	h, err := m.Open([]byte{1, 2, 3, 4}, probe.FormatPCM)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := h.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case ev := <-h.Events():
		if ev.Type != EventEnded {
			t.Errorf("event = %s, want ended", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handle did not finish")
	}
	if h.Position() != 10*time.Millisecond {
		t.Errorf("position = %v, want 10ms", h.Position())
	}
}
