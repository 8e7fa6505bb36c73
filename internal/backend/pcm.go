package backend

import (
	"bytes"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/hajimehoshi/go-mp3"

	"github.com/dgnsrekt/glow-audio/internal/audioerr"
	"github.com/dgnsrekt/glow-audio/internal/probe"
)

// Stream is decoded 16-bit little endian PCM ready for a player.
type Stream struct {
	Reader     io.ReadSeeker
	Size       int64 // decoded bytes, -1 when unknown
	SampleRate int
	Channels   int
}

// FrameSize is the byte size of one sample frame.
func (s *Stream) FrameSize() int {
	return s.Channels * 2
}

// Duration returns the stream length, or 0 when unknown.
func (s *Stream) Duration() time.Duration {
	if s.Size < 0 || s.SampleRate <= 0 || s.Channels <= 0 {
		return 0
	}
	frames := s.Size / int64(s.FrameSize())
	return time.Duration(frames) * time.Second / time.Duration(s.SampleRate)
}

// BytesAt returns the frame aligned byte offset of pos.
func (s *Stream) BytesAt(pos time.Duration) int64 {
	frames := int64(pos) * int64(s.SampleRate) / int64(time.Second)
	return frames * int64(s.FrameSize())
}

// Decode turns a payload into PCM. Raw PCM uses the given layout.
func Decode(payload []byte, format probe.Format, sampleRate, channels int) (*Stream, error) {
	switch format {
	case probe.FormatMP3:
		dec, err := mp3.NewDecoder(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
		}
		// go-mp3 always decodes to 16-bit stereo.
		return &Stream{
			Reader:     dec,
			Size:       dec.Length(),
			SampleRate: dec.SampleRate(),
			Channels:   2,
		}, nil

	case probe.FormatWAV:
		h, err := probe.ParseWAVHeader(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to parse wav header: %w", err)
		}
		if h.BitsPerSample != 16 {
			return nil, fmt.Errorf("%w: %d-bit wav", audioerr.ErrUnsupportedFormat, h.BitsPerSample)
		}
		data := payload[h.DataOffset : h.DataOffset+h.DataSize]
		return &Stream{
			Reader:     bytes.NewReader(data),
			Size:       int64(len(data)),
			SampleRate: h.SampleRate,
			Channels:   h.Channels,
		}, nil

	case probe.FormatPCM:
		return &Stream{
			Reader:     bytes.NewReader(payload),
			Size:       int64(len(payload)),
			SampleRate: sampleRate,
			Channels:   channels,
		}, nil

	default:
		return nil, fmt.Errorf("%w: cannot decode %s", audioerr.ErrUnsupportedFormat, format)
	}
}

// countingReader tracks the read offset of a stream so the player position
// can be derived from it. The player goroutine reads while callers query
// Offset, so the offset is atomic.
type countingReader struct {
	r      io.ReadSeeker
	offset atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.offset.Add(int64(n))
	return n, err
}

func (c *countingReader) Seek(offset int64, whence int) (int64, error) {
	n, err := c.r.Seek(offset, whence)
	if err == nil {
		c.offset.Store(n)
	}
	return n, err
}

// Offset returns the current read offset.
func (c *countingReader) Offset() int64 {
	return c.offset.Load()
}
