package probe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hajimehoshi/go-mp3"

	"github.com/dgnsrekt/glow-audio/internal/audioerr"
)

// Assumed stream layout when a payload carries no header of its own.
const (
	DefaultSampleRate = 44100
	DefaultChannels   = 2
	bytesPerSample    = 2
)

// Source is a transient decoded view of a payload opened only to read its
// duration. Duration may block; Close must unblock it.
type Source interface {
	io.Closer
	Duration() (time.Duration, error)
}

// Opener opens a Source for a payload.
type Opener interface {
	OpenSource(payload []byte) (Source, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(payload []byte) (Source, error)

// OpenSource calls f(payload).
func (f OpenerFunc) OpenSource(payload []byte) (Source, error) {
	return f(payload)
}

// DecoderOpener reads durations by decoding the payload's headers.
type DecoderOpener struct {
	// SampleRate and Channels describe raw PCM payloads.
	SampleRate int
	Channels   int
}

// NewDecoderOpener returns a DecoderOpener using the default PCM layout.
func NewDecoderOpener() *DecoderOpener {
	return &DecoderOpener{SampleRate: DefaultSampleRate, Channels: DefaultChannels}
}

// OpenSource implements Opener.
func (o *DecoderOpener) OpenSource(payload []byte) (Source, error) {
	if len(payload) == 0 {
		return nil, audioerr.ErrInvalidPayload
	}

	switch format := DetectFormat(payload); format {
	case FormatMP3:
		dec, err := mp3.NewDecoder(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
		}
		return &staticSource{duration: mp3Duration(dec)}, nil
	case FormatWAV:
		header, err := ParseWAVHeader(payload)
		if err != nil {
			return nil, err
		}
		return &staticSource{duration: header.Duration()}, nil
	case FormatPCM:
		return &staticSource{duration: PCMDuration(len(payload), o.SampleRate, o.Channels)}, nil
	default:
		return nil, fmt.Errorf("%w: no decoder for %s", audioerr.ErrUnsupportedFormat, format)
	}
}

// mp3Duration converts the decoder's decoded length into a duration. go-mp3
// always produces 16-bit stereo, so one frame is four bytes.
func mp3Duration(dec *mp3.Decoder) time.Duration {
	length := dec.Length()
	if length <= 0 || dec.SampleRate() <= 0 {
		return 0
	}
	frames := length / 4
	return time.Duration(frames) * time.Second / time.Duration(dec.SampleRate())
}

// PCMDuration returns the duration of raw 16-bit PCM.
// Formula: samples = bytes / (channels * bytes_per_sample)
func PCMDuration(size, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := size / (channels * bytesPerSample)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

type staticSource struct {
	duration time.Duration
}

func (s *staticSource) Duration() (time.Duration, error) {
	return s.duration, nil
}

func (s *staticSource) Close() error { return nil }

// WAVHeader is the subset of a RIFF/WAVE header needed for playback.
type WAVHeader struct {
	Channels      int
	SampleRate    int
	BitsPerSample int
	DataOffset    int
	DataSize      int
}

// Duration returns the length of the data chunk.
func (h WAVHeader) Duration() time.Duration {
	frame := h.Channels * h.BitsPerSample / 8
	if frame <= 0 || h.SampleRate <= 0 {
		return 0
	}
	frames := h.DataSize / frame
	return time.Duration(frames) * time.Second / time.Duration(h.SampleRate)
}

// ParseWAVHeader walks the RIFF chunks for "fmt " and "data".
func ParseWAVHeader(payload []byte) (WAVHeader, error) {
	var h WAVHeader
	if len(payload) < 12 || string(payload[0:4]) != "RIFF" || string(payload[8:12]) != "WAVE" {
		return h, errors.New("not a RIFF/WAVE payload")
	}

	var haveFmt bool
	offset := 12
	for offset+8 <= len(payload) {
		id := string(payload[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(payload[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if body+16 > len(payload) {
				return h, errors.New("truncated fmt chunk")
			}
			h.Channels = int(binary.LittleEndian.Uint16(payload[body+2 : body+4]))
			h.SampleRate = int(binary.LittleEndian.Uint32(payload[body+4 : body+8]))
			h.BitsPerSample = int(binary.LittleEndian.Uint16(payload[body+14 : body+16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return h, errors.New("data chunk before fmt chunk")
			}
			h.DataOffset = body
			h.DataSize = size
			if body+size > len(payload) {
				// Streaming writers leave the size unset; trust the buffer.
				h.DataSize = len(payload) - body
			}
			return h, nil
		}

		// Chunks are word aligned.
		offset = body + size + size%2
	}
	return h, errors.New("missing data chunk")
}
