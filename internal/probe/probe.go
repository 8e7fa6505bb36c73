// Package probe derives duration, size and format validity for an audio
// payload within a bounded time.
package probe

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/glow-audio/internal/audioerr"
	"github.com/dgnsrekt/glow-audio/internal/clock"
	"github.com/dgnsrekt/glow-audio/internal/lifecycle"
	"github.com/dgnsrekt/glow-audio/internal/metrics"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 5 * time.Second

// HandleKind is the registry kind used for transient probe handles.
const HandleKind = "probe"

// Metadata describes a probed payload. SampleRate and Channels are assumed
// defaults; only a full decode could measure them.
type Metadata struct {
	Format       Format
	Duration     time.Duration
	Size         int
	SampleRate   int
	Channels     int
	BitRate      float64 // kbps
	Valid        bool
	ProbeLatency time.Duration
}

// Config contains probe settings.
type Config struct {
	Timeout    time.Duration
	SampleRate int
	Channels   int
}

// DefaultConfig returns the default probe configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:    DefaultTimeout,
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
	}
}

// Prober opens a transient handle per payload and reads its duration.
type Prober struct {
	registry *lifecycle.Registry
	opener   Opener
	clock    clock.Clock
	config   Config
}

// New creates a Prober. Zero config fields fall back to defaults.
func New(registry *lifecycle.Registry, opener Opener, clk clock.Clock, config Config) *Prober {
	def := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.SampleRate <= 0 {
		config.SampleRate = def.SampleRate
	}
	if config.Channels <= 0 {
		config.Channels = def.Channels
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Prober{
		registry: registry,
		opener:   opener,
		clock:    clk,
		config:   config,
	}
}

type durationResult struct {
	duration time.Duration
	err      error
}

// Probe returns metadata for payload. The transient handle is released on
// every path, including timeout. On failure the returned Metadata still
// carries format and size with Valid set to false.
func (p *Prober) Probe(ctx context.Context, payload []byte) (Metadata, error) {
	meta := Metadata{
		Format:     DetectFormat(payload),
		Size:       len(payload),
		SampleRate: p.config.SampleRate,
		Channels:   p.config.Channels,
	}
	if len(payload) == 0 {
		return meta, audioerr.ErrInvalidPayload
	}

	start := p.clock.Now()
	h, err := p.registry.Acquire(HandleKind, func() (io.Closer, error) {
		return p.opener.OpenSource(payload)
	})
	if err != nil {
		meta.ProbeLatency = p.clock.Now().Sub(start)
		metrics.RecordProbe("error", meta.ProbeLatency.Seconds())
		return meta, audioerr.New(fmt.Errorf("%w: %w", audioerr.ErrProbeFailed, err), audioerr.KindProbe, "open probe source")
	}
	defer func() {
		if err := p.registry.Release(h); err != nil {
			log.Warn("Failed to release probe handle", "error", err)
		}
	}()

	src, ok := h.Resource().(Source)
	if !ok {
		return meta, audioerr.New(audioerr.ErrProbeFailed, audioerr.KindProbe, "probe handle is not a source")
	}

	// Buffered so the reader never blocks if we stop listening.
	done := make(chan durationResult, 1)
	go func() {
		d, err := src.Duration()
		done <- durationResult{duration: d, err: err}
	}()

	select {
	case res := <-done:
		meta.ProbeLatency = p.clock.Now().Sub(start)
		if res.err != nil {
			metrics.RecordProbe("error", meta.ProbeLatency.Seconds())
			return meta, audioerr.New(fmt.Errorf("%w: %w", audioerr.ErrProbeFailed, res.err), audioerr.KindProbe, "read duration")
		}
		meta.Duration = res.duration
		if res.duration > 0 {
			meta.BitRate = float64(meta.Size) * 8 / res.duration.Seconds() / 1000
			meta.Valid = true
		}
		metrics.RecordProbe("success", meta.ProbeLatency.Seconds())
		log.Debug("Probed payload",
			"format", meta.Format,
			"size", meta.Size,
			"duration", meta.Duration,
			"valid", meta.Valid)
		return meta, nil

	case <-p.clock.After(p.config.Timeout):
		meta.ProbeLatency = p.clock.Now().Sub(start)
		metrics.RecordProbe("timeout", meta.ProbeLatency.Seconds())
		log.Warn("Metadata probe timed out", "timeout", p.config.Timeout, "size", meta.Size)
		return meta, audioerr.New(audioerr.ErrMetadataTimeout, audioerr.KindProbe,
			fmt.Sprintf("no duration after %v", p.config.Timeout)).
			WithTimestamp(p.clock.Now())

	case <-ctx.Done():
		meta.ProbeLatency = p.clock.Now().Sub(start)
		metrics.RecordProbe("canceled", meta.ProbeLatency.Seconds())
		return meta, fmt.Errorf("%w: %w", audioerr.ErrCanceled, ctx.Err())
	}
}
