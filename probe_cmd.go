package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/glow-audio/internal/clock"
	"github.com/dgnsrekt/glow-audio/internal/lifecycle"
	"github.com/dgnsrekt/glow-audio/internal/probe"
)

var probeCmd = &cobra.Command{
	Use:     "probe FILE...",
	Short:   "Show audio metadata",
	Long:    paragraph(fmt.Sprintf("\n%s format, duration and bit rate of audio files without playing them.", keyword("Show"))),
	Example: paragraph("glow-audio probe *.mp3"),
	Args:    cobra.MinimumNArgs(1),
	RunE:    runProbe,
}

type probeResult struct {
	path string
	meta probe.Metadata
	err  error
}

func runProbe(cmd *cobra.Command, args []string) error {
	registry := lifecycle.NewRegistry()
	defer func() { _ = registry.Close() }()

	prober := probe.New(registry,
		&probe.DecoderOpener{SampleRate: audioConfig.Probe.SampleRate, Channels: audioConfig.Probe.Channels},
		clock.New(),
		audioConfig.Prober())

	results, err := probeFiles(cmd.Context(), prober, args)
	if err != nil {
		return err
	}

	for _, r := range results {
		name := filepath.Base(r.path)
		if r.err != nil && !r.meta.Valid && r.meta.Size == 0 {
			fmt.Println(errorText(fmt.Sprintf("%s: %v", name, r.err)))
			continue
		}
		fmt.Printf("%s  %s  %s  %s  %s\n",
			header(name),
			keyword(string(r.meta.Format)),
			formatDuration(r.meta.Duration),
			humanize.IBytes(uint64(r.meta.Size)), //nolint:gosec
			faint(probeDetail(r)))
	}
	return nil
}

func probeDetail(r probeResult) string {
	if r.err != nil {
		return r.err.Error()
	}
	if !r.meta.Valid {
		return "no duration"
	}
	return fmt.Sprintf("%.0f kbps, probed in %s", r.meta.BitRate, r.meta.ProbeLatency.Round(100*time.Microsecond))
}

// probeFiles probes paths concurrently and returns results in input order.
// Per-file failures are reported in the results; only context cancellation
// aborts the group.
func probeFiles(ctx context.Context, prober *probe.Prober, paths []string) ([]probeResult, error) {
	results := make([]probeResult, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = probeFile(ctx, prober, expandPath(path))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func probeFile(ctx context.Context, prober *probe.Prober, path string) probeResult {
	data, err := os.ReadFile(path)
	if err != nil {
		return probeResult{path: path, err: fmt.Errorf("unable to read file: %w", err)}
	}
	meta, err := prober.Probe(ctx, data)
	return probeResult{path: path, meta: meta, err: err}
}
