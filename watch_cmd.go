package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/glow-audio/pkg/audio"
)

var (
	watchPlay  bool
	ingestRate float64

	watchCmd = &cobra.Command{
		Use:   "watch DIR",
		Short: "Cache audio files as they appear in a directory",
		Long: paragraph(fmt.Sprintf("\n%s a directory and cache every audio file written to it. With --play, each new file is played as soon as it is cached and replaces whatever was playing.",
			keyword("Watch"))),
		Example: paragraph("glow-audio watch ~/speech --play"),
		Args:    cobra.ExactArgs(1),
		RunE:    runWatch,
	}
)

func init() {
	watchCmd.Flags().BoolVarP(&watchPlay, "play", "p", false, "play each file once cached")
	watchCmd.Flags().Float64Var(&ingestRate, "ingest-rate", 4, "maximum files cached per second")
}

func runWatch(cmd *cobra.Command, args []string) error {
	dir := expandPath(args[0])
	if st, err := os.Stat(dir); err != nil {
		return fmt.Errorf("unable to watch: %w", err)
	} else if !st.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	if ingestRate <= 0 {
		return errors.New("ingest rate must be positive")
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stopMetrics := startMetrics(audioConfig)
	defer stopMetrics()

	m, err := newManager(audioConfig)
	if err != nil {
		return err
	}
	defer func() { _ = m.Destroy() }()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("unable to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("unable to watch %s: %w", dir, err)
	}
	fmt.Printf("Watching %s %s\n", header(dir), faint("(ctrl+c to stop)"))

	w := &ingester{
		manager: m,
		limiter: rate.NewLimiter(rate.Limit(ingestRate), 1),
		play:    watchPlay,
	}
	return w.run(ctx, watcher.Events, watcher.Errors)
}

// ingester caches files reported by a watcher.
type ingester struct {
	manager *audio.Manager
	limiter *rate.Limiter
	play    bool
}

func (w *ingester) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := w.handle(ctx, ev); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				fmt.Println(errorText(fmt.Sprintf("%s: %v", filepath.Base(ev.Name), err)))
				log.Error("Unable to cache file", "file", ev.Name, "error", err)
			}

		case err, ok := <-errs:
			if !ok {
				return nil
			}
			log.Warn("Watcher error", "error", err)
		}
	}
}

func (w *ingester) handle(ctx context.Context, ev fsnotify.Event) error {
	if !isAudioFile(ev.Name) {
		return nil
	}
	key := cacheKey(ev.Name)

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		if removed, err := w.manager.Delete(key); err != nil {
			return err
		} else if removed {
			log.Debug("Dropped removed file", "file", ev.Name)
		}
		return nil
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return nil
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	data, err := os.ReadFile(ev.Name)
	if err != nil {
		return fmt.Errorf("unable to read file: %w", err)
	}
	if len(data) == 0 {
		// Still being written; the next write event picks it up.
		return nil
	}
	if err := w.manager.Put(ctx, key, data); err != nil {
		return err
	}

	stats, err := w.manager.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("%s %s %s\n",
		keyword("+"),
		filepath.Base(ev.Name),
		faint(fmt.Sprintf("(%s, cache %d/%d entries, %s)",
			humanize.IBytes(uint64(len(data))),
			stats.EntryCount, stats.MaxEntries,
			humanize.IBytes(uint64(stats.TotalBytes))))) //nolint:gosec

	if !w.play {
		return nil
	}
	start := time.Now()
	name := filepath.Base(ev.Name)
	return w.manager.PlayKey(ctx, key, func(err error) {
		if err != nil {
			log.Error("Playback failed", "file", name, "error", err)
			return
		}
		log.Info("Finished playing", "file", name, "took", time.Since(start).Round(time.Millisecond))
	})
}
