package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dgnsrekt/glow-audio/internal/playback"
	"github.com/dgnsrekt/glow-audio/pkg/audio"
)

const (
	volumeStep = 0.1
	rateStep   = 0.25
	seekStep   = 5 * time.Second
)

var (
	repeat int

	playCmd = &cobra.Command{
		Use:   "play FILE...",
		Short: "Play audio files",
		Long: paragraph(fmt.Sprintf("\n%s audio files one after another. Files are cached in memory, so repeats are not read from disk again.\n\nKeys: space pause, f/b seek, +/- volume, >/< rate, n next, q quit.",
			keyword("Play"))),
		Example: paragraph("glow-audio play intro.mp3 outro.wav\nglow-audio play --repeat 3 --volume 0.5 speech.wav"),
		Args:    cobra.MinimumNArgs(1),
		RunE:    runPlay,
	}
)

func init() {
	playCmd.Flags().IntVarP(&repeat, "repeat", "r", 1, "play the list this many times")
}

func runPlay(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stopMetrics := startMetrics(audioConfig)
	defer stopMetrics()

	m, err := newManager(audioConfig)
	if err != nil {
		return err
	}
	defer func() { _ = m.Destroy() }()

	ctrl := newControls(m, cancel)
	defer ctrl.restore()

	for pass := 0; pass < max(repeat, 1); pass++ {
		for _, arg := range args {
			if ctx.Err() != nil {
				return nil
			}
			if err := playFile(ctx, m, ctrl, arg); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				ctrl.println(errorText(fmt.Sprintf("%s: %v", filepath.Base(arg), err)))
				log.Error("Playback failed", "file", arg, "error", err)
			}
		}
	}

	if stats, err := m.Stats(); err == nil {
		ctrl.println(faint(fmt.Sprintf("cache: %d entries, %s of %s",
			stats.EntryCount,
			humanize.IBytes(uint64(stats.TotalBytes)),   //nolint:gosec
			humanize.IBytes(uint64(stats.MaxBytes))))) //nolint:gosec
	}
	return nil
}

// loadFile makes sure path is cached and returns its key.
func loadFile(ctx context.Context, m *audio.Manager, path string) (string, error) {
	path = expandPath(path)
	key := cacheKey(path)

	if ok, err := m.Contains(key); err != nil || ok {
		return key, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("unable to read file: %w", err)
	}
	if err := m.Put(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

func playFile(ctx context.Context, m *audio.Manager, ctrl *controls, path string) error {
	key, err := loadFile(ctx, m, path)
	if err != nil {
		return err
	}

	name := filepath.Base(path)
	if meta, ok, _ := m.Metadata(key); ok {
		ctrl.println(fmt.Sprintf("%s %s %s", keyword("▶"), header(name),
			faint(fmt.Sprintf("(%s, %s, %s)", meta.Format, humanize.IBytes(uint64(meta.Size)), formatDuration(meta.Duration))))) //nolint:gosec
	}

	ended := make(chan error, 1)
	if err := m.PlayKey(ctx, key, func(err error) { ended <- err }); err != nil {
		return err
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err := <-ended:
			ctrl.clearStatus()
			return err
		case <-ctrl.skip:
			ctrl.clearStatus()
			return m.Stop()
		case <-ctx.Done():
			ctrl.clearStatus()
			_ = m.Stop()
			return ctx.Err()
		case <-ticker.C:
			state, err := m.PlaybackState()
			if err != nil {
				return err
			}
			ctrl.status(statusLine(state))
		}
	}
}

func statusLine(s audio.PlaybackState) string {
	icon := "▶"
	if s.State == playback.StatePaused {
		icon = "⏸"
	}
	return fmt.Sprintf("%s %s / %s  %s",
		icon,
		formatDuration(s.Position),
		formatDuration(s.Duration),
		faint(fmt.Sprintf("vol %3.0f%%  %.2fx", s.Volume*100, s.Rate)))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

// controls reads single key presses from a terminal stdin and applies them
// to the manager. Without a terminal it does nothing.
type controls struct {
	manager  *audio.Manager
	cancel   context.CancelFunc
	skip     chan struct{}
	fd       int
	oldState *term.State
	tty      bool
}

func newControls(m *audio.Manager, cancel context.CancelFunc) *controls {
	c := &controls{
		manager: m,
		cancel:  cancel,
		skip:    make(chan struct{}, 1),
		fd:      int(os.Stdin.Fd()), //nolint:gosec
	}
	if !term.IsTerminal(c.fd) || !term.IsTerminal(int(os.Stdout.Fd())) { //nolint:gosec
		return c
	}

	state, err := term.MakeRaw(c.fd)
	if err != nil {
		log.Warn("Unable to read keys", "error", err)
		return c
	}
	c.oldState = state
	c.tty = true

	go c.readKeys()
	return c
}

func (c *controls) readKeys() {
	buf := make([]byte, 1)
	for {
		if _, err := os.Stdin.Read(buf); err != nil {
			return
		}
		c.handleKey(buf[0])
	}
}

func (c *controls) handleKey(key byte) {
	state, err := c.manager.PlaybackState()
	if err != nil {
		return
	}

	switch key {
	case 'q', 3: // ctrl+c arrives as a byte in raw mode
		c.cancel()
	case 'n':
		select {
		case c.skip <- struct{}{}:
		default:
		}
	case ' ':
		if state.State == playback.StatePaused {
			err = c.manager.Resume()
		} else {
			err = c.manager.Pause()
		}
	case 'f':
		err = c.manager.Seek(state.Position + seekStep)
	case 'b':
		err = c.manager.Seek(state.Position - seekStep)
	case '+', '=':
		err = c.manager.SetVolume(state.Volume + volumeStep)
	case '-':
		err = c.manager.SetVolume(state.Volume - volumeStep)
	case '>', '.':
		err = c.manager.SetPlaybackRate(state.Rate + rateStep)
	case '<', ',':
		err = c.manager.SetPlaybackRate(state.Rate - rateStep)
	}
	if err != nil {
		log.Debug("Key ignored", "key", string(key), "error", err)
	}
}

func (c *controls) status(line string) {
	if !c.tty {
		return
	}
	fmt.Print("\r\x1b[2K" + line)
}

func (c *controls) clearStatus() {
	if c.tty {
		fmt.Print("\r\x1b[2K")
	}
}

// println writes a full line, with the carriage return raw mode needs.
func (c *controls) println(s string) {
	if c.tty {
		fmt.Print(strings.TrimRight(s, "\n") + "\r\n")
		return
	}
	fmt.Println(s)
}

func (c *controls) restore() {
	if c.oldState != nil {
		_ = term.Restore(c.fd, c.oldState)
		c.oldState = nil
	}
}
