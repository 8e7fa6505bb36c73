// Package main provides the entry point for the glow-audio CLI application.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/glow-audio/internal/backend"
	"github.com/dgnsrekt/glow-audio/internal/config"
	"github.com/dgnsrekt/glow-audio/internal/metrics"
	"github.com/dgnsrekt/glow-audio/pkg/audio"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile        string
	defaultConfigFile string
	useMock           bool
	debug             bool
	metricsAddr       string
	playbackVolume    float64
	playbackRate      float64
	noFade            bool

	rootCmd = &cobra.Command{
		Use:   "glow-audio",
		Short: "Cache and play audio on the CLI",
		Long: paragraph(
			fmt.Sprintf("\nCache and play audio on the CLI, %s.", keyword("with a bounded memory footprint")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return validateOptions()
		},
	}
)

// audioConfig is the resolved configuration for the current invocation.
var audioConfig config.Config

func validateOptions() error {
	if err := useConfigFlag(); err != nil {
		return err
	}

	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}

	if debug {
		cfg.Debug = true
	}
	if noFade {
		cfg.Playback.FadeEnabled = false
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	audioConfig = cfg
	return nil
}

// loadConfig reads the audio section of the config file. Without a config
// file the GLOW_AUDIO_* environment variables are used instead. Flags bound
// to viper win in both cases.
func loadConfig(v *viper.Viper) (config.Config, error) {
	if v.ConfigFileUsed() == "" {
		cfg, err := config.FromEnv()
		if err != nil {
			return cfg, err
		}
		applyFlagOverrides(v, &cfg)
		if err := cfg.Validate(); err != nil {
			return cfg, fmt.Errorf("invalid audio configuration: %w", err)
		}
		return cfg, nil
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return cfg, fmt.Errorf("unable to load %s: %w", v.ConfigFileUsed(), err)
	}
	return cfg, nil
}

func applyFlagOverrides(v *viper.Viper, cfg *config.Config) {
	if v.IsSet("audio.metrics_addr") {
		cfg.MetricsAddr = v.GetString("audio.metrics_addr")
	}
	if v.IsSet("audio.playback.volume") {
		cfg.Playback.Volume = v.GetFloat64("audio.playback.volume")
	}
	if v.IsSet("audio.playback.rate") {
		cfg.Playback.Rate = v.GetFloat64("audio.playback.rate")
	}
}

// newManager builds the audio manager for a command, using the mock backend
// when --mock is set.
func newManager(cfg config.Config) (*audio.Manager, error) {
	var opts []audio.Option
	if useMock {
		mock := backend.NewMock()
		mock.SetAutoFinish(true)
		opts = append(opts, audio.WithBackend(mock))
	}
	m, err := audio.New(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to start audio: %w", err)
	}
	return m, nil
}

// startMetrics serves /metrics when an address is configured. The returned
// func shuts the server down.
func startMetrics(cfg config.Config) func() {
	if cfg.MetricsAddr == "" {
		return func() {}
	}

	exporter := metrics.NewExporter(cfg.MetricsAddr)
	go func() {
		if err := exporter.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", "addr", cfg.MetricsAddr, "error", err)
		}
	}()
	log.Info("Serving metrics", "addr", cfg.MetricsAddr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := exporter.Shutdown(ctx); err != nil {
			log.Warn("Failed to stop metrics server", "error", err)
		}
	}
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", defaultConfigFile))
	rootCmd.PersistentFlags().BoolVar(&useMock, "mock", false, "use a silent mock backend instead of the audio device")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log debug output")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	rootCmd.PersistentFlags().Float64Var(&playbackVolume, "volume", 1.0, "playback volume (0.0 to 1.0)")
	rootCmd.PersistentFlags().Float64Var(&playbackRate, "rate", 1.0, "playback rate (0.25 to 4.0)")
	rootCmd.PersistentFlags().BoolVar(&noFade, "no-fade", false, "stop without fading out")

	// Config bindings
	_ = viper.BindPFlag("audio.debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("audio.metrics_addr", rootCmd.PersistentFlags().Lookup("metrics-addr"))
	_ = viper.BindPFlag("audio.playback.volume", rootCmd.PersistentFlags().Lookup("volume"))
	_ = viper.BindPFlag("audio.playback.rate", rootCmd.PersistentFlags().Lookup("rate"))

	config.SetDefaults(viper.GetViper())

	rootCmd.AddCommand(configCmd, manCmd, playCmd, probeCmd, watchCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "glow-audio")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "glow-audio")}, dirs...)
	}

	if c := os.Getenv("GLOW_AUDIO_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("glow-audio")
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		defaultConfigFile = used
		return
	}

	defaultConfigFile = filepath.Join(dirs[0], "glow-audio.yml")
}

// configPath returns the file passed with --config or the default one.
func configPath() string {
	if configFile != "" {
		return expandPath(configFile)
	}
	return defaultConfigFile
}

// useConfigFlag reads the file passed with --config, when it differs from
// the one found in the default places.
func useConfigFlag() error {
	path := configPath()
	if configFile == "" || path == viper.ConfigFileUsed() {
		return nil
	}
	if ext := filepath.Ext(path); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}
	if _, err := os.Stat(path); err != nil {
		// The config command creates it on demand.
		return nil
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("unable to read config file: %w", err)
	}
	return nil
}
