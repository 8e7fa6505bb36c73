// Package config holds the immutable configuration snapshot for the audio
// cache and playback session.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/glow-audio/internal/cache"
	"github.com/dgnsrekt/glow-audio/internal/playback"
	"github.com/dgnsrekt/glow-audio/internal/probe"
	"github.com/dgnsrekt/glow-audio/internal/retry"
)

// Config contains all audio configuration options.
type Config struct {
	Debug       bool   `yaml:"debug" mapstructure:"debug" env:"GLOW_AUDIO_DEBUG" envDefault:"false"`
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr" env:"GLOW_AUDIO_METRICS_ADDR"`

	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Playback PlaybackConfig `yaml:"playback" mapstructure:"playback"`
	Probe    ProbeConfig    `yaml:"probe" mapstructure:"probe"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
}

// CacheConfig contains cache limits.
type CacheConfig struct {
	MaxEntries      int           `yaml:"max_entries" mapstructure:"max_entries" env:"GLOW_AUDIO_CACHE_MAX_ENTRIES" envDefault:"50"`
	MaxBytes        int64         `yaml:"max_bytes" mapstructure:"max_bytes" env:"GLOW_AUDIO_CACHE_MAX_BYTES" envDefault:"52428800"`
	FrequencyWeight time.Duration `yaml:"frequency_weight" mapstructure:"frequency_weight" env:"GLOW_AUDIO_CACHE_FREQUENCY_WEIGHT" envDefault:"1m"`
	SweepInterval   time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval" env:"GLOW_AUDIO_CACHE_SWEEP_INTERVAL" envDefault:"5m"`
}

// PlaybackConfig contains session defaults.
type PlaybackConfig struct {
	Volume          float64       `yaml:"volume" mapstructure:"volume" env:"GLOW_AUDIO_VOLUME" envDefault:"1.0"`
	Rate            float64       `yaml:"rate" mapstructure:"rate" env:"GLOW_AUDIO_RATE" envDefault:"1.0"`
	FadeEnabled     bool          `yaml:"fade" mapstructure:"fade" env:"GLOW_AUDIO_FADE" envDefault:"true"`
	FadeDuration    time.Duration `yaml:"fade_duration" mapstructure:"fade_duration" env:"GLOW_AUDIO_FADE_DURATION" envDefault:"150ms"`
	PreferredFormat string        `yaml:"preferred_format" mapstructure:"preferred_format" env:"GLOW_AUDIO_PREFERRED_FORMAT" envDefault:"mp3"`
	Fallbacks       []string      `yaml:"fallback_formats" mapstructure:"fallback_formats" env:"GLOW_AUDIO_FALLBACK_FORMATS" envDefault:"wav,ogg,pcm" envSeparator:","`
}

// ProbeConfig contains metadata probe settings.
type ProbeConfig struct {
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout" env:"GLOW_AUDIO_PROBE_TIMEOUT" envDefault:"5s"`
	SampleRate int           `yaml:"sample_rate" mapstructure:"sample_rate" env:"GLOW_AUDIO_SAMPLE_RATE" envDefault:"44100"`
	Channels   int           `yaml:"channels" mapstructure:"channels" env:"GLOW_AUDIO_CHANNELS" envDefault:"2"`
}

// RetryConfig contains playback start retry settings.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts" env:"GLOW_AUDIO_RETRY_MAX_ATTEMPTS" envDefault:"3"`
	BaseDelay   time.Duration `yaml:"base_delay" mapstructure:"base_delay" env:"GLOW_AUDIO_RETRY_BASE_DELAY" envDefault:"100ms"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			MaxEntries:      50,
			MaxBytes:        50 * 1024 * 1024, // 50MB
			FrequencyWeight: time.Minute,
			SweepInterval:   5 * time.Minute,
		},
		Playback: PlaybackConfig{
			Volume:          1.0,
			Rate:            1.0,
			FadeEnabled:     true,
			FadeDuration:    150 * time.Millisecond,
			PreferredFormat: "mp3",
			Fallbacks:       []string{"wav", "ogg", "pcm"},
		},
		Probe: ProbeConfig{
			Timeout:    5 * time.Second,
			SampleRate: 44100,
			Channels:   2,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   100 * time.Millisecond,
		},
	}
}

// FromEnv parses the configuration from GLOW_AUDIO_* environment variables.
func FromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return cfg, fmt.Errorf("error parsing environment variables: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache max entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.MaxBytes < 1 {
		return fmt.Errorf("cache max bytes must be positive, got %d", c.Cache.MaxBytes)
	}
	if c.Cache.FrequencyWeight <= 0 {
		return fmt.Errorf("frequency weight must be positive, got %v", c.Cache.FrequencyWeight)
	}
	if c.Cache.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %v", c.Cache.SweepInterval)
	}

	if c.Playback.Volume < playback.MinVolume || c.Playback.Volume > playback.MaxVolume {
		return fmt.Errorf("volume must be between %.1f and %.1f, got %f", playback.MinVolume, playback.MaxVolume, c.Playback.Volume)
	}
	if c.Playback.Rate < playback.MinRate || c.Playback.Rate > playback.MaxRate {
		return fmt.Errorf("rate must be between %.2f and %.1f, got %f", playback.MinRate, playback.MaxRate, c.Playback.Rate)
	}
	if c.Playback.FadeDuration < 0 {
		return fmt.Errorf("fade duration must not be negative, got %v", c.Playback.FadeDuration)
	}
	if probe.ParseFormat(c.Playback.PreferredFormat) == "" {
		return fmt.Errorf("unknown preferred format %q", c.Playback.PreferredFormat)
	}
	for _, f := range c.Playback.Fallbacks {
		if probe.ParseFormat(f) == "" {
			return fmt.Errorf("unknown fallback format %q", f)
		}
	}

	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("probe timeout must be positive, got %v", c.Probe.Timeout)
	}
	validSampleRates := []int{8000, 16000, 22050, 24000, 44100, 48000}
	sampleRateValid := false
	for _, sr := range validSampleRates {
		if c.Probe.SampleRate == sr {
			sampleRateValid = true
			break
		}
	}
	if !sampleRateValid {
		return fmt.Errorf("invalid sample rate %d: must be one of %v", c.Probe.SampleRate, validSampleRates)
	}
	if c.Probe.Channels != 1 && c.Probe.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", c.Probe.Channels)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry delay must not be negative, got %v", c.Retry.BaseDelay)
	}
	return nil
}

// File is the on-disk layout: everything lives under the audio key.
type File struct {
	Audio Config `yaml:"audio"`
}

// Marshal renders the configuration as a YAML config file.
func (c Config) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(File{Audio: c})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}

// Unmarshal parses a YAML config file over the defaults.
func Unmarshal(data []byte) (Config, error) {
	file := File{Audio: Default()}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return file.Audio, nil
}

// CacheStore maps the cache section onto cache.Config.
func (c Config) CacheStore() cache.Config {
	return cache.Config{
		MaxEntries:      c.Cache.MaxEntries,
		MaxBytes:        c.Cache.MaxBytes,
		FrequencyWeight: c.Cache.FrequencyWeight,
	}
}

// Prober maps the probe section onto probe.Config.
func (c Config) Prober() probe.Config {
	return probe.Config{
		Timeout:    c.Probe.Timeout,
		SampleRate: c.Probe.SampleRate,
		Channels:   c.Probe.Channels,
	}
}

// Session maps the playback and retry sections onto playback.Config.
func (c Config) Session() playback.Config {
	fallbacks := make([]probe.Format, 0, len(c.Playback.Fallbacks))
	for _, f := range c.Playback.Fallbacks {
		if pf := probe.ParseFormat(f); pf != "" {
			fallbacks = append(fallbacks, pf)
		}
	}
	return playback.Config{
		Volume:          c.Playback.Volume,
		Rate:            c.Playback.Rate,
		FadeEnabled:     c.Playback.FadeEnabled,
		FadeDuration:    c.Playback.FadeDuration,
		PreferredFormat: probe.ParseFormat(c.Playback.PreferredFormat),
		Fallbacks:       fallbacks,
		Retry: retry.Policy{
			MaxAttempts: c.Retry.MaxAttempts,
			BaseDelay:   c.Retry.BaseDelay,
		},
	}
}
