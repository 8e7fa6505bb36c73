package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// FromViper loads the configuration from the audio.* keys of v over the
// defaults.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Default()

	if v.IsSet("audio.debug") {
		cfg.Debug = v.GetBool("audio.debug")
	}
	if v.IsSet("audio.metrics_addr") {
		cfg.MetricsAddr = v.GetString("audio.metrics_addr")
	}

	// Cache settings
	if v.IsSet("audio.cache.max_entries") {
		cfg.Cache.MaxEntries = v.GetInt("audio.cache.max_entries")
	}
	if v.IsSet("audio.cache.max_bytes") {
		cfg.Cache.MaxBytes = v.GetInt64("audio.cache.max_bytes")
	}
	if v.IsSet("audio.cache.frequency_weight") {
		cfg.Cache.FrequencyWeight = v.GetDuration("audio.cache.frequency_weight")
	}
	if v.IsSet("audio.cache.sweep_interval") {
		cfg.Cache.SweepInterval = v.GetDuration("audio.cache.sweep_interval")
	}

	// Playback settings
	if v.IsSet("audio.playback.volume") {
		cfg.Playback.Volume = v.GetFloat64("audio.playback.volume")
	}
	if v.IsSet("audio.playback.rate") {
		cfg.Playback.Rate = v.GetFloat64("audio.playback.rate")
	}
	if v.IsSet("audio.playback.fade") {
		cfg.Playback.FadeEnabled = v.GetBool("audio.playback.fade")
	}
	if v.IsSet("audio.playback.fade_duration") {
		cfg.Playback.FadeDuration = v.GetDuration("audio.playback.fade_duration")
	}
	if v.IsSet("audio.playback.preferred_format") {
		cfg.Playback.PreferredFormat = v.GetString("audio.playback.preferred_format")
	}
	if v.IsSet("audio.playback.fallback_formats") {
		cfg.Playback.Fallbacks = v.GetStringSlice("audio.playback.fallback_formats")
	}

	// Probe settings
	if v.IsSet("audio.probe.timeout") {
		cfg.Probe.Timeout = v.GetDuration("audio.probe.timeout")
	}
	if v.IsSet("audio.probe.sample_rate") {
		cfg.Probe.SampleRate = v.GetInt("audio.probe.sample_rate")
	}
	if v.IsSet("audio.probe.channels") {
		cfg.Probe.Channels = v.GetInt("audio.probe.channels")
	}

	// Retry settings
	if v.IsSet("audio.retry.max_attempts") {
		cfg.Retry.MaxAttempts = v.GetInt("audio.retry.max_attempts")
	}
	if v.IsSet("audio.retry.base_delay") {
		cfg.Retry.BaseDelay = v.GetDuration("audio.retry.base_delay")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid audio configuration: %w", err)
	}
	return cfg, nil
}

// SetDefaults registers the defaults on v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("audio.cache.max_entries", d.Cache.MaxEntries)
	v.SetDefault("audio.cache.max_bytes", d.Cache.MaxBytes)
	v.SetDefault("audio.cache.frequency_weight", d.Cache.FrequencyWeight)
	v.SetDefault("audio.cache.sweep_interval", d.Cache.SweepInterval)

	v.SetDefault("audio.playback.volume", d.Playback.Volume)
	v.SetDefault("audio.playback.rate", d.Playback.Rate)
	v.SetDefault("audio.playback.fade", d.Playback.FadeEnabled)
	v.SetDefault("audio.playback.fade_duration", d.Playback.FadeDuration)
	v.SetDefault("audio.playback.preferred_format", d.Playback.PreferredFormat)
	v.SetDefault("audio.playback.fallback_formats", d.Playback.Fallbacks)

	v.SetDefault("audio.probe.timeout", d.Probe.Timeout)
	v.SetDefault("audio.probe.sample_rate", d.Probe.SampleRate)
	v.SetDefault("audio.probe.channels", d.Probe.Channels)

	v.SetDefault("audio.retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("audio.retry.base_delay", d.Retry.BaseDelay)
}
