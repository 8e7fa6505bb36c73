package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"

	"github.com/dgnsrekt/glow-audio/internal/probe"
)

// expandPath expands tilde and all environment variables from the given path.
func expandPath(path string) string {
	s, err := homedir.Expand(path)
	if err == nil {
		return os.ExpandEnv(s)
	}
	return os.ExpandEnv(path)
}

var audioExtensions = map[string]probe.Format{
	".mp3":  probe.FormatMP3,
	".wav":  probe.FormatWAV,
	".wave": probe.FormatWAV,
	".ogg":  probe.FormatOGG,
	".flac": probe.FormatFLAC,
	".pcm":  probe.FormatPCM,
	".raw":  probe.FormatPCM,
}

// isAudioFile reports whether path has a known audio extension.
func isAudioFile(path string) bool {
	_, ok := audioExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// cacheKey is the key a file is cached under.
func cacheKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
