package probe

import "bytes"

// Format is an audio encoding tag.
type Format string

// Known formats.
const (
	FormatMP3  Format = "mp3"
	FormatWAV  Format = "wav"
	FormatOGG  Format = "ogg"
	FormatFLAC Format = "flac"
	FormatPCM  Format = "pcm"
)

// String returns the format tag.
func (f Format) String() string {
	return string(f)
}

// ParseFormat converts a config string into a Format. Unknown names map to
// the empty format.
func ParseFormat(s string) Format {
	switch Format(s) {
	case FormatMP3, FormatWAV, FormatOGG, FormatFLAC, FormatPCM:
		return Format(s)
	case "mpeg":
		return FormatMP3
	case "wave":
		return FormatWAV
	}
	return ""
}

// DetectFormat sniffs the payload's leading bytes. Anything unrecognized is
// treated as raw 16-bit PCM.
func DetectFormat(payload []byte) Format {
	switch {
	case len(payload) >= 12 && bytes.Equal(payload[0:4], []byte("RIFF")) && bytes.Equal(payload[8:12], []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(payload, []byte("OggS")):
		return FormatOGG
	case bytes.HasPrefix(payload, []byte("fLaC")):
		return FormatFLAC
	case bytes.HasPrefix(payload, []byte("ID3")):
		return FormatMP3
	case len(payload) >= 2 && payload[0] == 0xFF && payload[1]&0xE0 == 0xE0:
		// MPEG frame sync
		return FormatMP3
	default:
		return FormatPCM
	}
}
