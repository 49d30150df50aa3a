// ABOUTME: Synthetic audio inputs for the virtual device
// ABOUTME: Parses source names and defines the Source interface
package source

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Source produces interleaved float32 samples at a fixed rate and channel
// count. Read is called from a real-time callback: it must fill dst
// completely without blocking or allocating.
type Source interface {
	Read(dst []float32)
	SampleRate() int
	Channels() int
}

// Silence is a source of zero-valued samples.
type Silence struct {
	rate     int
	channels int
}

// NewSilence creates a silent source
func NewSilence(sampleRate, channels int) *Silence {
	return &Silence{rate: sampleRate, channels: channels}
}

func (s *Silence) Read(dst []float32) {
	clear(dst)
}

func (s *Silence) SampleRate() int { return s.rate }
func (s *Silence) Channels() int   { return s.channels }

// IsVirtual reports whether a device name refers to a synthetic source or
// sink rather than hardware.
func IsVirtual(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	return name == "null" || name == "tone" || strings.HasPrefix(name, "tone:") || strings.HasPrefix(name, "file:")
}

// Open builds the source named by a virtual device name:
//
//	null          silence
//	tone[:hz]     sine wave, 440Hz by default
//	file:<path>   looping MP3 or FLAC clip, chosen by extension
func Open(name string, sampleRate, channels int) (Source, error) {
	trimmed := strings.TrimSpace(name)
	lower := strings.ToLower(trimmed)

	switch {
	case lower == "null":
		return NewSilence(sampleRate, channels), nil
	case lower == "tone":
		return NewTone(DefaultToneHz, sampleRate, channels), nil
	case strings.HasPrefix(lower, "tone:"):
		hz, err := strconv.ParseFloat(trimmed[len("tone:"):], 64)
		if err != nil || hz <= 0 {
			return nil, fmt.Errorf("invalid tone frequency in %q", name)
		}
		return NewTone(hz, sampleRate, channels), nil
	case strings.HasPrefix(lower, "file:"):
		path := trimmed[len("file:"):]
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".mp3":
			return LoadMP3(path, sampleRate, channels)
		case ".flac":
			return LoadFLAC(path, sampleRate, channels)
		default:
			return nil, fmt.Errorf("unsupported audio file %q (supported: .mp3, .flac)", path)
		}
	default:
		return nil, fmt.Errorf("unknown virtual source %q", name)
	}
}
