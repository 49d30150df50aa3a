// ABOUTME: Test tone generator for the virtual input device
// ABOUTME: Generates a sine wave on every channel
package source

import "math"

// DefaultToneHz is the A4 reference pitch.
const DefaultToneHz = 440.0

// toneGain keeps the tone at half scale.
const toneGain = 0.5

// Tone generates a sine test tone
type Tone struct {
	frequency   float64
	rate        int
	channels    int
	sampleIndex uint64
}

// NewTone creates a new test tone generator
func NewTone(frequency float64, sampleRate, channels int) *Tone {
	return &Tone{
		frequency: frequency,
		rate:      sampleRate,
		channels:  channels,
	}
}

func (s *Tone) Read(dst []float32) {
	frames := len(dst) / s.channels
	for i := 0; i < frames; i++ {
		t := float64(s.sampleIndex+uint64(i)) / float64(s.rate)
		v := float32(math.Sin(2*math.Pi*s.frequency*t) * toneGain)
		for ch := 0; ch < s.channels; ch++ {
			dst[i*s.channels+ch] = v
		}
	}
	s.sampleIndex += uint64(frames)
}

func (s *Tone) SampleRate() int { return s.rate }
func (s *Tone) Channels() int   { return s.channels }
