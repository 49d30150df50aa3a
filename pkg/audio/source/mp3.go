// ABOUTME: Audio file clips for the virtual input device
// ABOUTME: Decodes MP3 up front and loops it at the stream rate
package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Resonate-Protocol/lanrelay/pkg/audio"
	"github.com/Resonate-Protocol/lanrelay/pkg/audio/resample"
	"github.com/hajimehoshi/go-mp3"
)

// mp3Channels is fixed by go-mp3, which always decodes to 16-bit stereo.
const mp3Channels = 2

// Clip loops a decoded clip held in memory.
type Clip struct {
	samples  []float32
	pos      int
	rate     int
	channels int
}

// LoadMP3 decodes an MP3 file and converts it to the given rate and channel count.
func LoadMP3(path string, sampleRate, channels int) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return DecodeMP3(f, sampleRate, channels)
}

// DecodeMP3 reads an MP3 stream to the end and returns it as a looping clip.
func DecodeMP3(r io.Reader, sampleRate, channels int) (*Clip, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("mp3 decode error: %w", err)
	}

	frames := len(pcm) / (2 * mp3Channels)
	if frames == 0 {
		return nil, errors.New("mp3 clip contains no audio")
	}

	stereo := make([]float32, frames*mp3Channels)
	for i := range stereo {
		stereo[i] = audio.Float32FromInt16(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	return newClip(stereo, decoder.SampleRate(), mp3Channels, sampleRate, channels)
}

// newClip converts decoded interleaved audio to the stream shape.
func newClip(samples []float32, srcRate, srcChannels, sampleRate, channels int) (*Clip, error) {
	mixed := remix(samples, srcChannels, channels)

	if srcRate != sampleRate {
		r := resample.New(srcRate, sampleRate, channels)
		out := make([]float32, r.OutputSamplesNeeded(len(mixed)))
		n := r.Resample(mixed, out)
		mixed = out[:n]
	}

	if len(mixed) < channels {
		return nil, errors.New("clip too short after resampling")
	}

	return &Clip{samples: mixed, rate: sampleRate, channels: channels}, nil
}

func (c *Clip) Read(dst []float32) {
	for i := range dst {
		dst[i] = c.samples[c.pos]
		c.pos++
		if c.pos == len(c.samples) {
			c.pos = 0
		}
	}
}

func (c *Clip) SampleRate() int { return c.rate }
func (c *Clip) Channels() int   { return c.channels }

// remix converts interleaved audio between channel counts: to mono by
// averaging, otherwise by repeating or dropping channels.
func remix(in []float32, from, to int) []float32 {
	if from == to {
		return in
	}

	frames := len(in) / from
	out := make([]float32, frames*to)
	for f := 0; f < frames; f++ {
		frame := in[f*from : (f+1)*from]
		if to == 1 {
			var sum float32
			for _, s := range frame {
				sum += s
			}
			out[f] = sum / float32(from)
			continue
		}
		for ch := 0; ch < to; ch++ {
			out[f*to+ch] = frame[ch%from]
		}
	}
	return out
}
