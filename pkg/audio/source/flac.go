// ABOUTME: FLAC file source for the virtual input device
// ABOUTME: Decodes every frame up front into a looping clip
package source

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mewkiz/flac"
)

// LoadFLAC decodes a FLAC file and converts it to the given rate and channel count.
func LoadFLAC(path string, sampleRate, channels int) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return DecodeFLAC(f, sampleRate, channels)
}

// DecodeFLAC reads a FLAC stream to the end and returns it as a looping clip.
func DecodeFLAC(r io.Reader, sampleRate, channels int) (*Clip, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	srcChannels := int(stream.Info.NChannels)
	bitDepth := int(stream.Info.BitsPerSample)
	if srcChannels < 1 || bitDepth < 1 || bitDepth > 32 {
		return nil, fmt.Errorf("unsupported FLAC stream: %d channels, %d bits", srcChannels, bitDepth)
	}
	scale := 1 / float32(int64(1)<<(bitDepth-1))

	var samples []float32
	for {
		frame, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("flac decode error: %w", err)
		}
		for i := 0; i < int(frame.BlockSize); i++ {
			for ch := 0; ch < srcChannels; ch++ {
				samples = append(samples, float32(frame.Subframes[ch].Samples[i])*scale)
			}
		}
	}

	if len(samples) == 0 {
		return nil, errors.New("flac clip contains no audio")
	}

	return newClip(samples, int(stream.Info.SampleRate), srcChannels, sampleRate, channels)
}
