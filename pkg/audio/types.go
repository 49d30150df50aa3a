// ABOUTME: Audio device adapter types
// ABOUTME: Defines the Host/Stream contract, stream configuration and sample conversions
package audio

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultDevice selects the backend's default device.
const DefaultDevice = "default"

var (
	// ErrDeviceNotFound is returned when no device matches the requested name.
	ErrDeviceNotFound = errors.New("audio: device not found")

	// ErrUnsupported is returned by backends that lack a direction or feature.
	ErrUnsupported = errors.New("audio: not supported by this backend")

	// ErrStreamStopped reports a stream the device stopped on its own, for
	// example after the device was unplugged.
	ErrStreamStopped = errors.New("audio: stream stopped by the device")

	// ErrStreamStalled reports a started stream whose callbacks stopped arriving.
	ErrStreamStalled = errors.New("audio: stream stalled")
)

// Direction distinguishes capture from playback devices.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// StreamConfig is the negotiated shape of a device stream. Blocks handed to
// callbacks hold FramesPerBuffer*Channels interleaved samples; a zero
// FramesPerBuffer lets the backend choose.
type StreamConfig struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

// Validate checks that the config describes a playable stream.
func (c StreamConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("invalid channel count %d", c.Channels)
	}
	if c.FramesPerBuffer < 0 {
		return fmt.Errorf("invalid frames per buffer %d", c.FramesPerBuffer)
	}
	return nil
}

func (c StreamConfig) String() string {
	return fmt.Sprintf("%dHz/%dch/%d frames", c.SampleRate, c.Channels, c.FramesPerBuffer)
}

// DeviceInfo describes one device of a host.
type DeviceInfo struct {
	Name        string
	Direction   Direction
	Default     bool
	MaxChannels int
}

// InputCallback receives one block of captured samples. It runs on the
// device's real-time thread and must not block, allocate, lock or log.
type InputCallback func(in []float32)

// OutputCallback fills one block of samples for playback. Same rules as
// InputCallback.
type OutputCallback func(out []float32)

// Stream is an opened device stream.
type Stream interface {
	Start() error

	// Done delivers at most one fatal error once the stream has started.
	// Nothing is sent for a stream stopped by Close.
	Done() <-chan error

	Close() error
}

// Host is the narrow device contract the relay core depends on.
type Host interface {
	// Name identifies the backend.
	Name() string

	// Devices enumerates devices for a direction.
	Devices(dir Direction) ([]DeviceInfo, error)

	// DefaultConfig returns the preferred stream configuration of a device.
	DefaultConfig(dir Direction, device string) (StreamConfig, error)

	// OpenInput opens a capture stream delivering blocks to cb.
	OpenInput(device string, cfg StreamConfig, cb InputCallback) (Stream, error)

	// OpenOutput opens a playback stream pulling blocks from cb.
	OpenOutput(device string, cfg StreamConfig, cb OutputCallback) (Stream, error)

	// Close releases backend resources.
	Close() error
}

// IsDefault reports whether a device name selects the default device.
func IsDefault(name string) bool {
	name = strings.TrimSpace(name)
	return name == "" || strings.EqualFold(name, DefaultDevice)
}

// Float32FromInt16 converts a 16-bit PCM sample to the [-1, 1) float range.
func Float32FromInt16(sample int16) float32 {
	return float32(sample) / 32768.0
}

// Float32ToInt16 converts a float sample to 16-bit PCM, clipping out-of-range values.
func Float32ToInt16(sample float32) int16 {
	switch {
	case sample >= 1:
		return 32767
	case sample <= -1:
		return -32768
	}
	return int16(sample * 32768.0)
}
