//go:build portaudio

// ABOUTME: PortAudio host implementation
// ABOUTME: Cross-platform capture and playback using PortAudio
package device

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Resonate-Protocol/lanrelay/pkg/audio"
	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

// PortAudio host implementation
type PortAudio struct {
	logger zerolog.Logger
	once   sync.Once
}

// NewPortAudio initializes PortAudio
func NewPortAudio(logger zerolog.Logger) (audio.Host, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	return &PortAudio{logger: logger}, nil
}

func (p *PortAudio) Name() string { return "portaudio" }

func (p *PortAudio) Devices(dir audio.Direction) ([]audio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	def, _ := p.defaultDevice(dir)

	var out []audio.DeviceInfo
	for _, d := range devices {
		channels := maxChannels(d, dir)
		if channels == 0 {
			continue
		}
		out = append(out, audio.DeviceInfo{
			Name:        d.Name,
			Direction:   dir,
			Default:     def != nil && d.Name == def.Name,
			MaxChannels: channels,
		})
	}
	return out, nil
}

func (p *PortAudio) DefaultConfig(dir audio.Direction, device string) (audio.StreamConfig, error) {
	d, err := p.lookup(dir, device)
	if err != nil {
		return audio.StreamConfig{}, err
	}

	channels := maxChannels(d, dir)
	if channels > 2 {
		channels = 2
	}
	return audio.StreamConfig{
		SampleRate: int(d.DefaultSampleRate),
		Channels:   channels,
	}, nil
}

func (p *PortAudio) OpenInput(device string, cfg audio.StreamConfig, cb audio.InputCallback) (audio.Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d, err := p.lookup(audio.Input, device)
	if err != nil {
		return nil, err
	}

	params := portaudio.LowLatencyParameters(d, nil)
	params.Input.Channels = cfg.Channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FramesPerBuffer

	h := newHealth()
	stream, err := portaudio.OpenStream(params, func(in []float32) {
		h.beat()
		cb(in)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}

	p.logger.Info().Str("device", d.Name).Stringer("config", cfg).Msg("Audio stream opened (portaudio input)")
	return &portaudioStream{stream: stream, health: h}, nil
}

func (p *PortAudio) OpenOutput(device string, cfg audio.StreamConfig, cb audio.OutputCallback) (audio.Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d, err := p.lookup(audio.Output, device)
	if err != nil {
		return nil, err
	}

	params := portaudio.LowLatencyParameters(nil, d)
	params.Output.Channels = cfg.Channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FramesPerBuffer

	h := newHealth()
	stream, err := portaudio.OpenStream(params, func(out []float32) {
		h.beat()
		cb(out)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}

	p.logger.Info().Str("device", d.Name).Stringer("config", cfg).Msg("Audio stream opened (portaudio output)")
	return &portaudioStream{stream: stream, health: h}, nil
}

func (p *PortAudio) lookup(dir audio.Direction, device string) (*portaudio.DeviceInfo, error) {
	if audio.IsDefault(device) {
		return p.defaultDevice(dir)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if maxChannels(d, dir) > 0 && strings.EqualFold(d.Name, strings.TrimSpace(device)) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s device %q", audio.ErrDeviceNotFound, dir, device)
}

func (p *PortAudio) defaultDevice(dir audio.Direction) (*portaudio.DeviceInfo, error) {
	var (
		d   *portaudio.DeviceInfo
		err error
	)
	if dir == audio.Input {
		d, err = portaudio.DefaultInputDevice()
	} else {
		d, err = portaudio.DefaultOutputDevice()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: default %s device: %v", audio.ErrDeviceNotFound, dir, err)
	}
	return d, nil
}

// Close terminates PortAudio
func (p *PortAudio) Close() error {
	var err error
	p.once.Do(func() {
		err = portaudio.Terminate()
	})
	return err
}

func maxChannels(d *portaudio.DeviceInfo, dir audio.Direction) int {
	if dir == audio.Input {
		return d.MaxInputChannels
	}
	return d.MaxOutputChannels
}

// portaudioStream has no device-stopped notification, so a stalled callback
// is the failure signal.
type portaudioStream struct {
	*health
	stream *portaudio.Stream
	once   sync.Once
}

func (s *portaudioStream) Start() error {
	if err := s.stream.Start(); err != nil {
		return err
	}
	s.watch(stallTimeout, nil)
	return nil
}

func (s *portaudioStream) Close() error {
	var err error
	s.once.Do(func() {
		s.health.close()
		if stopErr := s.stream.Stop(); stopErr != nil {
			err = stopErr
		}
		if closeErr := s.stream.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	})
	return err
}
