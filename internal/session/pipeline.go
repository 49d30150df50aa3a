// ABOUTME: Audio side of a session: rings, device streams and callbacks
// ABOUTME: Callbacks only touch the rings and atomic counters
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/lanrelay/pkg/audio"
	"github.com/Resonate-Protocol/lanrelay/pkg/ring"
	"github.com/rs/zerolog"
)

// pipeline holds both rings and the device streams feeding them. The
// capture ring is unprimed so no synthetic silence reaches the wire; the
// playback ring is a primed jitter buffer.
type pipeline struct {
	config  audio.StreamConfig
	latency int

	captureIn   *ring.Producer
	captureOut  *ring.Consumer
	playbackIn  *ring.Producer
	playbackOut *ring.Consumer

	input  audio.Stream
	output audio.Stream

	// active gates the callbacks between connections.
	active          atomic.Bool
	captureOverruns atomic.Uint64
	underruns       atomic.Uint64

	startOnce sync.Once
	startErr  error
	scratch   []float32
}

// setupAudio negotiates the stream config and opens (but does not start)
// the device streams the role needs. The shape always starts from the
// input device's defaults, so a sender and a receiver left on defaults
// agree on it whatever their output devices prefer.
func (s *Session) setupAudio() (*pipeline, error) {
	a := s.cfg.Audio

	cfg, err := s.host.DefaultConfig(audio.Input, a.Input)
	if err != nil {
		if s.role.Sends() || a.SampleRate <= 0 || a.Channels <= 0 {
			return nil, fmt.Errorf("%w: input device %q: %w (set audio.sample_rate and audio.channels to skip it)", ErrDeviceSetup, a.Input, err)
		}
		cfg = audio.StreamConfig{}
	}

	if s.role.Receives() {
		out, err := s.host.DefaultConfig(audio.Output, a.Output)
		if err != nil {
			return nil, fmt.Errorf("%w: output device %q: %w", ErrDeviceSetup, a.Output, err)
		}
		if cfg.FramesPerBuffer == 0 {
			cfg.FramesPerBuffer = out.FramesPerBuffer
		}
	}

	if a.SampleRate > 0 {
		cfg.SampleRate = a.SampleRate
	}
	if a.Channels > 0 {
		cfg.Channels = a.Channels
	}
	if a.FramesPerBuffer > 0 {
		cfg.FramesPerBuffer = a.FramesPerBuffer
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceSetup, err)
	}

	latency := ring.LatencySamples(a.LatencyMs, cfg.SampleRate, cfg.Channels)
	p := &pipeline{config: cfg, latency: latency}

	if s.role.Sends() {
		if latency < 1 {
			return nil, fmt.Errorf("%w: latency %.2fms is shorter than one frame", ErrDeviceSetup, a.LatencyMs)
		}
		p.captureIn, p.captureOut = ring.New(2 * latency)
		p.scratch = make([]float32, 1024)

		p.input, err = s.host.OpenInput(a.Input, cfg, p.onCapture)
		if err != nil {
			return nil, fmt.Errorf("%w: open input %q: %w", ErrDeviceSetup, a.Input, err)
		}
	}

	if s.role.Receives() {
		p.playbackIn, p.playbackOut, err = ring.NewJitter(latency)
		if err != nil {
			p.close(s.logger)
			return nil, fmt.Errorf("%w: %w", ErrDeviceSetup, err)
		}

		p.output, err = s.host.OpenOutput(a.Output, cfg, p.onPlayback)
		if err != nil {
			p.close(s.logger)
			return nil, fmt.Errorf("%w: open output %q: %w", ErrDeviceSetup, a.Output, err)
		}
	}

	s.logger.Info().
		Str("backend", s.host.Name()).
		Stringer("config", cfg).
		Int("latency_samples", latency).
		Msg("Audio devices ready")

	return p, nil
}

// onCapture runs on the input device thread.
func (p *pipeline) onCapture(in []float32) {
	if !p.active.Load() {
		return
	}
	if n := p.captureIn.PushSlice(in); n < len(in) {
		p.captureOverruns.Add(uint64(len(in) - n))
	}
}

// onPlayback runs on the output device thread. Missing samples play as silence.
func (p *pipeline) onPlayback(out []float32) {
	if !p.active.Load() {
		clear(out)
		return
	}
	if n := p.playbackOut.PopSlice(out); n < len(out) {
		clear(out[n:])
		p.underruns.Add(uint64(len(out) - n))
	}
}

// start starts the device streams on the first connection.
func (p *pipeline) start() error {
	p.startOnce.Do(func() {
		if p.output != nil {
			if err := p.output.Start(); err != nil {
				p.startErr = fmt.Errorf("%w: start output: %w", ErrDeviceSetup, err)
				return
			}
		}
		if p.input != nil {
			if err := p.input.Start(); err != nil {
				p.startErr = fmt.Errorf("%w: start input: %w", ErrDeviceSetup, err)
			}
		}
	})
	return p.startErr
}

// watch blocks until a started device stream fails or ctx ends. It
// returns nil when ctx ends first.
func (p *pipeline) watch(ctx context.Context) error {
	var in, out <-chan error
	if p.input != nil {
		in = p.input.Done()
	}
	if p.output != nil {
		out = p.output.Done()
	}

	select {
	case err := <-in:
		return fmt.Errorf("%w: input: %w", ErrDeviceFailed, err)
	case err := <-out:
		return fmt.Errorf("%w: output: %w", ErrDeviceFailed, err)
	case <-ctx.Done():
		return nil
	}
}

// drainCapture discards samples left over from a previous connection. It
// must only run while no sender owns the capture consumer.
func (p *pipeline) drainCapture() {
	if p.captureOut == nil {
		return
	}
	for p.captureOut.PopSlice(p.scratch) > 0 {
	}
}

// fill reports the current capture and playback ring fill.
func (p *pipeline) fill() (capture, playback int) {
	if p.captureIn != nil {
		capture = p.captureIn.Len()
	}
	if p.playbackOut != nil {
		playback = p.playbackOut.Len()
	}
	return capture, playback
}

func (p *pipeline) close(logger zerolog.Logger) {
	p.active.Store(false)
	if p.input != nil {
		if err := p.input.Close(); err != nil {
			logger.Warn().Err(err).Msg("Input stream close error")
		}
	}
	if p.output != nil {
		if err := p.output.Close(); err != nil {
			logger.Warn().Err(err).Msg("Output stream close error")
		}
	}
}
