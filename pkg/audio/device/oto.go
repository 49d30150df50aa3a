// ABOUTME: Oto-based playback host
// ABOUTME: Output only; the oto player pulls blocks from the output callback
package device

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/Resonate-Protocol/lanrelay/pkg/audio"
	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"
)

// Oto host implementation using the oto library. Oto allows a single
// context per process, so every stream must share its format.
type Oto struct {
	logger zerolog.Logger

	mu       sync.Mutex
	otoCtx   *oto.Context
	rate     int
	channels int
}

// NewOto creates an oto host. The context is created lazily by the first
// OpenOutput, which fixes the process-wide format.
func NewOto(logger zerolog.Logger) *Oto {
	return &Oto{logger: logger}
}

func (o *Oto) Name() string { return "oto" }

func (o *Oto) Devices(dir audio.Direction) ([]audio.DeviceInfo, error) {
	if dir == audio.Input {
		return nil, nil
	}
	return []audio.DeviceInfo{{Name: audio.DefaultDevice, Direction: dir, Default: true, MaxChannels: 2}}, nil
}

func (o *Oto) DefaultConfig(dir audio.Direction, device string) (audio.StreamConfig, error) {
	if err := o.check(dir, device); err != nil {
		return audio.StreamConfig{}, err
	}
	return audio.StreamConfig{SampleRate: preferredRate, Channels: 2}, nil
}

func (o *Oto) OpenInput(device string, cfg audio.StreamConfig, cb audio.InputCallback) (audio.Stream, error) {
	return nil, fmt.Errorf("%w: oto has no capture devices", audio.ErrUnsupported)
}

func (o *Oto) OpenOutput(device string, cfg audio.StreamConfig, cb audio.OutputCallback) (audio.Stream, error) {
	if err := o.check(audio.Output, device); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.otoCtx == nil {
		op := &oto.NewContextOptions{
			SampleRate:   cfg.SampleRate,
			ChannelCount: cfg.Channels,
			Format:       oto.FormatFloat32LE,
		}
		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			return nil, fmt.Errorf("failed to create oto context: %w", err)
		}
		<-readyChan

		o.otoCtx = ctx
		o.rate = cfg.SampleRate
		o.channels = cfg.Channels
	} else if o.rate != cfg.SampleRate || o.channels != cfg.Channels {
		return nil, fmt.Errorf("oto context already running at %dHz/%dch, cannot open %s",
			o.rate, o.channels, cfg)
	}

	if err := o.otoCtx.Resume(); err != nil {
		return nil, fmt.Errorf("failed to resume oto context: %w", err)
	}

	h := newHealth()
	reader := newPullReader(cfg, func(out []float32) {
		h.beat()
		cb(out)
	})
	player := o.otoCtx.NewPlayer(reader)

	o.logger.Info().Stringer("config", cfg).Msg("Audio stream opened (oto/F32)")

	return &otoStream{player: player, health: h}, nil
}

func (o *Oto) check(dir audio.Direction, device string) error {
	if dir == audio.Input {
		return fmt.Errorf("%w: oto has no capture devices", audio.ErrUnsupported)
	}
	if !audio.IsDefault(device) {
		return fmt.Errorf("%w: oto only plays to the default device, not %q", audio.ErrDeviceNotFound, device)
	}
	return nil
}

// Close suspends the shared oto context
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.otoCtx != nil {
		if err := o.otoCtx.Suspend(); err != nil {
			return fmt.Errorf("failed to suspend oto context: %w", err)
		}
	}
	return nil
}

// pullReader adapts an output callback to the io.Reader oto pulls from.
// Reads are served in whole frames.
type pullReader struct {
	cb         audio.OutputCallback
	frameBytes int
	block      []float32
}

func newPullReader(cfg audio.StreamConfig, cb audio.OutputCallback) *pullReader {
	frames := cfg.FramesPerBuffer
	if frames == 0 {
		frames = preferredFrames
	}
	return &pullReader{
		cb:         cb,
		frameBytes: 4 * cfg.Channels,
		block:      make([]float32, frames*cfg.Channels),
	}
}

func (r *pullReader) Read(p []byte) (int, error) {
	samples := (len(p) / r.frameBytes) * (r.frameBytes / 4)
	if samples > len(r.block) {
		samples = len(r.block)
	}
	if samples == 0 {
		return 0, nil
	}

	block := r.block[:samples]
	r.cb(block)
	for i, s := range block {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(s))
	}
	return samples * 4, nil
}

type otoStream struct {
	*health
	player *oto.Player
	once   sync.Once
}

func (s *otoStream) Start() error {
	s.player.Play()
	s.watch(stallTimeout, s.playerErr)
	return nil
}

// playerErr reports a player that failed or stopped pulling samples.
func (s *otoStream) playerErr() error {
	if err := s.player.Err(); err != nil {
		return fmt.Errorf("%w: %w", audio.ErrStreamStopped, err)
	}
	if !s.player.IsPlaying() {
		return fmt.Errorf("%w: player stopped", audio.ErrStreamStopped)
	}
	return nil
}

func (s *otoStream) Close() error {
	var err error
	s.once.Do(func() {
		s.health.close()
		s.player.Pause()
		err = s.player.Close()
	})
	return err
}
