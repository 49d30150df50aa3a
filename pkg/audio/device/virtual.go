// ABOUTME: Clock-driven virtual audio host
// ABOUTME: Feeds synthetic sources to input callbacks and discards or taps output
package device

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/lanrelay/pkg/audio"
	"github.com/Resonate-Protocol/lanrelay/pkg/audio/source"
)

// Default virtual stream shape: 48kHz mono in 10ms blocks.
const (
	virtualRate   = 48000
	virtualFrames = 480
)

// Virtual is a host whose devices are driven by a ticker instead of hardware.
// Input devices are named after a source (null, tone[:hz], file:<path>);
// the only output device is null.
type Virtual struct {
	mu      sync.Mutex
	tap     func(out []float32)
	streams []*clockStream
}

// NewVirtual creates the virtual host.
func NewVirtual() *Virtual {
	return &Virtual{}
}

// Tap registers fn to observe every output block after the callback filled
// it. It applies to streams opened afterwards and runs on the clock goroutine.
func (v *Virtual) Tap(fn func(out []float32)) {
	v.mu.Lock()
	v.tap = fn
	v.mu.Unlock()
}

// Fail stops every open stream as if its device had gone away and reports
// err through each stream's Done channel.
func (v *Virtual) Fail(err error) {
	v.mu.Lock()
	streams := v.streams
	v.streams = nil
	v.mu.Unlock()

	for _, s := range streams {
		s.fail(err)
	}
}

func (v *Virtual) Name() string { return "null" }

func (v *Virtual) Devices(dir audio.Direction) ([]audio.DeviceInfo, error) {
	if dir == audio.Output {
		return []audio.DeviceInfo{{Name: "null", Direction: dir, Default: true, MaxChannels: 8}}, nil
	}
	return []audio.DeviceInfo{
		{Name: "null", Direction: dir, Default: true, MaxChannels: 8},
		{Name: "tone", Direction: dir, MaxChannels: 8},
	}, nil
}

func (v *Virtual) DefaultConfig(dir audio.Direction, device string) (audio.StreamConfig, error) {
	if err := v.check(dir, device); err != nil {
		return audio.StreamConfig{}, err
	}
	return audio.StreamConfig{SampleRate: virtualRate, Channels: 1, FramesPerBuffer: virtualFrames}, nil
}

func (v *Virtual) OpenInput(device string, cfg audio.StreamConfig, cb audio.InputCallback) (audio.Stream, error) {
	if err := v.check(audio.Input, device); err != nil {
		return nil, err
	}
	cfg = withFrames(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	src, err := source.Open(virtualName(device), cfg.SampleRate, cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrDeviceNotFound, err)
	}

	return v.track(newClockStream(cfg, func(block []float32) {
		src.Read(block)
		cb(block)
	})), nil
}

func (v *Virtual) OpenOutput(device string, cfg audio.StreamConfig, cb audio.OutputCallback) (audio.Stream, error) {
	if err := v.check(audio.Output, device); err != nil {
		return nil, err
	}
	cfg = withFrames(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	v.mu.Lock()
	tap := v.tap
	v.mu.Unlock()

	return v.track(newClockStream(cfg, func(block []float32) {
		cb(block)
		if tap != nil {
			tap(block)
		}
	})), nil
}

func (v *Virtual) Close() error { return nil }

func (v *Virtual) track(s *clockStream) *clockStream {
	v.mu.Lock()
	v.streams = append(v.streams, s)
	v.mu.Unlock()
	return s
}

func (v *Virtual) check(dir audio.Direction, device string) error {
	name := virtualName(device)
	if dir == audio.Output && name != "null" {
		return fmt.Errorf("%w: virtual output %q (only null)", audio.ErrDeviceNotFound, device)
	}
	if !source.IsVirtual(name) {
		return fmt.Errorf("%w: %q", audio.ErrDeviceNotFound, device)
	}
	return nil
}

// virtualName maps the default device of the null backend to silence.
func virtualName(device string) string {
	if audio.IsDefault(device) {
		return "null"
	}
	return strings.TrimSpace(device)
}

func withFrames(cfg audio.StreamConfig) audio.StreamConfig {
	if cfg.FramesPerBuffer == 0 {
		cfg.FramesPerBuffer = cfg.SampleRate / 100
		if cfg.FramesPerBuffer == 0 {
			cfg.FramesPerBuffer = 1
		}
	}
	return cfg
}

// clockStream calls tick with a fixed block once per block period.
type clockStream struct {
	*health
	period time.Duration
	block  []float32
	tick   func(block []float32)

	started atomic.Bool
	once    sync.Once
	stop    chan struct{}
	done    chan struct{}
}

func newClockStream(cfg audio.StreamConfig, tick func(block []float32)) *clockStream {
	period := time.Duration(cfg.FramesPerBuffer) * time.Second / time.Duration(cfg.SampleRate)
	if period <= 0 {
		period = time.Millisecond
	}
	return &clockStream{
		health: newHealth(),
		period: period,
		block:  make([]float32, cfg.FramesPerBuffer*cfg.Channels),
		tick:   tick,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *clockStream) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("virtual stream already started")
	}
	go s.run()
	return nil
}

func (s *clockStream) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick(s.block)
		}
	}
}

// fail stops the clock and reports err unless the stream is closing.
func (s *clockStream) fail(err error) {
	s.health.fail(err)
	s.once.Do(func() {
		close(s.stop)
	})
}

// Close stops the clock and waits for an in-progress tick to return.
func (s *clockStream) Close() error {
	s.health.close()
	s.once.Do(func() {
		close(s.stop)
	})
	if s.started.Load() {
		<-s.done
	}
	return nil
}
