// ABOUTME: Tests for backend selection and the virtual host
// ABOUTME: Drives virtual streams through their clock without audio hardware
package device

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Resonate-Protocol/lanrelay/pkg/audio"
	"github.com/rs/zerolog"
)

func TestNewHostRejectsUnknownBackend(t *testing.T) {
	if _, err := NewHost("pulse", zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestNewHostNull(t *testing.T) {
	host, err := NewHost(BackendNull, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHost failed: %v", err)
	}
	defer host.Close()

	if host.Name() != "null" {
		t.Errorf("expected null host, got %s", host.Name())
	}
}

func TestVirtualDefaultConfig(t *testing.T) {
	v := NewVirtual()

	cfg, err := v.DefaultConfig(audio.Input, "tone")
	if err != nil {
		t.Fatalf("DefaultConfig failed: %v", err)
	}
	if cfg.SampleRate != virtualRate || cfg.Channels != 1 || cfg.FramesPerBuffer != virtualFrames {
		t.Errorf("unexpected default config %s", cfg)
	}

	if _, err := v.DefaultConfig(audio.Output, "tone"); !errors.Is(err, audio.ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound for tone output, got %v", err)
	}
	if _, err := v.DefaultConfig(audio.Input, "Built-in Microphone"); !errors.Is(err, audio.ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound for hardware name, got %v", err)
	}
}

func TestVirtualInputDeliversToneBlocks(t *testing.T) {
	v := NewVirtual()
	cfg := audio.StreamConfig{SampleRate: 48000, Channels: 2, FramesPerBuffer: 48}

	var (
		mu      sync.Mutex
		blocks  int
		nonzero bool
		sizes   = map[int]bool{}
	)
	stream, err := v.OpenInput("tone:1000", cfg, func(in []float32) {
		mu.Lock()
		defer mu.Unlock()
		blocks++
		sizes[len(in)] = true
		for _, s := range in {
			if s != 0 {
				nonzero = true
			}
		}
	})
	if err != nil {
		t.Fatalf("OpenInput failed: %v", err)
	}
	if err := stream.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := blocks
		mu.Unlock()
		if n >= 5 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if blocks < 5 {
		t.Fatalf("expected at least 5 blocks, got %d", blocks)
	}
	if !nonzero {
		t.Error("tone input produced only silence")
	}
	if len(sizes) != 1 || !sizes[96] {
		t.Errorf("expected constant 96-sample blocks, got sizes %v", sizes)
	}
}

func TestVirtualOutputTap(t *testing.T) {
	v := NewVirtual()
	var tapped atomic.Int64
	v.Tap(func(out []float32) {
		if out[0] == 0.25 {
			tapped.Add(1)
		}
	})

	stream, err := v.OpenOutput("null", audio.StreamConfig{SampleRate: 8000, Channels: 1, FramesPerBuffer: 8}, func(out []float32) {
		for i := range out {
			out[i] = 0.25
		}
	})
	if err != nil {
		t.Fatalf("OpenOutput failed: %v", err)
	}
	stream.Start()

	deadline := time.Now().Add(2 * time.Second)
	for tapped.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	stream.Close()

	if tapped.Load() < 3 {
		t.Errorf("expected tapped output blocks, got %d", tapped.Load())
	}
}

func TestClockStreamCloseWithoutStart(t *testing.T) {
	v := NewVirtual()
	stream, err := v.OpenInput("null", audio.StreamConfig{SampleRate: 48000, Channels: 1}, func([]float32) {})
	if err != nil {
		t.Fatalf("OpenInput failed: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- stream.Close() }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Close returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a stream that never started")
	}
}

func TestVirtualFailReportsThroughDone(t *testing.T) {
	v := NewVirtual()
	var ticks atomic.Int64
	stream, err := v.OpenInput("tone", audio.StreamConfig{SampleRate: 8000, Channels: 1, FramesPerBuffer: 8}, func([]float32) {
		ticks.Add(1)
	})
	if err != nil {
		t.Fatalf("OpenInput failed: %v", err)
	}
	if err := stream.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stream.Close()

	unplugged := errors.New("unplugged")
	v.Fail(unplugged)

	select {
	case err := <-stream.Done():
		if !errors.Is(err, unplugged) {
			t.Errorf("expected unplugged error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("failure never reached Done")
	}

	settled := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	if ticks.Load() > settled+1 {
		t.Error("clock kept ticking after the device failed")
	}
}

func TestClosedStreamReportsNothing(t *testing.T) {
	v := NewVirtual()
	stream, err := v.OpenOutput("null", audio.StreamConfig{SampleRate: 8000, Channels: 1}, func([]float32) {})
	if err != nil {
		t.Fatalf("OpenOutput failed: %v", err)
	}
	stream.Start()
	stream.Close()
	v.Fail(errors.New("late"))

	select {
	case err := <-stream.Done():
		t.Errorf("closed stream reported %v", err)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHealthWatch(t *testing.T) {
	errPlayer := errors.New("player broke")

	tests := []struct {
		name    string
		beating bool
		check   func() error
		want    error
	}{
		{"stalled callbacks", false, nil, audio.ErrStreamStalled},
		{"check error", true, func() error { return errPlayer }, errPlayer},
		{"healthy", true, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHealth()
			defer h.close()

			stop := make(chan struct{})
			defer close(stop)
			if tt.beating {
				go func() {
					for {
						select {
						case <-stop:
							return
						case <-time.After(time.Millisecond):
							h.beat()
						}
					}
				}()
			}

			h.watch(20*time.Millisecond, tt.check)

			select {
			case err := <-h.Done():
				if tt.want == nil || !errors.Is(err, tt.want) {
					t.Errorf("got %v, want %v", err, tt.want)
				}
			case <-time.After(200 * time.Millisecond):
				if tt.want != nil {
					t.Errorf("expected %v, got nothing", tt.want)
				}
			}
		})
	}
}

func TestHealthLatchesFirstFailure(t *testing.T) {
	h := newHealth()
	first := errors.New("first")
	h.fail(first)
	h.fail(errors.New("second"))

	if err := <-h.Done(); err != first {
		t.Errorf("expected first failure, got %v", err)
	}
	select {
	case err := <-h.Done():
		t.Errorf("second failure delivered: %v", err)
	default:
	}
}

func TestRouterSendsVirtualNamesToClockHost(t *testing.T) {
	r := &router{hw: &failingHost{}, virtual: NewVirtual()}

	if _, err := r.OpenInput("tone", audio.StreamConfig{SampleRate: 48000, Channels: 1}, func([]float32) {}); err != nil {
		t.Errorf("virtual input should not reach hardware: %v", err)
	}
	if _, err := r.OpenInput("default", audio.StreamConfig{SampleRate: 48000, Channels: 1}, func([]float32) {}); !errors.Is(err, errHardware) {
		t.Errorf("default input should reach hardware, got %v", err)
	}

	devices, err := r.Devices(audio.Input)
	if err != nil {
		t.Fatalf("Devices failed: %v", err)
	}
	if len(devices) != 2 || devices[0].Name != "null" || devices[0].Default {
		t.Errorf("unexpected routed device list %+v", devices)
	}
}

func TestPullReaderServesWholeFrames(t *testing.T) {
	cfg := audio.StreamConfig{SampleRate: 48000, Channels: 2, FramesPerBuffer: 4}
	calls := 0
	r := newPullReader(cfg, func(out []float32) {
		calls++
		for i := range out {
			out[i] = 1
		}
	})

	buf := make([]byte, 23)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != 16 {
		t.Errorf("expected 2 whole frames (16 bytes), got %d", n)
	}
	if buf[0] != 0x00 || buf[3] != 0x3f {
		t.Errorf("expected little-endian 1.0, got % x", buf[:4])
	}

	big := make([]byte, 1024)
	if n, _ := r.Read(big); n != 32 {
		t.Errorf("expected read capped at one block (32 bytes), got %d", n)
	}
	if calls != 2 {
		t.Errorf("expected 2 callback calls, got %d", calls)
	}
}

var errHardware = errors.New("hardware touched")

type failingHost struct{}

func (failingHost) Name() string { return "fake" }
func (failingHost) Devices(audio.Direction) ([]audio.DeviceInfo, error) {
	return nil, nil
}
func (failingHost) DefaultConfig(audio.Direction, string) (audio.StreamConfig, error) {
	return audio.StreamConfig{}, errHardware
}
func (failingHost) OpenInput(string, audio.StreamConfig, audio.InputCallback) (audio.Stream, error) {
	return nil, errHardware
}
func (failingHost) OpenOutput(string, audio.StreamConfig, audio.OutputCallback) (audio.Stream, error) {
	return nil, errHardware
}
func (failingHost) Close() error { return nil }
