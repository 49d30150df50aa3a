// ABOUTME: Malgo-based audio host using miniaudio
// ABOUTME: Opens float32 capture and playback streams with callback delivery
package device

import (
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"github.com/Resonate-Protocol/lanrelay/pkg/audio"
	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

// Preferred stream shape for hardware devices. miniaudio converts to and
// from the device's native format, so any rate or channel count opens.
const (
	preferredRate   = 48000
	preferredFrames = 480
)

// Malgo host implementation using the malgo/miniaudio library
type Malgo struct {
	logger zerolog.Logger

	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
}

// NewMalgo initializes a miniaudio context
func NewMalgo(logger zerolog.Logger) (*Malgo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug().Str("backend", "malgo").Msg(strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	return &Malgo{logger: logger, malgoCtx: ctx}, nil
}

func (m *Malgo) Name() string { return "malgo" }

func (m *Malgo) Devices(dir audio.Direction) ([]audio.DeviceInfo, error) {
	infos, err := m.devices(dir)
	if err != nil {
		return nil, err
	}

	out := make([]audio.DeviceInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, audio.DeviceInfo{
			Name:      info.Name(),
			Direction: dir,
			Default:   info.IsDefault != 0,
		})
	}
	return out, nil
}

func (m *Malgo) DefaultConfig(dir audio.Direction, device string) (audio.StreamConfig, error) {
	if _, err := m.lookup(dir, device); err != nil {
		return audio.StreamConfig{}, err
	}

	channels := 2
	if dir == audio.Input {
		channels = 1
	}
	return audio.StreamConfig{SampleRate: preferredRate, Channels: channels, FramesPerBuffer: preferredFrames}, nil
}

func (m *Malgo) OpenInput(device string, cfg audio.StreamConfig, cb audio.InputCallback) (audio.Stream, error) {
	h := newHealth()
	return m.open(audio.Input, device, cfg, h, func(_, in []byte, _ uint32) {
		h.beat()
		if len(in) < 4 {
			return
		}
		cb(bytesAsFloat32(in))
	})
}

func (m *Malgo) OpenOutput(device string, cfg audio.StreamConfig, cb audio.OutputCallback) (audio.Stream, error) {
	h := newHealth()
	return m.open(audio.Output, device, cfg, h, func(out, _ []byte, _ uint32) {
		h.beat()
		if len(out) < 4 {
			return
		}
		cb(bytesAsFloat32(out))
	})
}

func (m *Malgo) open(dir audio.Direction, device string, cfg audio.StreamConfig, h *health, data malgo.DataProc) (audio.Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id, err := m.lookup(dir, device)
	if err != nil {
		return nil, err
	}

	var deviceConfig malgo.DeviceConfig
	if dir == audio.Input {
		deviceConfig = malgo.DefaultDeviceConfig(malgo.Capture)
		deviceConfig.Capture.Format = malgo.FormatF32
		deviceConfig.Capture.Channels = uint32(cfg.Channels)
		deviceConfig.Capture.DeviceID = id
	} else {
		deviceConfig = malgo.DefaultDeviceConfig(malgo.Playback)
		deviceConfig.Playback.Format = malgo.FormatF32
		deviceConfig.Playback.Channels = uint32(cfg.Channels)
		deviceConfig.Playback.DeviceID = id
	}
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.FramesPerBuffer)
	deviceConfig.Alsa.NoMMap = 1

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.malgoCtx == nil {
		return nil, fmt.Errorf("malgo host closed")
	}

	// miniaudio calls Stop for our own Stop too; health drops that one.
	callbacks := malgo.DeviceCallbacks{
		Data: data,
		Stop: func() { h.fail(fmt.Errorf("%w: %s device %q", audio.ErrStreamStopped, dir, device)) },
	}
	dev, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s device: %w", dir, err)
	}

	m.logger.Info().
		Str("device", device).
		Stringer("direction", dir).
		Stringer("config", cfg).
		Msg("Audio stream opened (malgo/F32)")

	return &malgoStream{device: dev, health: h}, nil
}

// lookup resolves a device name to a miniaudio device ID. The default
// device maps to a nil ID, which miniaudio treats as the system default.
func (m *Malgo) lookup(dir audio.Direction, device string) (unsafe.Pointer, error) {
	if audio.IsDefault(device) {
		return nil, nil
	}

	infos, err := m.devices(dir)
	if err != nil {
		return nil, err
	}
	for i := range infos {
		if strings.EqualFold(strings.TrimSpace(infos[i].Name()), strings.TrimSpace(device)) {
			return infos[i].ID.Pointer(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s device %q", audio.ErrDeviceNotFound, dir, device)
}

func (m *Malgo) devices(dir audio.Direction) ([]malgo.DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.malgoCtx == nil {
		return nil, fmt.Errorf("malgo host closed")
	}

	kind := malgo.Playback
	if dir == audio.Input {
		kind = malgo.Capture
	}
	infos, err := m.malgoCtx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s devices: %w", dir, err)
	}
	return infos, nil
}

// Close releases the miniaudio context
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			m.logger.Warn().Err(err).Msg("malgo context uninit error")
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
	return nil
}

type malgoStream struct {
	*health
	device *malgo.Device
	once   sync.Once
}

func (s *malgoStream) Start() error {
	if err := s.device.Start(); err != nil {
		return fmt.Errorf("failed to start device: %w", err)
	}
	s.watch(stallTimeout, nil)
	return nil
}

func (s *malgoStream) Close() error {
	var err error
	s.once.Do(func() {
		s.health.close()
		if stopErr := s.device.Stop(); stopErr != nil {
			err = fmt.Errorf("device stop error: %w", stopErr)
		}
		s.device.Uninit()
	})
	return err
}

// bytesAsFloat32 reinterprets a miniaudio F32 buffer in place.
func bytesAsFloat32(b []byte) []float32 {
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}
