// ABOUTME: Audio backend selection
// ABOUTME: Builds a Host for a backend name and routes virtual device names to the clock host
package device

import (
	"fmt"
	"strings"

	"github.com/Resonate-Protocol/lanrelay/pkg/audio"
	"github.com/Resonate-Protocol/lanrelay/pkg/audio/source"
	"github.com/rs/zerolog"
)

// Backend names accepted by NewHost.
const (
	BackendMalgo     = "malgo"
	BackendPortAudio = "portaudio"
	BackendOto       = "oto"
	BackendNull      = "null"
)

// Backends lists the backend names in preference order.
var Backends = []string{BackendMalgo, BackendPortAudio, BackendOto, BackendNull}

// NewHost opens the named backend. Every backend also accepts the virtual
// device names null, tone[:hz] and file:<path>.
func NewHost(backend string, logger zerolog.Logger) (audio.Host, error) {
	virtual := NewVirtual()

	var (
		hw  audio.Host
		err error
	)
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendMalgo:
		hw, err = NewMalgo(logger)
	case BackendPortAudio:
		hw, err = NewPortAudio(logger)
	case BackendOto:
		hw = NewOto(logger)
	case BackendNull:
		return virtual, nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q (want one of %s)", backend, strings.Join(Backends, ", "))
	}
	if err != nil {
		return nil, err
	}

	return &router{hw: hw, virtual: virtual}, nil
}

// router sends virtual device names to the clock host and everything else
// to the hardware backend.
type router struct {
	hw      audio.Host
	virtual *Virtual
}

func (r *router) Name() string { return r.hw.Name() }

func (r *router) Devices(dir audio.Direction) ([]audio.DeviceInfo, error) {
	devices, err := r.hw.Devices(dir)
	if err != nil {
		return nil, err
	}
	virtual, _ := r.virtual.Devices(dir)
	for _, d := range virtual {
		d.Default = false
		devices = append(devices, d)
	}
	return devices, nil
}

func (r *router) DefaultConfig(dir audio.Direction, device string) (audio.StreamConfig, error) {
	if source.IsVirtual(device) {
		return r.virtual.DefaultConfig(dir, device)
	}
	return r.hw.DefaultConfig(dir, device)
}

func (r *router) OpenInput(device string, cfg audio.StreamConfig, cb audio.InputCallback) (audio.Stream, error) {
	if source.IsVirtual(device) {
		return r.virtual.OpenInput(device, cfg, cb)
	}
	return r.hw.OpenInput(device, cfg, cb)
}

func (r *router) OpenOutput(device string, cfg audio.StreamConfig, cb audio.OutputCallback) (audio.Stream, error) {
	if source.IsVirtual(device) {
		return r.virtual.OpenOutput(device, cfg, cb)
	}
	return r.hw.OpenOutput(device, cfg, cb)
}

func (r *router) Close() error {
	return r.hw.Close()
}
