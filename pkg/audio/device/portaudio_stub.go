//go:build !portaudio

// ABOUTME: PortAudio stub when library not available
// ABOUTME: Provides compile-time placeholder when PortAudio not installed
package device

import (
	"fmt"

	"github.com/Resonate-Protocol/lanrelay/pkg/audio"
	"github.com/rs/zerolog"
)

// NewPortAudio reports that PortAudio support was not compiled in
func NewPortAudio(logger zerolog.Logger) (audio.Host, error) {
	return nil, fmt.Errorf("%w: PortAudio support not enabled (build with -tags portaudio)", audio.ErrUnsupported)
}
