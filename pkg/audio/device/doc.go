// ABOUTME: Audio device backends package
// ABOUTME: Provides malgo, PortAudio, oto and virtual implementations of audio.Host
// Package device provides implementations of audio.Host.
//
// Supported backends:
//   - malgo: miniaudio capture and playback (default)
//   - portaudio: PortAudio capture and playback (requires -tags portaudio)
//   - oto: playback only
//   - null: ticker-driven virtual devices, no hardware
//
// Every backend also resolves the virtual device names null, tone[:hz] and
// file:<path> (MP3 or FLAC), which makes a hardware-free sender possible anywhere.
//
// Example:
//
//	host, err := device.NewHost("malgo", logger)
//	stream, err := host.OpenInput("default", cfg, func(in []float32) { ... })
//	stream.Start()
package device
