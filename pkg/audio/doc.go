// ABOUTME: Audio device adapter package
// ABOUTME: Declares the Host and Stream contract shared by all device backends
// Package audio defines the device contract the relay core depends on.
//
// A Host enumerates devices, negotiates a StreamConfig and opens streams
// whose callbacks run on the device's real-time thread. Callbacks receive or
// fill one interleaved block of float32 samples per invocation.
//
// Backends live in the device subpackage; synthetic inputs live in source.
//
// Example:
//
//	cfg, err := host.DefaultConfig(audio.Input, audio.DefaultDevice)
//	stream, err := host.OpenInput(audio.DefaultDevice, cfg, func(in []float32) {
//	    for _, s := range in {
//	        producer.Push(s)
//	    }
//	})
//	err = stream.Start()
package audio
