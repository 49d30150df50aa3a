// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts float audio between different sample rates
// Package resample provides audio sample rate conversion.
//
// Uses linear interpolation for converting between sample rates.
// Handles both upsampling and downsampling.
//
// Example:
//
//	r := resample.New(44100, 48000, 2)
//	out := make([]float32, r.OutputSamplesNeeded(len(in)))
//	n := r.Resample(in, out)
package resample
