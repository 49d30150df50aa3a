// ABOUTME: Tests for audio resampler
// ABOUTME: Tests linear interpolation resampling between sample rates
package resample

import (
	"math"
	"testing"
)

func TestNew(t *testing.T) {
	r := New(44100, 48000, 2)

	if r.inputRate != 44100 {
		t.Errorf("expected inputRate 44100, got %d", r.inputRate)
	}
	if r.outputRate != 48000 {
		t.Errorf("expected outputRate 48000, got %d", r.outputRate)
	}
	if r.channels != 2 {
		t.Errorf("expected channels 2, got %d", r.channels)
	}
}

func TestResampleUpsampling(t *testing.T) {
	r := New(44100, 48000, 2)

	// 100 stereo frames of a ramp
	input := make([]float32, 200)
	for i := range input {
		input[i] = float32(i) / 200
	}

	expectedSize := r.OutputSamplesNeeded(len(input))
	output := make([]float32, expectedSize)

	n := r.Resample(input, output)
	if n == 0 {
		t.Fatal("resampler produced no output")
	}
	if n < expectedSize-10 || n > expectedSize {
		t.Errorf("expected ~%d samples, got %d", expectedSize, n)
	}
}

func TestResampleDownsampling(t *testing.T) {
	r := New(48000, 44100, 1)

	input := make([]float32, 480)
	for i := range input {
		input[i] = 0.25
	}

	output := make([]float32, r.OutputSamplesNeeded(len(input)))
	n := r.Resample(input, output)
	if n == 0 {
		t.Fatal("resampler produced no output")
	}

	// A constant signal must stay constant after interpolation
	for i := 0; i < n; i++ {
		if math.Abs(float64(output[i]-0.25)) > 1e-6 {
			t.Fatalf("sample %d = %v, want 0.25", i, output[i])
		}
	}
}

func TestResampleSameRateIsIdentity(t *testing.T) {
	r := New(48000, 48000, 1)

	input := []float32{0.1, 0.2, 0.3, 0.4, 0.5}
	output := make([]float32, len(input))

	n := r.Resample(input, output)
	// The last frame has no successor to interpolate with
	if n != len(input)-1 {
		t.Fatalf("expected %d samples, got %d", len(input)-1, n)
	}
	for i := 0; i < n; i++ {
		if output[i] != input[i] {
			t.Errorf("sample %d: got %v, want %v", i, output[i], input[i])
		}
	}
}

func TestResampleEmptyInput(t *testing.T) {
	r := New(44100, 48000, 2)
	if n := r.Resample(nil, make([]float32, 10)); n != 0 {
		t.Errorf("expected 0 samples from empty input, got %d", n)
	}
}

func TestReset(t *testing.T) {
	r := New(44100, 48000, 1)
	r.position = 0.7
	r.Reset()
	if r.position != 0 {
		t.Errorf("expected position 0 after reset, got %v", r.position)
	}
}
