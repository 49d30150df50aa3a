// ABOUTME: Tests for the synthetic audio sources
// ABOUTME: Covers name parsing, tone continuity, channel remixing and bad file input
package source

import (
	"bytes"
	"math"
	"testing"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"null", "*source.Silence", false},
		{"tone", "*source.Tone", false},
		{"TONE:1000", "*source.Tone", false},
		{"tone:abc", "", true},
		{"tone:-5", "", true},
		{"file:/does/not/exist.mp3", "", true},
		{"file:/does/not/exist.flac", "", true},
		{"file:clip.wav", "", true},
		{"speaker", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := Open(tt.name, 48000, 2)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := typeName(src); got != tt.want {
				t.Errorf("Open(%q) returned %s, want %s", tt.name, got, tt.want)
			}
			if src.SampleRate() != 48000 || src.Channels() != 2 {
				t.Errorf("unexpected format %d Hz x%d", src.SampleRate(), src.Channels())
			}
		})
	}
}

func typeName(s Source) string {
	switch s.(type) {
	case *Silence:
		return "*source.Silence"
	case *Tone:
		return "*source.Tone"
	case *Clip:
		return "*source.Clip"
	}
	return "unknown"
}

func TestIsVirtual(t *testing.T) {
	for _, name := range []string{"null", "tone", "tone:220", "file:a.mp3", " Null "} {
		if !IsVirtual(name) {
			t.Errorf("expected %q to be virtual", name)
		}
	}
	for _, name := range []string{"", "default", "toned", "Built-in Microphone"} {
		if IsVirtual(name) {
			t.Errorf("expected %q not to be virtual", name)
		}
	}
}

func TestToneIsContinuousAcrossReads(t *testing.T) {
	const rate = 48000

	whole := NewTone(440, rate, 2)
	a := make([]float32, 200)
	whole.Read(a)

	split := NewTone(440, rate, 2)
	b := make([]float32, 200)
	split.Read(b[:60])
	split.Read(b[60:])

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d differs: %v vs %v", i, a[i], b[i])
		}
	}

	for i := 0; i < len(a); i += 2 {
		if a[i] != a[i+1] {
			t.Fatalf("frame %d: channels differ", i/2)
		}
		if math.Abs(float64(a[i])) > toneGain {
			t.Fatalf("sample %d exceeds gain: %v", i, a[i])
		}
	}
}

func TestSilenceClearsBuffer(t *testing.T) {
	buf := []float32{1, 2, 3}
	NewSilence(48000, 1).Read(buf)
	for i, v := range buf {
		if v != 0 {
			t.Errorf("sample %d = %v, want 0", i, v)
		}
	}
}

func TestRemix(t *testing.T) {
	stereo := []float32{0.2, 0.4, -1, 1}

	mono := remix(stereo, 2, 1)
	if len(mono) != 2 {
		t.Fatalf("expected 2 mono samples, got %d", len(mono))
	}
	if math.Abs(float64(mono[0]-0.3)) > 1e-6 || mono[1] != 0 {
		t.Errorf("unexpected mono mix %v", mono)
	}

	quad := remix(stereo, 2, 4)
	want := []float32{0.2, 0.4, 0.2, 0.4, -1, 1, -1, 1}
	for i := range want {
		if quad[i] != want[i] {
			t.Fatalf("quad mix = %v, want %v", quad, want)
		}
	}

	if same := remix(stereo, 2, 2); &same[0] != &stereo[0] {
		t.Error("remix to the same channel count should not copy")
	}
}

func TestClipLoops(t *testing.T) {
	c := &Clip{samples: []float32{1, 2, 3}, rate: 48000, channels: 1}
	buf := make([]float32, 7)
	c.Read(buf)
	want := []float32{1, 2, 3, 1, 2, 3, 1}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("clip read = %v, want %v", buf, want)
		}
	}
}

func TestDecodeMP3RejectsGarbage(t *testing.T) {
	if _, err := DecodeMP3(bytes.NewReader([]byte("not an mp3 file")), 48000, 2); err == nil {
		t.Error("expected error decoding garbage")
	}
}

func TestDecodeFLACRejectsGarbage(t *testing.T) {
	if _, err := DecodeFLAC(bytes.NewReader([]byte("fLaC but not really")), 48000, 2); err == nil {
		t.Error("expected error decoding garbage")
	}
}

func TestNewClipResamplesAndRemixes(t *testing.T) {
	stereo := make([]float32, 2*4410)
	for i := range stereo {
		stereo[i] = 0.5
	}

	c, err := newClip(stereo, 44100, 2, 48000, 1)
	if err != nil {
		t.Fatalf("newClip: %v", err)
	}
	if c.Channels() != 1 || c.SampleRate() != 48000 {
		t.Errorf("unexpected format %d Hz x%d", c.SampleRate(), c.Channels())
	}
	// 100ms at 48kHz mono, allowing for resampler edge frames
	if n := len(c.samples); n < 4700 || n > 4900 {
		t.Errorf("expected about 4800 samples, got %d", n)
	}
}

func TestNewClipRejectsEmpty(t *testing.T) {
	if _, err := newClip(nil, 48000, 2, 48000, 2); err == nil {
		t.Error("expected error for empty clip")
	}
}
