// ABOUTME: Tests for the SPSC ring buffer
// ABOUTME: Covers FIFO order, priming, overrun/underrun policy and concurrent use
package ring

import (
	"errors"
	"sync"
	"testing"
)

func TestPushPopPreservesOrder(t *testing.T) {
	const capacity = 64

	for _, n := range []int{0, 1, 17, capacity} {
		p, c := New(capacity)
		for i := 0; i < n; i++ {
			if !p.Push(float32(i) * 0.5) {
				t.Fatalf("n=%d: push %d rejected", n, i)
			}
		}
		for i := 0; i < n; i++ {
			got, ok := c.Pop()
			if !ok {
				t.Fatalf("n=%d: pop %d returned no value", n, i)
			}
			if want := float32(i) * 0.5; got != want {
				t.Fatalf("n=%d: pop %d = %v, want %v", n, i, got, want)
			}
		}
		if _, ok := c.Pop(); ok {
			t.Errorf("n=%d: expected empty ring after draining", n)
		}
	}
}

func TestWrapAround(t *testing.T) {
	p, c := New(5)

	next := float32(0)
	want := float32(0)
	// Cycle well past the capacity so indices wrap several times.
	for round := 0; round < 20; round++ {
		for i := 0; i < 3; i++ {
			if !p.Push(next) {
				t.Fatalf("round %d: push rejected", round)
			}
			next++
		}
		for i := 0; i < 3; i++ {
			got, ok := c.Pop()
			if !ok || got != want {
				t.Fatalf("round %d: got (%v, %v), want (%v, true)", round, got, ok, want)
			}
			want++
		}
	}
}

func TestNewJitterPrimesSilence(t *testing.T) {
	latency := LatencySamples(150, 48000, 1)
	if latency != 7200 {
		t.Fatalf("expected 7200 latency samples, got %d", latency)
	}

	p, c, err := NewJitter(latency)
	if err != nil {
		t.Fatalf("NewJitter failed: %v", err)
	}
	if c.Cap() != 2*latency {
		t.Errorf("expected capacity %d, got %d", 2*latency, c.Cap())
	}
	if p.Len() != latency {
		t.Errorf("expected %d primed samples, got %d", latency, p.Len())
	}

	p.Push(0.75)

	for i := 0; i < latency; i++ {
		got, ok := c.Pop()
		if !ok {
			t.Fatalf("primed pop %d returned no value", i)
		}
		if got != 0 {
			t.Fatalf("primed pop %d = %v, want 0", i, got)
		}
	}
	got, ok := c.Pop()
	if !ok || got != 0.75 {
		t.Errorf("expected producer data after silence, got (%v, %v)", got, ok)
	}
}

func TestNewJitterRejectsZeroLatency(t *testing.T) {
	if _, _, err := NewJitter(0); !errors.Is(err, ErrInvalidLatency) {
		t.Errorf("expected ErrInvalidLatency, got %v", err)
	}
}

func TestOverrunDropsNewest(t *testing.T) {
	p, c := New(4)
	for i := 1; i <= 4; i++ {
		p.Push(float32(i))
	}

	if p.Push(99) {
		t.Fatal("push into full ring should be rejected")
	}
	if p.Free() != 0 {
		t.Errorf("expected no free slots, got %d", p.Free())
	}

	for i := 1; i <= 4; i++ {
		got, ok := c.Pop()
		if !ok || got != float32(i) {
			t.Fatalf("content probe %d: got (%v, %v), want (%v, true)", i, got, ok, float32(i))
		}
	}
	if _, ok := c.Pop(); ok {
		t.Error("rejected sample must not appear in the ring")
	}
}

func TestPopEmptyIsRepeatable(t *testing.T) {
	_, c := New(8)
	for i := 0; i < 1000; i++ {
		if v, ok := c.Pop(); ok || v != 0 {
			t.Fatalf("pop %d on empty ring returned (%v, %v)", i, v, ok)
		}
	}
}

func TestPushSlicePartial(t *testing.T) {
	p, c := New(4)
	p.Push(-1)

	n := p.PushSlice([]float32{1, 2, 3, 4, 5})
	if n != 3 {
		t.Fatalf("expected 3 accepted, got %d", n)
	}

	dst := make([]float32, 8)
	got := c.PopSlice(dst)
	if got != 4 {
		t.Fatalf("expected 4 popped, got %d", got)
	}
	want := []float32{-1, 1, 2, 3}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("index %d: got %v, want %v", i, dst[i], want[i])
		}
	}
}

func TestLatencySamples(t *testing.T) {
	tests := []struct {
		latencyMs  float64
		sampleRate int
		channels   int
		want       int
	}{
		{150, 48000, 1, 7200},
		{150, 48000, 2, 14400},
		{150, 44100, 2, 13230},
		{10.01, 44100, 1, 441}, // 441.441 rounds down
		{10.02, 44100, 1, 442}, // 441.882 rounds up
		{0, 48000, 2, 0},
	}

	for _, tt := range tests {
		got := LatencySamples(tt.latencyMs, tt.sampleRate, tt.channels)
		if got != tt.want {
			t.Errorf("LatencySamples(%v, %d, %d) = %d, want %d",
				tt.latencyMs, tt.sampleRate, tt.channels, got, tt.want)
		}
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	const total = 200000
	p, c := New(256)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			if p.Push(float32(i)) {
				i++
			}
		}
	}()

	for want := 0; want < total; {
		got, ok := c.Pop()
		if !ok {
			continue
		}
		if got != float32(want) {
			t.Fatalf("out of order: got %v, want %d", got, want)
		}
		want++
	}
	wg.Wait()
}
