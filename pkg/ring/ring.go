// ABOUTME: Lock-free single-producer/single-consumer ring buffer of audio samples
// ABOUTME: Used as the jitter buffer between audio callbacks and relay workers
package ring

import (
	"errors"
	"math"
	"sync/atomic"
)

// cacheLine keeps the producer and consumer indices on separate cache lines.
const cacheLine = 64

// ErrInvalidLatency is returned by NewJitter for a non-positive latency window.
var ErrInvalidLatency = errors.New("ring: latency must be at least one sample")

// buffer is the storage shared by exactly one Producer and one Consumer.
//
// head and tail are free-running counters; the slot for a counter value is
// counter % size, so both indices advance modulo the capacity. head is only
// written by the producer and tail only by the consumer. The atomic store of
// head publishes the slot written before it, and the atomic store of tail
// releases the slot read before it.
type buffer struct {
	data []float32
	size uint64

	_    [cacheLine]byte
	head atomic.Uint64
	_    [cacheLine - 8]byte
	tail atomic.Uint64
	_    [cacheLine - 8]byte
}

// Producer is the write end of a ring. It must be owned by one goroutine.
type Producer struct {
	b *buffer
}

// Consumer is the read end of a ring. It must be owned by one goroutine.
type Consumer struct {
	b *buffer
}

// New allocates a ring holding capacity samples and returns its two ends.
// It panics if capacity is not positive.
func New(capacity int) (*Producer, *Consumer) {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	b := &buffer{
		data: make([]float32, capacity),
		size: uint64(capacity),
	}
	return &Producer{b: b}, &Consumer{b: b}
}

// NewJitter builds a jitter buffer for a latency window of latencySamples:
// capacity is twice the window and the first latencySamples slots are primed
// with silence, so the consumer has a full window to draw from before any
// real data arrives.
func NewJitter(latencySamples int) (*Producer, *Consumer, error) {
	if latencySamples < 1 {
		return nil, nil, ErrInvalidLatency
	}
	p, c := New(2 * latencySamples)
	for i := 0; i < latencySamples; i++ {
		p.Push(0)
	}
	return p, c, nil
}

// LatencySamples converts a latency in milliseconds into a sample count:
// round(latencyMs / 1000 * sampleRate) frames times the channel count.
func LatencySamples(latencyMs float64, sampleRate, channels int) int {
	frames := math.Round(latencyMs / 1000 * float64(sampleRate))
	return int(frames) * channels
}

// Push appends one sample. When the ring is full the sample is dropped, the
// existing contents are left untouched and Push returns false.
func (p *Producer) Push(s float32) bool {
	b := p.b
	head := b.head.Load()
	if head-b.tail.Load() == b.size {
		return false
	}
	b.data[head%b.size] = s
	b.head.Store(head + 1)
	return true
}

// PushSlice pushes samples in order until the ring is full and returns how
// many were accepted. Samples past that point are dropped.
func (p *Producer) PushSlice(samples []float32) int {
	b := p.b
	head := b.head.Load()
	free := b.size - (head - b.tail.Load())
	n := uint64(len(samples))
	if n > free {
		n = free
	}
	for i := uint64(0); i < n; i++ {
		b.data[(head+i)%b.size] = samples[i]
	}
	b.head.Store(head + n)
	return int(n)
}

// Len reports the number of samples waiting to be read.
func (p *Producer) Len() int { return p.b.len() }

// Free reports how many samples can be pushed before the ring is full.
func (p *Producer) Free() int { return int(p.b.size) - p.b.len() }

// Cap reports the fixed capacity.
func (p *Producer) Cap() int { return int(p.b.size) }

// Pop removes the oldest sample. It returns false when the ring is empty.
func (c *Consumer) Pop() (float32, bool) {
	b := c.b
	tail := b.tail.Load()
	if tail == b.head.Load() {
		return 0, false
	}
	s := b.data[tail%b.size]
	b.tail.Store(tail + 1)
	return s, true
}

// PopSlice fills dst with the oldest samples and returns how many were
// copied. Slots past that count are left as they were.
func (c *Consumer) PopSlice(dst []float32) int {
	b := c.b
	tail := b.tail.Load()
	avail := b.head.Load() - tail
	n := uint64(len(dst))
	if n > avail {
		n = avail
	}
	for i := uint64(0); i < n; i++ {
		dst[i] = b.data[(tail+i)%b.size]
	}
	b.tail.Store(tail + n)
	return int(n)
}

// Len reports the number of samples waiting to be read.
func (c *Consumer) Len() int { return c.b.len() }

// Cap reports the fixed capacity.
func (c *Consumer) Cap() int { return int(c.b.size) }

func (b *buffer) len() int {
	// Load tail first: head only grows, so the difference never underflows.
	tail := b.tail.Load()
	head := b.head.Load()
	return int(head - tail)
}
