// ABOUTME: Stream relay workers moving samples between rings and a connection
// ABOUTME: Sender drains the capture ring, receiver fills the playback ring
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/lanrelay/pkg/protocol"
	"github.com/Resonate-Protocol/lanrelay/pkg/ring"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Worker defaults.
const (
	DefaultBatchSize = 256
	DefaultIdleWait  = time.Millisecond
)

// maxDatagram bounds a single UDP read; anything other than one sample is dropped.
const maxDatagram = 64

// ErrPeerClosed reports that the remote end closed the stream, cleanly or
// in the middle of a sample.
var ErrPeerClosed = errors.New("relay: peer closed the connection")

// Role selects which directions a connection carries.
type Role int

const (
	RoleSend Role = iota
	RoleReceive
	RoleDuplex
)

func (r Role) String() string {
	switch r {
	case RoleSend:
		return "send"
	case RoleReceive:
		return "receive"
	case RoleDuplex:
		return "duplex"
	default:
		return "unknown"
	}
}

// Sends reports whether the role writes samples.
func (r Role) Sends() bool { return r == RoleSend || r == RoleDuplex }

// Receives reports whether the role reads samples.
func (r Role) Receives() bool { return r == RoleReceive || r == RoleDuplex }

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "send":
		return RoleSend, nil
	case "receive", "recv":
		return RoleReceive, nil
	case "duplex":
		return RoleDuplex, nil
	default:
		return 0, fmt.Errorf("unknown role %q (want send, receive or duplex)", s)
	}
}

// Stats counts relay traffic. All fields are safe for concurrent use.
type Stats struct {
	Sent      atomic.Uint64
	Received  atomic.Uint64
	Overruns  atomic.Uint64
	Malformed atomic.Uint64
}

// Options configures the relay workers
type Options struct {
	// Datagram selects one-sample-per-packet framing.
	Datagram bool

	// BatchSize caps the samples popped and written per stream write.
	BatchSize int

	// IdleWait is how long the sender sleeps when the capture ring is empty.
	IdleWait time.Duration

	Logger zerolog.Logger
	Stats  *Stats
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.IdleWait <= 0 {
		o.IdleWait = DefaultIdleWait
	}
	if o.Stats == nil {
		o.Stats = &Stats{}
	}
	return o
}

// Run starts the workers for role on conn and blocks until they stop.
func Run(ctx context.Context, role Role, conn net.Conn, capture *ring.Consumer, playback *ring.Producer, opts Options) error {
	switch role {
	case RoleSend:
		return Send(ctx, conn, capture, opts)
	case RoleReceive:
		return Receive(ctx, conn, playback, opts)
	case RoleDuplex:
		return Duplex(ctx, conn, capture, playback, opts)
	default:
		return fmt.Errorf("unknown role %d", role)
	}
}

// Duplex runs a sender and a receiver on the same connection with separate
// rings. The first failure stops both directions and is returned.
func Duplex(ctx context.Context, conn net.Conn, capture *ring.Consumer, playback *ring.Producer, opts Options) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return Send(gctx, conn, capture, opts)
	})
	g.Go(func() error {
		return Receive(gctx, conn, playback, opts)
	})
	return g.Wait()
}

// Send pops samples from capture and writes them to conn until an I/O error
// or ctx is done. An empty ring sends nothing. Cancellation returns nil.
func Send(ctx context.Context, conn net.Conn, capture *ring.Consumer, opts Options) error {
	opts = opts.withDefaults()
	stop := expireOnDone(ctx, conn)
	defer stop()

	samples := make([]float32, opts.BatchSize)
	buf := make([]byte, 0, opts.BatchSize*protocol.SampleSize)
	idle := time.NewTimer(opts.IdleWait)
	defer idle.Stop()

	for {
		n := capture.PopSlice(samples)
		if n == 0 {
			idle.Reset(opts.IdleWait)
			select {
			case <-ctx.Done():
				return nil
			case <-idle.C:
			}
			continue
		}

		var err error
		if opts.Datagram {
			err = writeDatagrams(conn, samples[:n], buf)
		} else {
			buf = buf[:0]
			for _, s := range samples[:n] {
				buf = protocol.AppendSample(buf, s)
			}
			_, err = conn.Write(buf)
		}
		if err != nil {
			return opts.fail(ctx, "send", err)
		}
		opts.Stats.Sent.Add(uint64(n))
	}
}

func writeDatagrams(conn net.Conn, samples []float32, buf []byte) error {
	buf = buf[:protocol.SampleSize]
	for _, s := range samples {
		protocol.PutSample(buf, s)
		if _, err := conn.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// Receive reads samples from conn and pushes them into playback until the
// stream ends, an I/O error occurs or ctx is done. End of stream, including
// a short final read, returns ErrPeerClosed. Cancellation returns nil.
func Receive(ctx context.Context, conn net.Conn, playback *ring.Producer, opts Options) error {
	opts = opts.withDefaults()
	stop := expireOnDone(ctx, conn)
	defer stop()

	if opts.Datagram {
		return receiveDatagrams(ctx, conn, playback, opts)
	}

	sr := protocol.NewSampleReader(conn)
	overrun := false
	for {
		s, err := sr.ReadSample()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, protocol.ErrShortRead) {
				if ctx.Err() != nil {
					return nil
				}
				opts.Logger.Info().Err(err).Msg("Peer closed the stream")
				return fmt.Errorf("receive: %w", ErrPeerClosed)
			}
			return opts.fail(ctx, "receive", err)
		}
		opts.Stats.Received.Add(1)
		overrun = opts.push(playback, s, overrun)
	}
}

func receiveDatagrams(ctx context.Context, conn net.Conn, playback *ring.Producer, opts Options) error {
	var buf [maxDatagram]byte
	overrun := false
	for {
		n, err := conn.Read(buf[:])
		if err != nil {
			return opts.fail(ctx, "receive", err)
		}
		if n != protocol.SampleSize {
			if opts.Stats.Malformed.Add(1) == 1 {
				opts.Logger.Warn().Int("bytes", n).Msg("Dropping malformed datagram")
			}
			continue
		}
		opts.Stats.Received.Add(1)
		overrun = opts.push(playback, protocol.Sample(buf[:n]), overrun)
	}
}

// push stores one sample and logs the start of each overrun episode.
func (o Options) push(playback *ring.Producer, s float32, overrun bool) bool {
	if playback.Push(s) {
		return false
	}
	o.Stats.Overruns.Add(1)
	if !overrun {
		o.Logger.Warn().Msg("Playback buffer full, dropping samples: output device is slower than the stream")
	}
	return true
}

func (o Options) fail(ctx context.Context, dir string, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	o.Logger.Error().Err(err).Str("direction", dir).Msg("Relay I/O failed, closing connection")
	return fmt.Errorf("%s: %w", dir, err)
}

// expireOnDone unblocks pending reads and writes on conn when ctx ends.
func expireOnDone(ctx context.Context, conn net.Conn) func() bool {
	return context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
}
