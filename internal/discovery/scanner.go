// ABOUTME: Bounded-concurrency subnet sweep for relay peers
// ABOUTME: A fixed worker pool dials every address and fans successes into one channel
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/lanrelay/internal/metrics"
	"github.com/Resonate-Protocol/lanrelay/pkg/protocol"
	"github.com/rs/zerolog"
)

// Scan defaults.
const (
	DefaultWorkers     = 256
	DefaultDialTimeout = 500 * time.Millisecond
)

// ErrNoPeers is returned by Find when the sweep ends without a connection.
var ErrNoPeers = errors.New("discovery: no peers found")

// Dialer opens connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// PeerState is the lifecycle of a discovered peer.
type PeerState int32

const (
	PeerDiscovered PeerState = iota
	PeerConnected
	PeerStreaming
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerDiscovered:
		return "discovered"
	case PeerConnected:
		return "connected"
	case PeerStreaming:
		return "streaming"
	case PeerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Peer is a remote address with an established connection.
type Peer struct {
	Addr net.IP
	Conn net.Conn

	state atomic.Int32
	once  sync.Once
}

// NewPeer wraps an established connection.
func NewPeer(conn net.Conn) *Peer {
	p := &Peer{Conn: conn}
	switch addr := conn.RemoteAddr().(type) {
	case *net.TCPAddr:
		p.Addr = addr.IP
	case *net.UDPAddr:
		p.Addr = addr.IP
	}
	return p
}

// State returns the current lifecycle state.
func (p *Peer) State() PeerState {
	return PeerState(p.state.Load())
}

// SetState advances the lifecycle. A closed peer stays closed.
func (p *Peer) SetState(s PeerState) {
	for {
		cur := p.state.Load()
		if PeerState(cur) == PeerClosed {
			return
		}
		if p.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// Close closes the connection once and marks the peer closed.
func (p *Peer) Close() error {
	var err error
	p.once.Do(func() {
		p.state.Store(int32(PeerClosed))
		err = p.Conn.Close()
	})
	return err
}

func (p *Peer) String() string {
	if p.Conn != nil {
		if addr := p.Conn.RemoteAddr(); addr != nil {
			return addr.String()
		}
		return p.Conn.LocalAddr().String()
	}
	return p.Addr.String()
}

// ScanConfig holds scanner configuration
type ScanConfig struct {
	Workers          int
	Port             int
	DialTimeout      time.Duration
	ExcludeSelf      bool
	ExcludeBroadcast bool
	Dialer           Dialer
	Logger           zerolog.Logger
	Metrics          *metrics.Metrics
}

// Scanner sweeps subnets for hosts accepting relay connections
type Scanner struct {
	config ScanConfig
}

// NewScanner creates a scanner, filling in defaults for zero fields
func NewScanner(config ScanConfig) *Scanner {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.Port <= 0 {
		config.Port = protocol.DefaultPort
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	if config.Dialer == nil {
		config.Dialer = &net.Dialer{Timeout: config.DialTimeout}
	}
	return &Scanner{config: config}
}

// Scan dials every address of subnet through a pool of Workers goroutines.
// Peers arrive in completion order. Failed dials are dropped without error.
// The channel closes once every worker has returned, which happens early
// when ctx is cancelled. A worker holding a connection after cancellation
// closes it instead of delivering it.
func (s *Scanner) Scan(ctx context.Context, subnet Subnet) <-chan *Peer {
	workers := s.config.Workers
	if size := subnet.Size(); workers > size {
		workers = size
	}

	jobs := make(chan net.IP)
	results := make(chan *Peer, workers)
	var wg sync.WaitGroup

	s.config.Logger.Debug().
		Stringer("subnet", subnet).
		Int("addresses", subnet.Size()).
		Int("workers", workers).
		Msg("Scan started")

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ip := range jobs {
				peer, err := s.dial(ctx, net.JoinHostPort(ip.String(), strconv.Itoa(s.config.Port)))
				if err != nil {
					continue
				}
				select {
				case results <- peer:
				case <-ctx.Done():
					peer.Close()
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		broadcast := subnet.Broadcast()
		for offset := 0; offset < subnet.Size(); offset++ {
			ip := subnet.Addr(offset)
			if s.config.ExcludeSelf && ip.Equal(subnet.IP) {
				continue
			}
			if s.config.ExcludeBroadcast && ip.Equal(broadcast) {
				continue
			}
			select {
			case jobs <- ip:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// Find drains a sweep and stops at the first of: limit peers found
// (limit <= 0 means no limit), ctx done, or every worker finished. The rest
// of the sweep is then cancelled and connections that arrive late are
// closed. It returns ErrNoPeers when nothing answered, or ctx's error if ctx
// was cancelled rather than timed out.
func (s *Scanner) Find(ctx context.Context, subnet Subnet, limit int) ([]*Peer, error) {
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	var peers []*Peer
	for peer := range s.Scan(scanCtx, subnet) {
		if limit > 0 && len(peers) >= limit {
			peer.Close()
			continue
		}
		peers = append(peers, peer)
		s.config.Logger.Debug().Stringer("peer", peer).Msg("Peer found")
		if limit > 0 && len(peers) == limit {
			cancel()
		}
	}

	s.config.Logger.Info().
		Stringer("subnet", subnet).
		Int("peers", len(peers)).
		Dur("elapsed", time.Since(start)).
		Msg("Scan finished")

	if len(peers) == 0 {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, ErrNoPeers
	}
	return peers, nil
}

// DialAddr connects to a single host:port using the scanner's dialer.
func (s *Scanner) DialAddr(ctx context.Context, addr string) (*Peer, error) {
	peer, err := s.dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return peer, nil
}

func (s *Scanner) dial(ctx context.Context, addr string) (*Peer, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.DialTimeout)
	defer cancel()

	s.config.Metrics.DialStarted()
	conn, err := s.config.Dialer.DialContext(ctx, "tcp", addr)
	s.config.Metrics.DialFinished(err == nil)
	if err != nil {
		return nil, err
	}
	return NewPeer(conn), nil
}
