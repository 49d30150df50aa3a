// ABOUTME: Session orchestrator tying devices, discovery and relay together
// ABOUTME: Owns the connection lifecycle, rings and device streams for one run
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/lanrelay/internal/config"
	"github.com/Resonate-Protocol/lanrelay/internal/discovery"
	"github.com/Resonate-Protocol/lanrelay/internal/metrics"
	"github.com/Resonate-Protocol/lanrelay/internal/relay"
	"github.com/Resonate-Protocol/lanrelay/pkg/audio"
	"github.com/Resonate-Protocol/lanrelay/pkg/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrDeviceSetup wraps any failure to find or configure an audio device.
	ErrDeviceSetup = errors.New("session: audio device setup failed")

	// ErrDeviceFailed is returned when a running device stream fails. It
	// ends the session even with reconnect on.
	ErrDeviceFailed = errors.New("session: audio device failed")

	// ErrDisconnected is returned when the peer connection is lost and
	// reconnect is disabled.
	ErrDisconnected = errors.New("session: peer disconnected")
)

// Defaults for Options.
const (
	DefaultReportInterval = time.Second
	reconnectDelay        = time.Second
)

// Options carries collaborators that are not part of the file config
type Options struct {
	// Listener replaces the TCP listener a listening session would bind.
	Listener net.Listener

	// Dialer replaces the network dialer used for explicit peers and sweeps.
	Dialer discovery.Dialer

	Metrics *metrics.Metrics
	Logger  zerolog.Logger

	// OnStateChange is called synchronously on every transition and must not block.
	OnStateChange func(State)

	// ReportInterval is how often counters are turned into logs and metrics.
	ReportInterval time.Duration
}

// Snapshot is a point-in-time view of a session
type Snapshot struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Since     time.Time `json:"since"`
	Role      string    `json:"role"`
	Transport string    `json:"transport"`
	Peer      string    `json:"peer,omitempty"`
	Error     string    `json:"error,omitempty"`

	SampleRate     int `json:"sample_rate"`
	Channels       int `json:"channels"`
	LatencySamples int `json:"latency_samples"`

	Sent             uint64 `json:"samples_sent"`
	Received         uint64 `json:"samples_received"`
	CaptureOverruns  uint64 `json:"capture_overruns"`
	PlaybackOverruns uint64 `json:"playback_overruns"`
	Underruns        uint64 `json:"playback_underruns"`
	Malformed        uint64 `json:"malformed_datagrams"`
	CaptureFill      int    `json:"capture_fill"`
	PlaybackFill     int    `json:"playback_fill"`
	Connections      uint64 `json:"connections"`
}

// Session runs one relay endpoint from device setup to shutdown
type Session struct {
	id        string
	cfg       *config.Config
	host      audio.Host
	opts      Options
	logger    zerolog.Logger
	role      relay.Role
	transport protocol.Transport

	mu      sync.Mutex
	state   State
	since   time.Time
	peer    string
	lastErr string

	// pipe is set once by Run after audio setup.
	pipe *pipeline

	stats       relay.Stats
	connections atomic.Uint64
}

// New validates cfg and creates a session that will use host for audio
func New(cfg *config.Config, host audio.Host, opts Options) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	role, err := relay.ParseRole(cfg.Role)
	if err != nil {
		return nil, err
	}
	transport, err := protocol.ParseTransport(cfg.Transport)
	if err != nil {
		return nil, err
	}

	if opts.ReportInterval <= 0 {
		opts.ReportInterval = DefaultReportInterval
	}

	id := uuid.New().String()
	return &Session{
		id:        id,
		cfg:       cfg,
		host:      host,
		opts:      opts,
		logger:    opts.Logger.With().Str("session", id[:8]).Logger(),
		role:      role,
		transport: transport,
		state:     StateIdle,
		since:     time.Now(),
	}, nil
}

// ID returns the session's unique identifier
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns current state and counters
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		ID:        s.id,
		State:     s.state.String(),
		Since:     s.since,
		Role:      s.role.String(),
		Transport: string(s.transport),
		Peer:      s.peer,
		Error:     s.lastErr,
	}
	p := s.pipe
	s.mu.Unlock()

	snap.Sent = s.stats.Sent.Load()
	snap.Received = s.stats.Received.Load()
	snap.PlaybackOverruns = s.stats.Overruns.Load()
	snap.Malformed = s.stats.Malformed.Load()
	snap.Connections = s.connections.Load()

	if p != nil {
		snap.SampleRate = p.config.SampleRate
		snap.Channels = p.config.Channels
		snap.LatencySamples = p.latency
		snap.CaptureOverruns = p.captureOverruns.Load()
		snap.Underruns = p.underruns.Load()
		snap.CaptureFill, snap.PlaybackFill = p.fill()
	}
	return snap
}

// Run sets up audio, connects and streams until ctx is cancelled or the
// connection is lost. It returns nil on cancellation, ErrDeviceSetup before
// any network activity if the devices cannot be opened, ErrDeviceFailed when
// a running device stream fails, and ErrDisconnected when the peer goes
// away and reconnect is off.
func (s *Session) Run(ctx context.Context) error {
	s.opts.Metrics.SetState(StateIdle.String(), stateNames())

	pipe, err := s.setupAudio()
	if err != nil {
		s.fail(err)
		return err
	}
	defer pipe.close(s.logger)

	s.mu.Lock()
	s.pipe = pipe
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.report(ctx, pipe)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	conn := newConnector(s)
	defer conn.close()

	for attempt := 0; ; attempt++ {
		peer, err := conn.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(StateClosed)
				return nil
			}
			if attempt == 0 || !s.cfg.Reconnect {
				s.fail(err)
				return err
			}
			s.logger.Warn().Err(err).Msg("Reconnect attempt failed")
			s.setState(StateClosed)
			if !sleepCtx(ctx, reconnectDelay) {
				return nil
			}
			continue
		}

		err = s.stream(ctx, pipe, peer)
		if ctx.Err() != nil {
			s.setState(StateClosed)
			return nil
		}

		s.fail(err)
		if errors.Is(err, ErrDeviceFailed) {
			return err
		}
		if !s.cfg.Reconnect {
			return fmt.Errorf("%w: %v", ErrDisconnected, err)
		}

		s.logger.Info().Err(err).Msg("Connection lost, reconnecting")
		if !sleepCtx(ctx, reconnectDelay) {
			return nil
		}
	}
}

// stream runs the relay for one connection and tears it down afterwards.
func (s *Session) stream(ctx context.Context, pipe *pipeline, peer *discovery.Peer) error {
	defer peer.Close()

	peer.SetState(discovery.PeerConnected)
	s.connections.Add(1)
	s.opts.Metrics.RecordConnection()

	if err := pipe.start(); err != nil {
		return err
	}
	pipe.drainCapture()
	pipe.active.Store(true)
	defer pipe.active.Store(false)

	peer.SetState(discovery.PeerStreaming)
	s.setState(StateStreaming)
	s.logger.Info().
		Stringer("peer", peer).
		Stringer("role", s.role).
		Str("transport", string(s.transport)).
		Stringer("config", pipe.config).
		Int("latency_samples", pipe.latency).
		Msg("Streaming")

	opts := relay.Options{
		Datagram:  s.transport.Datagram(),
		BatchSize: s.cfg.Relay.BatchSize,
		IdleWait:  s.cfg.Relay.IdleWait,
		Logger:    s.logger,
		Stats:     &s.stats,
	}

	// A device failure cancels the relay and takes precedence over its result.
	relayCtx, cancelRelay := context.WithCancel(ctx)
	defer cancelRelay()

	var devErr error
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		if devErr = pipe.watch(relayCtx); devErr != nil {
			s.logger.Error().Err(devErr).Msg("Audio device failed")
			cancelRelay()
		}
	}()

	err := relay.Run(relayCtx, s.role, peer.Conn, pipe.captureOut, pipe.playbackIn, opts)
	cancelRelay()
	<-watched

	if devErr != nil {
		return devErr
	}
	if err == nil && ctx.Err() == nil {
		err = ErrDisconnected
	}
	return err
}

// setState applies a transition, logging and rejecting illegal ones.
func (s *Session) setState(next State) {
	if err := s.transition(next); err != nil {
		s.logger.Error().Err(err).Msg("Rejected state change")
	}
}

// transition moves to next, or returns ErrInvalidTransition and leaves the
// state alone. Moving to the current state is a no-op.
func (s *Session) transition(next State) error {
	s.mu.Lock()
	prev := s.state
	if prev == next {
		s.mu.Unlock()
		return nil
	}
	if !CanTransition(prev, next) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev, next)
	}
	s.state = next
	s.since = time.Now()
	if next != StateClosed {
		s.lastErr = ""
	}
	s.mu.Unlock()

	s.logger.Debug().Stringer("from", prev).Stringer("to", next).Msg("State changed")
	s.opts.Metrics.SetState(next.String(), stateNames())
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(next)
	}
	return nil
}

func (s *Session) setPeer(peer string) {
	s.mu.Lock()
	s.peer = peer
	s.mu.Unlock()
}

// fail records err and closes the session.
func (s *Session) fail(err error) {
	if err != nil {
		s.mu.Lock()
		s.lastErr = err.Error()
		s.mu.Unlock()
	}
	s.setState(StateClosed)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
