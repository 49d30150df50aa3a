// ABOUTME: Obtains the peer connection for a session
// ABOUTME: Listens, dials an explicit peer, sweeps the subnet or browses mDNS
package session

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/Resonate-Protocol/lanrelay/internal/discovery"
)

// connector owns the sockets used to find a peer across reconnects.
type connector struct {
	s        *Session
	explicit *discovery.Scanner
	sweeper  *discovery.Scanner
	mdns     *discovery.Manager
	listener net.Listener
}

func newConnector(s *Session) *connector {
	cfg := s.cfg
	return &connector{
		s: s,
		explicit: discovery.NewScanner(discovery.ScanConfig{
			Port:        cfg.Port,
			DialTimeout: cfg.Scan.Timeout,
			Dialer:      s.opts.Dialer,
			Logger:      s.logger,
			Metrics:     s.opts.Metrics,
		}),
		sweeper: discovery.NewScanner(discovery.ScanConfig{
			Workers:          cfg.Scan.Workers,
			Port:             cfg.Port,
			DialTimeout:      cfg.Scan.DialTimeout,
			ExcludeSelf:      cfg.Scan.ExcludeSelf,
			ExcludeBroadcast: cfg.Scan.ExcludeBroadcast,
			Dialer:           s.opts.Dialer,
			Logger:           s.logger,
			Metrics:          s.opts.Metrics,
		}),
		listener: s.opts.Listener,
	}
}

func (c *connector) connect(ctx context.Context) (*discovery.Peer, error) {
	var (
		peer *discovery.Peer
		err  error
	)
	switch {
	case c.s.cfg.Listen && c.s.transport.Datagram():
		peer, err = c.listenDatagram()
	case c.s.cfg.Listen:
		peer, err = c.accept(ctx)
	case !c.s.cfg.AutoPeer():
		peer, err = c.dialExplicit(ctx)
	case c.s.cfg.Scan.Method == "mdns":
		peer, err = c.browse(ctx)
	default:
		peer, err = c.sweep(ctx)
	}
	if err != nil {
		return nil, err
	}

	c.s.setPeer(peer.String())
	c.s.setState(StateConnected)
	c.s.logger.Info().Stringer("peer", peer).Msg("Connected")
	return peer, nil
}

func (c *connector) accept(ctx context.Context) (*discovery.Peer, error) {
	c.s.setState(StateListening)

	if c.listener == nil {
		ln, err := net.Listen("tcp", ":"+strconv.Itoa(c.s.cfg.Port))
		if err != nil {
			return nil, fmt.Errorf("failed to listen: %w", err)
		}
		c.listener = ln

		if c.s.cfg.Scan.Announce {
			c.announce()
		}
	}

	c.s.logger.Info().Stringer("addr", c.listener.Addr()).Msg("Waiting for peer")

	type result struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan result, 1)
	go func() {
		conn, err := c.listener.Accept()
		accepted <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		c.listener.Close()
		if r := <-accepted; r.conn != nil {
			r.conn.Close()
		}
		return nil, ctx.Err()
	case r := <-accepted:
		if r.err != nil {
			return nil, fmt.Errorf("accept failed: %w", r.err)
		}
		return discovery.NewPeer(r.conn), nil
	}
}

// listenDatagram binds the receive socket. A datagram socket has no
// handshake, so it counts as connected as soon as it is bound.
func (c *connector) listenDatagram() (*discovery.Peer, error) {
	c.s.setState(StateListening)

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: c.s.cfg.Port})
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	c.s.logger.Info().Stringer("addr", conn.LocalAddr()).Msg("Receiving datagrams")
	return discovery.NewPeer(conn), nil
}

func (c *connector) dialExplicit(ctx context.Context) (*discovery.Peer, error) {
	addr := c.peerAddr()
	c.s.setState(StateConnecting)
	c.s.setPeer(addr)

	if c.s.transport.Datagram() {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "udp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to open udp socket to %s: %w", addr, err)
		}
		return discovery.NewPeer(conn), nil
	}

	return c.explicit.DialAddr(ctx, addr)
}

// peerAddr adds the configured port to a bare peer host.
func (c *connector) peerAddr() string {
	peer := c.s.cfg.Peer
	if _, _, err := net.SplitHostPort(peer); err == nil {
		return peer
	}
	return net.JoinHostPort(peer, strconv.Itoa(c.s.cfg.Port))
}

func (c *connector) sweep(ctx context.Context) (*discovery.Peer, error) {
	c.s.setState(StateDiscovering)

	var (
		subnet discovery.Subnet
		err    error
	)
	if c.s.cfg.Scan.Subnet != "" {
		subnet, err = discovery.ParseSubnet(c.s.cfg.Scan.Subnet)
	} else {
		subnet, err = discovery.LocalSubnet()
	}
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}

	c.s.setState(StateConnecting)
	c.s.logger.Info().Stringer("subnet", subnet).Int("workers", c.s.cfg.Scan.Workers).Msg("Scanning for peers")

	scanCtx, cancel := context.WithTimeout(ctx, c.s.cfg.Scan.Timeout)
	defer cancel()

	peers, err := c.sweeper.Find(scanCtx, subnet, c.s.cfg.Scan.Limit)
	if err != nil {
		return nil, err
	}

	for _, extra := range peers[1:] {
		c.s.logger.Debug().Stringer("peer", extra).Msg("Ignoring additional peer")
		extra.Close()
	}
	return peers[0], nil
}

func (c *connector) browse(ctx context.Context) (*discovery.Peer, error) {
	c.s.setState(StateDiscovering)

	if c.mdns == nil {
		c.mdns = discovery.NewManager(discovery.Config{Logger: c.s.logger})
	}
	candidates, err := c.mdns.Browse(ctx, c.s.cfg.Scan.Timeout)
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}

	c.s.setState(StateConnecting)
	for _, cand := range candidates {
		peer, err := c.explicit.DialAddr(ctx, cand.Addr)
		if err != nil {
			c.s.logger.Debug().Err(err).Str("candidate", cand.Name).Msg("Candidate unreachable")
			continue
		}
		return peer, nil
	}
	return nil, discovery.ErrNoPeers
}

func (c *connector) announce() {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "lanrelay-" + c.s.id[:8]
	}
	c.mdns = discovery.NewManager(discovery.Config{
		Instance: name,
		Port:     c.s.cfg.Port,
		Logger:   c.s.logger,
	})
	if err := c.mdns.Advertise(); err != nil {
		c.s.logger.Warn().Err(err).Msg("mDNS announcement failed")
	}
}

func (c *connector) close() {
	if c.listener != nil {
		c.listener.Close()
	}
	if c.mdns != nil {
		c.mdns.Stop()
	}
}
