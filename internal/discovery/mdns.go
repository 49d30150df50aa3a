// ABOUTME: mDNS announcement and browsing for relay hosts
// ABOUTME: Listening hosts advertise _lanrelay._tcp; dialing hosts browse for candidates
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"
)

// ServiceType is the mDNS service relay hosts advertise.
const ServiceType = "_lanrelay._tcp"

// DefaultBrowseTimeout bounds a single mDNS query.
const DefaultBrowseTimeout = 3 * time.Second

// Config holds mDNS configuration
type Config struct {
	Instance string
	Port     int
	Logger   zerolog.Logger
}

// Manager handles mDNS operations
type Manager struct {
	config Config

	mu     sync.Mutex
	server *mdns.Server
}

// Candidate is an advertised relay host.
type Candidate struct {
	Name string
	Addr string
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	return &Manager{config: config}
}

// Advertise announces this host until Stop is called
func (m *Manager) Advertise() error {
	ips, err := LocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.Instance,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		[]string{"proto=f32be"},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	m.mu.Lock()
	m.server = server
	m.mu.Unlock()

	m.config.Logger.Info().
		Str("instance", m.config.Instance).
		Int("port", m.config.Port).
		Str("service", ServiceType).
		Msg("Advertising mDNS service")

	return nil
}

// Browse runs one mDNS query and returns the IPv4 hosts that answered,
// skipping this host's own instance.
func (m *Manager) Browse(ctx context.Context, timeout time.Duration) ([]Candidate, error) {
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, ctx.Err()
	}

	entries := make(chan *mdns.ServiceEntry, 16)
	var (
		candidates []Candidate
		done       = make(chan struct{})
	)

	go func() {
		defer close(done)
		seen := make(map[string]bool)
		for entry := range entries {
			if entry.AddrV4 == nil {
				continue
			}
			addr := net.JoinHostPort(entry.AddrV4.String(), strconv.Itoa(entry.Port))
			if seen[addr] || m.isSelf(entry.Name) {
				continue
			}
			seen[addr] = true

			m.config.Logger.Debug().Str("name", entry.Name).Str("addr", addr).Msg("Discovered relay host")
			candidates = append(candidates, Candidate{Name: entry.Name, Addr: addr})
		}
	}()

	params := &mdns.QueryParam{
		Service:     ServiceType,
		Domain:      "local",
		Timeout:     timeout,
		Entries:     entries,
		DisableIPv6: true,
	}

	err := mdns.Query(params)
	close(entries)
	<-done

	if err != nil {
		return nil, fmt.Errorf("mdns query failed: %w", err)
	}
	return candidates, nil
}

func (m *Manager) isSelf(name string) bool {
	if m.config.Instance == "" {
		return false
	}
	self := m.config.Instance + "." + ServiceType + ".local."
	return name == self
}

// Stop shuts down the announcement, if any
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server != nil {
		if err := m.server.Shutdown(); err != nil {
			m.config.Logger.Warn().Err(err).Msg("mdns shutdown error")
		}
		m.server = nil
	}
}
