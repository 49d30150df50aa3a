// ABOUTME: Relay configuration loaded from YAML
// ABOUTME: Defaults, file overlay and validation for every component
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Resonate-Protocol/lanrelay/pkg/protocol"
	"gopkg.in/yaml.v3"
)

// PeerAuto selects discovery instead of an explicit peer.
const PeerAuto = "auto"

// Config represents the complete relay configuration
type Config struct {
	Peer      string `yaml:"peer"`
	Listen    bool   `yaml:"listen"`
	Role      string `yaml:"role"`
	Transport string `yaml:"transport"`
	Port      int    `yaml:"port"`
	Reconnect bool   `yaml:"reconnect"`

	Audio  AudioConfig  `yaml:"audio"`
	Scan   ScanConfig   `yaml:"scan"`
	Relay  RelayConfig  `yaml:"relay"`
	Log    LogConfig    `yaml:"log"`
	Status StatusConfig `yaml:"status"`
	UI     UIConfig     `yaml:"ui"`
}

// AudioConfig selects devices and the stream shape
type AudioConfig struct {
	Backend         string  `yaml:"backend"`
	Input           string  `yaml:"input"`
	Output          string  `yaml:"output"`
	LatencyMs       float64 `yaml:"latency_ms"`
	SampleRate      int     `yaml:"sample_rate"`       // 0 uses the input device default
	Channels        int     `yaml:"channels"`          // 0 uses the input device default
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // 0 lets the backend choose
}

// ScanConfig controls peer discovery
type ScanConfig struct {
	Method           string        `yaml:"method"` // sweep or mdns
	Subnet           string        `yaml:"subnet"` // empty uses the local subnet
	Workers          int           `yaml:"workers"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	Timeout          time.Duration `yaml:"timeout"`
	Limit            int           `yaml:"limit"`
	ExcludeSelf      bool          `yaml:"exclude_self"`
	ExcludeBroadcast bool          `yaml:"exclude_broadcast"`
	Announce         bool          `yaml:"announce"`
}

// RelayConfig tunes the relay workers
type RelayConfig struct {
	BatchSize int           `yaml:"batch_size"`
	IdleWait  time.Duration `yaml:"idle_wait"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
	File   string `yaml:"file"`
}

// StatusConfig enables the HTTP status server
type StatusConfig struct {
	Addr string `yaml:"addr"` // empty disables the server
}

// UIConfig controls the terminal UI
type UIConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Peer:      PeerAuto,
		Role:      "duplex",
		Transport: string(protocol.TransportTCP),
		Port:      protocol.DefaultPort,
		Audio: AudioConfig{
			Backend:    "malgo",
			Input:      "default",
			Output:     "default",
			LatencyMs:  150.0,
			SampleRate: 48000,
			Channels:   1,
		},
		Scan: ScanConfig{
			Method:      "sweep",
			Workers:     256,
			DialTimeout: 500 * time.Millisecond,
			Timeout:     10 * time.Second,
			Limit:       1,
		},
		Relay: RelayConfig{
			BatchSize: 256,
			IdleWait:  time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		UI: UIConfig{Enabled: true},
	}
}

// Load reads a YAML file over the defaults and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// AutoPeer reports whether the peer should be discovered
func (c *Config) AutoPeer() bool {
	return strings.EqualFold(strings.TrimSpace(c.Peer), PeerAuto) || strings.TrimSpace(c.Peer) == ""
}

// Validate checks every section and the rules that span sections
func (c *Config) Validate() error {
	transport, err := protocol.ParseTransport(c.Transport)
	if err != nil {
		return err
	}

	role := strings.ToLower(strings.TrimSpace(c.Role))
	switch role {
	case "send", "receive", "recv", "duplex":
	default:
		return fmt.Errorf("role must be send, receive or duplex, got %q", c.Role)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	if !c.AutoPeer() {
		if c.Listen {
			return errors.New("listen and an explicit peer are mutually exclusive")
		}
		if _, err := protocol.PeerAddress(c.Peer); err != nil {
			return fmt.Errorf("peer: %w", err)
		}
	}

	// UDP links are one-way: the listener receives and the dialer sends.
	if transport.Datagram() {
		receives := role == "receive" || role == "recv"
		switch {
		case role == "duplex":
			return errors.New("udp is one-way; duplex needs tcp")
		case c.Listen && !receives:
			return errors.New("udp listeners can only receive")
		case !c.Listen && c.AutoPeer():
			return errors.New("discovery requires tcp; give an explicit peer for udp")
		case !c.Listen && receives:
			return errors.New("udp peers can only be sent to; listen to receive")
		}
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Scan.Validate(); err != nil {
		return fmt.Errorf("scan config: %w", err)
	}

	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay config: %w", err)
	}

	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.LatencyMs <= 0 {
		return fmt.Errorf("latency_ms must be positive, got %v", a.LatencyMs)
	}

	if a.SampleRate < 0 {
		return fmt.Errorf("sample_rate must not be negative, got %d", a.SampleRate)
	}

	if a.Channels < 0 {
		return fmt.Errorf("channels must not be negative, got %d", a.Channels)
	}

	if a.FramesPerBuffer < 0 {
		return fmt.Errorf("frames_per_buffer must not be negative, got %d", a.FramesPerBuffer)
	}

	if a.Input == "" || a.Output == "" {
		return errors.New("input and output device names cannot be empty")
	}

	return nil
}

// Validate validates scan configuration
func (s *ScanConfig) Validate() error {
	switch s.Method {
	case "sweep", "mdns":
	default:
		return fmt.Errorf("method must be sweep or mdns, got %q", s.Method)
	}

	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}

	if s.DialTimeout <= 0 || s.Timeout <= 0 {
		return errors.New("dial_timeout and timeout must be positive")
	}

	if s.Limit < 0 {
		return fmt.Errorf("limit must not be negative, got %d", s.Limit)
	}

	return nil
}

// Validate validates relay configuration
func (r *RelayConfig) Validate() error {
	if r.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", r.BatchSize)
	}

	if r.IdleWait <= 0 {
		return fmt.Errorf("idle_wait must be positive, got %s", r.IdleWait)
	}

	return nil
}

// Validate validates logging configuration
func (l *LogConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be trace, debug, info, warn or error, got %q", l.Level)
	}

	switch l.Format {
	case "console", "json":
	default:
		return fmt.Errorf("format must be console or json, got %q", l.Format)
	}

	return nil
}
