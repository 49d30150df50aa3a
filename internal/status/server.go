// ABOUTME: HTTP status endpoint for a running relay session
// ABOUTME: Serves JSON snapshots, Prometheus metrics and a websocket snapshot feed
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Resonate-Protocol/lanrelay/internal/session"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	// DefaultPushInterval is how often websocket clients receive a snapshot.
	DefaultPushInterval = time.Second

	writeDeadline   = 10 * time.Second
	pingInterval    = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// SnapshotSource provides the session view served by the endpoints.
type SnapshotSource interface {
	Snapshot() session.Snapshot
}

// Config holds status server configuration
type Config struct {
	Addr         string
	Source       SnapshotSource
	Gatherer     prometheus.Gatherer
	PushInterval time.Duration
	Logger       zerolog.Logger
}

// Server exposes session state over HTTP
type Server struct {
	config   Config
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
	wg       sync.WaitGroup
	stopChan chan struct{}
}

// New creates a status server. Gatherer may be nil, in which case /metrics
// is not registered.
func New(config Config) *Server {
	if config.PushInterval <= 0 {
		config.PushInterval = DefaultPushInterval
	}

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		upgrader: websocket.Upgrader{
			// Status is read-only and served on a trusted LAN.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:   config.Logger.With().Str("component", "status").Logger(),
		stopChan: make(chan struct{}),
	}

	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	if config.Gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler { return s.mux }

// Addr returns the bound address once Run is listening, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("status listen on %s: %w", s.config.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	httpServer := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Status server listening")

	var serveErr error
	select {
	case <-ctx.Done():
	case err, ok := <-errChan:
		if ok {
			serveErr = err
		}
	}

	s.mu.Lock()
	s.stopped = true
	close(s.stopChan)
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("Status server shutdown error")
	}
	s.wg.Wait()

	if serveErr != nil {
		return fmt.Errorf("status server failed: %w", serveErr)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.config.Source.Snapshot()); err != nil {
		s.logger.Debug().Err(err).Msg("Error writing status")
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("WebSocket upgrade error")
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("New status subscriber")
	s.serveSubscriber(conn)
}

// serveSubscriber pushes a snapshot immediately and then on every tick until
// the client goes away or the server stops.
func (s *Server) serveSubscriber(conn *websocket.Conn) {
	defer conn.Close()

	// Reader drains control frames and notices the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					s.logger.Debug().Err(err).Msg("WebSocket error")
				}
				return
			}
		}
	}()

	push := time.NewTicker(s.config.PushInterval)
	defer push.Stop()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	if !s.writeSnapshot(conn) {
		return
	}
	for {
		select {
		case <-push.C:
			if !s.writeSnapshot(conn) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		case <-gone:
			return
		case <-s.stopChan:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (s *Server) writeSnapshot(conn *websocket.Conn) bool {
	data, err := json.Marshal(s.config.Source.Snapshot())
	if err != nil {
		s.logger.Error().Err(err).Msg("Error marshaling snapshot")
		return false
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug().Err(err).Msg("Error writing snapshot")
		return false
	}
	return true
}
