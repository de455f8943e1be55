package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Snapshotter provides the point-in-time state sent to a new consumer.
// The returned Seq is the last batch reflected in the blocks.
type Snapshotter interface {
	Snapshot() Batch
}

// SnapshotFunc adapts a function to Snapshotter.
type SnapshotFunc func() Batch

// Snapshot calls f.
func (f SnapshotFunc) Snapshot() Batch { return f() }

// ServerConfig holds configuration for the feed server.
type ServerConfig struct {
	Addr         string
	Path         string
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8765",
		Path:         "/",
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server accepts websocket consumers and relays the hub's stream to them.
type Server struct {
	cfg      ServerConfig
	hub      *Hub
	source   Snapshotter
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
	stopped  bool

	wg sync.WaitGroup
}

// NewServer creates a feed server.
func NewServer(cfg ServerConfig, hub *Hub, source Snapshotter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return &Server{
		cfg:    cfg,
		hub:    hub,
		source: source,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler serving the websocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.serveWS)
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.http = srv
	s.listener = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("feed server error", "error", err)
		}
	}()

	s.logger.Info("feed server listening", "addr", ln.Addr().String(), "path", s.cfg.Path)
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops accepting consumers, disconnects the active ones and waits for
// their handlers to return.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.stopped = true
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.hub.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	// Hijacked connections are invisible to Shutdown; they join the wait
	// group under mu so Stop either waits for them or turns them away.
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		deadline := time.Now().Add(s.cfg.WriteTimeout)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(CloseGoingAway, shutdownText), deadline)
		conn.Close()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()
	defer conn.Close()

	c := s.hub.Register(func(code int, text string) {
		deadline := time.Now().Add(s.cfg.WriteTimeout)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
		conn.Close()
	})
	defer s.hub.Unregister(c)

	logger := s.logger.With("consumer", c.ID, "remote", r.RemoteAddr)
	logger.Info("consumer connected")

	snap := s.source.Snapshot()
	if err := c.Activate(Encode(snap.Blocks), snap.Seq); err != nil {
		logger.Warn("consumer dropped during handshake", "error", err)
		return
	}
	logger.Debug("snapshot queued", "seq", snap.Seq, "records", snap.Len())

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		if err := s.relay(conn, c); err != nil {
			logger.Debug("relay stopped", "error", err)
		}
		conn.Close()
	}()

	s.readLoop(conn)

	conn.Close()
	s.hub.Unregister(c)
	<-relayDone

	logger.Info("consumer disconnected", "reason", c.Reason())
}

// relay writes queued messages and periodic pings until the consumer stops
// or a write fails.
func (s *Server) relay(conn *websocket.Conn, c *Consumer) error {
	var tick <-chan time.Time
	if s.cfg.PingInterval > 0 {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.Done():
			return nil

		case msg := <-c.Messages():
			if s.cfg.WriteTimeout > 0 {
				conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return fmt.Errorf("write: %w", err)
			}

		case <-tick:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

// readLoop discards inbound messages until the connection fails. Pongs extend
// the read deadline.
func (s *Server) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(4096)

	if s.cfg.PingInterval > 0 {
		timeout := 2*s.cfg.PingInterval + s.cfg.WriteTimeout
		conn.SetReadDeadline(time.Now().Add(timeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(timeout))
		})
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
