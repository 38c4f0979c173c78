package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/msip/internal/core/broker"
	"github.com/zeusync/msip/internal/core/observability/log"
)

// Server accepts MSIP clients over TCP and, optionally, WebSocket and runs
// one session per connection against a shared broker.
type Server struct {
	broker *broker.Broker
	cfg    Config
	logger log.Log

	listener net.Listener
	ws       *http.Server
	wsAddr   net.Addr

	sessMu   sync.Mutex
	sessions map[*session]struct{}
	sessWG   sync.WaitGroup

	// base is cancelled by Stop; sessions derive their outbound context from it
	base   context.Context
	cancel context.CancelFunc

	running int32 // atomic bool
	closed  int32 // atomic bool

	acceptDone chan struct{}
}

// Config holds server configuration
type Config struct {
	ListenAddr string
	// WebSocketAddr starts the WebSocket gateway when not empty.
	WebSocketAddr string
	// MaxPayloadBytes caps the announced payload length. 0 disables it.
	MaxPayloadBytes uint32
	// DrainTimeout bounds the outbound flush after inbound ends. Zero or
	// negative means DefaultServerConfig().DrainTimeout.
	DrainTimeout time.Duration
	ReusePort    bool
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() Config {
	return Config{
		ListenAddr:   "127.0.0.1:7070",
		DrainTimeout: 2 * time.Second,
	}
}

// NewServer creates a server bound to b. Nothing is opened until Start.
func NewServer(cfg Config, b *broker.Broker, logger log.Log) *Server {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultServerConfig().DrainTimeout
	}

	s := &Server{
		broker:   b,
		cfg:      cfg,
		logger:   logger.With(log.String("component", "server")),
		sessions: make(map[*session]struct{}),
	}

	s.logger.Info("Server created",
		log.String("listen_addr", cfg.ListenAddr),
		log.String("websocket_addr", cfg.WebSocketAddr))

	return s
}

// Start binds the listeners and returns. Only bind failures are reported;
// the accept loop keeps running until Stop.
func (s *Server) Start(ctx context.Context) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrServerClosed
	}
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}

	lc := net.ListenConfig{Control: socketControl(s.cfg.ReusePort)}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		s.logger.Error("Failed to create listener", log.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrListenerFailed, s.cfg.ListenAddr, err)
	}

	var wsLn net.Listener
	if s.cfg.WebSocketAddr != "" {
		wsLn, err = lc.Listen(ctx, "tcp", s.cfg.WebSocketAddr)
		if err != nil {
			_ = ln.Close()
			atomic.StoreInt32(&s.running, 0)
			s.logger.Error("Failed to create websocket listener", log.Error(err))
			return fmt.Errorf("%w: %s: %w", ErrListenerFailed, s.cfg.WebSocketAddr, err)
		}
	}

	s.base, s.cancel = context.WithCancel(context.Background())
	s.listener = ln
	s.acceptDone = make(chan struct{})
	go s.acceptConnections()

	s.logger.Info("Server listening", log.String("addr", ln.Addr().String()))

	if wsLn != nil {
		s.wsAddr = wsLn.Addr()
		s.ws = &http.Server{
			Handler:           s.webSocketHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := s.ws.Serve(wsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("WebSocket gateway stopped", log.Error(err))
			}
		}()
		s.logger.Info("WebSocket gateway listening",
			log.String("addr", wsLn.Addr().String()),
			log.String("path", WebSocketPath))
	}

	return nil
}

// Stop closes the listeners and every live session, then waits for the
// sessions to finish or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrServerNotRunning
	}

	s.logger.Info("Stopping server")

	_ = s.listener.Close()
	<-s.acceptDone

	if s.ws != nil {
		if err := s.ws.Shutdown(ctx); err != nil {
			s.logger.Warn("WebSocket gateway shutdown", log.Error(err))
		}
	}

	s.cancel()
	s.sessMu.Lock()
	for c := range s.sessions {
		c.closeTransport()
	}
	s.sessMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.sessWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Server stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Server stop timed out with sessions still running")
		return ctx.Err()
	}
}

// Close stops the server if needed and marks it unusable.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	if atomic.LoadInt32(&s.running) == 1 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(ctx)
	}
	return nil
}

// Addr is the bound TCP address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// WebSocketAddr is the bound gateway address, or nil when disabled.
func (s *Server) WebSocketAddr() net.Addr {
	return s.wsAddr
}

// Broker exposes the broker the server dispatches into.
func (s *Server) Broker() *broker.Broker {
	return s.broker
}

// Stats contains server statistics
type Stats struct {
	Sessions int
	Running  bool
	Broker   broker.Metrics
}

// GetStats returns server statistics
func (s *Server) GetStats() Stats {
	s.sessMu.Lock()
	n := len(s.sessions)
	s.sessMu.Unlock()
	return Stats{
		Sessions: n,
		Running:  atomic.LoadInt32(&s.running) == 1,
		Broker:   s.broker.Metrics(),
	}
}

func (s *Server) acceptConnections() {
	defer close(s.acceptDone)
	s.logger.Debug("Connection acceptor started")
	defer s.logger.Debug("Connection acceptor stopped")

	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.running) == 0 || errors.Is(err, net.ErrClosed) {
				return
			}

			// transient failures such as EMFILE; never give up on the listener
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			s.logger.Error("Failed to accept connection", log.Error(err), log.Duration("retry_in", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.serve(newTCPTransport(conn, s.cfg.MaxPayloadBytes), true)
	}
}

// serve runs a session for t. With async the session gets its own goroutine,
// otherwise serve blocks until the session ends.
func (s *Server) serve(t transport, async bool) {
	c := s.newSession(t)

	s.sessMu.Lock()
	if atomic.LoadInt32(&s.running) == 0 {
		s.sessMu.Unlock()
		_ = t.Close()
		return
	}
	s.sessions[c] = struct{}{}
	s.sessWG.Add(1)
	s.sessMu.Unlock()

	runSession := func() {
		defer func() {
			s.sessMu.Lock()
			delete(s.sessions, c)
			s.sessMu.Unlock()
			s.sessWG.Done()
		}()
		c.run(s.base)
	}

	if async {
		go runSession()
		return
	}
	runSession()
}
