package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/tooie/internal/infra"
)

// DefaultClientTimeout bounds reads and writes on one connection.
const DefaultClientTimeout = 10 * time.Second

// Config configures the listener and per-connection limits.
type Config struct {
	Host          string
	Port          int
	ClientTimeout time.Duration
	Limits        Limits
	Pool          PoolConfig
	RouteLimits   map[string]int
	RateWindow    time.Duration
	Now           func() time.Time
}

// DefaultConfig listens on an ephemeral loopback port.
func DefaultConfig() Config {
	return Config{
		Host:          "127.0.0.1",
		Port:          0,
		ClientTimeout: DefaultClientTimeout,
		Limits:        DefaultLimits(),
		Pool:          DefaultPoolConfig(),
		RouteLimits:   DefaultRouteLimits(),
		RateWindow:    DefaultRateWindow,
	}
}

// ClientFileWriter persists the token and endpoint for CLI clients.
type ClientFileWriter interface {
	Write(token string, port int) error
}

// Installer installs client-side helpers on start.
type Installer interface {
	Install() error
}

// Server is the loopback gateway. Construct with NewServer, then Start.
type Server struct {
	cfg      Config
	router   *Router
	auth     *TokenAuthority
	limiters *Limiters
	files    ClientFileWriter
	hooks    []Installer
	logger   *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	pool     *Pool
	port     int
	running  bool
	done     chan struct{}
}

// NewServer wires a server. hooks run after the client files are written;
// their failures are logged, not fatal.
func NewServer(cfg Config, handlers *Handlers, auth *TokenAuthority, files ClientFileWriter, logger *zap.Logger, hooks ...Installer) *Server {
	def := DefaultConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.ClientTimeout <= 0 {
		cfg.ClientTimeout = def.ClientTimeout
	}
	if cfg.Limits == (Limits{}) {
		cfg.Limits = def.Limits
	}
	if cfg.RouteLimits == nil {
		cfg.RouteLimits = def.RouteLimits
	}

	router := NewRouter(logger)
	handlers.Register(router)

	return &Server{
		cfg:      cfg,
		router:   router,
		auth:     auth,
		limiters: NewLimiters(cfg.RouteLimits, cfg.RateWindow, cfg.Now),
		files:    files,
		hooks:    hooks,
		logger:   logger,
	}
}

// Start binds the listener, issues a fresh token, writes the client
// files and starts accepting. Calling Start on a running server is a no-op.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	token, err := s.auth.Reset()
	if err != nil {
		return err
	}

	var lc net.ListenConfig
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	if s.files != nil {
		if err := s.files.Write(token, port); err != nil {
			ln.Close()
			return fmt.Errorf("failed to write client files: %w", err)
		}
	}
	for _, hook := range s.hooks {
		if err := hook.Install(); err != nil {
			s.logger.Error("failed to install client helper", zap.Error(err))
		}
	}

	s.listener = ln
	s.port = port
	s.pool = NewPool(s.cfg.Pool, s.handleConn, s.logger)
	s.done = make(chan struct{})
	s.running = true

	go s.acceptLoop(ln, s.pool, s.done)

	s.logger.Info("gateway listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Bounds for the pause after a failed Accept.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// nextAcceptDelay doubles the previous pause, capped at maxAcceptDelay.
func nextAcceptDelay(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptDelay
	}
	if next := prev * 2; next < maxAcceptDelay {
		return next
	}
	return maxAcceptDelay
}

func (s *Server) acceptLoop(ln net.Listener, pool *Pool, done chan struct{}) {
	defer close(done)
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			delay = nextAcceptDelay(delay)
			s.logger.Error("accept failed", zap.Error(err), zap.Duration("retry_in", delay))
			time.Sleep(delay)
			continue
		}
		delay = 0
		if !pool.Submit(conn) {
			s.logger.Warn("connection rejected, worker pool saturated",
				zap.String("remote", conn.RemoteAddr().String()))
			conn.Close()
		}
	}
}

// Stop closes the listener and waits for in-flight connections.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	ln, pool, done := s.listener, s.pool, s.done
	s.mu.Unlock()

	ln.Close()
	<-done
	pool.Stop()
	s.logger.Info("gateway stopped")
}

// Port returns the bound port, or 0 when not running.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return s.port
}

// Endpoint returns the base URL clients use.
func (s *Server) Endpoint() string {
	return infra.EndpointURL(s.Port())
}

// Token returns the current bearer token.
func (s *Server) Token() string {
	return s.auth.Token()
}

// IsRunning reports whether the server accepts connections.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// handleConn serves exactly one request and closes the connection.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	id := uuid.NewString()
	logger := s.logger.With(zap.String("request_id", id))
	conn.SetDeadline(time.Now().Add(s.cfg.ClientTimeout))

	req, err := ParseRequest(bufio.NewReader(conn), s.cfg.Limits)
	if err != nil {
		var he *httpError
		if errors.As(err, &he) {
			logger.Info("rejected malformed request", zap.Int("status", he.status), zap.String("reason", he.message))
			s.respond(conn, logger, failure(he.status, he.code, he.message))
			return
		}
		logger.Debug("failed to read request", zap.Error(err))
		return
	}
	req.ID = id
	logger = logger.With(zap.String("method", req.Method), zap.String("path", req.Path))

	if !s.auth.Authorize(req.Header("Authorization")) {
		logger.Warn("unauthorized request")
		s.respond(conn, logger, failure(401, "unauthorized", "Missing or invalid token"))
		return
	}

	if !s.limiters.Allow(req.RouteKey()) {
		logger.Warn("rate limited")
		s.respond(conn, logger, failure(429, "rate_limited", "Too many requests; retry later"))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	body := s.router.Dispatch(ctx, req)
	status := s.respond(conn, logger, body)
	logger.Info("request served",
		zap.Int("status", status),
		zap.Duration("duration", time.Since(start)))
}

// respond encodes body and writes it; returns the status sent.
func (s *Server) respond(conn net.Conn, logger *zap.Logger, body Body) int {
	status, data, err := finalize(body)
	if err != nil {
		logger.Error("failed to encode response", zap.Error(err))
		status, data, _ = finalize(failure(500, "internal_error", "Failed to encode response"))
	}
	// Handlers may run past the read deadline; give the write its own.
	conn.SetWriteDeadline(time.Now().Add(s.cfg.ClientTimeout))
	if err := writeResponse(conn, status, data); err != nil {
		logger.Debug("failed to write response", zap.Error(err))
	}
	return status
}
