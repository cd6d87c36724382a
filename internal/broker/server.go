package broker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler answers broker requests. RequestPermission may block until the
// user decides; the client waits on that connection for the result.
type Handler interface {
	Version() int
	UID() int
	CheckPermission() bool
	Rationale() bool
	RequestPermission(ctx context.Context, requestCode int) bool
	Exec(ctx context.Context, argv []string) Response
}

// Server serves the protocol on a unix socket.
type Server struct {
	path    string
	handler Handler
	logger  *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer creates a server for the socket at path.
func NewServer(path string, handler Handler, logger *zap.Logger) *Server {
	return &Server{path: path, handler: handler, logger: logger}
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.path
}

// Start binds the socket (owner-only) and begins accepting.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	// A stale socket from a crashed broker blocks bind
	_ = os.Remove(s.path)

	l, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		l.Close()
		return fmt.Errorf("failed to restrict socket: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.listener = l
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ctx, l)

	s.logger.Info("broker listening", zap.String("socket", s.path))
	return nil
}

// Stop closes the socket and waits for in-flight calls.
func (s *Server) Stop() {
	s.mu.Lock()
	l := s.listener
	cancel := s.cancel
	s.listener = nil
	s.mu.Unlock()

	if l == nil {
		return
	}
	cancel()
	l.Close()
	s.wg.Wait()
	_ = os.Remove(s.path)
}

func (s *Server) acceptLoop(ctx context.Context, l net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.logger.Warn("broker accept failed", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(ctx, conn)
		}()
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var req Request
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&req); err != nil {
		s.write(conn, Failure("malformed request"))
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	s.write(conn, s.dispatch(ctx, req))
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Op {
	case OpPing:
		return Response{OK: true, UID: s.handler.UID()}
	case OpVersion:
		return Response{OK: true, Version: s.handler.Version(), UID: s.handler.UID()}
	case OpUID:
		return Response{OK: true, UID: s.handler.UID()}
	case OpCheckPermission:
		return Response{OK: true, Granted: s.handler.CheckPermission(), UID: s.handler.UID()}
	case OpRationale:
		return Response{OK: true, Rationale: s.handler.Rationale(), UID: s.handler.UID()}
	case OpRequestPermission:
		granted := s.handler.RequestPermission(ctx, req.RequestCode)
		return Response{OK: true, Granted: granted, UID: s.handler.UID()}
	case OpExec:
		if len(req.Argv) == 0 {
			return Failure("empty argv")
		}
		if !s.handler.CheckPermission() {
			return Failure("permission not granted")
		}
		resp := s.handler.Exec(ctx, req.Argv)
		resp.UID = s.handler.UID()
		return resp
	default:
		return Failure("unknown op: " + req.Op)
	}
}

func (s *Server) write(conn net.Conn, resp Response) {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Debug("broker write failed", zap.Error(err))
	}
}
