package infra

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/tooie/internal/broker"
	"github.com/eliteGoblin/tooie/internal/domain"
)

const (
	defaultBrokerTimeout     = 5 * time.Second
	defaultPermissionTimeout = 2 * time.Minute
)

type liveness int

const (
	livenessUnknown liveness = iota
	livenessAlive
	livenessDead
)

// SocketBroker implements domain.Broker over the broker unix socket.
// Ping tracks reachability and reports alive/dead transitions to the
// subscribed listener as binder received/dead events.
type SocketBroker struct {
	path              string
	timeout           time.Duration
	permissionTimeout time.Duration
	logger            *zap.Logger

	mu       sync.Mutex
	listener domain.BrokerListener
	state    liveness
	closed   bool
	pending  sync.WaitGroup
}

// NewSocketBroker creates a client for the socket at path.
func NewSocketBroker(path string, timeout time.Duration, logger *zap.Logger) *SocketBroker {
	if timeout <= 0 {
		timeout = defaultBrokerTimeout
	}
	return &SocketBroker{
		path:              path,
		timeout:           timeout,
		permissionTimeout: defaultPermissionTimeout,
		logger:            logger,
	}
}

// SetPermissionTimeout bounds how long a grant prompt may stay open.
func (s *SocketBroker) SetPermissionTimeout(d time.Duration) {
	s.permissionTimeout = d
}

func (s *SocketBroker) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: s.timeout}
	conn, err := d.DialContext(ctx, "unix", s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	return conn, nil
}

func send(conn net.Conn, req broker.Request) error {
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("failed to send broker request: %w", err)
	}
	return nil
}

func receive(conn net.Conn) (broker.Response, error) {
	var resp broker.Response
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&resp); err != nil {
		return resp, fmt.Errorf("failed to read broker response: %w", err)
	}
	if !resp.OK {
		return resp, fmt.Errorf("broker error: %s", resp.Error)
	}
	return resp, nil
}

func (s *SocketBroker) call(ctx context.Context, req broker.Request) (broker.Response, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return broker.Response{}, err
	}
	defer conn.Close()

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if err := send(conn, req); err != nil {
		return broker.Response{}, err
	}
	return receive(conn)
}

// Ping reports reachability and dispatches liveness transitions.
func (s *SocketBroker) Ping(ctx context.Context) bool {
	_, err := s.call(ctx, broker.Request{Op: broker.OpPing})
	alive := err == nil
	s.observe(alive)
	return alive
}

func (s *SocketBroker) observe(alive bool) {
	next := livenessDead
	if alive {
		next = livenessAlive
	}

	s.mu.Lock()
	prev := s.state
	s.state = next
	l := s.listener
	s.mu.Unlock()

	if l == nil || prev == livenessUnknown || prev == next {
		return
	}
	if alive {
		s.logger.Info("broker became reachable")
		l.OnBinderReceived()
	} else {
		s.logger.Warn("broker became unreachable")
		l.OnBinderDead()
	}
}

func (s *SocketBroker) Version(ctx context.Context) (int, error) {
	resp, err := s.call(ctx, broker.Request{Op: broker.OpVersion})
	if err != nil {
		return 0, err
	}
	return resp.Version, nil
}

func (s *SocketBroker) UID(ctx context.Context) (int, error) {
	resp, err := s.call(ctx, broker.Request{Op: broker.OpUID})
	if err != nil {
		return -1, err
	}
	return resp.UID, nil
}

func (s *SocketBroker) CheckSelfPermission(ctx context.Context) (bool, error) {
	resp, err := s.call(ctx, broker.Request{Op: broker.OpCheckPermission})
	if err != nil {
		return false, err
	}
	return resp.Granted, nil
}

func (s *SocketBroker) ShouldShowRequestPermissionRationale(ctx context.Context) (bool, error) {
	resp, err := s.call(ctx, broker.Request{Op: broker.OpRationale})
	if err != nil {
		return false, err
	}
	return resp.Rationale, nil
}

// RequestPermission sends the request synchronously and waits for the
// decision in the background. Transport failures after the request was
// sent are reported as a denial.
func (s *SocketBroker) RequestPermission(ctx context.Context, requestCode int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("broker client closed")
	}
	s.pending.Add(1)
	s.mu.Unlock()

	conn, err := s.dial(ctx)
	if err != nil {
		s.pending.Done()
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.timeout))
	if err := send(conn, broker.Request{Op: broker.OpRequestPermission, RequestCode: requestCode}); err != nil {
		conn.Close()
		s.pending.Done()
		return err
	}

	go func() {
		defer s.pending.Done()
		defer conn.Close()

		_ = conn.SetReadDeadline(time.Now().Add(s.permissionTimeout))
		resp, err := receive(conn)
		granted := err == nil && resp.Granted
		if err != nil {
			s.logger.Warn("permission request failed", zap.Error(err))
		}

		s.mu.Lock()
		l := s.listener
		s.mu.Unlock()
		if l != nil {
			l.OnPermissionResult(requestCode, granted)
		}
	}()
	return nil
}

func (s *SocketBroker) NewProcess(ctx context.Context, argv []string) (domain.CommandResult, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return domain.CommandResult{ExitCode: -1}, err
	}
	defer conn.Close()

	// The command itself is bounded by ctx; the broker adds its own limit.
	if d, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(d)
	}
	if err := send(conn, broker.Request{Op: broker.OpExec, Argv: argv}); err != nil {
		return domain.CommandResult{ExitCode: -1}, err
	}

	var resp broker.Response
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&resp); err != nil {
		if ctx.Err() != nil {
			return domain.CommandResult{ExitCode: -1},
				domain.NewBackendError(domain.KindTimeout, "Command timed out", ctx.Err())
		}
		return domain.CommandResult{ExitCode: -1}, fmt.Errorf("failed to read broker response: %w", err)
	}
	if resp.Unsupported {
		return domain.CommandResult{ExitCode: -1}, domain.ErrProcessUnsupported
	}
	if !resp.OK {
		return domain.CommandResult{ExitCode: -1}, fmt.Errorf("broker error: %s", resp.Error)
	}
	return domain.CommandResult{
		Stdout:   NormalizeOutput(resp.Stdout),
		Stderr:   NormalizeOutput(resp.Stderr),
		ExitCode: resp.ExitCode,
	}, nil
}

// Subscribe registers the single listener.
func (s *SocketBroker) Subscribe(l domain.BrokerListener) (domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil, domain.ErrAlreadySubscribed
	}
	s.listener = l
	return &socketSubscription{broker: s, listener: l}, nil
}

// Close waits for outstanding permission requests.
func (s *SocketBroker) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.pending.Wait()
}

type socketSubscription struct {
	broker   *SocketBroker
	listener domain.BrokerListener
	once     sync.Once
}

func (sub *socketSubscription) Unsubscribe() error {
	first := false
	sub.once.Do(func() {
		first = true
		s := sub.broker
		s.mu.Lock()
		if s.listener == sub.listener {
			s.listener = nil
		}
		s.mu.Unlock()
	})
	if !first {
		return domain.ErrNotSubscribed
	}
	return nil
}

// Ensure SocketBroker implements domain.Broker.
var _ domain.Broker = (*SocketBroker)(nil)
