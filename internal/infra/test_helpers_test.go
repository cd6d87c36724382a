package infra

import (
	"context"
	"strings"
	"sync"

	"github.com/eliteGoblin/tooie/internal/domain"
)

// mockRunner is a test double for domain.CommandRunner.
// respond decides the result for each invocation; calls are recorded.
type mockRunner struct {
	mu      sync.Mutex
	calls   [][]string
	respond func(argv []string) (domain.CommandResult, error)
}

func newMockRunner(respond func(argv []string) (domain.CommandResult, error)) *mockRunner {
	return &mockRunner{respond: respond}
}

func (m *mockRunner) Run(ctx context.Context, name string, args ...string) (domain.CommandResult, error) {
	argv := append([]string{name}, args...)
	m.mu.Lock()
	m.calls = append(m.calls, argv)
	m.mu.Unlock()
	if m.respond == nil {
		return domain.CommandResult{}, nil
	}
	return m.respond(argv)
}

func (m *mockRunner) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *mockRunner) LastCall() []string {
	calls := m.Calls()
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1]
}

// joined renders argv for substring assertions.
func joined(argv []string) string {
	return strings.Join(argv, " ")
}

// okResult is a zero-exit result with stdout.
func okResult(stdout string) (domain.CommandResult, error) {
	return domain.CommandResult{Stdout: stdout}, nil
}

// mockBroker is a test double for domain.Broker.
type mockBroker struct {
	mu sync.Mutex

	alive      bool
	version    int
	uid        int
	granted    bool
	rationale  bool
	process    func(argv []string) (domain.CommandResult, error)
	requested  []int
	requestErr error

	listener   domain.BrokerListener
	subscribes int
	releases   int
}

func newMockBroker() *mockBroker {
	return &mockBroker{alive: true, version: 13, uid: 2000}
}

func (b *mockBroker) Ping(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.alive
}

func (b *mockBroker) Version(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.alive {
		return 0, domain.ErrBackendUnavailable
	}
	return b.version, nil
}

func (b *mockBroker) UID(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.uid, nil
}

func (b *mockBroker) CheckSelfPermission(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.granted, nil
}

func (b *mockBroker) ShouldShowRequestPermissionRationale(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rationale, nil
}

func (b *mockBroker) RequestPermission(ctx context.Context, requestCode int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requested = append(b.requested, requestCode)
	return b.requestErr
}

func (b *mockBroker) NewProcess(ctx context.Context, argv []string) (domain.CommandResult, error) {
	b.mu.Lock()
	process := b.process
	b.mu.Unlock()
	if process == nil {
		return domain.CommandResult{}, domain.ErrProcessUnsupported
	}
	return process(argv)
}

func (b *mockBroker) Subscribe(l domain.BrokerListener) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener != nil {
		return nil, domain.ErrAlreadySubscribed
	}
	b.listener = l
	b.subscribes++
	return &mockSubscription{broker: b}, nil
}

func (b *mockBroker) currentListener() domain.BrokerListener {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listener
}

type mockSubscription struct {
	broker   *mockBroker
	released bool
}

func (s *mockSubscription) Unsubscribe() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if s.released {
		return domain.ErrNotSubscribed
	}
	s.released = true
	s.broker.listener = nil
	s.broker.releases++
	return nil
}

// recordingCallbacks is a test double for domain.BackendCallbacks.
type recordingCallbacks struct {
	mu       sync.Mutex
	received int
	dead     int
	results  []bool
}

func (c *recordingCallbacks) OnBinderReceived(b domain.Backend) {
	c.mu.Lock()
	c.received++
	c.mu.Unlock()
}

func (c *recordingCallbacks) OnBinderDead(b domain.Backend) {
	c.mu.Lock()
	c.dead++
	c.mu.Unlock()
}

func (c *recordingCallbacks) OnPermissionResult(b domain.Backend, granted bool) {
	c.mu.Lock()
	c.results = append(c.results, granted)
	c.mu.Unlock()
}

var (
	_ domain.CommandRunner    = (*mockRunner)(nil)
	_ domain.Broker           = (*mockBroker)(nil)
	_ domain.BackendCallbacks = (*recordingCallbacks)(nil)
)

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}
