package daemon

import (
	"context"
	"errors"
	"sync"

	"github.com/eliteGoblin/tooie/internal/domain"
	"github.com/eliteGoblin/tooie/internal/notify"
)

// events records calls across fakes so tests can assert ordering.
type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(name string) {
	e.mu.Lock()
	e.list = append(e.list, name)
	e.mu.Unlock()
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.list))
	copy(out, e.list)
	return out
}

func (e *events) count(name string) int {
	n := 0
	for _, ev := range e.all() {
		if ev == name {
			n++
		}
	}
	return n
}

// fakeManager implements domain.BackendManager for testing
type fakeManager struct {
	events *events

	mu          sync.Mutex
	backendType domain.BackendType
	onReselect  func(m *fakeManager)
}

func (m *fakeManager) Initialize(ctx context.Context) bool {
	m.events.add("initialize")
	return true
}

func (m *fakeManager) ReselectBackend(ctx context.Context) domain.Status {
	m.events.add("reselect")
	m.mu.Lock()
	hook := m.onReselect
	m.mu.Unlock()
	if hook != nil {
		hook(m)
	}
	return m.Status()
}

func (m *fakeManager) setType(t domain.BackendType) {
	m.mu.Lock()
	m.backendType = t
	m.mu.Unlock()
}

func (m *fakeManager) Status() domain.Status {
	return domain.Status{State: domain.StateFallbackShell, Reason: domain.ReasonFallbackShell}
}

func (m *fakeManager) BackendType() domain.BackendType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backendType
}

func (m *fakeManager) IsPrivilegedAvailable() bool          { return true }
func (m *fakeManager) HasPermission() bool                  { return true }
func (m *fakeManager) StatusDescription() string            { return "fake" }
func (m *fakeManager) RequestPrivilegedPermission(int) bool { return false }

func (m *fakeManager) ExecuteCommand(ctx context.Context, command string) (string, error) {
	return "", nil
}

func (m *fakeManager) GetInstalledPackages(ctx context.Context) ([]string, error) { return nil, nil }

func (m *fakeManager) InstallPackage(ctx context.Context, apkPath string) (bool, error) {
	return false, nil
}

func (m *fakeManager) UninstallPackage(ctx context.Context, packageName string) (bool, error) {
	return false, nil
}

func (m *fakeManager) SetComponentEnabled(ctx context.Context, packageName, component string, enabled bool) (bool, error) {
	return false, nil
}

func (m *fakeManager) Cleanup() { m.events.add("cleanup") }

// fakeGateway implements Gateway for testing
type fakeGateway struct {
	events   *events
	startErr error
}

func (g *fakeGateway) Start(ctx context.Context) error {
	g.events.add("gateway.start")
	return g.startErr
}

func (g *fakeGateway) Stop() { g.events.add("gateway.stop") }

func (g *fakeGateway) Endpoint() string { return "http://127.0.0.1:1" }

// fakePinger implements Pinger for testing
type fakePinger struct {
	mu    sync.Mutex
	alive bool
	pings int
}

func (p *fakePinger) Ping(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pings++
	return p.alive
}

func (p *fakePinger) set(alive bool) {
	p.mu.Lock()
	p.alive = alive
	p.mu.Unlock()
}

func (p *fakePinger) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pings
}

// fakeFeed implements SnapshotFeed for testing
type fakeFeed struct {
	events *events
	fail   bool
}

func (f *fakeFeed) Refresh(store *notify.Store) (bool, error) {
	f.events.add("refresh")
	if f.fail {
		return false, errors.New("bad snapshot")
	}
	store.Replace(notify.Snapshot{ListenerConnected: true})
	return true, nil
}

// fakeProcesses implements domain.ProcessManager for testing
type fakeProcesses struct {
	mu         sync.Mutex
	alive      map[int]bool
	terminated []int
	ignoreTerm bool
}

func (p *fakeProcesses) IsRunning(pid int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive[pid]
}

func (p *fakeProcesses) Terminate(pid int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = append(p.terminated, pid)
	if !p.ignoreTerm {
		p.alive[pid] = false
	}
	return nil
}

func (p *fakeProcesses) KillTree(pid int) error { return p.Terminate(pid) }

func (p *fakeProcesses) GetCurrentPID() int { return 1 }

var (
	_ domain.BackendManager = (*fakeManager)(nil)
	_ domain.ProcessManager = (*fakeProcesses)(nil)
	_ Gateway               = (*fakeGateway)(nil)
	_ SnapshotFeed          = (*fakeFeed)(nil)
)
