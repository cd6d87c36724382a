package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/eliteGoblin/tooie/internal/domain"
	"github.com/eliteGoblin/tooie/internal/policy"
)

// mockManager implements domain.BackendManager for testing
type mockManager struct {
	mu sync.Mutex

	backendType domain.BackendType
	status      domain.Status
	available   bool
	permission  bool
	requestOK   bool
	requests    int
	commands    []string
	execute     func(command string) (string, error)
}

func newMockManager() *mockManager {
	return &mockManager{
		backendType: domain.BackendShell,
		status: domain.Status{
			State:   domain.StateFallbackShell,
			Reason:  domain.ReasonFallbackShell,
			Message: "Using shell fallback",
		},
		available:  true,
		permission: true,
	}
}

func (m *mockManager) Initialize(ctx context.Context) bool { return m.IsPrivilegedAvailable() }

func (m *mockManager) ReselectBackend(ctx context.Context) domain.Status { return m.Status() }

func (m *mockManager) Status() domain.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *mockManager) BackendType() domain.BackendType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backendType
}

func (m *mockManager) IsPrivilegedAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

func (m *mockManager) HasPermission() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permission
}

func (m *mockManager) StatusDescription() string { return "mock" }

func (m *mockManager) RequestPrivilegedPermission(requestCode int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	if m.requestOK {
		m.status = domain.Status{
			State:   domain.StatePermissionRequesting,
			Reason:  domain.ReasonPermissionRequesting,
			Message: "Waiting for Shizuku permission",
		}
	}
	return m.requestOK
}

func (m *mockManager) ExecuteCommand(ctx context.Context, command string) (string, error) {
	m.mu.Lock()
	m.commands = append(m.commands, command)
	execute := m.execute
	m.mu.Unlock()
	if execute == nil {
		return "", nil
	}
	return execute(command)
}

func (m *mockManager) GetInstalledPackages(ctx context.Context) ([]string, error) { return nil, nil }

func (m *mockManager) InstallPackage(ctx context.Context, apkPath string) (bool, error) {
	return false, nil
}

func (m *mockManager) UninstallPackage(ctx context.Context, packageName string) (bool, error) {
	return false, nil
}

func (m *mockManager) SetComponentEnabled(ctx context.Context, packageName, component string, enabled bool) (bool, error) {
	return false, nil
}

func (m *mockManager) Cleanup() {}

func (m *mockManager) executed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.commands))
	copy(out, m.commands)
	return out
}

// execPolicyStore implements domain.ExecPolicyStore for testing
type execPolicyStore struct {
	policy domain.ExecPolicy
	err    error
}

func (s *execPolicyStore) Load() (domain.ExecPolicy, error) { return s.policy, s.err }

func (s *execPolicyStore) Save(p domain.ExecPolicy) error {
	s.policy = p
	return nil
}

func enabledExecPolicy() *execPolicyStore {
	p := policy.DefaultExecPolicy()
	p.ExecEnabled = true
	return &execPolicyStore{policy: p}
}

// failingPolicyStore returns an error from Load
type failingPolicyStore struct{}

func (failingPolicyStore) Load() (domain.Policy, error) {
	return domain.Policy{}, errors.New("database locked")
}

func (failingPolicyStore) Save(p domain.Policy) error { return errors.New("database locked") }

// stubPackages implements domain.PackageSource for testing
type stubPackages struct {
	apps []domain.AppInfo
	err  error
}

func (s *stubPackages) ListApps(ctx context.Context) ([]domain.AppInfo, error) {
	return s.apps, s.err
}

// stubAudio implements domain.AudioController for testing
type stubAudio struct {
	mu      sync.Mutex
	volumes map[int]domain.VolumeInfo
	getErr  error
	setErr  error
}

func newStubAudio() *stubAudio {
	return &stubAudio{volumes: map[int]domain.VolumeInfo{
		3: {Stream: 3, Current: 5, Min: 0, Max: 15},
		2: {Stream: 2, Current: 4, Min: 0, Max: 7},
	}}
}

func (a *stubAudio) StreamVolume(ctx context.Context, stream int) (domain.VolumeInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.getErr != nil {
		return domain.VolumeInfo{}, a.getErr
	}
	v, ok := a.volumes[stream]
	if !ok {
		return domain.VolumeInfo{}, domain.ErrInvalidStream
	}
	return v, nil
}

func (a *stubAudio) SetStreamVolume(ctx context.Context, stream, volume int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.setErr != nil {
		return a.setErr
	}
	v := a.volumes[stream]
	v.Current = volume
	a.volumes[stream] = v
	return nil
}

// stubResources implements domain.ResourceSampler for testing
type stubResources struct {
	report *domain.ResourceReport
	err    error
}

func (s *stubResources) Sample(ctx context.Context) (*domain.ResourceReport, error) {
	return s.report, s.err
}

// stubNotifications implements domain.NotificationSource for testing
type stubNotifications struct {
	connected bool
}

func (s *stubNotifications) IsListenerConnected() bool { return s.connected }

func (s *stubNotifications) NowPlayingSnapshot() map[string]any {
	return map[string]any{"active": true, "title": "Song"}
}

func (s *stubNotifications) NowPlayingArtSnapshot() map[string]any {
	return map[string]any{"hasArt": false}
}

func (s *stubNotifications) NotificationsSnapshot() map[string]any {
	return map[string]any{"count": 0, "notifications": []any{}}
}

// memoryPersister implements TokenPersister for testing
type memoryPersister struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (p *memoryPersister) WriteToken(token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.tokens = append(p.tokens, token)
	return nil
}

func sequenceTokens(tokens ...string) func() (string, error) {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		t := tokens[i%len(tokens)]
		i++
		return t, nil
	}
}
