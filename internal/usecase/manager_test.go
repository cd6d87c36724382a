package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/tooie/internal/domain"
	"github.com/eliteGoblin/tooie/internal/policy"
)

// fakeBackend implements domain.Backend for testing
type fakeBackend struct {
	mu sync.Mutex

	typ         domain.BackendType
	initOK      bool
	available   bool
	permission  bool
	requestOK   bool
	execOutput  string
	execErr     error
	inits       int
	requests    int
	cleanups    int
	lastCommand string
}

func (b *fakeBackend) Type() domain.BackendType { return b.typ }

func (b *fakeBackend) Initialize(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inits++
	return b.initOK
}

func (b *fakeBackend) IsAvailable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available
}

func (b *fakeBackend) HasPermission() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.permission
}

func (b *fakeBackend) RequestPermission(requestCode int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests++
	return b.requestOK
}

func (b *fakeBackend) ExecuteCommand(ctx context.Context, command string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastCommand = command
	return b.execOutput, b.execErr
}

func (b *fakeBackend) GetInstalledPackages(ctx context.Context) ([]string, error) {
	return []string{"com.example.app"}, nil
}

func (b *fakeBackend) InstallPackage(ctx context.Context, apkPath string) (bool, error) {
	return true, nil
}

func (b *fakeBackend) UninstallPackage(ctx context.Context, packageName string) (bool, error) {
	return true, nil
}

func (b *fakeBackend) SetComponentEnabled(ctx context.Context, packageName, component string, enabled bool) (bool, error) {
	return enabled, nil
}

func (b *fakeBackend) IsOperationSupported(op domain.PrivilegedOperation) bool { return true }

func (b *fakeBackend) StatusDescription() string { return string(b.typ) + " fake" }

func (b *fakeBackend) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanups++
}

func (b *fakeBackend) set(fn func(b *fakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *fakeBackend) counts() (inits, requests, cleanups int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inits, b.requests, b.cleanups
}

// fakeFactory hands out preconfigured backends and records creation
type fakeFactory struct {
	mu        sync.Mutex
	shizuku   *fakeBackend
	shell     *fakeBackend
	callbacks domain.BackendCallbacks
	created   map[domain.BackendType]int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		shizuku: &fakeBackend{typ: domain.BackendShizuku},
		shell:   &fakeBackend{typ: domain.BackendShell},
		created: make(map[domain.BackendType]int),
	}
}

func (f *fakeFactory) NewShizuku(callbacks domain.BackendCallbacks) domain.Backend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = callbacks
	f.created[domain.BackendShizuku]++
	return f.shizuku
}

func (f *fakeFactory) NewShell() domain.Backend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[domain.BackendShell]++
	return f.shell
}

func (f *fakeFactory) NewNoOp() domain.Backend {
	return &fakeBackend{typ: domain.BackendNone}
}

func (f *fakeFactory) createdCount(t domain.BackendType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[t]
}

func reachableShizuku(granted bool) func(b *fakeBackend) {
	return func(b *fakeBackend) {
		b.initOK = true
		b.available = true
		b.permission = granted
	}
}

func workingShell(b *fakeBackend) {
	b.initOK = true
	b.available = true
	b.permission = true
}

func newTestManager(t *testing.T, p domain.Policy) (*Manager, *fakeFactory, *policy.MemoryStore) {
	t.Helper()
	factory := newFakeFactory()
	store := policy.NewMemoryStore(p)
	m := NewManager(factory, store, zap.NewNop())
	t.Cleanup(m.Cleanup)
	return m, factory, store
}

// flush waits until every posted callback has run.
func flush(t *testing.T, m *Manager) {
	t.Helper()
	require.NoError(t, m.executor.Do(context.Background(), func() {}))
}

func TestManager_StartsUninitialized(t *testing.T) {
	m, _, _ := newTestManager(t, policy.DefaultPolicy())

	assert.Equal(t, domain.StateUninitialized, m.Status().State)
	assert.Equal(t, domain.BackendNone, m.BackendType())
	assert.False(t, m.IsPrivilegedAvailable())
}

func TestManager_Selection(t *testing.T) {
	tests := []struct {
		name       string
		policy     func(p *domain.Policy)
		shizuku    func(b *fakeBackend)
		shell      func(b *fakeBackend)
		wantType   domain.BackendType
		wantState  domain.BackendState
		wantReason domain.StatusReason
		wantUsable bool
	}{
		{
			name:       "master disabled",
			policy:     func(p *domain.Policy) { p.MasterEnabled = false },
			shizuku:    reachableShizuku(true),
			shell:      workingShell,
			wantType:   domain.BackendNone,
			wantState:  domain.StateUnavailable,
			wantReason: domain.ReasonUnavailable,
		},
		{
			name:       "shizuku granted",
			shizuku:    reachableShizuku(true),
			shell:      workingShell,
			wantType:   domain.BackendShizuku,
			wantState:  domain.StateReady,
			wantReason: domain.ReasonGranted,
			wantUsable: true,
		},
		{
			name:       "shizuku reachable without permission",
			shizuku:    reachableShizuku(false),
			shell:      workingShell,
			wantType:   domain.BackendShizuku,
			wantState:  domain.StatePermissionDenied,
			wantReason: domain.ReasonDenied,
			wantUsable: true,
		},
		{
			name:       "shizuku unreachable falls back to shell",
			shell:      workingShell,
			wantType:   domain.BackendShell,
			wantState:  domain.StateFallbackShell,
			wantReason: domain.ReasonFallbackShell,
			wantUsable: true,
		},
		{
			name:       "shizuku unreachable and shell detection fails",
			wantType:   domain.BackendNone,
			wantState:  domain.StateServiceNotRunning,
			wantReason: domain.ReasonServiceNotRunning,
		},
		{
			name:       "shizuku unreachable without fallback",
			policy:     func(p *domain.Policy) { p.AllowShellFallback = false },
			shell:      workingShell,
			wantType:   domain.BackendNone,
			wantState:  domain.StateServiceNotRunning,
			wantReason: domain.ReasonServiceNotRunning,
		},
		{
			name:       "shell only",
			policy:     func(p *domain.Policy) { p.PreferShizuku = false },
			shizuku:    reachableShizuku(true),
			shell:      workingShell,
			wantType:   domain.BackendShell,
			wantState:  domain.StateFallbackShell,
			wantReason: domain.ReasonFallbackShell,
			wantUsable: true,
		},
		{
			name:       "shell only without root",
			policy:     func(p *domain.Policy) { p.PreferShizuku = false },
			wantType:   domain.BackendNone,
			wantState:  domain.StateUnavailable,
			wantReason: domain.ReasonUnavailable,
		},
		{
			name: "nothing enabled",
			policy: func(p *domain.Policy) {
				p.PreferShizuku = false
				p.AllowShellFallback = false
			},
			shizuku:    reachableShizuku(true),
			shell:      workingShell,
			wantType:   domain.BackendNone,
			wantState:  domain.StateUnavailable,
			wantReason: domain.ReasonUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := policy.DefaultPolicy()
			if tt.policy != nil {
				tt.policy(&p)
			}
			m, factory, _ := newTestManager(t, p)
			if tt.shizuku != nil {
				factory.shizuku.set(tt.shizuku)
			}
			if tt.shell != nil {
				factory.shell.set(tt.shell)
			}

			usable := m.Initialize(context.Background())

			st := m.Status()
			assert.Equal(t, tt.wantType, m.BackendType())
			assert.Equal(t, tt.wantState, st.State)
			assert.Equal(t, tt.wantReason, st.Reason)
			assert.NotEmpty(t, st.Message)
			assert.Equal(t, tt.wantUsable, usable)
		})
	}
}

func TestManager_FallbackCleansUpShizuku(t *testing.T) {
	m, factory, _ := newTestManager(t, policy.DefaultPolicy())
	factory.shell.set(workingShell)

	m.Initialize(context.Background())

	_, _, cleanups := factory.shizuku.counts()
	assert.Equal(t, 1, cleanups)
	assert.True(t, m.HasPermission())
	assert.True(t, m.IsPrivilegedAvailable())
}

func TestManager_ReselectIsIdempotent(t *testing.T) {
	m, factory, _ := newTestManager(t, policy.DefaultPolicy())
	factory.shizuku.set(reachableShizuku(true))

	first := m.ReselectBackend(context.Background())
	second := m.ReselectBackend(context.Background())

	assert.Equal(t, first, second)
	assert.Equal(t, domain.StateReady, second.State)
	assert.Equal(t, 1, factory.createdCount(domain.BackendShizuku))

	inits, _, cleanups := factory.shizuku.counts()
	assert.Equal(t, 2, inits)
	assert.Zero(t, cleanups)
}

func TestManager_ConcurrentReselectNeverStaysInitializing(t *testing.T) {
	m, factory, _ := newTestManager(t, policy.DefaultPolicy())
	factory.shell.set(workingShell)
	m.Initialize(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.ReselectBackend(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, domain.StateFallbackShell, m.Status().State)
}

func TestManager_ReselectAfterPolicyChange(t *testing.T) {
	m, factory, store := newTestManager(t, policy.DefaultPolicy())
	factory.shizuku.set(reachableShizuku(true))
	m.Initialize(context.Background())
	require.Equal(t, domain.BackendShizuku, m.BackendType())

	p, _ := store.Load()
	p.MasterEnabled = false
	require.NoError(t, store.Save(p))

	st := m.ReselectBackend(context.Background())
	assert.Equal(t, domain.StateUnavailable, st.State)
	assert.Equal(t, domain.BackendNone, m.BackendType())

	_, _, cleanups := factory.shizuku.counts()
	assert.Equal(t, 1, cleanups)
}

func TestManager_BinderDeadFallsBackToShell(t *testing.T) {
	m, factory, _ := newTestManager(t, policy.DefaultPolicy())
	factory.shizuku.set(reachableShizuku(true))
	factory.shell.set(workingShell)
	m.Initialize(context.Background())
	require.Equal(t, domain.StateReady, m.Status().State)

	factory.shizuku.set(func(b *fakeBackend) { b.available = false })
	factory.callbacks.OnBinderDead(factory.shizuku)
	flush(t, m)

	assert.Equal(t, domain.BackendShell, m.BackendType())
	assert.Equal(t, domain.StateFallbackShell, m.Status().State)
}

func TestManager_BinderDeadWithoutFallback(t *testing.T) {
	p := policy.DefaultPolicy()
	p.AllowShellFallback = false
	m, factory, _ := newTestManager(t, p)
	factory.shizuku.set(reachableShizuku(true))
	m.Initialize(context.Background())

	factory.callbacks.OnBinderDead(factory.shizuku)
	flush(t, m)

	st := m.Status()
	assert.Equal(t, domain.StateServiceNotRunning, st.State)
	assert.Equal(t, domain.ReasonBinderDead, st.Reason)
	assert.Equal(t, domain.BackendShizuku, m.BackendType())
}

func TestManager_RequestPermissionAfterBinderDeath(t *testing.T) {
	p := policy.DefaultPolicy()
	p.AllowShellFallback = false
	m, factory, _ := newTestManager(t, p)
	factory.shizuku.set(reachableShizuku(false))
	m.Initialize(context.Background())
	require.Equal(t, domain.StatePermissionDenied, m.Status().State)

	factory.shizuku.set(func(b *fakeBackend) { b.available = false })
	factory.callbacks.OnBinderDead(factory.shizuku)
	flush(t, m)

	assert.False(t, m.RequestPrivilegedPermission(PermissionRequestCode))

	st := m.Status()
	assert.Equal(t, domain.StateServiceNotRunning, st.State)
	assert.Equal(t, domain.ReasonBinderDead, st.Reason)

	_, requests, _ := factory.shizuku.counts()
	assert.Equal(t, 0, requests, "no request may reach a dead binder")
}

func TestManager_BinderReceivedRestoresState(t *testing.T) {
	p := policy.DefaultPolicy()
	p.AllowShellFallback = false
	m, factory, _ := newTestManager(t, p)
	factory.shizuku.set(reachableShizuku(true))
	m.Initialize(context.Background())

	factory.callbacks.OnBinderDead(factory.shizuku)
	flush(t, m)
	require.Equal(t, domain.StateServiceNotRunning, m.Status().State)

	factory.callbacks.OnBinderReceived(factory.shizuku)
	flush(t, m)
	assert.Equal(t, domain.StateReady, m.Status().State)

	factory.shizuku.set(func(b *fakeBackend) { b.permission = false })
	factory.callbacks.OnBinderReceived(factory.shizuku)
	flush(t, m)
	assert.Equal(t, domain.StatePermissionDenied, m.Status().State)
}

func TestManager_StaleBackendEventsIgnored(t *testing.T) {
	m, factory, _ := newTestManager(t, policy.DefaultPolicy())
	factory.shizuku.set(reachableShizuku(true))
	m.Initialize(context.Background())

	stale := &fakeBackend{typ: domain.BackendShizuku}
	factory.callbacks.OnBinderDead(stale)
	factory.callbacks.OnPermissionResult(stale, false)
	flush(t, m)

	assert.Equal(t, domain.StateReady, m.Status().State)
	assert.Equal(t, domain.BackendShizuku, m.BackendType())
}

func TestManager_PermissionResult(t *testing.T) {
	t.Run("granted", func(t *testing.T) {
		m, factory, _ := newTestManager(t, policy.DefaultPolicy())
		factory.shizuku.set(reachableShizuku(false))
		m.Initialize(context.Background())

		factory.shizuku.set(func(b *fakeBackend) { b.permission = true })
		factory.callbacks.OnPermissionResult(factory.shizuku, true)
		flush(t, m)

		st := m.Status()
		assert.Equal(t, domain.StateReady, st.State)
		assert.Equal(t, domain.ReasonGranted, st.Reason)
	})

	t.Run("denied falls back to shell", func(t *testing.T) {
		m, factory, _ := newTestManager(t, policy.DefaultPolicy())
		factory.shizuku.set(reachableShizuku(false))
		factory.shell.set(workingShell)
		m.Initialize(context.Background())

		factory.callbacks.OnPermissionResult(factory.shizuku, false)
		flush(t, m)

		assert.Equal(t, domain.StateFallbackShell, m.Status().State)
		assert.Equal(t, domain.BackendShell, m.BackendType())
	})

	t.Run("denied without shell stays denied", func(t *testing.T) {
		m, factory, _ := newTestManager(t, policy.DefaultPolicy())
		factory.shizuku.set(reachableShizuku(false))
		m.Initialize(context.Background())

		factory.callbacks.OnPermissionResult(factory.shizuku, false)
		flush(t, m)

		assert.Equal(t, domain.StatePermissionDenied, m.Status().State)
		assert.Equal(t, domain.BackendShizuku, m.BackendType())
	})
}

func TestManager_RequestPermissionDeduplicates(t *testing.T) {
	m, factory, _ := newTestManager(t, policy.DefaultPolicy())
	factory.shizuku.set(reachableShizuku(false))
	factory.shizuku.set(func(b *fakeBackend) { b.requestOK = true })
	m.Initialize(context.Background())

	assert.True(t, m.RequestPrivilegedPermission(PermissionRequestCode))
	assert.Equal(t, domain.StatePermissionRequesting, m.Status().State)
	assert.True(t, m.RequestPrivilegedPermission(PermissionRequestCode))

	_, requests, _ := factory.shizuku.counts()
	assert.Equal(t, 1, requests)
}

func TestManager_RefusedRequestFallsBackToShell(t *testing.T) {
	m, factory, _ := newTestManager(t, policy.DefaultPolicy())
	factory.shizuku.set(reachableShizuku(false))
	factory.shell.set(workingShell)
	m.Initialize(context.Background())

	assert.False(t, m.RequestPrivilegedPermission(PermissionRequestCode))
	assert.Equal(t, domain.StateFallbackShell, m.Status().State)
}

func TestManager_PermissionGate(t *testing.T) {
	t.Run("missing permission issues one request", func(t *testing.T) {
		m, factory, _ := newTestManager(t, policy.DefaultPolicy())
		factory.shizuku.set(reachableShizuku(false))
		factory.shizuku.set(func(b *fakeBackend) { b.requestOK = true })
		m.Initialize(context.Background())

		_, err := m.ExecuteCommand(context.Background(), "id")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrPermissionRequired)

		_, err = m.ExecuteCommand(context.Background(), "id")
		assert.ErrorIs(t, err, domain.ErrPermissionRequired)

		_, requests, _ := factory.shizuku.counts()
		assert.Equal(t, 1, requests)
		assert.Equal(t, domain.StatePermissionRequesting, m.Status().State)
	})

	t.Run("dead binder is denied", func(t *testing.T) {
		p := policy.DefaultPolicy()
		p.AllowShellFallback = false
		m, factory, _ := newTestManager(t, p)
		factory.shizuku.set(reachableShizuku(true))
		m.Initialize(context.Background())

		factory.shizuku.set(func(b *fakeBackend) { b.available = false })
		_, err := m.ExecuteCommand(context.Background(), "id")
		assert.ErrorIs(t, err, domain.ErrBackendUnavailable)

		flush(t, m)
		assert.Equal(t, domain.ReasonBinderDead, m.Status().Reason)
	})

	t.Run("master disabled after selection", func(t *testing.T) {
		m, factory, store := newTestManager(t, policy.DefaultPolicy())
		factory.shizuku.set(reachableShizuku(true))
		m.Initialize(context.Background())

		p, _ := store.Load()
		p.MasterEnabled = false
		require.NoError(t, store.Save(p))

		_, err := m.ExecuteCommand(context.Background(), "id")
		var be *domain.BackendError
		require.True(t, errors.As(err, &be))
		assert.Equal(t, domain.KindUnavailable, be.Kind)
	})

	t.Run("granted delegates", func(t *testing.T) {
		m, factory, _ := newTestManager(t, policy.DefaultPolicy())
		factory.shizuku.set(reachableShizuku(true))
		factory.shizuku.set(func(b *fakeBackend) { b.execOutput = "uid=2000(shell)" })
		m.Initialize(context.Background())

		out, err := m.ExecuteCommand(context.Background(), "id")
		require.NoError(t, err)
		assert.Equal(t, "uid=2000(shell)", out)

		pkgs, err := m.GetInstalledPackages(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"com.example.app"}, pkgs)

		ok, err := m.SetComponentEnabled(context.Background(), "com.example.app", ".Main", true)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestManager_BackendErrorsPassThrough(t *testing.T) {
	m, factory, _ := newTestManager(t, policy.DefaultPolicy())
	factory.shell.set(workingShell)
	factory.shell.set(func(b *fakeBackend) {
		b.execErr = domain.NewBackendError(domain.KindExit, "boom", nil)
	})
	m.Initialize(context.Background())

	_, err := m.ExecuteCommand(context.Background(), "false")
	var be *domain.BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, domain.KindExit, be.Kind)
}

func TestManager_Cleanup(t *testing.T) {
	m, factory, _ := newTestManager(t, policy.DefaultPolicy())
	factory.shizuku.set(reachableShizuku(true))
	m.Initialize(context.Background())

	m.Cleanup()
	m.Cleanup()

	_, _, cleanups := factory.shizuku.counts()
	assert.Equal(t, 1, cleanups)
	assert.Equal(t, domain.BackendNone, m.BackendType())

	_, err := m.ExecuteCommand(context.Background(), "id")
	assert.ErrorIs(t, err, domain.ErrManagerClosed)
	assert.False(t, m.RequestPrivilegedPermission(PermissionRequestCode))
	assert.False(t, m.Initialize(context.Background()))
}
