package usecase

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/tooie/internal/domain"
	"github.com/eliteGoblin/tooie/internal/policy"
)

// PermissionRequestCode is the request code the manager uses for grants.
const PermissionRequestCode = 1001

// BackendFactory builds the backend variants. NewShizuku receives the
// manager so backend events reach its state machine.
type BackendFactory interface {
	NewShizuku(callbacks domain.BackendCallbacks) domain.Backend
	NewShell() domain.Backend
	NewNoOp() domain.Backend
}

// Manager implements domain.BackendManager.
//
// All state transitions (reselection and backend events) run on one
// SerialExecutor. mu only guards plain reads of backend and status so
// observers and privileged calls never wait behind a reselection.
type Manager struct {
	factory  BackendFactory
	policies domain.PolicyStore
	executor *SerialExecutor
	logger   *zap.Logger

	mu      sync.RWMutex
	backend domain.Backend
	status  domain.Status
	closed  bool
}

// NewManager creates a manager with a NoOp backend in UNINITIALIZED state.
func NewManager(factory BackendFactory, policies domain.PolicyStore, logger *zap.Logger) *Manager {
	return &Manager{
		factory:  factory,
		policies: policies,
		executor: NewSerialExecutor(64, logger),
		logger:   logger,
		backend:  factory.NewNoOp(),
		status: domain.Status{
			State:   domain.StateUninitialized,
			Reason:  domain.ReasonUnavailable,
			Message: "Backend manager not initialized",
		},
	}
}

// Initialize runs the first selection. Returns IsPrivilegedAvailable.
func (m *Manager) Initialize(ctx context.Context) bool {
	if m.isClosed() {
		return false
	}
	m.setStatus(domain.StateInitializing, domain.ReasonUnavailable, "Selecting privileged backend")
	m.ReselectBackend(ctx)
	return m.IsPrivilegedAvailable()
}

// ReselectBackend re-runs selection against the current policy.
// Repeated calls with unchanged inputs end in the same status.
func (m *Manager) ReselectBackend(ctx context.Context) domain.Status {
	err := m.executor.Do(ctx, func() {
		if m.isClosed() {
			return
		}
		m.selectBackend(ctx)
	})
	if err != nil {
		m.logger.Warn("reselection did not run", zap.Error(err))
	}
	return m.Status()
}

func (m *Manager) loadPolicy() domain.Policy {
	p, err := m.policies.Load()
	if err != nil {
		m.logger.Warn("failed to load privileged policy, using defaults", zap.Error(err))
		return policy.DefaultPolicy()
	}
	return p
}

// selectBackend runs on the executor.
func (m *Manager) selectBackend(ctx context.Context) {
	p := m.loadPolicy()
	m.logger.Info("selecting backend",
		zap.Bool("master", p.MasterEnabled),
		zap.Bool("prefer_shizuku", p.PreferShizuku),
		zap.Bool("allow_shell_fallback", p.AllowShellFallback))

	if !p.MasterEnabled {
		m.install(m.factory.NewNoOp(), domain.StateUnavailable, domain.ReasonUnavailable,
			"Privileged features disabled by settings")
		return
	}

	if p.PreferShizuku {
		b := m.reuseOrCreate(domain.BackendShizuku, func() domain.Backend { return m.factory.NewShizuku(m) })
		if b.Initialize(ctx) {
			if b.HasPermission() {
				m.install(b, domain.StateReady, domain.ReasonGranted, "Shizuku permission granted")
			} else {
				m.install(b, domain.StatePermissionDenied, domain.ReasonDenied, "Shizuku permission not granted")
			}
			return
		}

		m.logger.Info("shizuku not reachable")
		if !p.AllowShellFallback {
			b.Cleanup()
			m.install(m.factory.NewNoOp(), domain.StateServiceNotRunning, domain.ReasonServiceNotRunning,
				"Shizuku service not running")
			return
		}
		b.Cleanup()
		m.fallbackToShell(ctx, domain.StateServiceNotRunning, domain.ReasonServiceNotRunning,
			"Shizuku service not running")
		return
	}

	if p.AllowShellFallback {
		m.fallbackToShell(ctx, domain.StateUnavailable, domain.ReasonUnavailable, "No privileged method available")
		return
	}

	m.install(m.factory.NewNoOp(), domain.StateUnavailable, domain.ReasonUnavailable,
		"No privileged backend enabled by settings")
}

// fallbackToShell installs the shell backend when a root method works,
// otherwise NoOp with the given failure status. Runs on the executor.
func (m *Manager) fallbackToShell(ctx context.Context, failState domain.BackendState, failReason domain.StatusReason, failMessage string) {
	shell := m.reuseOrCreate(domain.BackendShell, m.factory.NewShell)
	if shell.Initialize(ctx) && shell.HasPermission() {
		m.install(shell, domain.StateFallbackShell, domain.ReasonFallbackShell,
			"Using shell fallback: "+shell.StatusDescription())
		return
	}
	shell.Cleanup()
	m.install(m.factory.NewNoOp(), failState, failReason, failMessage+"; su/rish unavailable")
}

// reuseOrCreate returns the current backend when it has type t so that
// reselection does not churn listeners.
func (m *Manager) reuseOrCreate(t domain.BackendType, create func() domain.Backend) domain.Backend {
	m.mu.RLock()
	current := m.backend
	m.mu.RUnlock()
	if current != nil && current.Type() == t {
		return current
	}
	return create()
}

// install swaps in b, cleaning up the previous backend if it differs.
func (m *Manager) install(b domain.Backend, state domain.BackendState, reason domain.StatusReason, message string) {
	m.mu.Lock()
	old := m.backend
	m.backend = b
	m.status = domain.Status{State: state, Reason: reason, Message: message}
	m.mu.Unlock()

	if old != nil && old != b {
		old.Cleanup()
	}
	m.logger.Info("backend selected",
		zap.String("backend", string(b.Type())),
		zap.String("state", string(state)),
		zap.String("reason", string(reason)),
		zap.String("message", message))
}

func (m *Manager) setStatus(state domain.BackendState, reason domain.StatusReason, message string) {
	m.mu.Lock()
	m.status = domain.Status{State: state, Reason: reason, Message: message}
	m.mu.Unlock()
}

func (m *Manager) current() (domain.Backend, domain.Status) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backend, m.status
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// --- domain.BackendCallbacks, invoked from backend event goroutines ---

// OnBinderReceived restores the IPC backend when it is still preferred.
func (m *Manager) OnBinderReceived(b domain.Backend) {
	m.executor.Post(func() {
		if !m.isCurrent(b) {
			return
		}
		if !m.loadPolicy().PreferShizuku {
			return
		}
		if b.HasPermission() {
			m.setStatus(domain.StateReady, domain.ReasonGranted, "Shizuku binder restored")
		} else {
			m.setStatus(domain.StatePermissionDenied, domain.ReasonDenied, "Shizuku binder restored without permission")
		}
		m.logger.Info("shizuku binder received", zap.String("state", string(m.Status().State)))
	})
}

// OnBinderDead moves to SERVICE_NOT_RUNNING and tries the shell fallback.
func (m *Manager) OnBinderDead(b domain.Backend) {
	m.executor.Post(func() {
		if !m.isCurrent(b) {
			return
		}
		m.handleBinderDead(context.Background())
	})
}

func (m *Manager) handleBinderDead(ctx context.Context) {
	m.setStatus(domain.StateServiceNotRunning, domain.ReasonBinderDead, "Shizuku binder died")
	m.logger.Warn("shizuku binder dead")

	if m.loadPolicy().AllowShellFallback {
		m.fallbackToShellKeepingReason(ctx, domain.ReasonBinderDead, "Shizuku binder died")
	}
}

// OnPermissionResult applies a grant decision for the current backend.
func (m *Manager) OnPermissionResult(b domain.Backend, granted bool) {
	m.executor.Post(func() {
		if !m.isCurrent(b) {
			return
		}
		if granted {
			m.setStatus(domain.StateReady, domain.ReasonGranted, "Shizuku permission granted")
			m.logger.Info("shizuku permission granted")
			return
		}
		m.setStatus(domain.StatePermissionDenied, domain.ReasonDenied, "Shizuku permission denied")
		m.logger.Warn("shizuku permission denied")
		if m.loadPolicy().AllowShellFallback {
			m.fallbackToShellKeepingReason(context.Background(), domain.ReasonDenied, "Shizuku permission denied")
		}
	})
}

// fallbackToShellKeepingReason swaps to the shell backend after an IPC
// failure event. When no root method works the IPC backend stays current
// so a later binder or permission event can still restore it.
func (m *Manager) fallbackToShellKeepingReason(ctx context.Context, reason domain.StatusReason, message string) {
	shell := m.factory.NewShell()
	if shell.Initialize(ctx) && shell.HasPermission() {
		m.install(shell, domain.StateFallbackShell, domain.ReasonFallbackShell,
			message+"; using shell fallback: "+shell.StatusDescription())
		return
	}
	shell.Cleanup()
	m.logger.Info("shell fallback unavailable", zap.String("reason", string(reason)))
}

func (m *Manager) isCurrent(b domain.Backend) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed || m.backend != b {
		m.logger.Debug("ignoring event from stale backend")
		return false
	}
	return true
}

// --- observers ---

func (m *Manager) Status() domain.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) BackendType() domain.BackendType {
	b, _ := m.current()
	return b.Type()
}

func (m *Manager) IsPrivilegedAvailable() bool {
	b, _ := m.current()
	return b.Type() != domain.BackendNone && b.IsAvailable()
}

func (m *Manager) HasPermission() bool {
	b, _ := m.current()
	return b.HasPermission()
}

func (m *Manager) StatusDescription() string {
	b, _ := m.current()
	if b == nil {
		return "Backend not available"
	}
	return b.StatusDescription()
}

// RequestPrivilegedPermission asks the current backend for a grant.
// While a request is already in flight it returns true without
// re-issuing.
func (m *Manager) RequestPrivilegedPermission(requestCode int) bool {
	result := false
	err := m.executor.Do(context.Background(), func() {
		if m.isClosed() {
			return
		}
		b, st := m.current()
		if st.State == domain.StatePermissionRequesting {
			result = true
			return
		}
		if b.Type() == domain.BackendShizuku && !b.IsAvailable() {
			// A dead binder cannot answer; keep reporting it as dead
			m.handleBinderDead(context.Background())
			return
		}
		if b.HasPermission() {
			result = true
			return
		}
		result = b.RequestPermission(requestCode)
		if b.Type() != domain.BackendShizuku {
			return
		}
		if result {
			m.setStatus(domain.StatePermissionRequesting, domain.ReasonPermissionRequesting,
				"Waiting for Shizuku permission")
			return
		}
		// Refused without a prompt (permanent denial): no result event will
		// follow, so move on to the shell path now.
		m.setStatus(domain.StatePermissionDenied, domain.ReasonDenied, "Shizuku permission request refused")
		if m.loadPolicy().AllowShellFallback {
			m.fallbackToShellKeepingReason(context.Background(), domain.ReasonDenied, "Shizuku permission request refused")
		}
	})
	if err != nil {
		m.logger.Warn("permission request not issued", zap.Error(err))
		return false
	}
	return result
}

// --- privileged operations ---

// gate returns the backend to use or the reason the call is denied.
func (m *Manager) gate() (domain.Backend, error) {
	if m.isClosed() {
		return nil, domain.ErrManagerClosed
	}
	if !m.loadPolicy().MasterEnabled {
		return nil, domain.NewBackendError(domain.KindUnavailable,
			"Privileged features disabled by settings", domain.ErrBackendUnavailable)
	}

	b, st := m.current()
	if b.Type() != domain.BackendShizuku {
		return b, nil
	}
	if !b.IsAvailable() {
		m.executor.Post(func() {
			if m.isCurrent(b) {
				m.handleBinderDead(context.Background())
			}
		})
		return nil, domain.NewBackendError(domain.KindUnavailable,
			"Shizuku binder is not available", domain.ErrBackendUnavailable)
	}
	if !b.HasPermission() {
		if st.State != domain.StatePermissionRequesting {
			m.RequestPrivilegedPermission(PermissionRequestCode)
		}
		return nil, domain.NewBackendError(domain.KindPermission,
			"Shizuku permission required", domain.ErrPermissionRequired)
	}
	return b, nil
}

func (m *Manager) ExecuteCommand(ctx context.Context, command string) (string, error) {
	b, err := m.gate()
	if err != nil {
		m.logger.Info("privileged command denied", zap.Error(err))
		return "", err
	}
	out, err := b.ExecuteCommand(ctx, command)
	if err != nil {
		m.logger.Warn("privileged command failed",
			zap.String("backend", string(b.Type())),
			zap.Error(err))
	}
	return out, err
}

func (m *Manager) GetInstalledPackages(ctx context.Context) ([]string, error) {
	b, err := m.gate()
	if err != nil {
		return nil, err
	}
	return b.GetInstalledPackages(ctx)
}

func (m *Manager) InstallPackage(ctx context.Context, apkPath string) (bool, error) {
	b, err := m.gate()
	if err != nil {
		return false, err
	}
	ok, err := b.InstallPackage(ctx, apkPath)
	if err != nil {
		return false, fmt.Errorf("failed to install package: %w", err)
	}
	return ok, nil
}

func (m *Manager) UninstallPackage(ctx context.Context, packageName string) (bool, error) {
	b, err := m.gate()
	if err != nil {
		return false, err
	}
	ok, err := b.UninstallPackage(ctx, packageName)
	if err != nil {
		return false, fmt.Errorf("failed to uninstall package: %w", err)
	}
	return ok, nil
}

func (m *Manager) SetComponentEnabled(ctx context.Context, packageName, component string, enabled bool) (bool, error) {
	b, err := m.gate()
	if err != nil {
		return false, err
	}
	ok, err := b.SetComponentEnabled(ctx, packageName, component, enabled)
	if err != nil {
		return false, fmt.Errorf("failed to set component state: %w", err)
	}
	return ok, nil
}

// Cleanup releases the backend and stops the executor. Terminal.
func (m *Manager) Cleanup() {
	_ = m.executor.Do(context.Background(), func() {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		old := m.backend
		m.backend = m.factory.NewNoOp()
		m.status = domain.Status{
			State:   domain.StateUnavailable,
			Reason:  domain.ReasonUnavailable,
			Message: "Backend manager stopped",
		}
		m.closed = true
		m.mu.Unlock()

		old.Cleanup()
		m.logger.Info("backend manager cleaned up")
	})
	m.executor.Shutdown()
}

// Ensure Manager implements the manager and callback interfaces.
var (
	_ domain.BackendManager   = (*Manager)(nil)
	_ domain.BackendCallbacks = (*Manager)(nil)
)
