package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/tooie/internal/domain"
)

const (
	// PermissionRequestCode tags grant prompts issued by this backend.
	PermissionRequestCode = 1001

	// minBrokerVersion is the first broker API with the permission model.
	minBrokerVersion = 11

	brokerCallTimeout = 5 * time.Second
)

// ShizukuBackend drives an out-of-process privilege broker.
// Broker calls are never made while mu is held, since the broker may
// deliver events synchronously from inside a call.
type ShizukuBackend struct {
	broker    domain.Broker
	callbacks domain.BackendCallbacks
	logger    *zap.Logger

	mu                sync.Mutex
	available         bool
	binderReceived    bool
	hasPermission     bool
	brokerInitialized bool
	uid               int
	sub               domain.Subscription
}

// NewShizukuBackend creates a backend over broker. callbacks may be nil,
// in which case permission requests are refused.
func NewShizukuBackend(broker domain.Broker, callbacks domain.BackendCallbacks, logger *zap.Logger) *ShizukuBackend {
	return &ShizukuBackend{broker: broker, callbacks: callbacks, logger: logger, uid: -1}
}

func (b *ShizukuBackend) Type() domain.BackendType {
	return domain.BackendShizuku
}

// Initialize registers listeners and pings the broker.
// Returns true when the broker is reachable, granted or not.
func (b *ShizukuBackend) Initialize(ctx context.Context) bool {
	b.registerListeners()

	if !b.broker.Ping(ctx) {
		b.logger.Info("broker not reachable")
		b.setReachability(false, false)
		return false
	}

	version, err := b.broker.Version(ctx)
	if err != nil {
		b.logger.Warn("failed to read broker version", zap.Error(err))
		b.setReachability(false, false)
		return false
	}
	if version < minBrokerVersion {
		b.logger.Warn("broker too old", zap.Int("version", version), zap.Int("min_version", minBrokerVersion))
		b.setReachability(false, false)
		return false
	}

	uid, err := b.broker.UID(ctx)
	if err != nil {
		uid = -1
	}
	granted, err := b.broker.CheckSelfPermission(ctx)
	if err != nil {
		b.logger.Warn("failed to check broker permission", zap.Error(err))
		granted = false
	}

	b.mu.Lock()
	b.available = true
	b.binderReceived = true
	b.brokerInitialized = true
	b.hasPermission = granted
	b.uid = uid
	b.mu.Unlock()

	b.logger.Info("broker backend initialized",
		zap.Int("version", version),
		zap.Int("uid", uid),
		zap.Bool("granted", granted))
	return true
}

func (b *ShizukuBackend) registerListeners() {
	b.mu.Lock()
	if b.sub != nil {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	sub, err := b.broker.Subscribe(&brokerEvents{backend: b})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadySubscribed) {
			b.logger.Warn("broker listener already registered by another backend")
		} else {
			b.logger.Warn("failed to register broker listener", zap.Error(err))
		}
		return
	}

	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()
}

func (b *ShizukuBackend) setReachability(available, binder bool) {
	b.mu.Lock()
	b.available = available
	b.binderReceived = binder
	if !binder {
		b.hasPermission = false
	}
	b.mu.Unlock()
}

func (b *ShizukuBackend) IsAvailable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available && b.binderReceived
}

func (b *ShizukuBackend) HasPermission() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hasPermission
}

// RequestPermission issues an asynchronous grant prompt. The outcome arrives
// through BackendCallbacks.OnPermissionResult.
func (b *ShizukuBackend) RequestPermission(requestCode int) bool {
	if b.callbacks == nil {
		b.logger.Warn("permission request without callbacks")
		return false
	}

	b.mu.Lock()
	available := b.available && b.binderReceived
	granted := b.hasPermission
	b.mu.Unlock()

	if !available {
		return false
	}
	if granted {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), brokerCallTimeout)
	defer cancel()

	rationale, err := b.broker.ShouldShowRequestPermissionRationale(ctx)
	if err != nil {
		b.logger.Warn("failed to read permission rationale", zap.Error(err))
		return false
	}
	if rationale {
		b.logger.Info("permission permanently denied, not prompting")
		return false
	}

	if requestCode != PermissionRequestCode {
		b.logger.Warn("unexpected permission request code",
			zap.Int("request_code", requestCode),
			zap.Int("using", PermissionRequestCode))
		requestCode = PermissionRequestCode
	}
	if err := b.broker.RequestPermission(ctx, requestCode); err != nil {
		b.logger.Warn("failed to request permission", zap.Error(err))
		return false
	}
	return true
}

func (b *ShizukuBackend) requirePermission() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !(b.available && b.binderReceived) {
		return domain.NewBackendError(domain.KindUnavailable, "Shizuku service not running", domain.ErrBackendUnavailable)
	}
	if !b.hasPermission {
		return domain.NewBackendError(domain.KindPermission, "No permission to execute commands", domain.ErrPermissionRequired)
	}
	return nil
}

// ExecuteCommand runs command through the broker's process surface.
func (b *ShizukuBackend) ExecuteCommand(ctx context.Context, command string) (string, error) {
	if err := b.requirePermission(); err != nil {
		return "", err
	}
	if strings.TrimSpace(command) == "" {
		return "", domain.NewBackendError(domain.KindInvalid, "Invalid command", nil)
	}

	b.logger.Debug("executing broker command", zap.String("command", MaskSensitive(command)))

	res, err := b.broker.NewProcess(ctx, []string{"sh", "-c", command})
	if err != nil {
		if errors.Is(err, domain.ErrProcessUnsupported) {
			return "", domain.NewBackendError(domain.KindUnsupported,
				"command execution requires a bound broker service with process support", err)
		}
		var be *domain.BackendError
		if errors.As(err, &be) {
			return "", be
		}
		return "", domain.NewBackendError(domain.KindUnavailable, err.Error(), err)
	}
	if res.ExitCode != 0 {
		msg := res.Stderr
		if strings.TrimSpace(msg) == "" {
			msg = fmt.Sprintf("Exit code: %d", res.ExitCode)
		}
		return "", &domain.BackendError{Kind: domain.KindExit, Code: res.ExitCode, Message: msg}
	}
	return NormalizeOutput(res.Stdout), nil
}

func (b *ShizukuBackend) GetInstalledPackages(ctx context.Context) ([]string, error) {
	out, err := b.ExecuteCommand(ctx, "pm list packages")
	if err != nil {
		return nil, err
	}
	return ParsePackageList(out), nil
}

func (b *ShizukuBackend) InstallPackage(ctx context.Context, apkPath string) (bool, error) {
	return runPackageManager(ctx, b, "pm install -r "+ShellEscape(apkPath))
}

func (b *ShizukuBackend) UninstallPackage(ctx context.Context, packageName string) (bool, error) {
	return runPackageManager(ctx, b, "pm uninstall "+ShellEscape(packageName))
}

func (b *ShizukuBackend) SetComponentEnabled(ctx context.Context, packageName, component string, enabled bool) (bool, error) {
	return runPackageManager(ctx, b, componentCommand(packageName, component, enabled))
}

func (b *ShizukuBackend) IsOperationSupported(op domain.PrivilegedOperation) bool {
	_, known := domain.OperationFromKey(string(op))
	return known
}

func (b *ShizukuBackend) StatusDescription() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("Shizuku backend - Available: %t, HasPermission: %t, BrokerInit: %t, Privilege: %s",
		b.available && b.binderReceived, b.hasPermission, b.brokerInitialized, privilegeName(b.uid))
}

func privilegeName(uid int) string {
	switch uid {
	case 0:
		return "ROOT"
	case 2000:
		return "ADB"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uid)
	}
}

// Cleanup removes the broker listener. Safe to call more than once.
func (b *ShizukuBackend) Cleanup() {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()

	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		b.logger.Warn("failed to remove broker listener", zap.Error(err))
	}
}

// brokerEvents adapts raw broker events to backend state and callbacks.
type brokerEvents struct {
	backend *ShizukuBackend
}

func (e *brokerEvents) OnBinderReceived() {
	b := e.backend
	b.logger.Info("broker binder received")

	ctx, cancel := context.WithTimeout(context.Background(), brokerCallTimeout)
	defer cancel()
	granted, err := b.broker.CheckSelfPermission(ctx)
	if err != nil {
		granted = false
	}

	b.mu.Lock()
	b.available = true
	b.binderReceived = true
	b.hasPermission = granted
	b.mu.Unlock()

	if b.callbacks != nil {
		b.callbacks.OnBinderReceived(b)
	}
}

func (e *brokerEvents) OnBinderDead() {
	b := e.backend
	b.logger.Warn("broker binder dead")
	b.mu.Lock()
	b.binderReceived = false
	b.hasPermission = false
	b.mu.Unlock()

	if b.callbacks != nil {
		b.callbacks.OnBinderDead(b)
	}
}

func (e *brokerEvents) OnPermissionResult(requestCode int, granted bool) {
	b := e.backend
	if requestCode != PermissionRequestCode {
		b.logger.Debug("ignoring permission result for foreign request", zap.Int("request_code", requestCode))
		return
	}
	b.logger.Info("broker permission result", zap.Bool("granted", granted))

	b.mu.Lock()
	b.hasPermission = granted
	b.mu.Unlock()

	if b.callbacks != nil {
		b.callbacks.OnPermissionResult(b, granted)
	}
}

// Ensure ShizukuBackend implements domain.Backend.
var _ domain.Backend = (*ShizukuBackend)(nil)
var _ domain.BrokerListener = (*brokerEvents)(nil)
