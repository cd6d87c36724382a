package infra

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/tooie/internal/domain"
)

// RootDetector finds a working elevation method.
type RootDetector interface {
	Detect(ctx context.Context) domain.RootMethod
}

// ShellBackend runs privileged commands through su or rish.
// The method is detected once in Initialize and cached.
type ShellBackend struct {
	runner   domain.CommandRunner
	detector RootDetector
	logger   *zap.Logger

	mu          sync.RWMutex
	initialized bool
	method      domain.RootMethod
}

// NewShellBackend creates a shell backend.
func NewShellBackend(runner domain.CommandRunner, detector RootDetector, logger *zap.Logger) *ShellBackend {
	return &ShellBackend{runner: runner, detector: detector, logger: logger}
}

func (b *ShellBackend) Type() domain.BackendType {
	return domain.BackendShell
}

// Initialize detects su then rish. Returns true when one of them works.
func (b *ShellBackend) Initialize(ctx context.Context) bool {
	b.mu.RLock()
	if b.initialized {
		found := b.method != nil
		b.mu.RUnlock()
		return found
	}
	b.mu.RUnlock()

	method := b.detector.Detect(ctx)

	b.mu.Lock()
	b.initialized = true
	b.method = method
	b.mu.Unlock()

	if method == nil {
		b.logger.Warn("no root method available")
		return false
	}
	b.logger.Info("shell backend initialized", zap.String("method", method.Name()))
	return true
}

func (b *ShellBackend) IsAvailable() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initialized
}

func (b *ShellBackend) HasPermission() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.method != nil
}

// MethodName returns the cached method name, or "none".
func (b *ShellBackend) MethodName() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.method == nil {
		return "none"
	}
	return b.method.Name()
}

// RequestPermission cannot prompt; it reports whether a method was found.
func (b *ShellBackend) RequestPermission(requestCode int) bool {
	return b.HasPermission()
}

// ExecuteCommand runs command with sh -c, elevated when a method is cached.
func (b *ShellBackend) ExecuteCommand(ctx context.Context, command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", domain.NewBackendError(domain.KindInvalid, "Invalid command", nil)
	}

	b.mu.RLock()
	method := b.method
	b.mu.RUnlock()

	argv := []string{"sh", "-c", command}
	if method != nil {
		argv = method.Argv(BuildShellCommand(argv...))
	}

	b.logger.Debug("executing shell command",
		zap.String("method", b.MethodName()),
		zap.String("command", MaskSensitive(command)))

	res, err := b.runner.Run(ctx, argv[0], argv[1:]...)
	if err != nil {
		b.logger.Warn("shell command failed",
			zap.String("command", MaskSensitive(command)),
			zap.Error(err))
		return "", err
	}
	if res.ExitCode != 0 {
		msg := res.Stderr
		if strings.TrimSpace(msg) == "" {
			msg = fmt.Sprintf("Exit code: %d", res.ExitCode)
		}
		b.logger.Debug("shell command exited non-zero",
			zap.String("command", MaskSensitive(command)),
			zap.Int("exit_code", res.ExitCode))
		return "", &domain.BackendError{Kind: domain.KindExit, Code: res.ExitCode, Message: msg}
	}
	return res.Stdout, nil
}

func (b *ShellBackend) GetInstalledPackages(ctx context.Context) ([]string, error) {
	out, err := b.ExecuteCommand(ctx, "pm list packages")
	if err != nil {
		return nil, err
	}
	return ParsePackageList(out), nil
}

func (b *ShellBackend) InstallPackage(ctx context.Context, apkPath string) (bool, error) {
	return runPackageManager(ctx, b, "pm install -r "+ShellEscape(apkPath))
}

func (b *ShellBackend) UninstallPackage(ctx context.Context, packageName string) (bool, error) {
	return runPackageManager(ctx, b, "pm uninstall "+ShellEscape(packageName))
}

func (b *ShellBackend) SetComponentEnabled(ctx context.Context, packageName, component string, enabled bool) (bool, error) {
	return runPackageManager(ctx, b, componentCommand(packageName, component, enabled))
}

func (b *ShellBackend) IsOperationSupported(op domain.PrivilegedOperation) bool {
	_, known := domain.OperationFromKey(string(op))
	return known
}

func (b *ShellBackend) StatusDescription() string {
	return fmt.Sprintf("Shell backend - Available: %t, HasPermission: %t, Method: %s",
		b.IsAvailable(), b.HasPermission(), b.MethodName())
}

func (b *ShellBackend) Cleanup() {
	b.logger.Debug("shell backend cleanup")
}

// commandExecutor is the slice of Backend the pm helpers need.
type commandExecutor interface {
	ExecuteCommand(ctx context.Context, command string) (string, error)
}

func runPackageManager(ctx context.Context, b commandExecutor, command string) (bool, error) {
	out, err := b.ExecuteCommand(ctx, command)
	if err != nil {
		return false, err
	}
	return isPackageManagerSuccess(out), nil
}

func componentCommand(packageName, component string, enabled bool) string {
	verb := "disable"
	if enabled {
		verb = "enable"
	}
	return fmt.Sprintf("pm %s %s", verb, ShellEscape(packageName+"/"+component))
}

// Ensure ShellBackend implements domain.Backend.
var _ domain.Backend = (*ShellBackend)(nil)
