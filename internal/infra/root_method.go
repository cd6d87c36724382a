package infra

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/eliteGoblin/tooie/internal/domain"
)

// SuMethod elevates through a su binary.
type SuMethod struct {
	path string
}

// NewSuMethod locates su on $PATH or in the usual system locations.
func NewSuMethod() *SuMethod {
	return &SuMethod{path: lookupBinary("su", "/system/bin/su", "/system/xbin/su", "/sbin/su", "/su/bin/su")}
}

// NewSuMethodWithPath creates a method for an explicit binary (for testing).
func NewSuMethodWithPath(path string) *SuMethod {
	return &SuMethod{path: path}
}

func (m *SuMethod) Name() string {
	return "su"
}

// IsAvailable reports whether a su binary was found.
func (m *SuMethod) IsAvailable() bool {
	return m.path != ""
}

func (m *SuMethod) Argv(shellCommand string) []string {
	return []string{m.path, "-c", shellCommand}
}

// RishMethod elevates through the Shizuku rish shell.
type RishMethod struct {
	path string
}

// NewRishMethod locates rish on $PATH or under $PREFIX/bin.
func NewRishMethod(prefix string) *RishMethod {
	return &RishMethod{path: lookupBinary("rish", filepath.Join(prefix, "bin", "rish"))}
}

// NewRishMethodWithPath creates a method for an explicit binary (for testing).
func NewRishMethodWithPath(path string) *RishMethod {
	return &RishMethod{path: path}
}

func (m *RishMethod) Name() string {
	return "rish"
}

// IsAvailable reports whether a rish binary was found.
func (m *RishMethod) IsAvailable() bool {
	return m.path != ""
}

func (m *RishMethod) Argv(shellCommand string) []string {
	return []string{m.path, "-c", shellCommand}
}

func lookupBinary(name string, fallbacks ...string) string {
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	for _, path := range fallbacks {
		if info, err := os.Stat(path); err == nil && !info.IsDir() && info.Mode()&0111 != 0 {
			return path
		}
	}
	return ""
}

// availability is implemented by methods that can tell whether their binary exists.
type availability interface {
	IsAvailable() bool
}

// RootMethodDetector tries each method in order with a harmless command.
type RootMethodDetector struct {
	runner  domain.CommandRunner
	methods []domain.RootMethod
	logger  *zap.Logger
}

// NewRootMethodDetector creates a detector; methods are tried in the given order.
func NewRootMethodDetector(runner domain.CommandRunner, logger *zap.Logger, methods ...domain.RootMethod) *RootMethodDetector {
	return &RootMethodDetector{runner: runner, methods: methods, logger: logger}
}

// DefaultRootMethods returns su then rish.
func DefaultRootMethods(prefix string) []domain.RootMethod {
	return []domain.RootMethod{NewSuMethod(), NewRishMethod(prefix)}
}

// Detect returns the first method that can run `echo test`, or nil.
func (p *RootMethodDetector) Detect(ctx context.Context) domain.RootMethod {
	check := BuildShellCommand("echo", "test")
	for _, m := range p.methods {
		if a, ok := m.(availability); ok && !a.IsAvailable() {
			p.logger.Debug("root method not installed", zap.String("method", m.Name()))
			continue
		}

		argv := m.Argv(check)
		res, err := p.runner.Run(ctx, argv[0], argv[1:]...)
		if err != nil {
			p.logger.Debug("root method check failed", zap.String("method", m.Name()), zap.Error(err))
			continue
		}
		if res.ExitCode != 0 {
			p.logger.Debug("root method check refused",
				zap.String("method", m.Name()),
				zap.Int("exit_code", res.ExitCode),
				zap.String("stderr", res.Stderr))
			continue
		}
		p.logger.Info("root method available", zap.String("method", m.Name()))
		return m
	}
	return nil
}

// Ensure methods implement domain.RootMethod.
var (
	_ domain.RootMethod = (*SuMethod)(nil)
	_ domain.RootMethod = (*RishMethod)(nil)
)
