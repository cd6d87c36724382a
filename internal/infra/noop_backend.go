package infra

import (
	"context"

	"github.com/eliteGoblin/tooie/internal/domain"
)

// NoOpBackend is installed when nothing privileged is usable.
// Every operation fails with ErrBackendUnavailable.
type NoOpBackend struct{}

// NewNoOpBackend creates a NoOpBackend.
func NewNoOpBackend() *NoOpBackend {
	return &NoOpBackend{}
}

func unavailable() *domain.BackendError {
	return domain.NewBackendError(domain.KindUnavailable, "No privileged backend available", domain.ErrBackendUnavailable)
}

func (b *NoOpBackend) Type() domain.BackendType                                { return domain.BackendNone }
func (b *NoOpBackend) Initialize(ctx context.Context) bool                     { return false }
func (b *NoOpBackend) IsAvailable() bool                                       { return false }
func (b *NoOpBackend) HasPermission() bool                                     { return false }
func (b *NoOpBackend) RequestPermission(requestCode int) bool                  { return false }
func (b *NoOpBackend) IsOperationSupported(op domain.PrivilegedOperation) bool { return false }
func (b *NoOpBackend) StatusDescription() string                               { return "No privileged backend available" }
func (b *NoOpBackend) Cleanup()                                                {}

func (b *NoOpBackend) ExecuteCommand(ctx context.Context, command string) (string, error) {
	return "", unavailable()
}

func (b *NoOpBackend) GetInstalledPackages(ctx context.Context) ([]string, error) {
	return nil, unavailable()
}

func (b *NoOpBackend) InstallPackage(ctx context.Context, apkPath string) (bool, error) {
	return false, unavailable()
}

func (b *NoOpBackend) UninstallPackage(ctx context.Context, packageName string) (bool, error) {
	return false, unavailable()
}

func (b *NoOpBackend) SetComponentEnabled(ctx context.Context, packageName, component string, enabled bool) (bool, error) {
	return false, unavailable()
}

// Ensure NoOpBackend implements domain.Backend.
var _ domain.Backend = (*NoOpBackend)(nil)
