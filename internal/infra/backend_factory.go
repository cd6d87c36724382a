package infra

import (
	"go.uber.org/zap"

	"github.com/eliteGoblin/tooie/internal/domain"
)

// BackendFactory builds the three backend variants over shared plumbing.
// The broker and runner outlive individual backends; the manager replaces
// backends, never the transport.
type BackendFactory struct {
	broker   domain.Broker
	runner   domain.CommandRunner
	detector RootDetector
	logger   *zap.Logger
}

// NewBackendFactory creates a factory. detector may be nil, in which case
// su and rish are looked up under prefix.
func NewBackendFactory(broker domain.Broker, runner domain.CommandRunner, detector RootDetector, prefix string, logger *zap.Logger) *BackendFactory {
	if detector == nil {
		detector = NewRootMethodDetector(runner, logger, DefaultRootMethods(prefix)...)
	}
	return &BackendFactory{broker: broker, runner: runner, detector: detector, logger: logger}
}

func (f *BackendFactory) NewShizuku(callbacks domain.BackendCallbacks) domain.Backend {
	return NewShizukuBackend(f.broker, callbacks, f.logger.Named("shizuku"))
}

func (f *BackendFactory) NewShell() domain.Backend {
	return NewShellBackend(f.runner, f.detector, f.logger.Named("shell"))
}

func (f *BackendFactory) NewNoOp() domain.Backend {
	return NewNoOpBackend()
}
