package broker

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/eliteGoblin/tooie/internal/domain"
)

// ExecHandler runs commands with the broker process's own identity.
// Started under rish or su, that identity is adb or root.
type ExecHandler struct {
	runner    domain.CommandRunner
	autoGrant bool

	mu      sync.Mutex
	granted bool
	denied  bool
}

// NewExecHandler creates a handler. With autoGrant, permission requests
// are approved immediately; otherwise they are denied and recorded so the
// rationale flag is raised.
func NewExecHandler(runner domain.CommandRunner, autoGrant bool) *ExecHandler {
	return &ExecHandler{runner: runner, autoGrant: autoGrant}
}

func (h *ExecHandler) Version() int { return ProtocolVersion }

func (h *ExecHandler) UID() int { return os.Getuid() }

func (h *ExecHandler) CheckPermission() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.granted
}

func (h *ExecHandler) Rationale() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.denied
}

// Grant sets the permission state directly.
func (h *ExecHandler) Grant(granted bool) {
	h.mu.Lock()
	h.granted = granted
	h.denied = !granted
	h.mu.Unlock()
}

func (h *ExecHandler) RequestPermission(ctx context.Context, requestCode int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.autoGrant {
		h.granted = true
	} else {
		h.denied = true
	}
	return h.granted
}

func (h *ExecHandler) Exec(ctx context.Context, argv []string) Response {
	res, err := h.runner.Run(ctx, argv[0], argv[1:]...)
	if err != nil {
		var be *domain.BackendError
		if errors.As(err, &be) {
			return Failure(be.Error())
		}
		return Failure(err.Error())
	}
	return Response{OK: true, Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}
}

var _ Handler = (*ExecHandler)(nil)
