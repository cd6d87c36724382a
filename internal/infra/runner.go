package infra

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/tooie/internal/domain"
)

// DefaultCommandTimeout bounds every process spawned by ExecRunner.
const DefaultCommandTimeout = 30 * time.Second

// ExecRunner implements domain.CommandRunner with os/exec.
// Each child runs in its own process group; on timeout the whole tree is
// killed before Run returns.
type ExecRunner struct {
	timeout time.Duration
	pm      domain.ProcessManager
	logger  *zap.Logger
}

// NewExecRunner creates a runner. timeout <= 0 uses DefaultCommandTimeout.
func NewExecRunner(timeout time.Duration, pm domain.ProcessManager, logger *zap.Logger) *ExecRunner {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	if pm == nil {
		pm = NewProcessManager()
	}
	return &ExecRunner{timeout: timeout, pm: pm, logger: logger}
}

// Timeout returns the per-process limit.
func (r *ExecRunner) Timeout() time.Duration {
	return r.timeout
}

// Run spawns name with args and waits for it, the timeout, or ctx.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (domain.CommandResult, error) {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdin = nil

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return domain.CommandResult{ExitCode: -1},
			domain.NewBackendError(domain.KindSpawn, err.Error(), err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		result := domain.CommandResult{
			Stdout: NormalizeOutput(stdout.String()),
			Stderr: NormalizeOutput(stderr.String()),
		}
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return domain.CommandResult{ExitCode: -1},
					domain.NewBackendError(domain.KindSpawn, err.Error(), err)
			}
			result.ExitCode = exitErr.ExitCode()
		}
		return result, nil

	case <-timer.C:
		r.kill(cmd, done)
		return domain.CommandResult{ExitCode: -1},
			domain.NewBackendError(domain.KindTimeout, "Command timed out", context.DeadlineExceeded)

	case <-ctx.Done():
		r.kill(cmd, done)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.CommandResult{ExitCode: -1},
				domain.NewBackendError(domain.KindTimeout, "Command timed out", ctx.Err())
		}
		return domain.CommandResult{ExitCode: -1},
			domain.NewBackendError(domain.KindTimeout, "Command cancelled", ctx.Err())
	}
}

func (r *ExecRunner) kill(cmd *exec.Cmd, done <-chan error) {
	pid := cmd.Process.Pid
	if err := r.pm.KillTree(pid); err != nil {
		r.logger.Debug("kill tree failed", zap.Int("pid", pid), zap.Error(err))
	}
	// Anything that escaped the tree walk is still in the process group
	_ = syscall.Kill(-pid, syscall.SIGKILL)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		r.logger.Warn("process did not exit after kill", zap.Int("pid", pid))
	}
}

// NormalizeOutput converts CRLF to LF and drops trailing newlines.
func NormalizeOutput(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimRight(s, "\n")
}

// Ensure ExecRunner implements domain.CommandRunner.
var _ domain.CommandRunner = (*ExecRunner)(nil)
