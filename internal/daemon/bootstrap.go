package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/eliteGoblin/tooie/internal/domain"
	"github.com/eliteGoblin/tooie/internal/infra"
)

// ErrAlreadyRunning is returned when the pid file names a live process.
var ErrAlreadyRunning = errors.New("daemon already running")

// ErrNotRunning is returned by StopDaemon when no daemon is alive.
var ErrNotRunning = errors.New("daemon not running")

// StartDetached spawns `<executable> serve <args...>` in a new session.
// The child is fully detached: no stdio, no controlling terminal.
func StartDetached(executable string, args ...string) (int, error) {
	if executable == "" {
		var err error
		executable, err = os.Executable()
		if err != nil {
			return 0, fmt.Errorf("failed to resolve executable: %w", err)
		}
	}

	cmd := exec.Command(executable, append([]string{"serve"}, args...)...)

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}

	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon: %w", err)
	}
	pid := cmd.Process.Pid
	// The child outlives this process.
	_ = cmd.Process.Release()
	return pid, nil
}

// RunningPID returns the pid recorded in pidFile if that process is alive.
func RunningPID(pidFile string, pm domain.ProcessManager) (int, bool) {
	pid, err := infra.ReadPIDFile(pidFile)
	if err != nil {
		return 0, false
	}
	return pid, pm.IsRunning(pid)
}

// EnsureNotRunning fails with ErrAlreadyRunning when a live daemon owns
// pidFile. A stale pid file is removed.
func EnsureNotRunning(pidFile string, pm domain.ProcessManager) error {
	pid, running := RunningPID(pidFile, pm)
	if running {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}
	if pid != 0 {
		_ = os.Remove(pidFile)
	}
	return nil
}

// StopDaemon sends SIGTERM to the daemon in pidFile and waits up to
// timeout for it to exit.
func StopDaemon(pidFile string, pm domain.ProcessManager, timeout time.Duration) (int, error) {
	pid, running := RunningPID(pidFile, pm)
	if !running {
		return 0, ErrNotRunning
	}
	if err := pm.Terminate(pid); err != nil {
		return pid, fmt.Errorf("failed to signal daemon %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !pm.IsRunning(pid) {
			return pid, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return pid, fmt.Errorf("daemon %d did not exit within %s", pid, timeout)
}
