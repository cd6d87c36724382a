package infra

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessManager_IsRunning(t *testing.T) {
	pm := NewProcessManager()

	assert.True(t, pm.IsRunning(os.Getpid()))
	assert.False(t, pm.IsRunning(0))
	assert.False(t, pm.IsRunning(-5))
	assert.Equal(t, os.Getpid(), pm.GetCurrentPID())
}

func TestProcessManager_KillTree(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	pm := NewProcessManager()

	cmd := exec.Command("sh", "-c", "sleep 30 & sleep 30")
	require.NoError(t, cmd.Start())
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	// Give the shell a moment to fork its children
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, pm.KillTree(cmd.Process.Pid))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process tree still running after KillTree")
	}
}

func TestPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tooied.pid")

	require.NoError(t, WritePIDFile(path, 4242))
	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	require.NoError(t, WriteOwnerOnly(path, []byte("garbage")))
	_, err = ReadPIDFile(path)
	assert.Error(t, err)

	_, err = ReadPIDFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
