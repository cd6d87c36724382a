package gateway

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func pipeConn(t *testing.T) net.Conn {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	return server
}

func TestPool_ServesConnections(t *testing.T) {
	var served atomic.Int32
	var wg sync.WaitGroup
	p := NewPool(DefaultPoolConfig(), func(c net.Conn) {
		defer wg.Done()
		served.Add(1)
		c.Close()
	}, zap.NewNop())
	defer p.Stop()

	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.True(t, p.Submit(pipeConn(t)))
	}
	wg.Wait()
	assert.Equal(t, int32(10), served.Load())
	assert.Equal(t, 2, p.Workers())
}

func TestPool_GrowsThenRejects(t *testing.T) {
	release := make(chan struct{})
	p := NewPool(PoolConfig{MinWorkers: 1, MaxWorkers: 2, KeepAlive: time.Minute, QueueSize: 1}, func(c net.Conn) {
		<-release
		c.Close()
	}, zap.NewNop())

	// One core worker busy, one queued, one extra worker, then full.
	require.True(t, p.Submit(pipeConn(t)))
	require.Eventually(t, func() bool { return len(p.queue) == 0 }, time.Second, time.Millisecond)
	require.True(t, p.Submit(pipeConn(t)))
	require.True(t, p.Submit(pipeConn(t)))
	assert.Equal(t, 2, p.Workers())
	assert.False(t, p.Submit(pipeConn(t)))

	close(release)
	p.Stop()
	assert.False(t, p.Submit(pipeConn(t)))
}

func TestPool_ExtraWorkersExpire(t *testing.T) {
	release := make(chan struct{})
	p := NewPool(PoolConfig{MinWorkers: 1, MaxWorkers: 2, KeepAlive: 20 * time.Millisecond, QueueSize: 1}, func(c net.Conn) {
		<-release
		c.Close()
	}, zap.NewNop())
	defer p.Stop()

	require.True(t, p.Submit(pipeConn(t)))
	require.Eventually(t, func() bool { return len(p.queue) == 0 }, time.Second, time.Millisecond)
	require.True(t, p.Submit(pipeConn(t)))
	require.True(t, p.Submit(pipeConn(t)))
	require.Equal(t, 2, p.Workers())

	close(release)
	assert.Eventually(t, func() bool { return p.Workers() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPool_PanicDoesNotKillWorker(t *testing.T) {
	var served atomic.Int32
	p := NewPool(PoolConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4}, func(c net.Conn) {
		if served.Add(1) == 1 {
			panic("boom")
		}
		c.Close()
	}, zap.NewNop())
	defer p.Stop()

	require.True(t, p.Submit(pipeConn(t)))
	require.True(t, p.Submit(pipeConn(t)))
	assert.Eventually(t, func() bool { return served.Load() == 2 }, time.Second, time.Millisecond)
}
