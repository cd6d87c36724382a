package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestDefaultBrokerMonitorConfig(t *testing.T) {
	config := DefaultBrokerMonitorConfig()

	assert.Equal(t, 10*time.Second, config.PingInterval)
	assert.Equal(t, 3*time.Second, config.PingTimeout)
}

func TestBrokerMonitor_LogsTransitionsOnce(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	broker := &fakePinger{}
	m := NewBrokerMonitor(BrokerMonitorConfig{}, broker, zap.New(core))
	ctx := context.Background()

	assert.False(t, m.Check(ctx))
	assert.False(t, m.Check(ctx))
	broker.set(true)
	assert.True(t, m.Check(ctx))
	assert.True(t, m.Check(ctx))
	broker.set(false)
	assert.False(t, m.Check(ctx))

	var messages []string
	for _, entry := range logs.All() {
		messages = append(messages, entry.Message)
	}
	assert.Equal(t, []string{"broker unreachable", "broker reachable", "broker unreachable"}, messages)
	assert.Equal(t, 5, broker.count())
}

func TestBrokerMonitor_RunStopsOnCancel(t *testing.T) {
	broker := &fakePinger{alive: true}
	m := NewBrokerMonitor(BrokerMonitorConfig{PingInterval: 5 * time.Millisecond}, broker, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	assert.Eventually(t, func() bool { return broker.count() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
