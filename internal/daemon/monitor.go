package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BrokerMonitorConfig holds broker monitor configuration.
type BrokerMonitorConfig struct {
	PingInterval time.Duration // How often to ping the broker
	PingTimeout  time.Duration // Bound on a single ping
}

// DefaultBrokerMonitorConfig returns default broker monitor configuration.
func DefaultBrokerMonitorConfig() BrokerMonitorConfig {
	return BrokerMonitorConfig{
		PingInterval: 10 * time.Second,
		PingTimeout:  3 * time.Second,
	}
}

// BrokerMonitor pings the broker on a schedule. The broker client turns
// reachability changes into binder received/dead events for the manager;
// the monitor only drives the pings and logs transitions.
type BrokerMonitor struct {
	config BrokerMonitorConfig
	broker Pinger
	logger *zap.Logger

	alive *bool
}

// NewBrokerMonitor creates a new broker monitor.
func NewBrokerMonitor(config BrokerMonitorConfig, broker Pinger, logger *zap.Logger) *BrokerMonitor {
	def := DefaultBrokerMonitorConfig()
	if config.PingInterval <= 0 {
		config.PingInterval = def.PingInterval
	}
	if config.PingTimeout <= 0 {
		config.PingTimeout = def.PingTimeout
	}
	return &BrokerMonitor{config: config, broker: broker, logger: logger}
}

// Run pings immediately, then on every interval until ctx is canceled.
func (m *BrokerMonitor) Run(ctx context.Context) error {
	m.Check(ctx)

	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("broker monitor stopping")
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check pings once and reports reachability.
func (m *BrokerMonitor) Check(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, m.config.PingTimeout)
	defer cancel()

	alive := m.broker.Ping(pingCtx)
	if m.alive == nil || *m.alive != alive {
		if alive {
			m.logger.Info("broker reachable")
		} else {
			m.logger.Warn("broker unreachable")
		}
	}
	m.alive = &alive
	return alive
}
