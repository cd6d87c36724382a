// Package daemon runs the long-lived tooied process: the backend manager,
// the gateway and the background loops that keep them current.
package daemon

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/tooie/internal/domain"
	"github.com/eliteGoblin/tooie/internal/infra"
	"github.com/eliteGoblin/tooie/internal/notify"
	"github.com/eliteGoblin/tooie/internal/policy"
)

// SupervisorConfig holds the background loop intervals.
type SupervisorConfig struct {
	PolicyRecheckInterval time.Duration // How often to compare the selection-relevant policy
	RecoveryInterval      time.Duration // How often to retry the IPC backend while on fallback
	SnapshotPollInterval  time.Duration // How often to reload notification snapshots
	PIDFile               string        // Written on start, removed on shutdown; empty disables
}

// DefaultSupervisorConfig returns default supervisor configuration.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		PolicyRecheckInterval: 5 * time.Second,
		RecoveryInterval:      15 * time.Second,
		SnapshotPollInterval:  2 * time.Second,
	}
}

// Gateway is the API server lifecycle the supervisor drives.
type Gateway interface {
	Start(ctx context.Context) error
	Stop()
	Endpoint() string
}

// Pinger reports broker reachability.
type Pinger interface {
	Ping(ctx context.Context) bool
}

// SnapshotFeed reloads notification snapshots into a store.
type SnapshotFeed interface {
	Refresh(store *notify.Store) (bool, error)
}

// Supervisor owns startup, the background loops and shutdown ordering.
type Supervisor struct {
	config   SupervisorConfig
	manager  domain.BackendManager
	policies domain.PolicyStore
	gateway  Gateway
	broker   Pinger
	monitor  *BrokerMonitor
	feed     SnapshotFeed
	store    *notify.Store
	logger   *zap.Logger

	fingerprint string
}

// NewSupervisor creates a supervisor. broker, monitor and feed may be nil.
func NewSupervisor(
	config SupervisorConfig,
	manager domain.BackendManager,
	policies domain.PolicyStore,
	gateway Gateway,
	broker Pinger,
	monitor *BrokerMonitor,
	feed SnapshotFeed,
	store *notify.Store,
	logger *zap.Logger,
) *Supervisor {
	def := DefaultSupervisorConfig()
	if config.PolicyRecheckInterval <= 0 {
		config.PolicyRecheckInterval = def.PolicyRecheckInterval
	}
	if config.RecoveryInterval <= 0 {
		config.RecoveryInterval = def.RecoveryInterval
	}
	if config.SnapshotPollInterval <= 0 {
		config.SnapshotPollInterval = def.SnapshotPollInterval
	}
	return &Supervisor{
		config:   config,
		manager:  manager,
		policies: policies,
		gateway:  gateway,
		broker:   broker,
		monitor:  monitor,
		feed:     feed,
		store:    store,
		logger:   logger,
	}
}

// Run initializes the manager, starts the gateway and blocks until ctx is
// canceled. Shutdown stops the gateway before cleaning up the manager.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.config.PIDFile != "" {
		if err := infra.WritePIDFile(s.config.PIDFile, os.Getpid()); err != nil {
			s.logger.Error("failed to write pid file", zap.Error(err))
			return err
		}
		defer os.Remove(s.config.PIDFile)
	}

	available := s.manager.Initialize(ctx)
	st := s.manager.Status()
	s.logger.Info("backend initialized",
		zap.String("backend", string(s.manager.BackendType())),
		zap.String("state", string(st.State)),
		zap.String("reason", string(st.Reason)),
		zap.Bool("privileged_available", available))
	s.fingerprint = s.currentFingerprint()

	if err := s.gateway.Start(ctx); err != nil {
		s.logger.Error("failed to start gateway", zap.Error(err))
		s.manager.Cleanup()
		return err
	}
	s.logger.Info("daemon started",
		zap.Int("pid", os.Getpid()),
		zap.String("endpoint", s.gateway.Endpoint()))

	s.refreshSnapshots()

	var wg sync.WaitGroup
	if s.monitor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.monitor.Run(ctx)
		}()
	}

	policyTicker := time.NewTicker(s.config.PolicyRecheckInterval)
	recoveryTicker := time.NewTicker(s.config.RecoveryInterval)
	snapshotTicker := time.NewTicker(s.config.SnapshotPollInterval)

	defer func() {
		policyTicker.Stop()
		recoveryTicker.Stop()
		snapshotTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("daemon stopping")
			s.gateway.Stop()
			s.manager.Cleanup()
			wg.Wait()
			return ctx.Err()

		case <-policyTicker.C:
			s.recheckPolicy(ctx)

		case <-recoveryTicker.C:
			s.recoverIPC(ctx)

		case <-snapshotTicker.C:
			s.refreshSnapshots()
		}
	}
}

// recheckPolicy reselects when a selection-relevant flag changed.
func (s *Supervisor) recheckPolicy(ctx context.Context) {
	fp := s.currentFingerprint()
	if fp == "" || fp == s.fingerprint {
		return
	}
	s.logger.Info("privileged policy changed, reselecting backend",
		zap.String("from", s.fingerprint),
		zap.String("to", fp))
	s.fingerprint = fp

	st := s.manager.ReselectBackend(ctx)
	s.logger.Info("backend reselected",
		zap.String("backend", string(s.manager.BackendType())),
		zap.String("state", string(st.State)))
}

// recoverIPC moves back to the IPC backend once the broker is reachable
// again while policy prefers it.
func (s *Supervisor) recoverIPC(ctx context.Context) {
	if s.broker == nil || s.manager.BackendType() == domain.BackendShizuku {
		return
	}
	p, err := s.policies.Load()
	if err != nil || !p.MasterEnabled || !p.PreferShizuku {
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if !s.broker.Ping(pingCtx) {
		return
	}

	s.logger.Info("broker reachable, retrying IPC backend")
	st := s.manager.ReselectBackend(ctx)
	s.logger.Info("backend reselected",
		zap.String("backend", string(s.manager.BackendType())),
		zap.String("state", string(st.State)))
}

func (s *Supervisor) refreshSnapshots() {
	if s.feed == nil || s.store == nil {
		return
	}
	if _, err := s.feed.Refresh(s.store); err != nil {
		s.logger.Warn("failed to refresh notification snapshots", zap.Error(err))
	}
}

func (s *Supervisor) currentFingerprint() string {
	p, err := s.policies.Load()
	if err != nil {
		s.logger.Warn("failed to load privileged policy", zap.Error(err))
		return ""
	}
	return policy.Fingerprint(p)
}
