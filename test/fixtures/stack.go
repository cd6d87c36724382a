package fixtures

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/tooie/internal/broker"
	"github.com/eliteGoblin/tooie/internal/client"
	"github.com/eliteGoblin/tooie/internal/config"
	"github.com/eliteGoblin/tooie/internal/daemon"
	"github.com/eliteGoblin/tooie/internal/gateway"
	"github.com/eliteGoblin/tooie/internal/infra"
	"github.com/eliteGoblin/tooie/internal/notify"
	"github.com/eliteGoblin/tooie/internal/usecase"
)

// Stack is a complete daemon wired the way `tooied serve` wires it, rooted
// in a temporary home directory.
type Stack struct {
	Paths    *infra.Paths
	Config   *config.Config
	Device   *FakeDevice
	Policies *infra.EncryptedPolicyStore
	Exec     *infra.ExecPolicyFile
	Client   *client.Client

	broker *broker.Server
	cancel context.CancelFunc
	done   chan error
}

// StackOptions controls what the stack starts with.
type StackOptions struct {
	// WithBroker starts a broker server backed by Device.
	WithBroker bool
	// Granted is the broker's initial permission state.
	Granted bool
}

// NewStack lays out a temporary home. Call Start to run it.
func NewStack(opts StackOptions) (*Stack, error) {
	// Unix socket paths are length-limited; keep the root short
	root, err := os.MkdirTemp("", "tooie-*")
	if err != nil {
		return nil, err
	}
	paths := infra.NewPaths(filepath.Join(root, "usr"), filepath.Join(root, "home"))
	if err := paths.EnsureDataDir(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(paths.Prefix, "bin"), 0755); err != nil {
		return nil, err
	}

	cfg := config.Default(paths)
	cfg.Backend.PolicyRecheckInterval = 100 * time.Millisecond
	cfg.Backend.RecoveryInterval = 200 * time.Millisecond
	cfg.Broker.PingInterval = 200 * time.Millisecond
	cfg.Broker.Timeout = time.Second
	cfg.Snapshots.PollInterval = 100 * time.Millisecond

	policies, err := infra.OpenPolicyStore(paths)
	if err != nil {
		return nil, err
	}

	s := &Stack{
		Paths:    paths,
		Config:   cfg,
		Device:   NewFakeDevice(opts.Granted),
		Policies: policies,
		Exec:     infra.NewExecPolicyFile(paths.ExecConfig),
		Client:   client.New(infra.NewClientFiles(paths), 5*time.Second),
	}
	if _, err := s.Exec.EnsureDefault(); err != nil {
		return nil, err
	}
	if opts.WithBroker {
		s.broker = broker.NewServer(cfg.Broker.Socket, s.Device, zap.NewNop())
	}
	return s, nil
}

// Start runs the broker (if any) and the supervisor, and waits until the
// gateway has published its endpoint.
func (s *Stack) Start(logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if s.broker != nil {
		if err := s.broker.Start(ctx); err != nil {
			cancel()
			return err
		}
	}

	cfg := s.Config
	runner := infra.NewExecRunner(cfg.Backend.CommandTimeout, infra.NewProcessManager(), logger)
	brokerClient := infra.NewSocketBroker(cfg.Broker.Socket, cfg.Broker.Timeout, logger)
	factory := infra.NewBackendFactory(brokerClient, runner, NoRoot{}, s.Paths.Prefix, logger)
	manager := usecase.NewManager(factory, s.Policies, logger)

	store := notify.NewStore(logger)
	feed := notify.NewFileFeed(cfg.Snapshots.Dir, logger)

	files := infra.NewClientFiles(s.Paths)
	auth := gateway.NewTokenAuthority(infra.GenerateToken, files)
	handlers := gateway.NewHandlers(gateway.Deps{
		Manager:       manager,
		Policies:      s.Policies,
		ExecPolicies:  s.Exec,
		Packages:      infra.NewCommandPackageSource(runner, manager, logger),
		Audio:         infra.NewCommandAudioController(manager),
		Resources:     infra.NewResourceCollector(cfg.Resources.StoragePaths, manager, logger),
		Notifications: store,
		Auth:          auth,
		ExecTimeout:   cfg.Gateway.ExecTimeout,
	}, logger)
	server := gateway.NewServer(cfg.ServerConfig(), handlers, auth, files, logger,
		gateway.NewCLIInstaller(s.Paths.CLIPath, s.Paths.Prefix))

	monitor := daemon.NewBrokerMonitor(daemon.BrokerMonitorConfig{
		PingInterval: cfg.Broker.PingInterval,
		PingTimeout:  cfg.Broker.Timeout,
	}, brokerClient, logger)
	supervisor := daemon.NewSupervisor(daemon.SupervisorConfig{
		PolicyRecheckInterval: cfg.Backend.PolicyRecheckInterval,
		RecoveryInterval:      cfg.Backend.RecoveryInterval,
		SnapshotPollInterval:  cfg.Snapshots.PollInterval,
		PIDFile:               s.Paths.PIDFile,
	}, manager, s.Policies, server, brokerClient, monitor, feed, store, logger)

	s.done = make(chan error, 1)
	go func() {
		s.done <- supervisor.Run(ctx)
		brokerClient.Close()
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(s.Paths.EndpointFile); err == nil {
			return nil
		}
		select {
		case err := <-s.done:
			return fmt.Errorf("supervisor exited early: %w", err)
		case <-time.After(20 * time.Millisecond):
		}
	}
	return fmt.Errorf("gateway did not publish %s", s.Paths.EndpointFile)
}

// StartBroker starts the broker after the daemon is already running.
func (s *Stack) StartBroker() error {
	s.broker = broker.NewServer(s.Config.Broker.Socket, s.Device, zap.NewNop())
	return s.broker.Start(context.Background())
}

// EnableExec turns on the exec endpoint for the default allow-list.
func (s *Stack) EnableExec() error {
	p, err := s.Exec.Load()
	if err != nil {
		return err
	}
	p.ExecEnabled = true
	return s.Exec.Save(p)
}

// WriteSnapshot writes one snapshot file for the feed to pick up.
func (s *Stack) WriteSnapshot(name, content string) error {
	if err := os.MkdirAll(s.Config.Snapshots.Dir, 0700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.Config.Snapshots.Dir, name), []byte(content), 0600)
}

// Stop shuts everything down and removes the temporary home.
func (s *Stack) Stop() {
	if s.cancel != nil {
		s.cancel()
		select {
		case <-s.done:
		case <-time.After(5 * time.Second):
		}
	}
	if s.broker != nil {
		s.broker.Stop()
	}
	_ = s.Policies.Close()
	_ = os.RemoveAll(filepath.Dir(s.Paths.Home))
}
