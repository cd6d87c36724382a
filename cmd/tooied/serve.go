package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/tooie/internal/client"
	"github.com/eliteGoblin/tooie/internal/daemon"
	"github.com/eliteGoblin/tooie/internal/gateway"
	"github.com/eliteGoblin/tooie/internal/infra"
	"github.com/eliteGoblin/tooie/internal/notify"
	"github.com/eliteGoblin/tooie/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon in the foreground",
	Long: `Initializes the privileged backend, starts the loopback API on an
ephemeral port, writes the token and endpoint files, installs the 'tooie'
wrapper and runs until SIGINT/SIGTERM.`,
	RunE: runServe,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background daemon",
	RunE:  runStop,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and backend status",
	RunE:  runStatus,
}

var installCLICmd = &cobra.Command{
	Use:   "install-cli",
	Short: "Install or refresh the 'tooie' shell wrapper",
	RunE:  runInstallCLI,
}

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Log to stderr with the development encoder")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(installCLICmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	paths, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := paths.EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	logger := createLogger(cfg.Log, devMode)
	defer func() { _ = logger.Sync() }()

	pm := infra.NewProcessManager()
	if err := daemon.EnsureNotRunning(paths.PIDFile, pm); err != nil {
		return err
	}

	// Storage
	policies, err := infra.OpenPolicyStore(paths)
	if err != nil {
		logger.Error("failed to open policy store", zap.Error(err))
		return err
	}
	defer policies.Close()

	execPolicies := infra.NewExecPolicyFile(paths.ExecConfig)
	if created, err := execPolicies.EnsureDefault(); err != nil {
		logger.Warn("failed to create default exec policy", zap.Error(err))
	} else if created {
		logger.Info("created default exec policy", zap.String("path", execPolicies.Path()))
	}

	// Backends
	runner := infra.NewExecRunner(cfg.Backend.CommandTimeout, pm, logger.Named("runner"))
	brokerClient := infra.NewSocketBroker(cfg.Broker.Socket, cfg.Broker.Timeout, logger.Named("broker"))
	defer brokerClient.Close()

	factory := infra.NewBackendFactory(brokerClient, runner, nil, paths.Prefix, logger)
	manager := usecase.NewManager(factory, policies, logger.Named("manager"))

	// Snapshots
	store := notify.NewStore(logger.Named("notify"))
	feed := notify.NewFileFeed(cfg.Snapshots.Dir, logger.Named("notify"))

	// Gateway
	files := infra.NewClientFiles(paths)
	auth := gateway.NewTokenAuthority(infra.GenerateToken, files)
	handlers := gateway.NewHandlers(gateway.Deps{
		Manager:       manager,
		Policies:      policies,
		ExecPolicies:  execPolicies,
		Packages:      infra.NewCommandPackageSource(runner, manager, logger.Named("packages")),
		Audio:         infra.NewCommandAudioController(manager),
		Resources:     infra.NewResourceCollector(cfg.Resources.StoragePaths, manager, logger.Named("resources")),
		Notifications: store,
		Auth:          auth,
		ExecTimeout:   cfg.Gateway.ExecTimeout,
	}, logger.Named("gateway"))
	server := gateway.NewServer(cfg.ServerConfig(), handlers, auth, files, logger.Named("gateway"),
		gateway.NewCLIInstaller(paths.CLIPath, paths.Prefix))

	monitor := daemon.NewBrokerMonitor(daemon.BrokerMonitorConfig{
		PingInterval: cfg.Broker.PingInterval,
		PingTimeout:  cfg.Broker.Timeout,
	}, brokerClient, logger.Named("monitor"))

	supervisor := daemon.NewSupervisor(daemon.SupervisorConfig{
		PolicyRecheckInterval: cfg.Backend.PolicyRecheckInterval,
		RecoveryInterval:      cfg.Backend.RecoveryInterval,
		SnapshotPollInterval:  cfg.Snapshots.PollInterval,
		PIDFile:               paths.PIDFile,
	}, manager, policies, server, brokerClient, monitor, feed, store, logger.Named("supervisor"))

	// Set up graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := supervisor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("daemon exited")
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	paths, _, err := loadConfig()
	if err != nil {
		return err
	}
	pm := infra.NewProcessManager()
	if err := daemon.EnsureNotRunning(paths.PIDFile, pm); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			fmt.Println("tooied is already running")
			return nil
		}
		return err
	}

	var extra []string
	if configPath != "" {
		extra = append(extra, "--config", configPath)
	}
	pid, err := daemon.StartDetached("", extra...)
	if err != nil {
		return err
	}

	// Wait a moment for the gateway to publish its endpoint
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, running := daemon.RunningPID(paths.PIDFile, pm); running {
			fmt.Printf("tooied started (pid %d)\n", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("tooied (pid %d) did not come up; see %s", pid, paths.ErrorLogFile)
}

func runStop(cmd *cobra.Command, args []string) error {
	paths := infra.DetectPaths()
	pid, err := daemon.StopDaemon(paths.PIDFile, infra.NewProcessManager(), 10*time.Second)
	if errors.Is(err, daemon.ErrNotRunning) {
		fmt.Println("tooied is not running")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("tooied stopped (pid %d)\n", pid)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	paths := infra.DetectPaths()
	pid, running := daemon.RunningPID(paths.PIDFile, infra.NewProcessManager())

	fmt.Println("\n=== tooied Status ===")
	if !running {
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'tooied start' to start the daemon.")
		return nil
	}
	fmt.Printf("Status: RUNNING (pid %d)\n", pid)

	c := client.New(infra.NewClientFiles(paths), 0)
	resp, err := c.Status(cmd.Context())
	if err != nil {
		fmt.Printf("Gateway: unreachable (%v)\n", err)
		return nil
	}
	fmt.Printf("Gateway: HTTP %d\n", resp.Status)
	fmt.Fprintln(os.Stdout, string(resp.Body))
	fmt.Println("=====================")
	return nil
}

func runInstallCLI(cmd *cobra.Command, args []string) error {
	paths := infra.DetectPaths()
	installer := gateway.NewCLIInstaller(paths.CLIPath, paths.Prefix)

	if installer.IsInstalled() && !installer.NeedsUpdate() {
		fmt.Printf("%s is up to date\n", installer.Path())
		return nil
	}
	if err := installer.Install(); err != nil {
		return err
	}
	fmt.Printf("Installed %s\n", installer.Path())
	return nil
}
