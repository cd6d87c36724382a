package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/tooie/internal/broker"
	"github.com/eliteGoblin/tooie/internal/infra"
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Privileged IPC broker",
}

var brokerServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the broker socket with this process's identity",
	Long: `Runs the out-of-process broker the daemon's IPC backend talks to.
Start it under rish (adb identity) or su (root) so that commands it
executes carry that identity.`,
	RunE: runBrokerServe,
}

var (
	brokerSocket    string
	brokerAutoGrant bool
)

func init() {
	brokerServeCmd.Flags().StringVar(&brokerSocket, "socket", "", "Socket path (default from config)")
	brokerServeCmd.Flags().BoolVar(&brokerAutoGrant, "auto-grant", false, "Grant permission requests without prompting")
	brokerServeCmd.Flags().BoolVar(&devMode, "dev", false, "Log to stderr with the development encoder")

	brokerCmd.AddCommand(brokerServeCmd)
	rootCmd.AddCommand(brokerCmd)
}

func runBrokerServe(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	socket := brokerSocket
	if socket == "" {
		socket = cfg.Broker.Socket
	}

	logger := createLogger(cfg.Log, devMode).Named("broker")
	defer func() { _ = logger.Sync() }()

	runner := infra.NewExecRunner(cfg.Backend.CommandTimeout, infra.NewProcessManager(), logger)
	server := broker.NewServer(socket, broker.NewExecHandler(runner, brokerAutoGrant), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	logger.Info("broker stopping", zap.String("socket", socket))
	server.Stop()
	return nil
}
