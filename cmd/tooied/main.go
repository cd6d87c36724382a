// Package main is the CLI entry point for tooied.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/tooie/internal/config"
	"github.com/eliteGoblin/tooie/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tooied",
	Short: "Privileged backend daemon with a local authenticated API",
	Long: `tooied selects the best available privileged backend (IPC broker,
su/rish shell, or none) and exposes device control over a loopback HTTP API
protected by a bearer token.

Clients read ~/.tooie/token and ~/.tooie/endpoint; the installed 'tooie'
wrapper does this for you.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath string
	devMode    bool
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Daemon config file (default ~/.tooie/tooied.yaml)")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig resolves paths and reads the daemon config.
func loadConfig() (*infra.Paths, *config.Config, error) {
	paths := infra.DetectPaths()
	path := configPath
	if path == "" {
		path = paths.DaemonConfig
	}
	cfg, err := config.LoadConfig(path, paths)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return paths, cfg, nil
}

func createLogger(cfg config.LogConfig, dev bool) *zap.Logger {
	if dev {
		logger, _ := zap.NewDevelopment()
		return logger
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.OutputPaths = []string{cfg.File}
	zapConfig.ErrorOutputPaths = []string{cfg.ErrorFile}
	zapConfig.EncoderConfig.TimeKey = "time"
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if level, err := zap.ParseAtomicLevel(cfg.Level); err == nil {
		zapConfig.Level = level
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// Fallback to stdout if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("tooied %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
