// Package config loads the daemon configuration (tooied.yaml).
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/tooie/internal/gateway"
	"github.com/eliteGoblin/tooie/internal/infra"
)

// Config is the top-level daemon configuration. Zero values are filled by
// ApplyDefaults.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Backend   BackendConfig   `yaml:"backend"`
	Broker    BrokerConfig    `yaml:"broker"`
	Snapshots SnapshotConfig  `yaml:"snapshots"`
	Log       LogConfig       `yaml:"log"`
	Resources ResourcesConfig `yaml:"resources"`
}

// GatewayConfig configures the loopback API.
type GatewayConfig struct {
	// Host must be a loopback address.
	Host string `yaml:"host"`
	// Port 0 picks an ephemeral port; the endpoint file tells clients which.
	Port int `yaml:"port"`

	MinWorkers int           `yaml:"min_workers"`
	MaxWorkers int           `yaml:"max_workers"`
	QueueSize  int           `yaml:"queue_size"`
	KeepAlive  time.Duration `yaml:"keep_alive"`

	ClientTimeout time.Duration `yaml:"client_timeout"`
	ExecTimeout   time.Duration `yaml:"exec_timeout"`

	RequestLineBytes int `yaml:"request_line_bytes"`
	HeaderLineBytes  int `yaml:"header_line_bytes"`
	MaxHeaders       int `yaml:"max_headers"`
	MaxBodyBytes     int `yaml:"max_body_bytes"`

	RateWindow time.Duration `yaml:"rate_window"`
	// RateLimits overrides per-route limits, keyed "METHOD:/path".
	RateLimits map[string]int `yaml:"rate_limits"`
}

// BackendConfig configures backend selection and command execution.
type BackendConfig struct {
	CommandTimeout        time.Duration `yaml:"command_timeout"`
	PolicyRecheckInterval time.Duration `yaml:"policy_recheck_interval"`
	RecoveryInterval      time.Duration `yaml:"recovery_interval"`
}

// BrokerConfig configures the out-of-process IPC broker client.
type BrokerConfig struct {
	Socket       string        `yaml:"socket"`
	Timeout      time.Duration `yaml:"timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// SnapshotConfig configures the notification snapshot feed.
type SnapshotConfig struct {
	Dir          string        `yaml:"dir"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// LogConfig configures zap.
type LogConfig struct {
	File      string `yaml:"file"`
	ErrorFile string `yaml:"error_file"`
	Level     string `yaml:"level"`
}

// ResourcesConfig lists filesystems reported by /v1/system/resources.
type ResourcesConfig struct {
	StoragePaths []infra.StoragePath `yaml:"storage_paths"`
}

// Default returns the configuration used when no file exists.
func Default(p *infra.Paths) *Config {
	c := &Config{}
	c.ApplyDefaults(p)
	return c
}

// LoadConfig reads path. A missing file yields defaults.
func LoadConfig(path string, p *infra.Paths) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(p), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.ApplyDefaults(p)
	return &config, nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults(p *infra.Paths) {
	server := gateway.DefaultConfig()
	g := &c.Gateway
	if g.Host == "" {
		g.Host = server.Host
	}
	if g.MinWorkers == 0 {
		g.MinWorkers = server.Pool.MinWorkers
	}
	if g.MaxWorkers == 0 {
		g.MaxWorkers = server.Pool.MaxWorkers
	}
	if g.QueueSize == 0 {
		g.QueueSize = server.Pool.QueueSize
	}
	if g.KeepAlive == 0 {
		g.KeepAlive = server.Pool.KeepAlive
	}
	if g.ClientTimeout == 0 {
		g.ClientTimeout = server.ClientTimeout
	}
	if g.ExecTimeout == 0 {
		g.ExecTimeout = gateway.DefaultExecTimeout
	}
	if g.RequestLineBytes == 0 {
		g.RequestLineBytes = server.Limits.RequestLineBytes
	}
	if g.HeaderLineBytes == 0 {
		g.HeaderLineBytes = server.Limits.HeaderLineBytes
	}
	if g.MaxHeaders == 0 {
		g.MaxHeaders = server.Limits.MaxHeaders
	}
	if g.MaxBodyBytes == 0 {
		g.MaxBodyBytes = server.Limits.MaxBodyBytes
	}
	if g.RateWindow == 0 {
		g.RateWindow = server.RateWindow
	}
	limits := server.RouteLimits
	for route, n := range g.RateLimits {
		limits[route] = n
	}
	g.RateLimits = limits

	if c.Backend.CommandTimeout == 0 {
		c.Backend.CommandTimeout = infra.DefaultCommandTimeout
	}
	if c.Backend.PolicyRecheckInterval == 0 {
		c.Backend.PolicyRecheckInterval = 5 * time.Second
	}
	if c.Backend.RecoveryInterval == 0 {
		c.Backend.RecoveryInterval = 15 * time.Second
	}

	if c.Broker.Socket == "" {
		c.Broker.Socket = p.BrokerSocket
	}
	c.Broker.Socket = infra.ExpandHome(c.Broker.Socket, p.Home)
	if c.Broker.Timeout == 0 {
		c.Broker.Timeout = 5 * time.Second
	}
	if c.Broker.PingInterval == 0 {
		c.Broker.PingInterval = 10 * time.Second
	}

	if c.Snapshots.Dir == "" {
		c.Snapshots.Dir = p.SnapshotDir
	}
	c.Snapshots.Dir = infra.ExpandHome(c.Snapshots.Dir, p.Home)
	if c.Snapshots.PollInterval == 0 {
		c.Snapshots.PollInterval = 2 * time.Second
	}

	if c.Log.File == "" {
		c.Log.File = p.LogFile
	}
	c.Log.File = infra.ExpandHome(c.Log.File, p.Home)
	if c.Log.ErrorFile == "" {
		c.Log.ErrorFile = p.ErrorLogFile
	}
	c.Log.ErrorFile = infra.ExpandHome(c.Log.ErrorFile, p.Home)
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if len(c.Resources.StoragePaths) == 0 {
		c.Resources.StoragePaths = infra.DefaultStoragePaths(p)
	}
	for i := range c.Resources.StoragePaths {
		c.Resources.StoragePaths[i].Path = infra.ExpandHome(c.Resources.StoragePaths[i].Path, p.Home)
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	g := c.Gateway
	if !isLoopback(g.Host) {
		return fmt.Errorf("gateway.host %q must be a loopback address", g.Host)
	}
	if g.Port < 0 || g.Port > 65535 {
		return fmt.Errorf("gateway.port %d out of range", g.Port)
	}
	if g.MinWorkers < 1 {
		return fmt.Errorf("gateway.min_workers must be at least 1")
	}
	if g.MaxWorkers < g.MinWorkers {
		return fmt.Errorf("gateway.max_workers (%d) must be >= min_workers (%d)", g.MaxWorkers, g.MinWorkers)
	}
	if g.QueueSize < 1 {
		return fmt.Errorf("gateway.queue_size must be at least 1")
	}
	for name, v := range map[string]int{
		"request_line_bytes": g.RequestLineBytes,
		"header_line_bytes":  g.HeaderLineBytes,
		"max_headers":        g.MaxHeaders,
		"max_body_bytes":     g.MaxBodyBytes,
	} {
		if v <= 0 {
			return fmt.Errorf("gateway.%s must be positive", name)
		}
	}
	for route, n := range g.RateLimits {
		if !strings.Contains(route, ":/") {
			return fmt.Errorf("gateway.rate_limits: route %q must look like METHOD:/path", route)
		}
		if n < 1 {
			return fmt.Errorf("gateway.rate_limits: route %q limit must be at least 1", route)
		}
	}

	for name, d := range map[string]time.Duration{
		"gateway.keep_alive":              g.KeepAlive,
		"gateway.client_timeout":          g.ClientTimeout,
		"gateway.exec_timeout":            g.ExecTimeout,
		"gateway.rate_window":             g.RateWindow,
		"backend.command_timeout":         c.Backend.CommandTimeout,
		"backend.policy_recheck_interval": c.Backend.PolicyRecheckInterval,
		"backend.recovery_interval":       c.Backend.RecoveryInterval,
		"broker.timeout":                  c.Broker.Timeout,
		"broker.ping_interval":            c.Broker.PingInterval,
		"snapshots.poll_interval":         c.Snapshots.PollInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.Broker.Socket == "" {
		return fmt.Errorf("broker.socket is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q (supported: debug, info, warn, error)", c.Log.Level)
	}
	return nil
}

// ServerConfig converts the gateway section into the server's Config.
func (c *Config) ServerConfig() gateway.Config {
	g := c.Gateway
	limits := make(map[string]int, len(g.RateLimits))
	for route, n := range g.RateLimits {
		limits[route] = n
	}
	return gateway.Config{
		Host:          g.Host,
		Port:          g.Port,
		ClientTimeout: g.ClientTimeout,
		Limits: gateway.Limits{
			RequestLineBytes: g.RequestLineBytes,
			HeaderLineBytes:  g.HeaderLineBytes,
			MaxHeaders:       g.MaxHeaders,
			MaxBodyBytes:     g.MaxBodyBytes,
		},
		Pool: gateway.PoolConfig{
			MinWorkers: g.MinWorkers,
			MaxWorkers: g.MaxWorkers,
			KeepAlive:  g.KeepAlive,
			QueueSize:  g.QueueSize,
		},
		RouteLimits: limits,
		RateWindow:  g.RateWindow,
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
