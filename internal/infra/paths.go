// Package infra implements infrastructure concerns (processes, files,
// backends, broker IPC, system readers).
package infra

import (
	"os"
	"path/filepath"
)

// DefaultPrefix is the Termux usr prefix when $PREFIX is unset.
const DefaultPrefix = "/data/data/com.termux/files/usr"

// Paths holds every on-disk location the daemon and its clients use.
type Paths struct {
	Prefix  string // $PREFIX (usr dir)
	Home    string // $HOME
	DataDir string // ~/.tooie, owner-only

	TokenFile    string
	EndpointFile string
	ExecConfig   string // config.json (exec allow-list)
	DaemonConfig string // tooied.yaml
	KeyFile      string // SQLCipher key for the policy database
	PolicyDB     string
	PIDFile      string
	LogFile      string
	ErrorLogFile string
	SnapshotDir  string // notification/media snapshots written by the collector
	BrokerSocket string

	CLIPath string // $PREFIX/bin/tooie
}

// DetectPaths derives paths from $PREFIX and $HOME.
func DetectPaths() *Paths {
	prefix := os.Getenv("PREFIX")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return NewPaths(prefix, home)
}

// NewPaths builds the layout for an explicit prefix and home (used by tests).
func NewPaths(prefix, home string) *Paths {
	dataDir := filepath.Join(home, ".tooie")
	return &Paths{
		Prefix:       prefix,
		Home:         home,
		DataDir:      dataDir,
		TokenFile:    filepath.Join(dataDir, "token"),
		EndpointFile: filepath.Join(dataDir, "endpoint"),
		ExecConfig:   filepath.Join(dataDir, "config.json"),
		DaemonConfig: filepath.Join(dataDir, "tooied.yaml"),
		KeyFile:      filepath.Join(dataDir, ".policy.key"),
		PolicyDB:     filepath.Join(dataDir, "policy.db"),
		PIDFile:      filepath.Join(dataDir, "tooied.pid"),
		LogFile:      filepath.Join(dataDir, "tooied.log"),
		ErrorLogFile: filepath.Join(dataDir, "tooied.error.log"),
		SnapshotDir:  filepath.Join(dataDir, "snapshots"),
		BrokerSocket: filepath.Join(dataDir, "broker.sock"),
		CLIPath:      filepath.Join(prefix, "bin", "tooie"),
	}
}

// EnsureDataDir creates ~/.tooie with 0700 permissions.
func (p *Paths) EnsureDataDir() error {
	if err := os.MkdirAll(p.DataDir, 0700); err != nil {
		return err
	}
	return os.Chmod(p.DataDir, 0700)
}
