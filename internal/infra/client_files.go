package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// ClientFiles manages the token and endpoint files that CLI clients read.
// Both are written owner-only and replaced atomically.
type ClientFiles struct {
	tokenPath    string
	endpointPath string
}

// NewClientFiles creates ClientFiles using the paths from p.
func NewClientFiles(p *Paths) *ClientFiles {
	return &ClientFiles{
		tokenPath:    p.TokenFile,
		endpointPath: p.EndpointFile,
	}
}

// NewClientFilesWithPaths creates ClientFiles at explicit paths (for testing).
func NewClientFilesWithPaths(tokenPath, endpointPath string) *ClientFiles {
	return &ClientFiles{tokenPath: tokenPath, endpointPath: endpointPath}
}

// EndpointURL renders the loopback URL for port.
func EndpointURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

// Write persists the token and the endpoint for port.
func (c *ClientFiles) Write(token string, port int) error {
	unlock, err := c.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if err := WriteOwnerOnly(c.tokenPath, []byte(token+"\n")); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := WriteOwnerOnly(c.endpointPath, []byte(EndpointURL(port)+"\n")); err != nil {
		return fmt.Errorf("failed to write endpoint file: %w", err)
	}
	return nil
}

// WriteToken replaces only the token file.
func (c *ClientFiles) WriteToken(token string) error {
	unlock, err := c.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if err := WriteOwnerOnly(c.tokenPath, []byte(token+"\n")); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// ReadToken returns the persisted token.
func (c *ClientFiles) ReadToken() (string, error) {
	token, err := ReadTrimmed(c.tokenPath)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	if token == "" {
		return "", errors.New("token file is empty")
	}
	return token, nil
}

// ReadEndpoint returns the persisted endpoint URL without a trailing slash.
func (c *ClientFiles) ReadEndpoint() (string, error) {
	endpoint, err := ReadTrimmed(c.endpointPath)
	if err != nil {
		return "", fmt.Errorf("failed to read endpoint file: %w", err)
	}
	if endpoint == "" {
		return "", errors.New("endpoint file is empty")
	}
	return strings.TrimRight(endpoint, "/"), nil
}

// Clear removes both files. Missing files are not an error.
func (c *ClientFiles) Clear() error {
	for _, path := range []string{c.tokenPath, c.endpointPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// TokenPath returns the token file path.
func (c *ClientFiles) TokenPath() string {
	return c.tokenPath
}

// EndpointPath returns the endpoint file path.
func (c *ClientFiles) EndpointPath() string {
	return c.endpointPath
}

// lock serializes writers (daemon start vs. token rotation from another process).
func (c *ClientFiles) lock() (func(), error) {
	lockPath := c.tokenPath + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return func() {
		_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
		lockFile.Close()
	}, nil
}
