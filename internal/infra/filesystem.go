package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteOwnerOnly writes data atomically (temp file + rename) with 0600
// permissions, creating the parent directory with 0700 if needed.
func WriteOwnerOnly(path string, data []byte) error {
	return atomicWrite(path, data, 0600, 0700)
}

// WriteExecutable writes a world-readable executable file atomically.
func WriteExecutable(path string, data []byte) error {
	return atomicWrite(path, data, 0755, 0755)
}

func atomicWrite(path string, data []byte, perm, dirPerm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	// Unique per process so concurrent writers never share a temp file
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return err
	}
	// WriteFile honors umask; force the exact mode
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// ReadTrimmed reads a small text file and trims surrounding whitespace.
func ReadTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// ExpandHome expands a leading ~ to home.
func ExpandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		return home
	}
	return path
}
