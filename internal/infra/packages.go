package infra

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/tooie/internal/domain"
)

// CommandPackageSource implements domain.PackageSource with the package
// manager CLI. It asks the unprivileged shell first and falls back to the
// privileged executor when that yields nothing.
type CommandPackageSource struct {
	runner     domain.CommandRunner
	privileged commandExecutor
	logger     *zap.Logger
}

// NewCommandPackageSource creates a package source. privileged may be nil.
func NewCommandPackageSource(runner domain.CommandRunner, privileged commandExecutor, logger *zap.Logger) *CommandPackageSource {
	return &CommandPackageSource{runner: runner, privileged: privileged, logger: logger}
}

// ListApps returns installed packages sorted by name. The CLI exposes no
// labels, so Label is the package name.
func (s *CommandPackageSource) ListApps(ctx context.Context) ([]domain.AppInfo, error) {
	all, err := s.list(ctx, "cmd package list packages")
	if err != nil {
		return nil, err
	}
	system, err := s.list(ctx, "cmd package list packages -s")
	if err != nil {
		s.logger.Debug("system package list unavailable", zap.Error(err))
	}
	systemSet := make(map[string]bool, len(system))
	for _, p := range system {
		systemSet[p] = true
	}

	apps := make([]domain.AppInfo, 0, len(all))
	for _, p := range all {
		apps = append(apps, domain.AppInfo{PackageName: p, Label: p, SystemApp: systemSet[p]})
	}
	sort.Slice(apps, func(i, j int) bool {
		return strings.ToLower(apps[i].Label) < strings.ToLower(apps[j].Label)
	})
	return apps, nil
}

func (s *CommandPackageSource) list(ctx context.Context, command string) ([]string, error) {
	res, err := s.runner.Run(ctx, "sh", "-c", command)
	if err == nil && res.ExitCode == 0 {
		if pkgs := ParsePackageList(res.Stdout); len(pkgs) > 0 {
			return pkgs, nil
		}
	}
	if s.privileged == nil {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("package list failed (exit %d): %s", res.ExitCode, res.Stderr)
	}

	out, perr := s.privileged.ExecuteCommand(ctx, strings.Replace(command, "cmd package", "pm", 1))
	if perr != nil {
		return nil, fmt.Errorf("failed to list packages: %w", perr)
	}
	return ParsePackageList(out), nil
}

// Ensure CommandPackageSource implements domain.PackageSource.
var _ domain.PackageSource = (*CommandPackageSource)(nil)
