package choco

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/calprov/internal/execx"
	"github.com/3cpo-dev/calprov/internal/pkgmgr"
)

// Manager installs through Chocolatey, for machines where winget is not
// available (Server SKUs, older builds).
type Manager struct{ runner execx.Runner }

func New(runner execx.Runner) *Manager { return &Manager{runner: runner} }

func (m *Manager) Name() string { return "choco" }

func Args(packageID string) []string {
	return []string{"install", packageID, "--yes", "--no-progress", "--limit-output"}
}

func (m *Manager) Install(ctx context.Context, req pkgmgr.InstallRequest) error {
	bin, err := req.Snapshot.LookPath("choco")
	if err != nil {
		return fmt.Errorf("locate choco: %w", err)
	}
	log.Info().Str("manager", m.Name()).Str("package", req.PackageID).Msg("Installing package")
	res, err := m.runner.Run(ctx, execx.Command{
		Path:    bin,
		Args:    Args(req.PackageID),
		Env:     req.Snapshot.Environ(os.Environ()),
		Timeout: req.Timeout,
	})
	if err != nil {
		return fmt.Errorf("choco install %s: %w", req.PackageID, err)
	}
	if !res.Success() {
		return &pkgmgr.InstallError{Manager: m.Name(), PackageID: req.PackageID, ExitCode: res.ExitCode, Output: res.Output}
	}
	return nil
}
