package winget

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/calprov/internal/execx"
	"github.com/3cpo-dev/calprov/internal/pkgmgr"
)

type Manager struct{ runner execx.Runner }

func New(runner execx.Runner) *Manager { return &Manager{runner: runner} }

func (m *Manager) Name() string { return "winget" }

// Args builds a machine-scope, fully silent install invocation.
func Args(packageID string) []string {
	return []string{
		"install",
		"--id", packageID,
		"--exact",
		"--silent",
		"--scope", "machine",
		"--accept-package-agreements",
		"--accept-source-agreements",
		"--disable-interactivity",
	}
}

func (m *Manager) Install(ctx context.Context, req pkgmgr.InstallRequest) error {
	bin, err := req.Snapshot.LookPath("winget")
	if err != nil {
		return fmt.Errorf("locate winget: %w", err)
	}
	log.Info().Str("manager", m.Name()).Str("package", req.PackageID).Msg("Installing package")
	res, err := m.runner.Run(ctx, execx.Command{
		Path:    bin,
		Args:    Args(req.PackageID),
		Env:     req.Snapshot.Environ(os.Environ()),
		Timeout: req.Timeout,
	})
	if err != nil {
		return fmt.Errorf("winget install %s: %w", req.PackageID, err)
	}
	if !res.Success() {
		return &pkgmgr.InstallError{Manager: m.Name(), PackageID: req.PackageID, ExitCode: res.ExitCode, Output: res.Output}
	}
	return nil
}
