package pkgmgr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/3cpo-dev/calprov/internal/env"
)

// InstallRequest asks a package manager to install one package silently.
type InstallRequest struct {
	PackageID string
	Timeout   time.Duration
	Snapshot  env.Snapshot
}

// Manager is an OS package manager able to install a package without any
// interactive prompt.
type Manager interface {
	Name() string
	Install(ctx context.Context, req InstallRequest) error
}

// InstallError reports a package manager that ran but exited non-zero.
type InstallError struct {
	Manager   string
	PackageID string
	ExitCode  int
	Output    string
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("%s install %s: exit status %d: %s", e.Manager, e.PackageID, e.ExitCode, lastLine(e.Output))
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
