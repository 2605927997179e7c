package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/calprov/internal/env"
	"github.com/3cpo-dev/calprov/internal/execx"
	"github.com/3cpo-dev/calprov/internal/pkgmgr"
)

// Dependency is one binary to resolve or install.
type Dependency struct {
	Name        string
	Candidates  []string
	Requirement Requirement
	PackageID   string
	// Fallback is the only identifier re-probed after an install.
	Fallback  string
	ManualURL string
}

// DependencyFromConfig builds a Dependency from its profile section.
func DependencyFromConfig(c DependencyConfig) Dependency {
	return Dependency{
		Name:        c.Name,
		Candidates:  append([]string(nil), c.Candidates...),
		Requirement: Requirement{Major: c.Major, MinMinor: c.MinMinor},
		PackageID:   c.PackageID,
		Fallback:    c.Fallback,
		ManualURL:   c.ManualURL,
	}
}

// DependencyInstaller probes for a dependency and, when missing, installs it
// through the package manager and probes again.
type DependencyInstaller struct {
	Prober  *Prober
	Manager pkgmgr.Manager
	Source  env.Source
	Timeout time.Duration
}

// Ensure returns the resolved binding together with the snapshot later steps
// must use. The snapshot changes only when an install happened.
func (d *DependencyInstaller) Ensure(ctx context.Context, snap env.Snapshot, dep Dependency) (Binding, env.Snapshot, error) {
	b, err := d.Prober.Probe(ctx, snap, dep.Candidates, dep.Requirement)
	if err == nil {
		log.Info().
			Str("step", dep.Name).
			Str("candidate", b.Identifier).
			Str("version", b.Version.String()).
			Msg("Dependency resolved")
		return b, snap, nil
	}

	log.Warn().
		Str("step", dep.Name).
		Str("requirement", dep.Requirement.String()).
		Str("package", dep.PackageID).
		Msg("Dependency not found, installing")

	installErr := d.Manager.Install(ctx, pkgmgr.InstallRequest{
		PackageID: dep.PackageID,
		Timeout:   d.Timeout,
		Snapshot:  snap,
	})
	switch {
	case errors.Is(installErr, execx.ErrTimeout):
		return Binding{}, snap, fatal(dep.Name, installErr).
			WithRemediation("Installing %s did not finish within %s. Install it manually and run calprov again.", dep.PackageID, d.Timeout).
			WithURL(dep.ManualURL)
	case ctx.Err() != nil:
		return Binding{}, snap, fatal(dep.Name, ctx.Err()).
			WithRemediation("Provisioning was interrupted while installing %s.", dep.PackageID).
			WithURL(dep.ManualURL)
	case installErr != nil:
		log.Warn().Err(installErr).Str("step", dep.Name).Msg("Installer reported failure, re-probing anyway")
	}

	fresh, err := d.Source.Load()
	if err != nil {
		log.Warn().Err(err).Str("step", dep.Name).Msg("Could not refresh search path, keeping previous snapshot")
		fresh = snap
	}

	b, err = d.Prober.Probe(ctx, fresh, []string{dep.Fallback}, dep.Requirement)
	if err != nil {
		cause := fmt.Errorf("%s still unresolved after install: %w", dep.Name, err)
		if installErr != nil {
			cause = fmt.Errorf("%w (installer: %v)", cause, installErr)
		}
		return Binding{}, fresh, fatal(dep.Name, cause).
			WithRemediation("%s %s could not be installed automatically. Install it manually, then run calprov again.", dep.Name, dep.Requirement).
			WithURL(dep.ManualURL)
	}
	log.Info().
		Str("step", dep.Name).
		Str("candidate", b.Identifier).
		Str("version", b.Version.String()).
		Msg("Dependency installed")
	return b, fresh, nil
}
