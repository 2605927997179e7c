package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/3cpo-dev/calprov/internal/env"
	"github.com/3cpo-dev/calprov/internal/execx"
	"github.com/3cpo-dev/calprov/internal/pkgmgr"
)

func pythonDep(dir string) Dependency {
	return Dependency{
		Name:        "python",
		Candidates:  []string{filepath.Join(dir, "user", exeName("python")), "python3"},
		Requirement: Requirement{Major: 3, MinMinor: 10},
		PackageID:   "Python.Python.3.12",
		Fallback:    "python",
		ManualURL:   "https://www.python.org/downloads/",
	}
}

func TestEnsureAlreadySatisfied(t *testing.T) {
	dir := t.TempDir()
	p := touchExe(t, dir, "python3")
	r := newFakeRunner()
	r.versions[p] = "Python 3.11.9"
	m := &fakeManager{}
	d := &DependencyInstaller{Prober: NewProber(r), Manager: m, Source: env.ProcessSource{}}

	b, _, err := d.Ensure(context.Background(), snapshotOf(dir), pythonDep(dir))
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if b.Identifier != "python3" {
		t.Fatalf("unexpected binding %+v", b)
	}
	if len(m.installs) != 0 {
		t.Fatalf("no install expected, got %v", m.installs)
	}
}

func TestEnsureInstallsAndReprobesFallbackOnly(t *testing.T) {
	dir := t.TempDir()
	installDir := filepath.Join(dir, "installed")
	// an old python3 stays on PATH; only the fallback may be re-probed
	old := touchExe(t, dir, "python3")
	r := newFakeRunner()
	r.versions[old] = "Python 3.8.0"

	var installed string
	m := &fakeManager{onInstall: func(string) {
		installed = touchExe(t, installDir, "python")
		r.versions[installed] = "Python 3.12.7"
	}}
	src := env.SourceFunc(func() (env.Snapshot, error) { return snapshotOf(dir, installDir), nil })
	d := &DependencyInstaller{Prober: NewProber(r), Manager: m, Source: src}

	b, snap, err := d.Ensure(context.Background(), snapshotOf(dir), pythonDep(dir))
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if b.Identifier != "python" || b.Path != installed {
		t.Fatalf("unexpected binding %+v", b)
	}
	if len(snap.Entries()) != 2 {
		t.Fatalf("refreshed snapshot not returned: %v", snap.Entries())
	}
	if fmt.Sprint(m.installs) != "[Python.Python.3.12]" {
		t.Fatalf("unexpected installs %v", m.installs)
	}
	calls := r.commands()
	if last := calls[len(calls)-1]; last.Path != installed {
		t.Fatalf("last probe should hit the fallback, got %s", last.Path)
	}
	if len(calls) != 2 {
		t.Fatalf("expected one probe before and one after install, got %d", len(calls))
	}
}

func TestEnsureInstallerFailureStillReprobes(t *testing.T) {
	dir := t.TempDir()
	r := newFakeRunner()
	m := &fakeManager{
		err: &pkgmgr.InstallError{Manager: "fake", PackageID: "x", ExitCode: 3, Output: "already installed"},
		onInstall: func(string) {
			p := touchExe(t, dir, "python")
			r.versions[p] = "Python 3.12.0"
		},
	}
	src := env.SourceFunc(func() (env.Snapshot, error) { return snapshotOf(dir), nil })
	d := &DependencyInstaller{Prober: NewProber(r), Manager: m, Source: src}
	if _, _, err := d.Ensure(context.Background(), snapshotOf(), pythonDep(dir)); err != nil {
		t.Fatalf("non-zero installer exit must not be fatal when the re-probe succeeds: %v", err)
	}
}

func TestEnsureUnresolvedAfterInstallIsFatal(t *testing.T) {
	dir := t.TempDir()
	m := &fakeManager{err: errors.New("winget not found")}
	d := &DependencyInstaller{Prober: NewProber(newFakeRunner()), Manager: m, Source: env.SourceFunc(func() (env.Snapshot, error) {
		return env.Snapshot{}, errors.New("registry unavailable")
	})}
	_, _, err := d.Ensure(context.Background(), snapshotOf(dir), pythonDep(dir))
	fe, ok := AsFatal(err)
	if !ok {
		t.Fatalf("expected FatalError, got %v", err)
	}
	if fe.URL != "https://www.python.org/downloads/" || fe.Step != "python" {
		t.Fatalf("unexpected fatal %+v", fe)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound in chain: %v", err)
	}
}

func TestEnsureInstallTimeoutIsFatal(t *testing.T) {
	dir := t.TempDir()
	reprobed := false
	m := &fakeManager{err: fmt.Errorf("winget install: %w", execx.ErrTimeout)}
	src := env.SourceFunc(func() (env.Snapshot, error) {
		reprobed = true
		return snapshotOf(dir), nil
	})
	d := &DependencyInstaller{Prober: NewProber(newFakeRunner()), Manager: m, Source: src}
	_, _, err := d.Ensure(context.Background(), snapshotOf(dir), pythonDep(dir))
	if !errors.Is(err, execx.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if _, ok := AsFatal(err); !ok {
		t.Fatalf("timeout must be fatal")
	}
	if reprobed {
		t.Fatalf("no refresh after a timeout")
	}
}
