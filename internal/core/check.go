package core

import (
	"context"
	"os"

	"github.com/3cpo-dev/calprov/internal/env"
)

// Finding is the probe result for one dependency.
type Finding struct {
	Name        string
	Requirement Requirement
	Binding     Binding
	Err         error
}

// CheckReport describes the machine without changing it.
type CheckReport struct {
	Runtime  Finding
	Tool     Finding
	Asset    bool
	Manifest bool
	Config   bool
	Launcher bool
}

// Ready reports whether provisioning would need no installs.
func (c CheckReport) Ready() bool {
	return c.Runtime.Err == nil && c.Tool.Err == nil && c.Manifest
}

// Inspect probes both dependencies and stats the artifacts. It never
// installs, downloads, prompts or writes.
func Inspect(ctx context.Context, p Profile, paths Paths, snap env.Snapshot, prober *Prober) CheckReport {
	find := func(c DependencyConfig) Finding {
		d := DependencyFromConfig(c)
		b, err := prober.Probe(ctx, snap, d.Candidates, d.Requirement)
		return Finding{Name: d.Name, Requirement: d.Requirement, Binding: b, Err: err}
	}
	return CheckReport{
		Runtime:  find(p.Runtime),
		Tool:     find(p.Tool),
		Asset:    exists(p.Asset.Dest),
		Manifest: exists(paths.Manifest),
		Config:   exists(paths.Config),
		Launcher: exists(paths.Launcher),
	}
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
