package core

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/calprov/internal/env"
	"github.com/3cpo-dev/calprov/internal/execx"
	"github.com/3cpo-dev/calprov/internal/pkgmgr"
	"github.com/3cpo-dev/calprov/internal/telemetry"
	"github.com/3cpo-dev/calprov/pkg/api"
)

// Journal records run progress. Its failures are logged and never abort a run.
type Journal interface {
	BeginRun(ctx context.Context, appDir string) (string, error)
	RecordStep(ctx context.Context, runID string, state api.State, detail string) error
	FinishRun(ctx context.Context, sum api.RunSummary, runErr error) error
}

// Options are the collaborators a run talks to.
type Options struct {
	Runner      execx.Runner
	Manager     pkgmgr.Manager
	Source      env.Source
	Secrets     SecretSource
	Downloaders map[string]Downloader
	Journal     Journal
	Telemetry   *telemetry.Collector
	Dialect     Dialect
}

// Orchestrator drives one provisioning run through the state machine in
// api.Order. Steps run strictly one after another.
type Orchestrator struct {
	Profile   Profile
	Paths     Paths
	Snapshot  env.Snapshot
	Installer *DependencyInstaller
	Assets    *AssetFetcher
	Packages  *PackageSync
	Config    *ConfigWriter
	Launcher  *LaunchScriptGenerator
	Journal   Journal
	Telemetry *telemetry.Collector
}

func NewOrchestrator(p Profile, appDir string, snap env.Snapshot, o Options) *Orchestrator {
	paths := p.Paths(appDir)
	timeout := p.PackageManager.InstallTimeout
	return &Orchestrator{
		Profile:  p,
		Paths:    paths,
		Snapshot: snap,
		Installer: &DependencyInstaller{
			Prober:  NewProber(o.Runner),
			Manager: o.Manager,
			Source:  o.Source,
			Timeout: timeout,
		},
		Assets:    &AssetFetcher{Downloaders: o.Downloaders, SHA256: p.Asset.SHA256},
		Packages:  &PackageSync{Runner: o.Runner, Timeout: timeout},
		Config:    &ConfigWriter{Secrets: o.Secrets},
		Launcher:  &LaunchScriptGenerator{Dialect: o.Dialect, DataDir: paths.DataDir},
		Journal:   o.Journal,
		Telemetry: o.Telemetry,
	}
}

// Report is the outcome of Run.
type Report struct {
	api.RunSummary
	Runtime       Binding
	Tool          Binding
	AssetErr      error
	ConfigWritten bool
	Err           error
}

// ExitCode maps the final state to the process exit status.
func (r Report) ExitCode() int {
	if r.State == api.StateDone {
		return api.ExitDone
	}
	return api.ExitAborted
}

// Run executes every step and never panics on a failed step: the first
// fatal error moves the run to StateAborted and is returned in Report.Err.
func (o *Orchestrator) Run(ctx context.Context) Report {
	rep := Report{RunSummary: api.RunSummary{
		AppDir:    o.Paths.AppDir,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}}
	if o.Journal != nil {
		id, err := o.Journal.BeginRun(ctx, o.Paths.AppDir)
		if err != nil {
			log.Warn().Err(err).Msg("Journal unavailable, run will not be recorded")
			o.Journal = nil
		}
		rep.ID = id
	}
	o.advance(ctx, &rep, api.StateRuntimeUnresolved, "")

	if err := o.run(ctx, &rep); err != nil {
		fe, ok := AsFatal(err)
		if !ok {
			fe = fatal(string(rep.State), err)
		}
		rep.Err = fe
		rep.Error = fe.Error()
		o.advance(ctx, &rep, api.StateAborted, fe.Error())
	}
	o.finish(ctx, &rep)
	return rep
}

func (o *Orchestrator) run(ctx context.Context, rep *Report) error {
	snap := o.Snapshot
	var err error

	err = o.timed("runtime", func() error {
		rep.Runtime, snap, err = o.Installer.Ensure(ctx, snap, DependencyFromConfig(o.Profile.Runtime))
		return err
	})
	if err != nil {
		return err
	}
	rep.RuntimePath = rep.Runtime.Path
	o.advance(ctx, rep, api.StateRuntimeResolved, rep.Runtime.Path+" "+rep.Runtime.Version.String())
	o.advance(ctx, rep, api.StateToolUnresolved, "")

	err = o.timed("tool", func() error {
		rep.Tool, snap, err = o.Installer.Ensure(ctx, snap, DependencyFromConfig(o.Profile.Tool))
		return err
	})
	if err != nil {
		return err
	}
	rep.ToolPath = rep.Tool.Path
	o.advance(ctx, rep, api.StateToolResolved, rep.Tool.Path+" "+rep.Tool.Version.String())

	_ = o.timed("asset", func() error {
		rep.Asset, rep.AssetErr = o.ensureAsset(ctx, rep.Tool)
		return nil
	})
	detail := string(rep.Asset)
	if rep.AssetErr != nil {
		detail += ": " + rep.AssetErr.Error()
	}
	o.advance(ctx, rep, api.StateAssetChecked, detail)

	err = o.timed("packages", func() error {
		return o.Packages.Sync(ctx, snap, rep.Runtime, o.Paths.Manifest)
	})
	if err != nil {
		return err
	}
	o.advance(ctx, rep, api.StatePackagesSynced, o.Paths.Manifest)

	err = o.timed("config", func() error {
		rep.ConfigWritten, err = o.Config.Ensure(ctx, o.Paths.Config, o.Profile.Secret.Default, rep.Tool.Path)
		return err
	})
	if err != nil {
		return err
	}
	o.advance(ctx, rep, api.StateConfigReady, o.Paths.Config)

	err = o.timed("launcher", func() error {
		return o.Launcher.Emit(o.Paths.Launcher, LaunchSpecFromProfile(o.Profile, o.Paths.AppDir, rep.Runtime))
	})
	if err != nil {
		return err
	}
	o.advance(ctx, rep, api.StateLauncherReady, o.Paths.Launcher)
	o.advance(ctx, rep, api.StateDone, "")
	return nil
}

func (o *Orchestrator) ensureAsset(ctx context.Context, tool Binding) (api.AssetState, error) {
	a := o.Profile.Asset
	if a.Skip {
		log.Info().Str("step", "asset").Msg("Asset step disabled")
		return api.AssetSkipped, nil
	}
	state, err := o.Assets.Ensure(ctx, a.Dest, a.URL)
	if len(a.Companions) > 0 {
		SeedCompanions(filepath.Dir(a.Dest), tool.Path, a.Companions)
	}
	return state, err
}

func (o *Orchestrator) timed(step string, fn func() error) error {
	stop := o.Telemetry.Start("calprov.step.duration", map[string]string{"step": step})
	defer stop()
	return fn()
}

func (o *Orchestrator) advance(ctx context.Context, rep *Report, s api.State, detail string) {
	rep.State = s
	ev := log.Debug()
	if s.Terminal() {
		ev = log.Info()
	}
	ev.Str("state", string(s)).Str("detail", detail).Msg("State changed")
	if o.Journal == nil {
		return
	}
	if err := o.Journal.RecordStep(ctx, rep.ID, s, detail); err != nil {
		log.Warn().Err(err).Str("state", string(s)).Msg("Could not journal step")
	}
}

func (o *Orchestrator) finish(ctx context.Context, rep *Report) {
	rep.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	if o.Journal != nil {
		if err := o.Journal.FinishRun(context.WithoutCancel(ctx), rep.RunSummary, rep.Err); err != nil {
			log.Warn().Err(err).Msg("Could not journal run outcome")
		}
	}
	o.Telemetry.Counter("calprov.runs", 1, map[string]string{
		"state": string(rep.State),
		"asset": string(rep.Asset),
	})
	available := 0.0
	if rep.Asset == api.AssetPresent || rep.Asset == api.AssetDownloaded {
		available = 1
	}
	o.Telemetry.Gauge("calprov.asset.available", available, nil)
	if err := o.Telemetry.Flush(context.WithoutCancel(ctx)); err != nil {
		log.Warn().Err(err).Msg("Could not export telemetry")
	}
}

// String renders a one-line summary for logs.
func (r Report) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.State, r.Err)
	}
	return fmt.Sprintf("%s (asset %s)", r.State, r.Asset)
}
