package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/3cpo-dev/calprov/internal/env"
	"github.com/3cpo-dev/calprov/internal/telemetry"
	"github.com/3cpo-dev/calprov/pkg/api"
)

type harness struct {
	t          *testing.T
	binDir     string
	installDir string
	appDir     string
	profile    Profile
	runner     *fakeRunner
	mgr        *fakeManager
	dl         *fakeDownloader
	secret     *countingSecret
	journal    Journal
}

func newHarness(t *testing.T) *harness {
	root := t.TempDir()
	h := &harness{
		t:          t,
		binDir:     filepath.Join(root, "bin"),
		installDir: filepath.Join(root, "installed"),
		appDir:     filepath.Join(root, "app"),
		runner:     newFakeRunner(),
		mgr:        &fakeManager{},
		dl:         &fakeDownloader{body: []byte("ron-model")},
		secret:     &countingSecret{value: "pw"},
	}
	if err := os.MkdirAll(h.appDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, h.appDir, "fastapi==0.110.0\n")

	p := DefaultProfile()
	p.Runtime.Candidates = []string{"python3"}
	p.Runtime.Fallback = "python"
	p.Tool.Candidates = []string{"tesseract"}
	p.Tool.Fallback = "tesseract"
	p.Asset.URL = modelURL
	p.Asset.Dest = filepath.Join(root, "home", ".tessdata", "ron.traineddata")
	h.profile = p
	return h
}

func (h *harness) addBinary(dir, name, version string) string {
	path := touchExe(h.t, dir, name)
	h.runner.versions[path] = version
	return path
}

func (h *harness) orchestrator() *Orchestrator {
	src := env.SourceFunc(func() (env.Snapshot, error) { return snapshotOf(h.binDir, h.installDir), nil })
	return NewOrchestrator(h.profile, h.appDir, snapshotOf(h.binDir), Options{
		Runner:      h.runner,
		Manager:     h.mgr,
		Source:      src,
		Secrets:     h.secret,
		Downloaders: map[string]Downloader{"https": h.dl},
		Journal:     h.journal,
		Telemetry:   telemetry.NewCollector(true, ""),
		Dialect:     PlatformDialect(),
	})
}

func fileExists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	return err == nil
}

func TestRunInstallsMissingRuntime(t *testing.T) {
	h := newHarness(t)
	h.addBinary(h.binDir, "tesseract", "tesseract 5.3.0")
	var python string
	h.mgr.onInstall = func(id string) {
		if id == "Python.Python.3.12" {
			python = h.addBinary(h.installDir, "python", "Python 3.12.3")
		}
	}

	rep := h.orchestrator().Run(context.Background())
	if rep.State != api.StateDone || rep.ExitCode() != api.ExitDone {
		t.Fatalf("expected Done, got %s", rep)
	}
	if rep.Runtime.Path != python || rep.RuntimePath != python {
		t.Fatalf("runtime %+v, want %s", rep.Runtime, python)
	}
	if fmt.Sprint(h.mgr.installs) != "[Python.Python.3.12]" {
		t.Fatalf("unexpected installs %v", h.mgr.installs)
	}
	// pip runs through the freshly installed runtime
	for _, c := range h.runner.nonVersionCalls() {
		if c.Path != python {
			t.Fatalf("package step used %s", c.Path)
		}
	}
	paths := h.profile.Paths(h.appDir)
	launcher, err := os.ReadFile(paths.Launcher)
	if err != nil {
		t.Fatalf("launcher: %v", err)
	}
	if !strings.Contains(string(launcher), python) {
		t.Fatalf("launcher does not embed runtime path: %q", launcher)
	}
	if !fileExists(t, paths.Config) || !fileExists(t, paths.DataDir) {
		t.Fatalf("config or data directory missing")
	}
	if rep.Asset != api.AssetDownloaded {
		t.Fatalf("asset %s", rep.Asset)
	}
}

func TestRunToolInstallFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.addBinary(h.binDir, "python3", "Python 3.11.4")
	h.mgr.err = errors.New("winget exited 1")

	rep := h.orchestrator().Run(context.Background())
	if rep.State != api.StateAborted || rep.ExitCode() != api.ExitAborted {
		t.Fatalf("expected Aborted, got %s", rep)
	}
	fe, ok := AsFatal(rep.Err)
	if !ok || fe.URL != h.profile.Tool.ManualURL {
		t.Fatalf("expected tool remediation, got %v", rep.Err)
	}
	paths := h.profile.Paths(h.appDir)
	if fileExists(t, paths.Config) || fileExists(t, paths.Launcher) {
		t.Fatalf("config or launcher written after abort")
	}
	if h.secret.calls != 0 {
		t.Fatalf("prompted after abort")
	}
	if len(h.runner.nonVersionCalls()) != 0 || h.dl.calls != 0 {
		t.Fatalf("later steps ran after abort")
	}
}

func TestRunAssetUnreachableDegrades(t *testing.T) {
	h := newHarness(t)
	h.addBinary(h.binDir, "python3", "Python 3.11.4")
	h.addBinary(h.binDir, "tesseract", "tesseract 5.3.0")
	h.dl.err = errUnreachable

	rep := h.orchestrator().Run(context.Background())
	if rep.State != api.StateDone {
		t.Fatalf("expected Done, got %s", rep)
	}
	if rep.Asset != api.AssetDegraded || rep.AssetErr == nil {
		t.Fatalf("expected Degraded asset, got %s %v", rep.Asset, rep.AssetErr)
	}
	if fileExists(t, h.profile.Asset.Dest) {
		t.Fatalf("partial asset left behind")
	}
}

func TestRunAlreadyProvisionedIsQuiet(t *testing.T) {
	h := newHarness(t)
	h.addBinary(h.binDir, "python3", "Python 3.11.4")
	h.addBinary(h.binDir, "tesseract", "tesseract 5.3.0")
	if err := os.MkdirAll(filepath.Dir(h.profile.Asset.Dest), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(h.profile.Asset.Dest, []byte("model"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := h.profile.Paths(h.appDir).Config
	if err := os.WriteFile(cfg, []byte("ADMIN_PASSWORD=x\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	rep := h.orchestrator().Run(context.Background())
	if rep.State != api.StateDone {
		t.Fatalf("expected Done, got %s", rep)
	}
	if h.dl.calls != 0 || h.secret.calls != 0 || len(h.mgr.installs) != 0 {
		t.Fatalf("downloads=%d prompts=%d installs=%v", h.dl.calls, h.secret.calls, h.mgr.installs)
	}
	if rep.Asset != api.AssetPresent || rep.ConfigWritten {
		t.Fatalf("unexpected report %+v", rep)
	}
	got, _ := os.ReadFile(cfg)
	if string(got) != "ADMIN_PASSWORD=x\n" {
		t.Fatalf("existing config modified")
	}
}

func TestRunSkipAsset(t *testing.T) {
	h := newHarness(t)
	h.addBinary(h.binDir, "python3", "Python 3.11.4")
	h.addBinary(h.binDir, "tesseract", "tesseract 5.3.0")
	h.profile.Asset.Skip = true
	rep := h.orchestrator().Run(context.Background())
	if rep.State != api.StateDone || rep.Asset != api.AssetSkipped || h.dl.calls != 0 {
		t.Fatalf("unexpected report %s, downloads %d", rep, h.dl.calls)
	}
}

func TestRunJournalsEveryTransition(t *testing.T) {
	h := newHarness(t)
	h.addBinary(h.binDir, "python3", "Python 3.11.4")
	h.addBinary(h.binDir, "tesseract", "tesseract 5.3.0")
	store, err := NewStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()
	h.journal = store

	rep := h.orchestrator().Run(context.Background())
	if rep.State != api.StateDone || rep.ID == "" {
		t.Fatalf("unexpected report %s id=%q", rep, rep.ID)
	}
	steps, err := store.Steps(context.Background(), rep.ID)
	if err != nil {
		t.Fatalf("steps: %v", err)
	}
	var got []api.State
	for _, s := range steps {
		got = append(got, s.State)
	}
	if fmt.Sprint(got) != fmt.Sprint(api.Order) {
		t.Fatalf("transitions %v, want %v", got, api.Order)
	}
	runs, _ := store.Recent(context.Background(), 1)
	if len(runs) != 1 || runs[0].State != api.StateDone || runs[0].Asset != api.AssetDownloaded {
		t.Fatalf("unexpected journal summary %+v", runs)
	}
}

type brokenJournal struct{}

func (brokenJournal) BeginRun(context.Context, string) (string, error) {
	return "", errors.New("disk full")
}
func (brokenJournal) RecordStep(context.Context, string, api.State, string) error {
	return errors.New("disk full")
}
func (brokenJournal) FinishRun(context.Context, api.RunSummary, error) error {
	return errors.New("disk full")
}

func TestRunJournalFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.addBinary(h.binDir, "python3", "Python 3.11.4")
	h.addBinary(h.binDir, "tesseract", "tesseract 5.3.0")
	h.journal = brokenJournal{}
	if rep := h.orchestrator().Run(context.Background()); rep.State != api.StateDone {
		t.Fatalf("expected Done, got %s", rep)
	}
}

func TestInspectDoesNotChangeAnything(t *testing.T) {
	h := newHarness(t)
	h.addBinary(h.binDir, "python3", "Python 3.9.1")
	h.addBinary(h.binDir, "tesseract", "tesseract 5.3.0")
	paths := h.profile.Paths(h.appDir)
	rep := Inspect(context.Background(), h.profile, paths, snapshotOf(h.binDir), NewProber(h.runner))
	if !errors.Is(rep.Runtime.Err, ErrNotFound) || rep.Tool.Err != nil {
		t.Fatalf("unexpected findings %+v %+v", rep.Runtime, rep.Tool)
	}
	if rep.Ready() || !rep.Manifest || rep.Config || rep.Asset || rep.Launcher {
		t.Fatalf("unexpected report %+v", rep)
	}
	if len(h.runner.nonVersionCalls()) != 0 || fileExists(t, paths.Config) {
		t.Fatalf("inspect must only probe")
	}
}
