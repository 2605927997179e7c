package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/3cpo-dev/calprov/internal/env"
	"github.com/3cpo-dev/calprov/internal/execx"
	"github.com/3cpo-dev/calprov/internal/pkgmgr"
)

// exeName adds the platform executable suffix.
func exeName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

// touchExe creates an empty executable file and returns its path.
func touchExe(t *testing.T, dir, name string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	p := filepath.Join(dir, exeName(name))
	if err := os.WriteFile(p, nil, 0o755); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func snapshotOf(dirs ...string) env.Snapshot {
	return env.New(dirs, []string{".exe"})
}

// fakeRunner answers --version from versions and everything else from exits.
type fakeRunner struct {
	mu       sync.Mutex
	versions map[string]string
	exits    map[string]int
	err      error
	calls    []execx.Command
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{versions: map[string]string{}, exits: map[string]int{}}
}

func (f *fakeRunner) Run(ctx context.Context, c execx.Command) (execx.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if len(c.Args) == 1 && c.Args[0] == "--version" {
		out, ok := f.versions[c.Path]
		if !ok {
			return execx.Result{ExitCode: 1, Output: "boom"}, nil
		}
		return execx.Result{Output: out}, nil
	}
	if f.err != nil {
		return execx.Result{ExitCode: -1}, f.err
	}
	return execx.Result{ExitCode: f.exits[c.Path]}, nil
}

func (f *fakeRunner) commands() []execx.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]execx.Command(nil), f.calls...)
}

// nonVersionCalls filters out probe invocations.
func (f *fakeRunner) nonVersionCalls() []execx.Command {
	var out []execx.Command
	for _, c := range f.commands() {
		if len(c.Args) == 1 && c.Args[0] == "--version" {
			continue
		}
		out = append(out, c)
	}
	return out
}

type fakeManager struct {
	installs  []string
	err       error
	onInstall func(id string)
}

func (m *fakeManager) Name() string { return "fake" }

func (m *fakeManager) Install(ctx context.Context, req pkgmgr.InstallRequest) error {
	m.installs = append(m.installs, req.PackageID)
	if m.onInstall != nil {
		m.onInstall(req.PackageID)
	}
	return m.err
}

type fakeDownloader struct {
	body  []byte
	err   error
	calls int
}

func (d *fakeDownloader) Download(ctx context.Context, src *url.URL, w io.Writer) (int64, error) {
	d.calls++
	n, _ := io.Copy(w, bytes.NewReader(d.body))
	return n, d.err
}

type countingSecret struct {
	value string
	calls int
}

func (c *countingSecret) Secret(context.Context) (string, error) {
	c.calls++
	return c.value, nil
}

var errUnreachable = errors.New("dial tcp: connection refused")
