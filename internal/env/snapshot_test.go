package env

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func exeName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}

func TestNewDropsEmptyAndDuplicates(t *testing.T) {
	s := New([]string{"/a", "", "/b", "/a", "  "}, nil)
	got := s.Entries()
	if len(got) != 2 || got[0] != "/a" || got[1] != "/b" {
		t.Fatalf("unexpected entries %v", got)
	}
}

func TestLookPathFirstEntryWins(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writeExecutable(t, second, exeName("python"))
	want := writeExecutable(t, first, exeName("python"))

	s := New([]string{first, second}, []string{".EXE"})
	got, err := s.LookPath("python")
	if err != nil {
		t.Fatalf("lookpath: %v", err)
	}
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestLookPathNotFound(t *testing.T) {
	s := New([]string{t.TempDir()}, nil)
	if _, err := s.LookPath("tesseract"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLookPathAbsolute(t *testing.T) {
	dir := t.TempDir()
	p := writeExecutable(t, dir, exeName("tesseract"))
	got, err := Snapshot{}.LookPath(p)
	if err != nil || got != p {
		t.Fatalf("expected %s, got %s (%v)", p, got, err)
	}
}

func TestLookPathSkipsNonExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no execute bit on windows")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "python"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New([]string{dir}, nil).LookPath("python"); err == nil {
		t.Fatalf("non-executable file must not resolve")
	}
}

func TestEnvironReplacesPath(t *testing.T) {
	s := New([]string{"/opt/python/bin", "/usr/bin"}, nil)
	out := s.Environ([]string{"HOME=/root", "Path=/old", "LANG=C"})
	var paths []string
	for _, kv := range out {
		if strings.HasPrefix(strings.ToUpper(kv), "PATH=") {
			paths = append(paths, kv)
		}
	}
	if len(paths) != 1 {
		t.Fatalf("expected exactly one PATH entry, got %v", paths)
	}
	if paths[0] != "PATH="+s.Value() {
		t.Fatalf("unexpected PATH %q", paths[0])
	}
}

func TestSourceFunc(t *testing.T) {
	want := New([]string{"/x"}, nil)
	var src Source = SourceFunc(func() (Snapshot, error) { return want, nil })
	got, err := src.Load()
	if err != nil || got.Value() != want.Value() {
		t.Fatalf("unexpected snapshot %q (%v)", got.Value(), err)
	}
}
