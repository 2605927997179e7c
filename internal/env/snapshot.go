// Package env models the OS search path as an explicit, immutable value.
//
// A Snapshot is taken once from the running process and replaced by a fresh
// one from a Source after an external installer has changed the machine or
// user PATH. Nothing in this package mutates the process environment.
package env

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrNotFound is returned by LookPath when no entry holds the executable.
var ErrNotFound = errors.New("executable not found in search path")

// Snapshot is an ordered set of search-path entries plus the executable
// extensions (PATHEXT) used to resolve bare command names.
type Snapshot struct {
	entries []string
	exts    []string
}

// New builds a snapshot from explicit entries. Empty and duplicate entries
// are dropped; the first occurrence wins.
func New(entries, exts []string) Snapshot {
	seen := map[string]bool{}
	var out []string
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		key := e
		if runtime.GOOS == "windows" {
			key = strings.ToLower(e)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return Snapshot{entries: out, exts: append([]string(nil), exts...)}
}

// Parse splits a PATH-style value using the platform list separator.
func Parse(pathValue, pathExt string) Snapshot {
	var exts []string
	if pathExt != "" {
		exts = strings.Split(pathExt, ";")
	}
	return New(filepath.SplitList(pathValue), exts)
}

// FromProcess captures the search path the current process was started with.
func FromProcess() Snapshot {
	return Parse(os.Getenv("PATH"), defaultPathExt())
}

// Entries returns a copy of the search-path entries in order.
func (s Snapshot) Entries() []string { return append([]string(nil), s.entries...) }

// Value renders the snapshot back into a PATH string.
func (s Snapshot) Value() string { return strings.Join(s.entries, string(os.PathListSeparator)) }

// Environ returns base with its PATH entry replaced by this snapshot, so a
// child process sees the refreshed search path without touching os.Environ.
func (s Snapshot) Environ(base []string) []string {
	out := make([]string, 0, len(base)+1)
	for _, kv := range base {
		if i := strings.IndexByte(kv, '='); i > 0 && strings.EqualFold(kv[:i], "PATH") {
			continue
		}
		out = append(out, kv)
	}
	return append(out, "PATH="+s.Value())
}

// LookPath resolves name to an executable file. Names containing a path
// separator are checked as given; bare names are searched entry by entry.
func (s Snapshot) LookPath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty command name: %w", ErrNotFound)
	}
	if strings.ContainsAny(name, `/\`) || filepath.IsAbs(name) {
		if p, ok := s.findExecutable(name); ok {
			return p, nil
		}
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	for _, dir := range s.entries {
		if p, ok := s.findExecutable(filepath.Join(dir, name)); ok {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: %w", name, ErrNotFound)
}

func (s Snapshot) findExecutable(path string) (string, bool) {
	if isExecutable(path) {
		return path, true
	}
	if filepath.Ext(path) != "" {
		return "", false
	}
	for _, ext := range s.exts {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		if isExecutable(path + strings.ToLower(ext)) {
			return path + strings.ToLower(ext), true
		}
		if isExecutable(path + ext) {
			return path + ext, true
		}
	}
	return "", false
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return fi.Mode()&0o111 != 0
}

func defaultPathExt() string {
	if runtime.GOOS != "windows" {
		return ""
	}
	if v := os.Getenv("PATHEXT"); v != "" {
		return v
	}
	return ".COM;.EXE;.BAT;.CMD"
}

// Source produces a fresh snapshot from wherever the OS keeps the
// authoritative search path.
type Source interface {
	Load() (Snapshot, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (Snapshot, error)

func (f SourceFunc) Load() (Snapshot, error) { return f() }

// ProcessSource reloads the snapshot from the process environment.
type ProcessSource struct{}

func (ProcessSource) Load() (Snapshot, error) { return FromProcess(), nil }
