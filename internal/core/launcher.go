package core

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	"mvdan.cc/sh/v3/syntax"
)

// Dialect selects the launcher script language.
type Dialect int

const (
	DialectBatch Dialect = iota
	DialectPOSIX
)

// PlatformDialect is batch on Windows and POSIX sh elsewhere.
func PlatformDialect() Dialect {
	if runtime.GOOS == "windows" {
		return DialectBatch
	}
	return DialectPOSIX
}

func platformEOL() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}

// LaunchSpec is the fixed contract for starting the application.
type LaunchSpec struct {
	AppDir  string
	Runtime string
	Module  string
	Host    string
	Port    int
}

// LaunchSpecFromProfile fills the launch contract from the app section.
func LaunchSpecFromProfile(p Profile, appDir string, rt Binding) LaunchSpec {
	return LaunchSpec{
		AppDir:  appDir,
		Runtime: rt.Path,
		Module:  p.App.Module,
		Host:    p.App.Host,
		Port:    p.App.Port,
	}
}

type LaunchScriptGenerator struct {
	Dialect Dialect
	// DataDir is created next to the launcher for uploaded files.
	DataDir string
}

// Render returns the script bytes. The same spec always renders the same bytes.
func (g *LaunchScriptGenerator) Render(s LaunchSpec) ([]byte, error) {
	switch g.Dialect {
	case DialectBatch:
		return renderBatch(s)
	case DialectPOSIX:
		return renderPOSIX(s)
	}
	return nil, fmt.Errorf("unknown launcher dialect %d", g.Dialect)
}

func renderBatch(s LaunchSpec) ([]byte, error) {
	for _, v := range []string{s.AppDir, s.Runtime} {
		if strings.ContainsAny(v, "\"\r\n") {
			return nil, fmt.Errorf("path %q cannot be used in a batch file", v)
		}
	}
	esc := strings.NewReplacer("%", "%%")
	var b strings.Builder
	b.WriteString("@echo off\r\n")
	fmt.Fprintf(&b, "cd /d \"%s\"\r\n", esc.Replace(s.AppDir))
	fmt.Fprintf(&b, "\"%s\" -m uvicorn %s --host %s --port %d\r\n", esc.Replace(s.Runtime), s.Module, s.Host, s.Port)
	b.WriteString("pause\r\n")
	return []byte(b.String()), nil
}

func renderPOSIX(s LaunchSpec) ([]byte, error) {
	dir, err := syntax.Quote(s.AppDir, syntax.LangPOSIX)
	if err != nil {
		return nil, fmt.Errorf("quote app dir: %w", err)
	}
	rt, err := syntax.Quote(s.Runtime, syntax.LangPOSIX)
	if err != nil {
		return nil, fmt.Errorf("quote runtime: %w", err)
	}
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "cd %s || exit 1\n", dir)
	fmt.Fprintf(&b, "%s -m uvicorn %s --host %s --port %d\n", rt, s.Module, s.Host, s.Port)
	b.WriteString("printf 'Press Enter to close...'\n")
	b.WriteString("read _\n")

	out := []byte(b.String())
	if _, err := syntax.NewParser(syntax.Variant(syntax.LangPOSIX)).Parse(bytes.NewReader(out), "launcher"); err != nil {
		return nil, fmt.Errorf("generated launcher does not parse: %w", err)
	}
	return out, nil
}

// Emit writes the launcher to path, replacing any previous version, and
// creates the data directory.
func (g *LaunchScriptGenerator) Emit(path string, s LaunchSpec) error {
	if s.Runtime == "" {
		return fatal("launcher", errors.New("runtime path is empty"))
	}
	data, err := g.Render(s)
	if err != nil {
		return fatal("launcher", err).WithRemediation("Move the application to a directory without quotes or line breaks in its path.")
	}
	if g.DataDir != "" {
		if err := os.MkdirAll(g.DataDir, 0o755); err != nil {
			return fatal("launcher", fmt.Errorf("create data directory: %w", err)).
				WithRemediation("Could not create %s. Check the directory permissions.", g.DataDir)
		}
	}
	if err := writeReplace(path, data, 0o755); err != nil {
		return fatal("launcher", err).WithRemediation("Could not write %s. Check the directory permissions.", path)
	}
	log.Info().Str("step", "launcher").Str("path", path).Msg("Launcher written")
	return nil
}

func writeReplace(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
