package core

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/calprov/internal/env"
	"github.com/3cpo-dev/calprov/internal/execx"
)

const pipGuideURL = "https://pip.pypa.io/en/stable/user_guide/"

// PackageSync installs the application's manifest through the resolved
// runtime. Every failure is fatal.
type PackageSync struct {
	Runner  execx.Runner
	Timeout time.Duration
}

// SyncSteps returns the argument lists run against the runtime, in order.
func SyncSteps(manifest string) [][]string {
	return [][]string{
		{"-m", "pip", "install", "--upgrade", "pip", "--quiet", "--no-input", "--disable-pip-version-check"},
		{"-m", "pip", "install", "-r", manifest, "--quiet", "--no-input", "--disable-pip-version-check"},
	}
}

func (p *PackageSync) Sync(ctx context.Context, snap env.Snapshot, rt Binding, manifest string) error {
	unpinned, err := scanManifest(manifest)
	if err != nil {
		return fatal("packages", err).
			WithRemediation("The package manifest %s is missing. Reinstall the application files.", manifest)
	}
	for _, line := range unpinned {
		log.Warn().Str("step", "packages").Str("requirement", line).Msg("Requirement is not pinned")
	}

	environ := snap.Environ(os.Environ())
	for _, args := range SyncSteps(manifest) {
		log.Info().Str("step", "packages").Strs("args", args).Msg("Running package installer")
		res, err := p.Runner.Run(ctx, execx.Command{
			Path:    rt.Path,
			Args:    args,
			Env:     environ,
			Dir:     filepath.Dir(manifest),
			Timeout: p.Timeout,
		})
		if err != nil {
			return fatal("packages", fmt.Errorf("%s %s: %w", rt.Path, strings.Join(args, " "), err)).
				WithRemediation("Package installation could not run. Check network access and try again.").
				WithURL(pipGuideURL)
		}
		if !res.Success() {
			return fatal("packages", fmt.Errorf("%s exited with status %d: %s", strings.Join(args, " "), res.ExitCode, lastOutputLine(res.Output))).
				WithRemediation("Installing the required packages failed. Fix the error above and run calprov again.").
				WithURL(pipGuideURL)
		}
	}
	log.Info().Str("step", "packages").Str("manifest", manifest).Msg("Packages installed")
	return nil
}

// scanManifest returns requirement lines that are not pinned with ==.
func scanManifest(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	var unpinned []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if i := strings.Index(line, " #"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if !strings.Contains(line, "==") {
			unpinned = append(unpinned, line)
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return unpinned, nil
}

func lastOutputLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
