package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/mod/semver"

	"github.com/3cpo-dev/calprov/internal/env"
	"github.com/3cpo-dev/calprov/internal/execx"
)

// ErrNotFound means no candidate both ran and met the version floor.
var ErrNotFound = errors.New("no candidate satisfies the requirement")

// Version is the major.minor pair reported by a binary.
type Version struct {
	Major int
	Minor int
}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

func (v Version) canonical() string { return fmt.Sprintf("v%d.%d", v.Major, v.Minor) }

var versionToken = regexp.MustCompile(`(\d+)\.(\d+)`)

// ParseVersion returns the first major.minor token found in output.
func ParseVersion(output string) (Version, bool) {
	m := versionToken.FindStringSubmatch(output)
	if m == nil {
		return Version{}, false
	}
	major, err1 := strconv.Atoi(m[1])
	minor, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return Version{}, false
	}
	return Version{Major: major, Minor: minor}, true
}

// Requirement is a version floor. Major 0 accepts any major version;
// otherwise the major must match exactly and the minor must be >= MinMinor.
type Requirement struct {
	Major    int
	MinMinor int
}

// Satisfied reports whether v meets the requirement.
func (r Requirement) Satisfied(v Version) bool {
	if r.Major != 0 && v.Major != r.Major {
		return false
	}
	major := r.Major
	if major == 0 {
		major = v.Major
	}
	floor := Version{Major: major, Minor: r.MinMinor}.canonical()
	return semver.Compare(v.canonical(), floor) >= 0
}

func (r Requirement) String() string {
	if r.Major == 0 {
		return fmt.Sprintf(">=x.%d", r.MinMinor)
	}
	return fmt.Sprintf(">=%d.%d", r.Major, r.MinMinor)
}

// Binding is a resolved, version-checked executable.
type Binding struct {
	Identifier string
	Path       string
	Version    Version
}

// QueryFunc asks one candidate for its version. Any error means the
// candidate does not count.
type QueryFunc func(candidate string) (path string, v Version, err error)

// Resolve returns the first candidate, in the given order, whose query
// succeeds and whose version satisfies req.
func Resolve(candidates []string, req Requirement, query QueryFunc) (Binding, error) {
	for _, c := range candidates {
		path, v, err := query(c)
		if err != nil || !req.Satisfied(v) {
			continue
		}
		return Binding{Identifier: c, Path: path, Version: v}, nil
	}
	return Binding{}, ErrNotFound
}

// Prober runs `<candidate> --version` inside an environment snapshot.
type Prober struct {
	Runner  execx.Runner
	Timeout time.Duration
}

func NewProber(r execx.Runner) *Prober {
	return &Prober{Runner: r, Timeout: 30 * time.Second}
}

// Probe resolves the first usable candidate against snap.
func (p *Prober) Probe(ctx context.Context, snap env.Snapshot, candidates []string, req Requirement) (Binding, error) {
	return Resolve(candidates, req, p.query(ctx, snap, req))
}

func (p *Prober) query(ctx context.Context, snap env.Snapshot, req Requirement) QueryFunc {
	environ := snap.Environ(os.Environ())
	return func(candidate string) (string, Version, error) {
		path, err := snap.LookPath(candidate)
		if err != nil {
			log.Debug().Str("candidate", candidate).Msg("not on search path")
			return "", Version{}, err
		}
		res, err := p.Runner.Run(ctx, execx.Command{
			Path:    path,
			Args:    []string{"--version"},
			Env:     environ,
			Timeout: p.Timeout,
		})
		if err != nil {
			log.Debug().Err(err).Str("candidate", candidate).Msg("version query failed")
			return "", Version{}, err
		}
		if !res.Success() {
			log.Debug().Str("candidate", candidate).Int("exit_code", res.ExitCode).Msg("version query exited non-zero")
			return "", Version{}, fmt.Errorf("%s --version: exit status %d", candidate, res.ExitCode)
		}
		v, ok := ParseVersion(res.Output)
		if !ok {
			log.Debug().Str("candidate", candidate).Msg("no version in output")
			return "", Version{}, fmt.Errorf("%s --version: no version in output", candidate)
		}
		log.Debug().
			Str("candidate", candidate).
			Str("version", v.String()).
			Bool("satisfied", req.Satisfied(v)).
			Msg("candidate probed")
		return path, v, nil
	}
}
