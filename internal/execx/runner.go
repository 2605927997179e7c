package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrTimeout is returned when a command outlives its Timeout.
var ErrTimeout = errors.New("command timed out")

// waitDelay bounds how long Run keeps reading output after the process was
// killed. Descendants that escaped the kill may still hold the pipe.
const waitDelay = 3 * time.Second

// Runner starts external processes and waits for them.
type Runner interface {
	Run(ctx context.Context, c Command) (Result, error)
}

// OSRunner runs commands with os/exec, capturing combined output.
type OSRunner struct{}

// Run executes c and blocks until it exits. The error is non-nil only when the
// process could not be started, was cancelled, or timed out.
func (OSRunner) Run(ctx context.Context, c Command) (Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	if c.Env != nil {
		cmd.Env = c.Env
	}

	cmd.WaitDelay = waitDelay
	attach, release := killTree(cmd)
	defer release()

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Start()
	if err == nil {
		if aerr := attach(); aerr != nil {
			log.Warn().Err(aerr).Str("path", c.Path).Msg("Child processes will not be killed on timeout")
		}
		err = cmd.Wait()
	}
	res := Result{Output: out.String(), Duration: time.Since(start)}

	log.Debug().
		Str("path", c.Path).
		Strs("args", c.Args).
		Dur("duration", res.Duration).
		Msg("process finished")

	if err == nil {
		return res, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.ExitCode = -1
		return res, fmt.Errorf("%s after %s: %w", c.Path, c.Timeout, ErrTimeout)
	}
	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, ctx.Err()
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		res.ExitCode = exit.ExitCode()
		return res, nil
	}
	res.ExitCode = -1
	return res, fmt.Errorf("start %s: %w", c.Path, err)
}
