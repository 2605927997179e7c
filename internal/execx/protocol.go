package execx

import "time"

// Command describes one external process invocation.
type Command struct {
	Path    string
	Args    []string
	Env     []string // full environment; nil inherits the current process
	Dir     string
	Timeout time.Duration
}

// Result is what a finished process reported. A non-zero ExitCode is a
// result, not an error.
type Result struct {
	ExitCode int
	Output   string
	Duration time.Duration
}

// Success reports whether the process exited with status 0.
func (r Result) Success() bool { return r.ExitCode == 0 }
