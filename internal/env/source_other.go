//go:build !windows

package env

// DefaultSource returns the process-backed source; outside Windows there is no
// machine/user scope to re-read.
func DefaultSource() Source { return ProcessSource{} }
