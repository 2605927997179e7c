//go:build unix

package execx

import (
	"os/exec"
	"syscall"
)

// killTree starts the command in its own process group and makes
// cancellation kill the whole group.
func killTree(cmd *exec.Cmd) (attach func() error, release func()) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	return func() error { return nil }, func() {}
}
