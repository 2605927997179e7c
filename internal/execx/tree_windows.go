//go:build windows

package execx

import (
	"fmt"
	"os/exec"
	"unsafe"

	"golang.org/x/sys/windows"
)

// killTree puts the command into a job object once it has started.
// Cancelling terminates every process in the job, and closing the job
// handle kills whatever is still left in it.
func killTree(cmd *exec.Cmd) (attach func() error, release func()) {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return func() error { return fmt.Errorf("create job object: %w", err) }, func() {}
	}
	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(job, windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)), uint32(unsafe.Sizeof(info))); err != nil {
		windows.CloseHandle(job)
		return func() error { return fmt.Errorf("configure job object: %w", err) }, func() {}
	}

	cmd.Cancel = func() error {
		if err := windows.TerminateJobObject(job, 1); err == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
	attach = func() error {
		h, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(cmd.Process.Pid))
		if err != nil {
			return fmt.Errorf("open process: %w", err)
		}
		defer windows.CloseHandle(h)
		if err := windows.AssignProcessToJobObject(job, h); err != nil {
			return fmt.Errorf("assign job object: %w", err)
		}
		return nil
	}
	return attach, func() { windows.CloseHandle(job) }
}
