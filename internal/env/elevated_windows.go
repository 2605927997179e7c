//go:build windows

package env

import "golang.org/x/sys/windows"

// Elevated reports whether the process token carries administrator rights.
func Elevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
