//go:build windows

package env

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows/registry"
)

const (
	machineEnvKey = `SYSTEM\CurrentControlSet\Control\Session Manager\Environment`
	userEnvKey    = `Environment`
)

// RegistrySource re-reads the machine and user PATH from the registry, which
// is where installers record their changes. Machine entries come first, the
// same order a new logon session would see.
type RegistrySource struct{}

func (RegistrySource) Load() (Snapshot, error) {
	machine, err := readRegistryPath(registry.LOCAL_MACHINE, machineEnvKey, "Path")
	if err != nil {
		return Snapshot{}, fmt.Errorf("read machine PATH: %w", err)
	}
	user, err := readRegistryPath(registry.CURRENT_USER, userEnvKey, "Path")
	if err != nil {
		return Snapshot{}, fmt.Errorf("read user PATH: %w", err)
	}
	ext, _ := readRegistryPath(registry.LOCAL_MACHINE, machineEnvKey, "PATHEXT")
	if ext == "" {
		ext = defaultPathExt()
	}
	combined := machine
	if user != "" {
		if combined != "" {
			combined += ";"
		}
		combined += user
	}
	return Parse(combined, ext), nil
}

func readRegistryPath(root registry.Key, path, name string) (string, error) {
	key, err := registry.OpenKey(root, path, registry.QUERY_VALUE)
	if err != nil {
		return "", err
	}
	defer key.Close()

	val, valType, err := key.GetStringValue(name)
	if errors.Is(err, registry.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if valType == registry.EXPAND_SZ {
		expanded, err := registry.ExpandString(val)
		if err != nil {
			return "", fmt.Errorf("expand %s: %w", name, err)
		}
		val = expanded
	}
	return val, nil
}

// DefaultSource returns the registry-backed source on Windows.
func DefaultSource() Source { return RegistrySource{} }
