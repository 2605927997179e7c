package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ErrLocked means another run holds the lock.
var ErrLocked = errors.New("another provisioning run is in progress")

// AcquireLock creates path exclusively. The returned func removes it.
func AcquireLock(path string) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			holder, _ := os.ReadFile(path)
			return nil, fmt.Errorf("%w: %s held by %s (remove the file if no run is active)", ErrLocked, path, string(holder))
		}
		return nil, fmt.Errorf("create lock: %w", err)
	}
	fmt.Fprintf(f, "pid %d since %s", os.Getpid(), time.Now().Format(time.RFC3339))
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write lock: %w", err)
	}
	return func() error { return os.Remove(path) }, nil
}
