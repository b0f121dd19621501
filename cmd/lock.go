package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/vidfetch/vidfetch/internal/config"
)

var instanceLock *flock.Flock

func lockPath() string {
	return filepath.Join(config.GetRuntimeDir(), "vidfetch.lock")
}

// AcquireLock takes the single-instance lock. It reports false when another
// process already holds it.
func AcquireLock() (bool, error) {
	if err := os.MkdirAll(config.GetRuntimeDir(), 0o755); err != nil {
		return false, fmt.Errorf("creating runtime dir: %w", err)
	}
	l := flock.New(lockPath())
	locked, err := l.TryLock()
	if err != nil {
		return false, fmt.Errorf("locking %s: %w", l.Path(), err)
	}
	if !locked {
		return false, nil
	}
	instanceLock = l
	return true, nil
}

// ReleaseLock drops the lock taken by AcquireLock.
func ReleaseLock() error {
	if instanceLock == nil {
		return nil
	}
	err := instanceLock.Unlock()
	instanceLock = nil
	return err
}
