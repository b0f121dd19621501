package config

import (
	"os"
	"path/filepath"
)

const appName = "vidfetch"

// GetAppDir returns the directory holding settings, state and logs:
// $XDG_CONFIG_HOME/vidfetch when set, ~/.vidfetch otherwise.
func GetAppDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "."+appName)
	}
	return filepath.Join(home, "."+appName)
}

// GetStateDir holds the history database.
func GetStateDir() string {
	return filepath.Join(GetAppDir(), "state")
}

// GetLogsDir holds the debug logs.
func GetLogsDir() string {
	return filepath.Join(GetAppDir(), "logs")
}

// GetRuntimeDir holds the lock, port and token files of a running instance.
func GetRuntimeDir() string {
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	return GetAppDir()
}

// GetHistoryDBPath returns the sqlite history database path.
func GetHistoryDBPath() string {
	return filepath.Join(GetStateDir(), "history.db")
}

// EnsureDirs creates the app, state, logs and runtime directories.
func EnsureDirs() error {
	for _, dir := range []string{GetAppDir(), GetStateDir(), GetLogsDir(), GetRuntimeDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
