package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// executableDir resolves the directory containing the running binary.
// All application paths are relative to the executable, never the current
// working directory, so the app behaves the same whether it is launched from
// a shortcut, a terminal, or the installer.
func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}

	// Resolve symlinks to get the actual executable location
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}

	return filepath.Dir(exe), nil
}

// EnsureDirectories creates the directories the application writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.LogsDir,
		filepath.Dir(c.Paths.StateFile),
		filepath.Dir(c.Paths.AuditFile),
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
