package paths

import (
	"os"
	"path/filepath"
)

// StateDir returns the default base directory for per-repository state:
// ~/.hookrelay, or $XDG_STATE_HOME/hookrelay when that is set.
func StateDir() (string, error) {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, "hookrelay"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".hookrelay"), nil
}
