package rpc

import (
	"os"
	"path/filepath"
)

// DefaultSocketPath prefers the user runtime dir and falls back to the
// home config dir, then the system temp dir.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "shepd", "shepd.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "shepd.sock")
	}
	return filepath.Join(home, ".shepd", "shepd.sock")
}
