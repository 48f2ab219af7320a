package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns the default data directory for this host:
// $XDG_DATA_HOME/replog, then /var/lib/replog, then the per-user
// application directory on macOS or Windows, then ~/.replog. Without a home
// directory it returns ./data.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "replog")
	}
	candidates := []struct{ probe, dir string }{
		{"/var/lib", "/var/lib/replog"},
		{filepath.Join(home, "Library"), filepath.Join(home, "Library", "Application Support", "replog")},
		{filepath.Join(home, "AppData"), filepath.Join(home, "AppData", "Local", "replog")},
	}
	for _, c := range candidates {
		if isDir(c.probe) {
			return c.dir
		}
	}
	return filepath.Join(home, ".replog")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
