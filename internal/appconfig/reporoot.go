package appconfig

import (
	"os"
	"path/filepath"
	"strings"
)

// FindRepoRoot walks up from start to the nearest directory holding .git or .semrel.yaml.
func FindRepoRoot(start string) string {
	start = strings.TrimSpace(start)
	if start == "" {
		return ""
	}
	if abs, err := filepath.Abs(start); err == nil {
		start = abs
	}
	info, err := os.Stat(start)
	if err == nil && !info.IsDir() {
		start = filepath.Dir(start)
	}
	current := start
	for {
		if isRepoRoot(current) {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return ""
		}
		current = parent
	}
}

func isRepoRoot(dir string) bool {
	if dir == "" {
		return false
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return true
	}
	if fi, err := os.Stat(filepath.Join(dir, RepoConfigName)); err == nil && !fi.IsDir() {
		return true
	}
	return false
}
