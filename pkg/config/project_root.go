package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveRoots returns absolute source and preview roots. Home-relative
// paths ("~/site") are expanded first.
func ResolveRoots(cfg *Config) (source, preview string) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return absPath(cfg.Workspace.SourceDir), absPath(cfg.Workspace.PreviewDir)
}

func absPath(path string) string {
	path = expandHomeDir(path)
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
