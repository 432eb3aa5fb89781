package ux

import (
	"os"
	"path/filepath"
)

// DirName is the per-project dispatch directory.
const DirName = ".dispatch"

// ConfigFileName is the config file looked up by DiscoverConfigFile.
const ConfigFileName = "config.yaml"

// DiscoverDir searches for the .dispatch directory from dir upwards,
// stopping at the first git root. It returns "" when none exists.
func DiscoverDir(dir string) string {
	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}

		// Stop at git root
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return ""
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// DiscoverConfigFile returns the config file to load when --config is not
// given, or "" to run on defaults.
// Priority: .dispatch/config.yaml (current or parent dir) -> ./dispatch.yaml -> ~/.dispatch/config.yaml
func DiscoverConfigFile() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	if dir := DiscoverDir(cwd); dir != "" {
		path := filepath.Join(dir, ConfigFileName)
		if fileExists(path) {
			return path, nil
		}
	}

	if path := filepath.Join(cwd, "dispatch.yaml"); fileExists(path) {
		return path, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, DirName, ConfigFileName)
		if fileExists(path) {
			return path, nil
		}
	}

	return "", nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
