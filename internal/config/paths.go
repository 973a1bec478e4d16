package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultProfile = "default"

	// HomeEnv overrides the Nexus home directory.
	HomeEnv = "NEXUS_HOME"
)

// Paths contains the on-disk layout of a Nexus installation.
type Paths struct {
	Home     string // Nexus home directory
	ConfigDB string // SQLite settings store path
	Logs     string // Logs directory
	LogFile  string // Diagnostic log written by the CLI
}

// GetPaths returns the layout rooted at GetNexusHome.
func GetPaths() Paths {
	home := GetNexusHome()
	return Paths{
		Home:     home,
		ConfigDB: filepath.Join(home, "config.db"),
		Logs:     filepath.Join(home, "logs"),
		LogFile:  filepath.Join(home, "logs", "nexus.log"),
	}
}

// GetNexusHome returns $NEXUS_HOME when set, otherwise ~/.nexus.
func GetNexusHome() string {
	if v := strings.TrimSpace(os.Getenv(HomeEnv)); v != "" {
		return ExpandPath(v)
	}
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".nexus")
}

// ExpandPath expands ~ to the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) == 1 {
			return home
		}
		if path[1] == '/' || path[1] == os.PathSeparator {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// EnsureDirs creates the directory structure if it does not exist.
func EnsureDirs() (Paths, error) {
	paths := GetPaths()

	for _, dir := range []string{paths.Home, paths.Logs} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, err
		}
	}

	return paths, nil
}
