package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appName = "speakerscribe"

// Dirs holds the per-user locations the tool reads from and writes to.
type Dirs struct {
	Config string
	Data   string
}

// Models is where downloaded whisper models are stored.
func (d Dirs) Models() string {
	return filepath.Join(d.Data, "models")
}

// DirsFor resolves the config and data directories for goos. The xdg values
// are honoured on linux only.
func DirsFor(goos, homeDir, xdgConfigHome, xdgDataHome string) (Dirs, error) {
	if homeDir == "" {
		return Dirs{}, errors.New("home directory is empty")
	}

	switch goos {
	case "linux":
		dirs := Dirs{
			Config: filepath.Join(homeDir, ".config", appName),
			Data:   filepath.Join(homeDir, ".local", "share", appName),
		}
		if xdgConfigHome != "" {
			dirs.Config = filepath.Join(xdgConfigHome, appName)
		}
		if xdgDataHome != "" {
			dirs.Data = filepath.Join(xdgDataHome, appName)
		}
		return dirs, nil
	case "darwin":
		base := filepath.Join(homeDir, "Library", "Application Support", appName)
		return Dirs{Config: base, Data: base}, nil
	default:
		return Dirs{}, fmt.Errorf("unsupported OS: %s", goos)
	}
}

func CurrentDirs() (Dirs, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Dirs{}, fmt.Errorf("resolve user home: %w", err)
	}
	return DirsFor(runtime.GOOS, homeDir, os.Getenv("XDG_CONFIG_HOME"), os.Getenv("XDG_DATA_HOME"))
}

func ResolveModelDir(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}

	dirs, err := CurrentDirs()
	if err != nil {
		return "", err
	}
	return dirs.Models(), nil
}
