// Package dirs locates stemwatch's per-user directories.
package dirs

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/cockroachdb/errors"
)

const appName = "stemwatch"

// AppName returns the canonical application name for directory paths.
func AppName() string {
	return appName
}

// location describes where one kind of directory lives on each platform.
type location struct {
	xdgEnv    string   // Linux override, e.g. XDG_CONFIG_HOME.
	xdgHome   []string // Linux default below $HOME.
	darwin    []string // Below ~/Library/Application Support/stemwatch.
	windowsFn func() (string, error)
}

var (
	configLocation = location{
		xdgEnv:    "XDG_CONFIG_HOME",
		xdgHome:   []string{".config"},
		windowsFn: func() (string, error) { return userDir(os.UserConfigDir) },
	}
	stateLocation = location{
		xdgEnv:  "XDG_STATE_HOME",
		xdgHome: []string{".local", "state"},
		darwin:  []string{"state"},
		windowsFn: func() (string, error) {
			if la := os.Getenv("LOCALAPPDATA"); la != "" {
				return filepath.Join(la, appName, "state"), nil
			}
			cfg, err := ConfigDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(cfg, "state"), nil
		},
	}
)

func userDir(base func() (string, error)) (string, error) {
	d, err := base()
	if err != nil {
		return "", errors.Wrap(err, "locate user directory")
	}
	return filepath.Join(d, appName), nil
}

func (l location) resolve() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "locate home directory")
		}
		return filepath.Join(append([]string{home, "Library", "Application Support", appName}, l.darwin...)...), nil
	case "linux":
		if xdg := os.Getenv(l.xdgEnv); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "locate home directory")
		}
		return filepath.Join(append(append([]string{home}, l.xdgHome...), appName)...), nil
	default:
		return l.windowsFn()
	}
}

// ConfigDir returns the directory searched for config.{yaml,json,toml}.
// Linux honours $XDG_CONFIG_HOME, macOS uses ~/Library/Application Support.
func ConfigDir() (string, error) {
	return configLocation.resolve()
}

// StateDir returns the directory logs go to while the TUI owns the terminal.
func StateDir() (string, error) {
	return stateLocation.resolve()
}

// LogFile returns the path of the log file, creating the state directory.
func LogFile() (string, error) {
	d, err := StateDir()
	if err != nil {
		return "", err
	}
	if err := Ensure(d); err != nil {
		return "", err
	}
	return filepath.Join(d, appName+".log"), nil
}

// Ensure creates the directory if it doesn't exist.
func Ensure(path string) error {
	if path == "" {
		return errors.New("empty path")
	}
	return errors.Wrapf(os.MkdirAll(path, 0o755), "create %s", path)
}
