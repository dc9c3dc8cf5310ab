package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "dbtsync"

// Paths contains the XDG directories dbtsync uses.
type Paths struct {
	Data   string // ~/.local/share/dbtsync
	Config string // ~/.config/dbtsync
	State  string // ~/.local/state/dbtsync
}

// GetPaths resolves the XDG directories, honoring XDG_*_HOME.
func GetPaths() *Paths {
	return &Paths{
		Data:   xdgDir("XDG_DATA_HOME", ".local", "share"),
		Config: xdgDir("XDG_CONFIG_HOME", ".config"),
		State:  xdgDir("XDG_STATE_HOME", ".local", "state"),
	}
}

// xdgDir returns $env/dbtsync, or ~/<fallback...>/dbtsync when env is unset.
// On Windows every directory lives under %APPDATA%.
func xdgDir(env string, fallback ...string) string {
	base := os.Getenv(env)
	if base == "" {
		if runtime.GOOS == "windows" {
			base = os.Getenv("APPDATA")
		} else {
			home, _ := os.UserHomeDir()
			base = filepath.Join(append([]string{home}, fallback...)...)
		}
	}
	return filepath.Join(base, appName)
}

// EnsurePaths creates the directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.State} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// StoragePath is the default local cache directory.
func (p *Paths) StoragePath() string {
	return filepath.Join(p.Data, "cache")
}

// LogPath is where the CLI writes log files.
func (p *Paths) LogPath() string {
	return filepath.Join(p.State, "log")
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, appName+".json")
}

// ProjectConfigPath returns the path to the project config file in directory.
func ProjectConfigPath(directory string) string {
	return filepath.Join(directory, appName+".json")
}
