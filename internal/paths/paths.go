// Package paths lays out the data directory. Each profile is one gateway
// instance with its own settings, database, logs and lock.
package paths

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory.
const HomeEnv = "WPPDESK_HOME"

const DefaultProfile = "main"

// BaseDir returns $WPPDESK_HOME, or ~/.wppdesk.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wppdesk")
}

// Layout resolves the files of one profile.
type Layout struct {
	Root string
}

// ForProfile returns the layout of a profile under BaseDir.
func ForProfile(name string) Layout {
	return Layout{Root: filepath.Join(BaseDir(), "profiles", name)}
}

func (l Layout) ConfigPath() string { return filepath.Join(l.Root, "config.toml") }

func (l Layout) DBPath() string { return filepath.Join(l.Root, "wppdesk.db") }

func (l Layout) LogDir() string { return filepath.Join(l.Root, "logs") }

func (l Layout) LogPath() string { return filepath.Join(l.LogDir(), "wppdeskd.log") }

// HealthSocket is the unix socket serving the gRPC health service.
func (l Layout) HealthSocket() string { return filepath.Join(l.Root, "health.sock") }

// Ensure creates the profile tree with owner-only permissions.
func (l Layout) Ensure() error {
	for _, d := range []string{l.Root, l.LogDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
