package profile

import (
	"errors"
	"os"
	"sort"

	"github.com/Taiwoayodeji/ChatGifs/internal/config"
	"github.com/Taiwoayodeji/ChatGifs/internal/lock"
)

const DefaultName = "main"

// Resolve determines the active profile name using precedence:
// 1. flagOverride (--profile flag)
// 2. config.toml default_profile
// 3. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultName
}

// Info describes a profile found on disk.
type Info struct {
	Name          string
	Path          string
	DaemonRunning bool
	DaemonPID     int
}

// List returns every valid profile under BaseDir, sorted by name. A
// profile whose lock is held has a running daemon.
func List() ([]Info, error) {
	entries, err := os.ReadDir(Dir(""))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Info
	for _, e := range entries {
		if !e.IsDir() || ValidateName(e.Name()) != nil {
			continue
		}
		info := Info{Name: e.Name(), Path: Dir(e.Name())}
		if pid, held := lock.Holder(info.Path); held {
			info.DaemonRunning, info.DaemonPID = true, pid
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
