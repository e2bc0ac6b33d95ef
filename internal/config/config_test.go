package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.Timing.PresencePoll = Duration{2 * time.Second}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Timing.PresencePoll.Duration != 2*time.Second {
		t.Errorf("PresencePoll = %v, want 2s", loaded.Timing.PresencePoll)
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
default_profile = "alt"

[timing]
conversation_refresh = "3s"
reload_retry_max = 4

[gif]
api_key = "k"
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	cc := cfg.CoordinatorConfig()
	if cc.ConversationRefresh != 3*time.Second || cc.ReloadRetryMax != 4 {
		t.Errorf("coordinator config = %+v", cc)
	}
	if cc.StatusFlush != 5*time.Second || cc.ReloadRetryDelay != 3*time.Second {
		t.Errorf("defaults lost: %+v", cc)
	}
	if cfg.Backend.Mode != BackendEmbedded {
		t.Errorf("mode = %q", cfg.Backend.Mode)
	}
	if g := cfg.GifOptions(); g.APIKey != "k" || g.Rating != "g" || g.SearchLimit != 20 {
		t.Errorf("gif options = %+v", g)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad duration", "[timing]\npresence_poll = \"soon\"\n"},
		{"bad mode", "[backend]\nmode = \"cloud\"\n"},
		{"hub without url", "[backend]\nmode = \"hub\"\nurl = \"\"\n"},
		{"negative retries", "[timing]\nreload_retry_max = -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tt.body), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() expected error")
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil || cfg.DefaultProfile != "main" {
		t.Errorf("LoadOrDefault() = %+v, %v", cfg, err)
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestApplyEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("GIPHY_API_KEY=from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvGiphyKey, "")
	_ = os.Unsetenv(EnvGiphyKey)
	t.Setenv(EnvHubURL, "ws://hub.example:8787/v1/realtime")

	cfg := Default()
	cfg.ApplyEnv(envFile, filepath.Join(dir, "missing.env"))
	if cfg.Gif.APIKey != "from-file" {
		t.Errorf("api key = %q", cfg.Gif.APIKey)
	}
	if cfg.Backend.Mode != BackendHub || cfg.Backend.URL != "ws://hub.example:8787/v1/realtime" {
		t.Errorf("backend = %+v", cfg.Backend)
	}
}
