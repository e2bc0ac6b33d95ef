package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/Taiwoayodeji/ChatGifs/internal/coordinator"
	"github.com/Taiwoayodeji/ChatGifs/internal/gif"
	"github.com/Taiwoayodeji/ChatGifs/internal/presence"
)

// Backend modes.
const (
	// BackendEmbedded opens a tree store inside the daemon.
	BackendEmbedded = "embedded"
	// BackendHub connects to a chatgifs-hub over a websocket.
	BackendHub = "hub"
)

// Config represents the global ~/.chatgifs/config.toml.
type Config struct {
	DefaultProfile string  `toml:"default_profile"`
	LogLevel       string  `toml:"log_level"`
	Backend        Backend `toml:"backend"`
	Timing         Timing  `toml:"timing"`
	Gif            Gif     `toml:"gif"`
	Metrics        Metrics `toml:"metrics"`
}

type Backend struct {
	Mode string `toml:"mode"`
	URL  string `toml:"url"`
	// DataDir holds the embedded tree store. Empty means inside the
	// profile directory.
	DataDir string `toml:"data_dir"`
}

type Timing struct {
	PresenceTTL         Duration `toml:"presence_ttl"`
	ConversationRefresh Duration `toml:"conversation_refresh"`
	PresencePoll        Duration `toml:"presence_poll"`
	StatusFlush         Duration `toml:"status_flush"`
	Heartbeat           Duration `toml:"heartbeat"`
	ReloadRetryDelay    Duration `toml:"reload_retry_delay"`
	ReloadRetryMax      int      `toml:"reload_retry_max"`
}

type Gif struct {
	APIKey        string  `toml:"api_key"`
	BaseURL       string  `toml:"base_url"`
	Rating        string  `toml:"rating"`
	SearchLimit   int     `toml:"search_limit"`
	TrendingLimit int     `toml:"trending_limit"`
	RPS           float64 `toml:"rps"`
}

type Metrics struct {
	// Addr serves /metrics when set, e.g. "127.0.0.1:9464".
	Addr string `toml:"addr"`
}

// Duration is a time.Duration written as a string such as "1.5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	c := coordinator.DefaultConfig()
	return &Config{
		DefaultProfile: "main",
		LogLevel:       "info",
		Backend:        Backend{Mode: BackendEmbedded, URL: "ws://127.0.0.1:8787/v1/realtime"},
		Timing: Timing{
			PresenceTTL:         Duration{presence.DefaultTTL},
			ConversationRefresh: Duration{c.ConversationRefresh},
			PresencePoll:        Duration{c.PresencePoll},
			StatusFlush:         Duration{c.StatusFlush},
			Heartbeat:           Duration{c.Heartbeat},
			ReloadRetryDelay:    Duration{c.ReloadRetryDelay},
			ReloadRetryMax:      c.ReloadRetryMax,
		},
		Gif: Gif{Rating: "g", SearchLimit: 20, TrendingLimit: 20},
	}
}

// Load reads config from the given path on top of Default. Returns an
// error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not
// exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Backend.Mode {
	case BackendEmbedded:
	case BackendHub:
		if c.Backend.URL == "" {
			return fmt.Errorf("backend.url is required in hub mode")
		}
	default:
		return fmt.Errorf("backend.mode must be %q or %q, got %q", BackendEmbedded, BackendHub, c.Backend.Mode)
	}
	if c.Timing.ReloadRetryMax < 0 {
		return fmt.Errorf("timing.reload_retry_max must not be negative")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Environment overrides.
const (
	EnvGiphyKey = "GIPHY_API_KEY"
	EnvHubURL   = "CHATGIFS_HUB_URL"
)

// ApplyEnv loads the given .env files, if present, and applies
// environment overrides. Variables already set in the process win over
// the files.
func (c *Config) ApplyEnv(files ...string) {
	for _, f := range files {
		_ = godotenv.Load(f)
	}
	if v := os.Getenv(EnvGiphyKey); v != "" {
		c.Gif.APIKey = v
	}
	if v := os.Getenv(EnvHubURL); v != "" {
		c.Backend.Mode = BackendHub
		c.Backend.URL = v
	}
}

// CoordinatorConfig converts the timing section.
func (c *Config) CoordinatorConfig() coordinator.Config {
	return coordinator.Config{
		ConversationRefresh: c.Timing.ConversationRefresh.Duration,
		PresencePoll:        c.Timing.PresencePoll.Duration,
		StatusFlush:         c.Timing.StatusFlush.Duration,
		Heartbeat:           c.Timing.Heartbeat.Duration,
		ReloadRetryDelay:    c.Timing.ReloadRetryDelay.Duration,
		ReloadRetryMax:      c.Timing.ReloadRetryMax,
	}
}

// GifOptions converts the gif section.
func (c *Config) GifOptions() gif.Options {
	return gif.Options{
		BaseURL:       c.Gif.BaseURL,
		APIKey:        c.Gif.APIKey,
		Rating:        c.Gif.Rating,
		SearchLimit:   c.Gif.SearchLimit,
		TrendingLimit: c.Gif.TrendingLimit,
		RPS:           c.Gif.RPS,
	}
}
