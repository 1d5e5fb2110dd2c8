package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment overrides, applied after the file is read.
const (
	EnvToken     = "WPPSYNC_TOKEN"
	EnvBaseURL   = "WPPSYNC_BASE_URL"
	EnvLiveURL   = "WPPSYNC_LIVE_URL"
	EnvAccountID = "WPPSYNC_ACCOUNT_ID"
)

// Config represents the global ~/.wppsync/config.toml.
type Config struct {
	DefaultProfile string            `toml:"default_profile"`
	Gateway        Gateway           `toml:"gateway"`
	Sync           Sync              `toml:"sync"`
	Sessions       map[string]string `toml:"sessions"`
}

// Gateway locates the messaging gateway and the account to follow.
type Gateway struct {
	BaseURL   string `toml:"base_url"`
	LiveURL   string `toml:"live_url"`
	AccountID string `toml:"account_id"`
	Token     string `toml:"token,omitempty"`
}

// Sync tunes paging, polling and timeouts.
type Sync struct {
	PageSize       int      `toml:"page_size"`
	PollInterval   Duration `toml:"poll_interval"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	RequestTimeout Duration `toml:"request_timeout"`
}

// Duration decodes TOML strings like "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Sync: Sync{
			PageSize:       50,
			PollInterval:   Duration{5 * time.Second},
			ConnectTimeout: Duration{10 * time.Second},
			RequestTimeout: Duration{15 * time.Second},
		},
	}
}

// Load reads config from the given path on top of Default. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// ApplyEnv overlays the WPPSYNC_* environment variables.
func (c *Config) ApplyEnv() {
	for env, dst := range map[string]*string{
		EnvToken:     &c.Gateway.Token,
		EnvBaseURL:   &c.Gateway.BaseURL,
		EnvLiveURL:   &c.Gateway.LiveURL,
		EnvAccountID: &c.Gateway.AccountID,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
}

// Validate reports the first setting the daemon cannot run without.
func (c *Config) Validate() error {
	switch {
	case c.Gateway.BaseURL == "":
		return fmt.Errorf("gateway.base_url is required")
	case c.Gateway.LiveURL == "":
		return fmt.Errorf("gateway.live_url is required")
	case c.Gateway.AccountID == "":
		return fmt.Errorf("gateway.account_id is required")
	case c.Sync.PageSize <= 0:
		return fmt.Errorf("sync.page_size must be positive, got %d", c.Sync.PageSize)
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
