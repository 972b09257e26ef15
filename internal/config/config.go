// Package config holds the daemon's instance configuration, stored as TOML
// under the instance directory.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/freelancehub/convo/internal/backoff"
)

// Config is the per-instance configuration plus the global default-instance
// pointer.
type Config struct {
	DefaultInstance string `toml:"default_instance"`

	Listen    string `toml:"listen"`
	JWTSecret string `toml:"jwt_secret"`

	TypingDebounceMs int `toml:"typing_debounce_ms"`

	ProfileBaseURL string `toml:"profile_base_url"`
	RedisAddr      string `toml:"redis_addr"`

	BackoffBaseMs int `toml:"backoff_base_ms"`
	BackoffCapMs  int `toml:"backoff_cap_ms"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	return &Config{
		Listen:           "127.0.0.1:7890",
		TypingDebounceMs: 2000,
		BackoffBaseMs:    1000,
		BackoffCapMs:     120000,
	}
}

// DebounceWindow returns the typing debounce window as a duration.
func (c *Config) DebounceWindow() time.Duration {
	if c.TypingDebounceMs <= 0 {
		return 2000 * time.Millisecond
	}
	return time.Duration(c.TypingDebounceMs) * time.Millisecond
}

// BackoffPolicy returns the retry policy for background refresh loops.
func (c *Config) BackoffPolicy() backoff.Policy {
	p := backoff.Default
	if c.BackoffBaseMs > 0 {
		p.Base = time.Duration(c.BackoffBaseMs) * time.Millisecond
	}
	if c.BackoffCapMs > 0 {
		p.Cap = time.Duration(c.BackoffCapMs) * time.Millisecond
	}
	return p
}

// Load reads config from the given path. Returns an error if the file is
// missing; callers fall back to Default.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
// The file may carry the JWT secret, hence 0600.
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
