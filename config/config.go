// Package config loads the emuhub configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	EnvConfigPath = "EMUHUB_CONFIG"
	EnvDataDir    = "EMUHUB_DATA_DIR"

	defaultListenAddr       = "127.0.0.1:8765"
	defaultHandshakeTimeout = 5 * time.Second
	defaultStopGracePeriod  = 10 * time.Second
	defaultTokenTTL         = 30 * 24 * time.Hour
)

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the emuhub configuration.
type Config struct {
	DataDir          string     `toml:"data_dir"`
	ListenAddr       string     `toml:"listen_addr"`
	HandshakeTimeout Duration   `toml:"handshake_timeout"`
	StopGracePeriod  Duration   `toml:"stop_grace_period"`
	LogLevel         string     `toml:"log_level"`
	LogFormat        string     `toml:"log_format"` // "json" or "text"
	Auth             AuthConfig `toml:"auth"`
}

// AuthConfig configures bearer token authentication of the HTTP API.
type AuthConfig struct {
	Disabled   bool     `toml:"disabled"`
	SecretFile string   `toml:"secret_file"` // Optional, defaults to <data_dir>/jwtsecret.key
	TokenTTL   Duration `toml:"token_ttl"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	dataDir := "emuhub-data"
	if dir, err := os.UserConfigDir(); err == nil {
		dataDir = filepath.Join(dir, "emuhub")
	}
	return Config{
		DataDir:          dataDir,
		ListenAddr:       defaultListenAddr,
		HandshakeTimeout: Duration{defaultHandshakeTimeout},
		StopGracePeriod:  Duration{defaultStopGracePeriod},
		LogLevel:         "info",
		LogFormat:        "json",
		Auth: AuthConfig{
			TokenTTL: Duration{defaultTokenTTL},
		},
	}
}

// DefaultPath returns $EMUHUB_CONFIG, or config.toml in the user config
// directory.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "emuhub.toml"
	}
	return filepath.Join(dir, "emuhub", "config.toml")
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if dir := os.Getenv(EnvDataDir); dir != "" {
		cfg.DataDir = dir
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that have no usable fallback.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is empty")
	}
	if c.HandshakeTimeout.Duration <= 0 {
		return fmt.Errorf("handshake_timeout must be positive, got %s", c.HandshakeTimeout)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("log_format must be json or text, got %q", c.LogFormat)
	}
	return nil
}

// Save writes the configuration as TOML.
func (c Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// DBPath is the sqlite database holding the library and run history.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "emuhub.db")
}

// SecretPath is the file holding the API signing key.
func (c Config) SecretPath() string {
	if c.Auth.SecretFile != "" {
		return c.Auth.SecretFile
	}
	return filepath.Join(c.DataDir, "jwtsecret.key")
}

// ParseLevel converts a log_level value to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", s, err)
	}
	return level, nil
}

// NewLogHandler returns the slog handler selected by log_format. The level
// is read from levelVar on every record so it can be changed while running.
func (c Config) NewLogHandler(w io.Writer, levelVar *slog.LevelVar) slog.Handler {
	opts := &slog.HandlerOptions{Level: levelVar}
	if c.LogFormat == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}
