package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvDataDir, "")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, defaultListenAddr, cfg.ListenAddr)
	require.Equal(t, 5*time.Second, cfg.HandshakeTimeout.Duration)
	require.Equal(t, "json", cfg.LogFormat)
	require.NotEmpty(t, cfg.DataDir)
}

func TestLoadFile(t *testing.T) {
	t.Setenv(EnvDataDir, "")
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir = "/var/lib/emuhub"
listen_addr = "0.0.0.0:9000"
handshake_timeout = "750ms"
log_level = "debug"
log_format = "text"

[auth]
secret_file = "/etc/emuhub/secret"
token_ttl = "1h"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/emuhub", cfg.DataDir)
	require.Equal(t, "0.0.0.0:9000", cfg.ListenAddr)
	require.Equal(t, 750*time.Millisecond, cfg.HandshakeTimeout.Duration)
	require.Equal(t, 10*time.Second, cfg.StopGracePeriod.Duration, "unset values keep defaults")
	require.Equal(t, "/etc/emuhub/secret", cfg.SecretPath())
	require.Equal(t, time.Hour, cfg.Auth.TokenTTL.Duration)
	require.Equal(t, filepath.Join("/var/lib/emuhub", "emuhub.db"), cfg.DBPath())

	level, err := ParseLevel(cfg.LogLevel)
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)
}

func TestLoadEnvOverridesDataDir(t *testing.T) {
	t.Setenv(EnvDataDir, "/tmp/override")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, "/tmp/override", cfg.DataDir)
	require.Equal(t, filepath.Join("/tmp/override", "jwtsecret.key"), cfg.SecretPath())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv(EnvDataDir, "")
	tests := map[string]string{
		"bad duration":  `handshake_timeout = "soon"`,
		"zero timeout":  `handshake_timeout = "0s"`,
		"bad level":     `log_level = "chatty"`,
		"bad format":    `log_format = "xml"`,
		"not toml":      `data_dir = `,
		"empty datadir": `data_dir = ""`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv(EnvDataDir, "")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.DataDir = "/data"
	cfg.HandshakeTimeout = Duration{3 * time.Second}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestWatchReloadsOnChange(t *testing.T) {
	t.Setenv(EnvDataDir, "")
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`log_level = "info"`), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, slog.Default(), func(c Config) { changes <- c })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`log_level = "warn"`), 0o644))

	select {
	case cfg := <-changes:
		require.Equal(t, "warn", cfg.LogLevel)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after config change")
	}

	cancel()
	require.NoError(t, <-done)
}
