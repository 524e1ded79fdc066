package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tomyedwab/emuhub/config"
	"github.com/tomyedwab/emuhub/processes"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(config.EnvConfigPath, filepath.Join(dir, "config.toml"))
	t.Setenv(config.EnvDataDir, filepath.Join(dir, "data"))
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLibraryCommands(t *testing.T) {
	dir := setupEnv(t)
	gameDir := filepath.Join(dir, "games", "CUSA01234")
	require.NoError(t, os.MkdirAll(gameDir, 0o755))

	out, err := run(t, "library", "add-game", gameDir, "--title", "Test Game", "--version", "01.00")
	require.NoError(t, err)
	require.Contains(t, out, "Added game")

	_, err = run(t, "library", "add-emulator", "nightly", filepath.Join(dir, "emu"), "--select")
	require.NoError(t, err)
	_, err = run(t, "library", "set-user-dir", filepath.Join(dir, "user"))
	require.NoError(t, err)

	out, err = run(t, "library", "list", "-o", "json")
	require.NoError(t, err)
	var listing libraryListing
	require.NoError(t, json.Unmarshal([]byte(out), &listing))
	require.Len(t, listing.Games, 1)
	require.Equal(t, "CUSA01234", listing.Games[0].CUSA)
	require.Equal(t, "Test Game", listing.Games[0].Title)
	require.Len(t, listing.Emulators, 1)
	require.True(t, listing.Emulators[0].Selected)
	require.Equal(t, filepath.Join(dir, "user"), listing.UserDir)

	out, err = run(t, "library", "list", "-o", "yaml")
	require.NoError(t, err)
	var fromYAML libraryListing
	require.NoError(t, yaml.Unmarshal([]byte(out), &fromYAML))
	require.Equal(t, listing, fromYAML)

	out, err = run(t, "library", "list")
	require.NoError(t, err)
	require.Contains(t, out, "Test Game")
	require.Contains(t, out, "nightly")

	gameID := listing.Games[0].ID
	out, err = run(t, "library", "add-cheat", gameID, "GoldHEN", "Infinite Health", "--mem", "0x10:1:0", "--mem", "0x20:90:75")
	require.NoError(t, err)
	require.Contains(t, out, "2 memory writes")
	_, err = run(t, "library", "enable-cheat", gameID, "GoldHEN", "Infinite Health")
	require.NoError(t, err)
	_, err = run(t, "library", "enable-cheat", gameID, "GoldHEN", "Moon Jump")
	require.Error(t, err)
	_, err = run(t, "library", "add-cheat", gameID, "GoldHEN", "Broken", "--mem", "0x10")
	require.Error(t, err)

	_, err = run(t, "library", "list", "-o", "xml")
	require.Error(t, err)
	_, err = run(t, "library", "select-emulator", "missing")
	require.Error(t, err)

	_, err = run(t, "library", "remove-game", listing.Games[0].ID)
	require.NoError(t, err)
	_, err = run(t, "library", "remove-game", listing.Games[0].ID)
	require.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	dir := setupEnv(t)
	out, err := run(t, "token", "--subject", "tester")
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(out), "."), 3)

	_, err = os.Stat(filepath.Join(dir, "data", "jwtsecret.key"))
	require.NoError(t, err)
}

func TestLaunchUnknownGame(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "launch", "missing")
	require.Error(t, err)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("stdout closed")
}

func TestLogFollower(t *testing.T) {
	lb := processes.NewLogBuffer()
	ts := time.Date(2024, 5, 1, 13, 4, 5, 0, time.UTC)
	lb.Append(ts, processes.LevelInfo, "Core", "one")
	lb.Append(ts, processes.LevelInfo, "Core", "two")

	var out bytes.Buffer
	follow := &logFollower{log: lb, out: &out}
	require.NoError(t, follow.flush())
	lb.Append(ts, processes.LevelWarning, "Render", "three")
	require.NoError(t, follow.flush())
	require.NoError(t, follow.flush())

	require.Equal(t, []string{
		"13:04:05 [Core] <info> one",
		"13:04:05 [Core] <info> two",
		"13:04:05 [Render] <warning> three",
	}, strings.Split(strings.TrimSpace(out.String()), "\n"))

	failing := &logFollower{log: lb, out: failingWriter{}}
	require.ErrorContains(t, failing.flush(), "stdout closed")
	require.Zero(t, failing.printed)
}
