package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/tomyedwab/emuhub/audit"
	"github.com/tomyedwab/emuhub/config"
	"github.com/tomyedwab/emuhub/library"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "emuhub",
		Short:         "Launch and supervise emulated games",
		Long:          "emuhub launches games in the shadPS4 emulator, talks to it over its\nstdio control channel and keeps the logs of every running game.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("config", "", "config file (default $EMUHUB_CONFIG or the user config dir)")

	cmd.AddCommand(
		newServeCmd(),
		newLaunchCmd(),
		newLibraryCmd(),
		newTokenCmd(),
	)
	return cmd
}

// app holds what every subcommand opens: configuration, logger and the
// sqlite backed library and run history.
type app struct {
	configPath string
	cfg        config.Config
	level      *slog.LevelVar
	logger     *slog.Logger
	db         *sqlx.DB
	store      *library.Store
	history    *audit.Logger
}

func openApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	levelVar := new(slog.LevelVar)
	levelVar.Set(level)
	logger := slog.New(cfg.NewLogHandler(cmd.ErrOrStderr(), levelVar))

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	db, err := sqlx.Connect("sqlite3", cfg.DBPath()+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", cfg.DBPath(), err)
	}
	store, err := library.NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	history, err := audit.NewLogger(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &app{
		configPath: path,
		cfg:        cfg,
		level:      levelVar,
		logger:     logger,
		db:         db,
		store:      store,
		history:    history,
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
