package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomyedwab/emuhub/api"
	"github.com/tomyedwab/emuhub/api/middleware"
	"github.com/tomyedwab/emuhub/config"
	"github.com/tomyedwab/emuhub/launcher"
	"github.com/tomyedwab/emuhub/processes"
)

func newServeCmd() *cobra.Command {
	var (
		crossOrigin bool
		retention   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API for launching and watching games",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a, crossOrigin, retention)
		},
	}
	cmd.Flags().BoolVar(&crossOrigin, "cross-origin", false, "allow browser clients from any origin")
	cmd.Flags().DurationVar(&retention, "history-retention", 90*24*time.Hour, "delete run history older than this at startup (0 keeps everything)")
	return cmd
}

func serve(parent context.Context, a *app, crossOrigin bool, retention time.Duration) error {
	logger := a.logger
	slog.SetDefault(logger)
	logger.Info("Starting emuhub", "listen", a.cfg.ListenAddr, "dataDir", a.cfg.DataDir)

	if retention > 0 {
		n, err := a.history.DeleteOldEvents(retention)
		if err != nil {
			logger.Warn("Failed to prune run history", "error", err)
		} else if n > 0 {
			logger.Info("Pruned run history", "deleted", n)
		}
	}

	var secret []byte
	if !a.cfg.Auth.Disabled {
		var err error
		if secret, err = middleware.LoadSecret(a.cfg.SecretPath()); err != nil {
			return err
		}
	} else {
		logger.Warn("API authentication is disabled")
	}

	registry := processes.NewRegistry(logger)
	l, err := launcher.New(launcher.Config{
		Registry:         registry,
		Paths:            a.store,
		Cheats:           a.store,
		Patches:          a.store,
		Recorder:         a.history,
		Logger:           logger,
		HandshakeTimeout: a.cfg.HandshakeTimeout.Duration,
	})
	if err != nil {
		return err
	}
	handler, err := api.NewServer(api.Config{
		Launcher:    l,
		Games:       a.store,
		History:     a.history,
		Secret:      secret,
		CrossOrigin: crossOrigin,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		err := config.Watch(ctx, a.configPath, logger, func(cfg config.Config) {
			level, err := config.ParseLevel(cfg.LogLevel)
			if err != nil {
				return
			}
			a.level.Set(level)
			if cfg.ListenAddr != a.cfg.ListenAddr || cfg.DataDir != a.cfg.DataDir {
				logger.Warn("listen_addr and data_dir changes take effect after a restart")
			}
		})
		if err != nil {
			logger.Warn("Config file is not watched", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end with ctx so log streams close on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			l.StopAll(context.Background(), a.cfg.StopGracePeriod.Duration)
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.StopGracePeriod.Duration+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server did not shut down cleanly", "error", err)
	}
	l.StopAll(shutdownCtx, a.cfg.StopGracePeriod.Duration)
	logger.Info("Stopped")
	return nil
}
