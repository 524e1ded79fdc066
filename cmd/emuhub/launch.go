package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomyedwab/emuhub/launcher"
	"github.com/tomyedwab/emuhub/processes"
)

func newLaunchCmd() *cobra.Command {
	var (
		saveLog string
		args    []string
	)
	cmd := &cobra.Command{
		Use:   "launch <game-id>",
		Short: "Launch a game in the foreground and print its log",
		Long:  "Launch a game, print its log until the emulator exits and optionally save\nthe log to a file. Ctrl+C asks the emulator to stop.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var opts launcher.Options
			if cmd.Flags().Changed("arg") {
				opts.Args = append([]string{}, args...)
			}
			return launchForeground(cmd.Context(), a, posArgs[0], opts, cmd.OutOrStdout(), saveLog)
		},
	}
	cmd.Flags().StringVar(&saveLog, "save-log", "", "write the full log to this file when the game exits")
	cmd.Flags().StringArrayVar(&args, "arg", nil, "emulator argument, repeatable; replaces the default arguments")
	return cmd
}

func launchForeground(parent context.Context, a *app, gameID string, opts launcher.Options, out io.Writer, saveLog string) error {
	game, err := a.store.GetGame(parent, gameID)
	if err != nil {
		return err
	}
	l, err := launcher.New(launcher.Config{
		Registry:         processes.NewRegistry(a.logger),
		Paths:            a.store,
		Cheats:           a.store,
		Patches:          a.store,
		Recorder:         a.history,
		Logger:           a.logger,
		HandshakeTimeout: a.cfg.HandshakeTimeout.Duration,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rg, err := l.Launch(ctx, game, opts)
	if err != nil {
		return err
	}

	follow := &logFollower{log: rg.Log, out: out}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	var printErr error
wait:
	for {
		if printErr = follow.flush(); printErr != nil {
			break
		}
		if rg.Status().State != processes.StateRunning {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			break wait
		}
	}
	l.StopAll(context.Background(), a.cfg.StopGracePeriod.Duration)
	if printErr == nil {
		printErr = follow.flush()
	}

	if saveLog != "" {
		f, err := os.Create(saveLog)
		if err != nil {
			return err
		}
		if err := rg.Log.Export(f, processes.Filter{}); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}

	if printErr != nil {
		return printErr
	}

	status := rg.Status()
	switch status.State {
	case processes.StateFailed:
		return fmt.Errorf("%s: %s", game.Title, rg.LastError())
	case processes.StateExited:
		if status.ExitCode != 0 {
			return fmt.Errorf("%s exited with code %d", game.Title, status.ExitCode)
		}
	}
	return nil
}

// logFollower prints the entries of a log buffer in ID order, each once.
type logFollower struct {
	log     *processes.LogBuffer
	out     io.Writer
	printed int64
}

func (f *logFollower) flush() error {
	for _, entry := range f.log.Entries(processes.Filter{FromID: f.printed}) {
		if err := processes.WriteEntry(f.out, entry); err != nil {
			return err
		}
		f.printed = entry.ID
	}
	return nil
}
