// Package launcher starts games under an emulator and drives the control
// channel of the resulting process: the startup handshake, memory patches,
// and restarts requested by the emulator.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/tomyedwab/emuhub/ipc"
	"github.com/tomyedwab/emuhub/library"
	"github.com/tomyedwab/emuhub/processes"
)

const defaultHandshakeTimeout = 5000 * time.Millisecond

// PathResolver provides the emulator to launch with and the base directory
// it runs in.
type PathResolver interface {
	SelectedEmulator(ctx context.Context) (library.Emulator, bool, error)
	UserDir(ctx context.Context) (string, error)
}

// CheatResolver provides the cheat mods of a game. Mods are returned already
// parsed.
type CheatResolver interface {
	EnabledCheats(ctx context.Context, game library.Game) ([]library.CheatMod, error)
	SetCheatEnabled(ctx context.Context, game library.Game, repo, name string, enabled bool) (library.CheatMod, error)
}

// PatchResolver provides the patch file of the enabled patch repository.
type PatchResolver interface {
	PatchFile(ctx context.Context, game library.Game) (string, error)
}

// SpawnFunc starts an emulator process.
type SpawnFunc func(exe, workingDir string, args []string) (processes.Process, error)

// Config holds configuration options for the Launcher.
type Config struct {
	Registry         *processes.Registry
	Paths            PathResolver
	Cheats           CheatResolver // Optional, no cheats are applied when nil
	Patches          PatchResolver // Optional, no patch file is passed when nil
	Notifier         Notifier      // Optional, defaults to LogNotifier
	Recorder         Recorder      // Optional, no history is kept when nil
	Spawn            SpawnFunc     // Optional, defaults to processes.Spawn
	Logger           *slog.Logger  // Optional, defaults to slog.Default()
	HandshakeTimeout time.Duration // Optional, defaults to 5s
}

// Launcher launches games and supervises their control channel.
type Launcher struct {
	registry         *processes.Registry
	paths            PathResolver
	cheats           CheatResolver
	patches          PatchResolver
	notifier         Notifier
	recorder         Recorder
	spawn            SpawnFunc
	logger           *slog.Logger
	handshakeTimeout time.Duration
}

// New creates a Launcher.
func New(config Config) (*Launcher, error) {
	if config.Registry == nil {
		return nil, fmt.Errorf("Registry is required")
	}
	if config.Paths == nil {
		return nil, fmt.Errorf("PathResolver is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := config.Notifier
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	var recorder Recorder = nopRecorder{}
	if config.Recorder != nil {
		recorder = config.Recorder
	}
	timeout := config.HandshakeTimeout
	if timeout == 0 {
		timeout = defaultHandshakeTimeout
	}

	l := &Launcher{
		registry:         config.Registry,
		paths:            config.Paths,
		cheats:           config.Cheats,
		patches:          config.Patches,
		notifier:         notifier,
		recorder:         recorder,
		spawn:            config.Spawn,
		logger:           logger.With("component", "Launcher"),
		handshakeTimeout: timeout,
	}
	if l.spawn == nil {
		l.spawn = func(exe, workingDir string, args []string) (processes.Process, error) {
			p, err := processes.Spawn(exe, workingDir, args, processes.WithLogger(logger))
			if err != nil {
				return nil, err
			}
			return p, nil
		}
	}
	return l, nil
}

// Registry returns the registry running games are tracked in.
func (l *Launcher) Registry() *processes.Registry {
	return l.registry
}

// Options override parts of a launch. A nil Args builds the default argument
// vector; a non-nil Args is used verbatim, even when empty.
type Options struct {
	Existing   *processes.RunningGame
	Exe        string
	WorkingDir string
	Args       []string
}

// Launch starts game and waits for the emulator to become ready. It returns
// a *Warning for user-correctable problems, and any other error when the
// launch failed. Either way, nothing is left running.
func (l *Launcher) Launch(ctx context.Context, game library.Game, opts Options) (*processes.RunningGame, error) {
	rg, err := l.launch(ctx, game, opts)
	if err != nil {
		if errors.Is(err, processes.ErrGameRemoved) {
			return nil, err
		}
		var w *Warning
		if errors.As(err, &w) {
			l.notifier.Warn(game, w)
			return nil, err
		}
		l.notifier.Error(game, err)
		if opts.Existing == nil {
			l.record("launch_failed", l.recorder.LogLaunchFailed(game.ID, err))
		}
		return nil, err
	}

	if opts.Existing == nil {
		if p := rg.Process(); p != nil {
			l.record("launch", l.recorder.LogLaunch(game.ID, rg.ID, p.PID(), p.Args()))
		}
	}
	l.notifier.Launched(rg)
	return rg, nil
}

func (l *Launcher) launch(ctx context.Context, game library.Game, opts Options) (rg *processes.RunningGame, err error) {
	var proc processes.Process
	registered := false
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Panic during launch", "gameID", game.ID, "panic", r, "stack", string(debug.Stack()))
			if registered {
				l.registry.Remove(rg)
			} else if proc != nil {
				proc.Kill()
				proc.Dispose()
			}
			rg, err = nil, fmt.Errorf("unexpected error while launching %s: %v", game.Title, r)
		}
	}()

	exe := opts.Exe
	if exe == "" {
		emu, ok, err := l.paths.SelectedEmulator(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve the selected emulator: %w", err)
		}
		if !ok {
			return nil, warningf("No emulator selected")
		}
		exe = emu.BinaryPath()
	}
	gameBinary := game.BinaryPath()
	if !fileExists(gameBinary) {
		return nil, warningf("Game binary (eboot.bin) not found: %s", gameBinary)
	}
	if !fileExists(exe) {
		return nil, warningf("Emulator binary not found: %s", exe)
	}

	workingDir := opts.WorkingDir
	if workingDir == "" {
		userDir, err := l.paths.UserDir(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve the user directory: %w", err)
		}
		workingDir = userDir
		if workingDir == "" {
			workingDir = filepath.Dir(exe)
		}
	}
	if err := os.MkdirAll(filepath.Join(workingDir, "user"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create user directory: %w", err)
	}

	args := opts.Args
	if args == nil {
		patchFile, err := l.patchFile(ctx, game)
		if err != nil {
			return nil, err
		}
		if patchFile != "" {
			args = append(args, "-p", patchFile)
		}
		args = append(args, gameBinary)
	}

	proc, err = l.spawn(exe, workingDir, args)
	if err != nil {
		return nil, err
	}

	ready := newReadySignal()
	if opts.Existing != nil {
		if _, err := l.registry.ReplaceProcess(opts.Existing, proc, newSession(l, opts.Existing, proc, ready).handle); err != nil {
			proc.Kill()
			proc.Dispose()
			return nil, err
		}
		rg = opts.Existing
	} else {
		rg = l.registry.Create(game, proc, func(rg *processes.RunningGame) processes.Observer {
			return newSession(l, rg, proc, ready).handle
		})
	}
	registered = true
	logger := l.logger.With("gameID", game.ID, "id", rg.ID, "pid", proc.PID())

	timer := time.NewTimer(l.handshakeTimeout)
	defer timer.Stop()
	select {
	case <-ready.Done():
	case <-timer.C:
		logger.Warn("Handshake timed out", "timeout", l.handshakeTimeout)
		l.registry.Remove(rg)
		return nil, fmt.Errorf("%w after %s", ErrHandshakeTimeout, l.handshakeTimeout)
	case <-ctx.Done():
		l.registry.Remove(rg)
		return nil, ctx.Err()
	}

	if rg.HasIPC() && rg.HasCapability(ipc.CapMemoryPatch) {
		l.applyCheats(ctx, logger, rg, proc)
	}
	proc.Send(ipc.CmdStart)
	logger.Info("Game started", "hasIPC", rg.HasIPC(), "capabilities", rg.Capabilities())
	return rg, nil
}

func (l *Launcher) patchFile(ctx context.Context, game library.Game) (string, error) {
	if l.patches == nil {
		return "", nil
	}
	patchFile, err := l.patches.PatchFile(ctx, game)
	if err != nil {
		return "", fmt.Errorf("failed to resolve patch file: %w", err)
	}
	if patchFile == "" {
		return "", nil
	}
	abs, err := filepath.Abs(patchFile)
	if err != nil {
		return "", fmt.Errorf("failed to resolve patch file %s: %w", patchFile, err)
	}
	return abs, nil
}

// applyCheats sends one PATCH_MEMORY per memory record of every enabled mod.
// A resolver failure is logged and the game starts without cheats.
func (l *Launcher) applyCheats(ctx context.Context, logger *slog.Logger, rg *processes.RunningGame, proc processes.Process) {
	if l.cheats == nil {
		return
	}
	mods, err := l.cheats.EnabledCheats(ctx, rg.Game)
	if err != nil {
		logger.Warn("Failed to resolve cheats", "error", err)
		return
	}
	sent := 0
	for _, mod := range mods {
		for _, mem := range mod.Memory {
			patch := ipc.NewMemoryPatch(mod.Name, mem.Offset, mem.On)
			patch.IsOffset = mod.Hint == ""
			proc.SendMemoryPatch(patch)
			sent++
		}
	}
	if sent > 0 {
		logger.Info("Applied cheats", "mods", len(mods), "patches", sent)
	}
}

func (l *Launcher) record(event string, err error) {
	if err != nil {
		l.logger.Warn("Failed to record run history", "event", event, "error", err)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
