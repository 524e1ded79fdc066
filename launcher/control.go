package launcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomyedwab/emuhub/ipc"
	"github.com/tomyedwab/emuhub/processes"
)

// restart relaunches rg with the executable and working directory of old and
// the given args. old is always killed and disposed, after the replacement is
// installed on rg.
func (l *Launcher) restart(rg *processes.RunningGame, old processes.Process, args []string) {
	defer func() {
		old.Kill()
		old.Dispose()
	}()

	_, err := l.Launch(context.Background(), rg.Game, Options{
		Existing:   rg,
		Exe:        old.Exe(),
		WorkingDir: old.WorkingDir(),
		Args:       args,
	})
	switch {
	case errors.Is(err, processes.ErrGameRemoved):
		l.logger.Info("Running game discarded during restart", "id", rg.ID)
		return
	case err != nil:
		rg.SetFailed(fmt.Errorf("restart failed: %w", err))
		l.record("restart_failed", l.recorder.LogRestartFailed(rg.Game.ID, rg.ID, err))
		return
	}
	pid := 0
	if p := rg.Process(); p != nil {
		pid = p.PID()
	}
	l.record("restart", l.recorder.LogRestart(rg.Game.ID, rg.ID, pid, args))
}

// SetCheatActive persists the enabled flag of a cheat mod and, when the
// running game accepts memory patches, applies the mod's on or off values
// immediately. It reports whether patches were sent.
func (l *Launcher) SetCheatActive(ctx context.Context, rg *processes.RunningGame, repo, name string, enable bool) (bool, error) {
	if l.cheats == nil {
		return false, fmt.Errorf("no cheat resolver configured")
	}
	mod, err := l.cheats.SetCheatEnabled(ctx, rg.Game, repo, name, enable)
	if err != nil {
		return false, err
	}
	if !rg.HasIPC() || !rg.HasCapability(ipc.CapMemoryPatch) || rg.Status().State != processes.StateRunning {
		return false, nil
	}
	proc := rg.Process()
	if proc == nil {
		return false, nil
	}
	for _, mem := range mod.Memory {
		value := mem.Off
		if enable {
			value = mem.On
		}
		patch := ipc.NewMemoryPatch(mod.Name, mem.Offset, value)
		patch.IsOffset = mod.Hint == ""
		proc.SendMemoryPatch(patch)
	}
	l.logger.Info("Cheat toggled", "id", rg.ID, "cheat", name, "enabled", enable, "patches", len(mod.Memory))
	return true, nil
}

// Discard removes rg and kills its process.
func (l *Launcher) Discard(rg *processes.RunningGame) {
	if _, ok := l.registry.Get(rg.ID); !ok {
		return
	}
	l.registry.Remove(rg)
	l.record("discard", l.recorder.LogDiscard(rg.Game.ID, rg.ID))
}

// StopAll asks every running game to stop, waits up to grace for them to
// exit and then removes all of them, killing what is left.
func (l *Launcher) StopAll(ctx context.Context, grace time.Duration) {
	games := l.registry.List()
	for _, rg := range games {
		if rg.Status().State == processes.StateRunning {
			if p := rg.Process(); p != nil {
				p.Send(ipc.CmdStop)
			}
		}
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
wait:
	for {
		running := 0
		for _, rg := range games {
			if rg.Status().State == processes.StateRunning {
				running++
			}
		}
		if running == 0 {
			break
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			l.logger.Warn("Games did not stop in time, killing", "running", running)
			break wait
		case <-ctx.Done():
			break wait
		}
	}
	l.registry.RemoveAll()
}
