package processes_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/emuhub/library"
	"github.com/tomyedwab/emuhub/processes"
	"github.com/tomyedwab/emuhub/processes/processestest"
)

func TestRegistryCreateAndRemove(t *testing.T) {
	r := processes.NewRegistry(nil)
	game := library.Game{ID: "g1", Path: "/games/g1"}
	p := processestest.New(100, "/emu/shadPS4", "/emu", []string{"/games/g1/eboot.bin"})

	var got []processes.Event
	var mu sync.Mutex
	rg := r.Create(game, p, func(rg *processes.RunningGame) processes.Observer {
		return func(ev processes.Event) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, ev)
		}
	})

	require.NotEmpty(t, rg.ID)
	require.Equal(t, processes.StateRunning, rg.Status().State)
	require.Same(t, p, rg.Process())

	found, ok := r.Get(rg.ID)
	require.True(t, ok)
	require.Same(t, rg, found)
	require.Len(t, r.FindByGame("g1"), 1)
	require.Empty(t, r.FindByGame("g2"))

	p.Emit(processes.LogClassAddedEvent{Class: "Core"})
	p.Drain()
	mu.Lock()
	require.Len(t, got, 1)
	mu.Unlock()

	r.Remove(rg)
	r.Remove(rg)
	require.Equal(t, 1, p.Kills(), "remove kills exactly once")
	require.Equal(t, 1, p.Disposes())
	_, ok = r.Get(rg.ID)
	require.False(t, ok)
	require.Empty(t, r.List())
}

func TestRegistryReplaceProcess(t *testing.T) {
	r := processes.NewRegistry(nil)
	oldProc := processestest.New(1, "/emu/shadPS4", "/emu", nil)
	rg := r.Create(library.Game{ID: "g1"}, oldProc, func(*processes.RunningGame) processes.Observer {
		return func(processes.Event) {}
	})
	rg.SetExited(0)
	rg.AddCapability("ENABLE_MEMORY_PATCH")
	rg.MarkIPC()

	newProc := processestest.New(2, "/emu/shadPS4", "/emu", []string{"-g"})
	var delivered int
	old, err := r.ReplaceProcess(rg, newProc, func(processes.Event) { delivered++ })
	require.NoError(t, err)

	require.Same(t, oldProc, old)
	require.Same(t, newProc, rg.Process())
	require.False(t, oldProc.Subscribed(), "old process observer detached")
	require.True(t, newProc.Subscribed())
	require.Equal(t, processes.StateRunning, rg.Status().State)
	require.True(t, rg.HasIPC(), "hasIPC survives a restart")
	require.True(t, rg.HasCapability("ENABLE_MEMORY_PATCH"))
	require.Zero(t, oldProc.Kills(), "replacing does not kill the old process")

	newProc.Emit(processes.ExitedEvent{ExitCode: 0})
	newProc.Drain()
	require.Equal(t, 1, delivered)
}

func TestRegistryRemoveReleasesProcess(t *testing.T) {
	r := processes.NewRegistry(nil)
	p := processestest.New(42, "/emu/shadPS4", "/emu", []string{"/games/g1/eboot.bin"})
	rg := r.Create(library.Game{ID: "g1"}, p, func(*processes.RunningGame) processes.Observer {
		return func(processes.Event) {}
	})

	r.Remove(rg)
	require.Nil(t, rg.Process())
	snap := rg.Snapshot()
	require.Zero(t, snap.PID)
	require.Empty(t, snap.Args)

	rg.Kill()
	require.Equal(t, 1, p.Kills(), "kill after remove is a no-op")
}

func TestRegistryReplaceProcessAfterRemove(t *testing.T) {
	r := processes.NewRegistry(nil)
	oldProc := processestest.New(1, "/emu/shadPS4", "/emu", nil)
	rg := r.Create(library.Game{ID: "g1"}, oldProc, func(*processes.RunningGame) processes.Observer {
		return func(processes.Event) {}
	})
	r.Remove(rg)

	newProc := processestest.New(2, "/emu/shadPS4", "/emu", nil)
	old, err := r.ReplaceProcess(rg, newProc, func(processes.Event) {})
	require.ErrorIs(t, err, processes.ErrGameRemoved)
	require.Nil(t, old)
	require.Nil(t, rg.Process())
	require.False(t, newProc.Subscribed())
	require.Zero(t, newProc.Kills(), "the rejected process is left to the caller")
	require.Empty(t, r.List())
}

func TestRegistryConcurrentUse(t *testing.T) {
	r := processes.NewRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := processestest.New(i, "emu", "", nil)
			rg := r.Create(library.Game{ID: "g"}, p, func(*processes.RunningGame) processes.Observer {
				return func(processes.Event) {}
			})
			_ = r.List()
			if i%2 == 0 {
				r.Remove(rg)
			}
		}(i)
	}
	wg.Wait()
	require.Len(t, r.List(), 10)

	r.RemoveAll()
	require.Empty(t, r.List())
}

func TestRunningGameState(t *testing.T) {
	r := processes.NewRegistry(nil)
	p := processestest.New(7, "emu", "/wd", []string{"a"})
	rg := r.Create(library.Game{ID: "g"}, p, func(*processes.RunningGame) processes.Observer {
		return func(processes.Event) {}
	})

	rg.AddCapability("X")
	rg.AddCapability("X")
	require.Equal(t, []string{"X"}, rg.Capabilities())
	require.False(t, rg.HasCapability("x"), "capabilities match exactly")

	rg.SetExited(5)
	require.Equal(t, processes.Status{State: processes.StateExited, ExitCode: 5}, rg.Status())

	rg.SetLastError("pipe closed")
	snap := rg.Snapshot()
	require.Equal(t, 7, snap.PID)
	require.Equal(t, []string{"a"}, snap.Args)
	require.Equal(t, "pipe closed", snap.LastError)
	require.Equal(t, "Exited", snap.Status.State.String())

	rg.Kill()
	require.Equal(t, 1, p.Kills())
}
