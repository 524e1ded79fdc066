package processes

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/tomyedwab/emuhub/library"
)

// Registry is the set of running games. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	games  map[string]*RunningGame // Keyed by RunningGame.ID
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger uses slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		games:  make(map[string]*RunningGame),
		logger: logger.With("component", "Registry"),
	}
}

// Create registers a new running game for p. observe is called with the new
// game to build the observer of p's events before they start flowing.
func (r *Registry) Create(game library.Game, p Process, observe func(*RunningGame) Observer) *RunningGame {
	rg := newRunningGame(game)

	r.mu.Lock()
	r.games[rg.ID] = rg
	r.order = append(r.order, rg.ID)
	r.mu.Unlock()

	// A fresh game cannot have been released yet.
	_, _ = rg.attach(p, observe(rg))
	r.logger.Info("Running game created", "id", rg.ID, "gameID", game.ID, "pid", p.PID())
	return rg
}

// ReplaceProcess installs p on rg with o as its observer and returns the
// previous process. The caller owns the previous process and must kill and
// dispose it. It returns ErrGameRemoved without touching p when rg is no
// longer registered; p then still belongs to the caller.
func (r *Registry) ReplaceProcess(rg *RunningGame, p Process, o Observer) (Process, error) {
	if _, ok := r.Get(rg.ID); !ok {
		return nil, ErrGameRemoved
	}
	// Remove may run between the lookup above and attach; attach then sees
	// the released game and fails, or the new process is the one Remove kills.
	old, err := rg.attach(p, o)
	if err != nil {
		return nil, err
	}
	oldPID := 0
	if old != nil {
		oldPID = old.PID()
	}
	r.logger.Info("Running game process replaced", "id", rg.ID, "oldPID", oldPID, "pid", p.PID())
	return old, nil
}

// Remove drops rg from the registry and kills and disposes its process. The
// game keeps no process reference afterwards. It does nothing if rg was
// already removed.
func (r *Registry) Remove(rg *RunningGame) {
	r.mu.Lock()
	if _, ok := r.games[rg.ID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.games, rg.ID)
	if i := slices.Index(r.order, rg.ID); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	r.mu.Unlock()

	if p := rg.release(); p != nil {
		p.Kill()
		p.Dispose()
	}
	r.logger.Info("Running game removed", "id", rg.ID, "gameID", rg.Game.ID)
}

// Get returns the running game with the given ID.
func (r *Registry) Get(id string) (*RunningGame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rg, ok := r.games[id]
	return rg, ok
}

// List returns the running games in creation order.
func (r *Registry) List() []*RunningGame {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*RunningGame, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.games[id])
	}
	return result
}

// FindByGame returns the running games launched for a library game.
func (r *Registry) FindByGame(gameID string) []*RunningGame {
	var result []*RunningGame
	for _, rg := range r.List() {
		if rg.Game.ID == gameID {
			result = append(result, rg)
		}
	}
	return result
}

// RemoveAll removes every running game, killing their processes.
func (r *Registry) RemoveAll() {
	for _, rg := range r.List() {
		r.Remove(rg)
	}
}
