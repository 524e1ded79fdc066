// Package api serves the HTTP read model and control endpoints for running
// games.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tomyedwab/emuhub/api/middleware"
	"github.com/tomyedwab/emuhub/audit"
	"github.com/tomyedwab/emuhub/launcher"
	"github.com/tomyedwab/emuhub/library"
	"github.com/tomyedwab/emuhub/processes"
)

const (
	defaultKeepalive    = 30 * time.Second
	defaultHistoryLimit = 100
)

// GameLookup resolves games from the library.
type GameLookup interface {
	GetGame(ctx context.Context, id string) (library.Game, error)
	ListGames(ctx context.Context) ([]library.Game, error)
}

// HistoryReader reads the run history of a game.
type HistoryReader interface {
	GetEventsByGame(gameID string, limit int) ([]audit.GameEvent, error)
}

// Config holds configuration options for the Server.
type Config struct {
	Launcher    *launcher.Launcher
	Games       GameLookup
	History     HistoryReader // Optional, history endpoint returns 404 when nil
	Secret      []byte        // Optional, authentication is disabled when nil
	CrossOrigin bool
	Logger      *slog.Logger  // Optional, defaults to slog.Default()
	Keepalive   time.Duration // Optional, defaults to 30s
}

// Server routes API requests to the launcher and registry.
type Server struct {
	launcher  *launcher.Launcher
	registry  *processes.Registry
	games     GameLookup
	history   HistoryReader
	logger    *slog.Logger
	keepalive time.Duration
	mux       *http.ServeMux
}

// NewServer creates a Server and registers its routes.
func NewServer(config Config) (*Server, error) {
	if config.Launcher == nil {
		return nil, fmt.Errorf("Launcher is required")
	}
	if config.Games == nil {
		return nil, fmt.Errorf("GameLookup is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	keepalive := config.Keepalive
	if keepalive == 0 {
		keepalive = defaultKeepalive
	}

	s := &Server{
		launcher:  config.Launcher,
		registry:  config.Launcher.Registry(),
		games:     config.Games,
		history:   config.History,
		logger:    logger.With("component", "API"),
		keepalive: keepalive,
		mux:       http.NewServeMux(),
	}

	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		mw := []func(http.HandlerFunc) http.HandlerFunc{}
		if config.Secret != nil {
			mw = append(mw, middleware.LoginRequired(config.Secret))
		}
		mw = append(mw, middleware.EnableCrossOrigin(config.CrossOrigin), middleware.LogRequests(logger))
		return middleware.Chain(h, mw...)
	}

	s.mux.HandleFunc("GET /api/games", wrap(s.handleListGames))
	s.mux.HandleFunc("POST /api/games/{gameID}/launch", wrap(s.handleLaunch))
	s.mux.HandleFunc("GET /api/games/{gameID}/history", wrap(s.handleHistory))
	s.mux.HandleFunc("GET /api/running", wrap(s.handleListRunning))
	s.mux.HandleFunc("GET /api/running/{id}", wrap(s.handleGetRunning))
	s.mux.HandleFunc("DELETE /api/running/{id}", wrap(s.handleDiscard))
	s.mux.HandleFunc("POST /api/running/{id}/kill", wrap(s.handleKill))
	s.mux.HandleFunc("POST /api/running/{id}/cheats", wrap(s.handleCheat))
	s.mux.HandleFunc("GET /api/running/{id}/logs", wrap(s.handleLogs))
	s.mux.HandleFunc("GET /api/running/{id}/logs/stream", wrap(s.handleLogStream))
	// Preflight requests carry no credentials.
	s.mux.HandleFunc("OPTIONS /api/", middleware.EnableCrossOrigin(config.CrossOrigin)(func(http.ResponseWriter, *http.Request) {}))
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) runningGame(w http.ResponseWriter, r *http.Request) (*processes.RunningGame, bool) {
	rg, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "Running game not found", http.StatusNotFound)
	}
	return rg, ok
}

func (s *Server) game(w http.ResponseWriter, r *http.Request) (library.Game, bool) {
	game, err := s.games.GetGame(r.Context(), r.PathValue("gameID"))
	if errors.Is(err, library.ErrGameNotFound) {
		http.Error(w, "Game not found", http.StatusNotFound)
		return library.Game{}, false
	}
	if err != nil {
		s.logger.Error("Failed to look up game", "gameID", r.PathValue("gameID"), "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return library.Game{}, false
	}
	return game, true
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.games.ListGames(r.Context())
	if err != nil {
		s.logger.Error("Failed to list games", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if games == nil {
		games = []library.Game{}
	}
	writeJSON(w, http.StatusOK, games)
}

type launchRequest struct {
	Args []string `json:"args"`
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	game, ok := s.game(w, r)
	if !ok {
		return
	}
	var req launchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rg, err := s.launcher.Launch(r.Context(), game, launcher.Options{Args: req.Args})
	if launcher.IsWarning(err) {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, rg.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "Run history is not enabled", http.StatusNotFound)
		return
	}
	game, ok := s.game(w, r)
	if !ok {
		return
	}
	events, err := s.history.GetEventsByGame(game.ID, defaultHistoryLimit)
	if err != nil {
		s.logger.Error("Failed to read run history", "gameID", game.ID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []audit.GameEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListRunning(w http.ResponseWriter, r *http.Request) {
	games := s.registry.List()
	snapshots := make([]processes.Snapshot, 0, len(games))
	for _, rg := range games {
		snapshots = append(snapshots, rg.Snapshot())
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) handleGetRunning(w http.ResponseWriter, r *http.Request) {
	rg, ok := s.runningGame(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rg.Snapshot())
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	rg, ok := s.runningGame(w, r)
	if !ok {
		return
	}
	rg.Kill()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	rg, ok := s.runningGame(w, r)
	if !ok {
		return
	}
	s.launcher.Discard(rg)
	w.WriteHeader(http.StatusNoContent)
}

type cheatRequest struct {
	Repo    string `json:"repo"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

type cheatResponse struct {
	Applied bool `json:"applied"`
}

func (s *Server) handleCheat(w http.ResponseWriter, r *http.Request) {
	rg, ok := s.runningGame(w, r)
	if !ok {
		return
	}
	var req cheatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Repo == "" || req.Name == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	applied, err := s.launcher.SetCheatActive(r.Context(), rg, req.Repo, req.Name, req.Enabled)
	if errors.Is(err, library.ErrCheatNotFound) {
		http.Error(w, "Cheat not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("Failed to toggle cheat", "id", rg.ID, "cheat", req.Name, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cheatResponse{Applied: applied})
}
