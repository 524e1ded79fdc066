package launcher

import (
	"log/slog"

	"github.com/tomyedwab/emuhub/library"
	"github.com/tomyedwab/emuhub/processes"
)

// Notifier surfaces launch outcomes to the user.
type Notifier interface {
	Warn(game library.Game, w *Warning)
	Error(game library.Game, err error)
	Launched(rg *processes.RunningGame)
}

// Recorder keeps the run history of games. *audit.Logger implements it.
type Recorder interface {
	LogLaunch(gameID, instanceID string, pid int, args []string) error
	LogLaunchFailed(gameID string, reason error) error
	LogExit(gameID, instanceID string, pid, exitCode int) error
	LogRestart(gameID, instanceID string, pid int, args []string) error
	LogRestartFailed(gameID, instanceID string, reason error) error
	LogDiscard(gameID, instanceID string) error
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

func (n LogNotifier) Warn(game library.Game, w *Warning) {
	n.logger().Warn("Game not launched", "gameID", game.ID, "title", game.Title, "reason", w.Message)
}

func (n LogNotifier) Error(game library.Game, err error) {
	n.logger().Error("Couldn't start the game", "gameID", game.ID, "title", game.Title, "error", err)
}

func (n LogNotifier) Launched(rg *processes.RunningGame) {
	n.logger().Info("Game launched", "gameID", rg.Game.ID, "title", rg.Game.Title, "id", rg.ID)
}

type nopRecorder struct{}

func (nopRecorder) LogLaunch(string, string, int, []string) error  { return nil }
func (nopRecorder) LogLaunchFailed(string, error) error            { return nil }
func (nopRecorder) LogExit(string, string, int, int) error         { return nil }
func (nopRecorder) LogRestart(string, string, int, []string) error { return nil }
func (nopRecorder) LogRestartFailed(string, string, error) error   { return nil }
func (nopRecorder) LogDiscard(string, string) error                { return nil }
