package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// EventType represents the type of run history event
type EventType string

const (
	EventLaunch        EventType = "launch"
	EventLaunchFailed  EventType = "launch_failed"
	EventExit          EventType = "exit"
	EventRestart       EventType = "restart"
	EventRestartFailed EventType = "restart_failed"
	EventDiscard       EventType = "discard"
)

// GameEvent represents a run history entry in the database
type GameEvent struct {
	ID         string `db:"id" json:"id" yaml:"id"`
	EventType  string `db:"event_type" json:"eventType" yaml:"event_type"`
	Timestamp  int64  `db:"timestamp" json:"timestamp" yaml:"timestamp"`
	GameID     string `db:"game_id" json:"gameId" yaml:"game_id"`
	InstanceID string `db:"instance_id" json:"instanceId" yaml:"instance_id"`
	PID        *int   `db:"pid" json:"pid,omitempty" yaml:"pid,omitempty"` // Nullable when no process was started
	Detail     string `db:"detail" json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Logger records the launch history of games
type Logger struct {
	db *sqlx.DB
}

// NewLogger creates a new run history logger instance
func NewLogger(db *sqlx.DB) (*Logger, error) {
	if err := DBInit(db); err != nil {
		return nil, err
	}
	return &Logger{
		db: db,
	}, nil
}

// DBInit initializes the game events database table
func DBInit(db *sqlx.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS game_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		game_id TEXT NOT NULL,
		instance_id TEXT NOT NULL DEFAULT '',
		pid INTEGER,
		detail TEXT NOT NULL DEFAULT ''
	)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_game_events_timestamp ON game_events(timestamp)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_game_events_game_id ON game_events(game_id)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_game_events_event_type ON game_events(event_type)`)
	return err
}

func (l *Logger) insertEvent(event *GameEvent) error {
	_, err := l.db.Exec(`
		INSERT INTO game_events (id, event_type, timestamp, game_id, instance_id, pid, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID,
		event.EventType,
		event.Timestamp,
		event.GameID,
		event.InstanceID,
		event.PID,
		event.Detail,
	)
	return err
}

func newEvent(eventType EventType, gameID, instanceID string, pid int, detail string) *GameEvent {
	event := &GameEvent{
		ID:         uuid.New().String(),
		EventType:  string(eventType),
		Timestamp:  time.Now().UTC().Unix(),
		GameID:     gameID,
		InstanceID: instanceID,
		Detail:     detail,
	}
	if pid > 0 {
		event.PID = &pid
	}
	return event
}

// LogLaunch logs a game that passed its startup handshake
func (l *Logger) LogLaunch(gameID, instanceID string, pid int, args []string) error {
	return l.insertEvent(newEvent(EventLaunch, gameID, instanceID, pid, joinArgs(args)))
}

// LogLaunchFailed logs a launch that returned an error
func (l *Logger) LogLaunchFailed(gameID string, reason error) error {
	return l.insertEvent(newEvent(EventLaunchFailed, gameID, "", 0, reason.Error()))
}

// LogExit logs the exit of a game process
func (l *Logger) LogExit(gameID, instanceID string, pid, exitCode int) error {
	event := newEvent(EventExit, gameID, instanceID, pid, "")
	event.Detail = exitDetail(exitCode)
	return l.insertEvent(event)
}

// LogRestart logs a restart requested by the emulator
func (l *Logger) LogRestart(gameID, instanceID string, pid int, args []string) error {
	return l.insertEvent(newEvent(EventRestart, gameID, instanceID, pid, joinArgs(args)))
}

// LogRestartFailed logs a restart whose replacement process did not start
func (l *Logger) LogRestartFailed(gameID, instanceID string, reason error) error {
	return l.insertEvent(newEvent(EventRestartFailed, gameID, instanceID, 0, reason.Error()))
}

// LogDiscard logs a running game removed by the user
func (l *Logger) LogDiscard(gameID, instanceID string) error {
	return l.insertEvent(newEvent(EventDiscard, gameID, instanceID, 0, ""))
}

// GetEventsByGame retrieves run history for a specific game
func (l *Logger) GetEventsByGame(gameID string, limit int) ([]GameEvent, error) {
	events := []GameEvent{}
	err := l.db.Select(&events,
		"SELECT * FROM game_events WHERE game_id = $1 ORDER BY timestamp DESC, rowid DESC LIMIT $2",
		gameID, limit)
	return events, err
}

// GetEventsByType retrieves run history events of a specific type
func (l *Logger) GetEventsByType(eventType EventType, limit int) ([]GameEvent, error) {
	events := []GameEvent{}
	err := l.db.Select(&events,
		"SELECT * FROM game_events WHERE event_type = $1 ORDER BY timestamp DESC, rowid DESC LIMIT $2",
		string(eventType), limit)
	return events, err
}

// GetRecentEvents retrieves the most recent run history events
func (l *Logger) GetRecentEvents(limit int) ([]GameEvent, error) {
	events := []GameEvent{}
	err := l.db.Select(&events,
		"SELECT * FROM game_events ORDER BY timestamp DESC, rowid DESC LIMIT $1",
		limit)
	return events, err
}

// DeleteOldEvents deletes run history events older than the specified duration
func (l *Logger) DeleteOldEvents(olderThan time.Duration) (int64, error) {
	threshold := time.Now().UTC().Add(-olderThan).Unix()
	result, err := l.db.Exec("DELETE FROM game_events WHERE timestamp < $1", threshold)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
