// Package library stores what the launcher needs to start a game: the game
// folders, installed emulators, user settings, and the cheat and patch data
// already resolved by the discovery tooling.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrGameNotFound     = errors.New("game not found")
	ErrEmulatorNotFound = errors.New("emulator not found")
	ErrCheatNotFound    = errors.New("cheat not found")
)

const settingUserDir = "user_dir"

// Game is a game folder known to the library.
type Game struct {
	ID        string `db:"id" json:"id" yaml:"id"`
	Path      string `db:"path" json:"path" yaml:"path"`
	CUSA      string `db:"cusa" json:"cusa" yaml:"cusa"`
	Title     string `db:"title" json:"title" yaml:"title"`
	Version   string `db:"version" json:"version" yaml:"version"`
	FwVersion string `db:"fw_version" json:"fwVersion" yaml:"fw_version"`
}

// BinaryPath returns the executable the emulator is pointed at.
func (g Game) BinaryPath() string {
	return filepath.Join(g.Path, "eboot.bin")
}

// Emulator is an installed emulator build.
type Emulator struct {
	ID       string `db:"id" json:"id" yaml:"id"`
	Name     string `db:"name" json:"name" yaml:"name"`
	Path     string `db:"path" json:"path" yaml:"path"`
	Selected bool   `db:"selected" json:"selected" yaml:"selected"`
}

// BinaryPath returns the emulator executable inside its install directory.
func (e Emulator) BinaryPath() string {
	name := "shadPS4"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(e.Path, name)
}

// Store is the sqlite-backed library.
type Store struct {
	db *sqlx.DB
}

// NewStore initializes the schema and returns a Store.
func NewStore(db *sqlx.DB) (*Store, error) {
	if err := DBInit(db); err != nil {
		return nil, fmt.Errorf("failed to initialize library database: %w", err)
	}
	return &Store{db: db}, nil
}

// AddGame inserts or updates a game keyed by its path. A new ID is assigned
// when g.ID is empty.
func (s *Store) AddGame(ctx context.Context, g Game) (Game, error) {
	if g.ID == "" {
		var existing string
		err := s.db.GetContext(ctx, &existing, "SELECT id FROM games WHERE path = $1", g.Path)
		switch {
		case err == nil:
			g.ID = existing
		case errors.Is(err, sql.ErrNoRows):
			g.ID = uuid.New().String()
		default:
			return Game{}, err
		}
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO games (id, path, cusa, title, version, fw_version)
		VALUES (:id, :path, :cusa, :title, :version, :fw_version)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path, cusa = excluded.cusa, title = excluded.title,
			version = excluded.version, fw_version = excluded.fw_version`, g)
	if err != nil {
		return Game{}, fmt.Errorf("failed to save game %s: %w", g.Path, err)
	}
	return g, nil
}

func (s *Store) GetGame(ctx context.Context, id string) (Game, error) {
	var g Game
	err := s.db.GetContext(ctx, &g, "SELECT * FROM games WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return Game{}, ErrGameNotFound
	}
	return g, err
}

func (s *Store) ListGames(ctx context.Context) ([]Game, error) {
	games := []Game{}
	err := s.db.SelectContext(ctx, &games, "SELECT * FROM games ORDER BY title, path")
	return games, err
}

func (s *Store) RemoveGame(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM games WHERE id = $1", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrGameNotFound
	}
	return nil
}

// AddEmulator registers an emulator install directory.
func (s *Store) AddEmulator(ctx context.Context, e Emulator) (Emulator, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO emulators (id, name, path, selected) VALUES (:id, :name, :path, :selected)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, path = excluded.path`, e)
	if err != nil {
		return Emulator{}, fmt.Errorf("failed to save emulator %s: %w", e.Path, err)
	}
	if e.Selected {
		if err := s.SelectEmulator(ctx, e.ID); err != nil {
			return Emulator{}, err
		}
	}
	return e, nil
}

func (s *Store) ListEmulators(ctx context.Context) ([]Emulator, error) {
	emulators := []Emulator{}
	err := s.db.SelectContext(ctx, &emulators, "SELECT * FROM emulators ORDER BY name")
	return emulators, err
}

// SelectEmulator marks id as the emulator used for launches.
func (s *Store) SelectEmulator(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var found int
	if err := tx.GetContext(ctx, &found, "SELECT COUNT(*) FROM emulators WHERE id = $1", id); err != nil {
		return err
	}
	if found == 0 {
		return ErrEmulatorNotFound
	}
	if _, err := tx.ExecContext(ctx, "UPDATE emulators SET selected = (id = $1)", id); err != nil {
		return err
	}
	return tx.Commit()
}

// SelectedEmulator returns the selected emulator. ok is false when none is.
func (s *Store) SelectedEmulator(ctx context.Context) (emu Emulator, ok bool, err error) {
	err = s.db.GetContext(ctx, &emu, "SELECT * FROM emulators WHERE selected = 1 LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return Emulator{}, false, nil
	}
	if err != nil {
		return Emulator{}, false, err
	}
	return emu, true, nil
}

func (s *Store) setSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Store) setting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM settings WHERE key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetUserDir sets the base directory emulators run in. An empty value makes
// launches use the emulator's own directory.
func (s *Store) SetUserDir(ctx context.Context, dir string) error {
	return s.setSetting(ctx, settingUserDir, dir)
}

// UserDir returns the configured base directory, or "" when unset.
func (s *Store) UserDir(ctx context.Context) (string, error) {
	return s.setting(ctx, settingUserDir)
}
