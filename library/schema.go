package library

import (
	"github.com/jmoiron/sqlx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS games (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL UNIQUE,
		cusa TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		version TEXT NOT NULL DEFAULT '',
		fw_version TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_games_cusa ON games(cusa)`,
	`CREATE TABLE IF NOT EXISTS emulators (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		selected INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cheat_mods (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cusa TEXT NOT NULL,
		version TEXT NOT NULL,
		repo TEXT NOT NULL,
		name TEXT NOT NULL,
		hint TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 0,
		UNIQUE (cusa, version, repo, name)
	)`,
	`CREATE TABLE IF NOT EXISTS cheat_memory (
		mod_id INTEGER NOT NULL REFERENCES cheat_mods(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		mem_offset TEXT NOT NULL,
		on_value TEXT NOT NULL,
		off_value TEXT NOT NULL,
		PRIMARY KEY (mod_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS patch_files (
		cusa TEXT NOT NULL,
		repo TEXT NOT NULL,
		path TEXT NOT NULL,
		PRIMARY KEY (cusa, repo)
	)`,
	`CREATE TABLE IF NOT EXISTS patch_repo_enabled (
		cusa TEXT PRIMARY KEY,
		repo TEXT NOT NULL
	)`,
}

// DBInit creates the library tables if they do not exist yet.
func DBInit(db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
