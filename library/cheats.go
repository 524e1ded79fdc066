package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CheatMemory is one memory write of a cheat mod.
type CheatMemory struct {
	Offset string `db:"mem_offset" json:"offset" yaml:"offset"`
	On     string `db:"on_value" json:"on" yaml:"on"`
	Off    string `db:"off_value" json:"off" yaml:"off"`
}

// CheatMod is a named group of memory writes for one game version. An empty
// Hint means the offsets are relative to the game image.
type CheatMod struct {
	ID      int64         `db:"id" json:"-" yaml:"-"`
	CUSA    string        `db:"cusa" json:"cusa" yaml:"cusa"`
	Version string        `db:"version" json:"version" yaml:"version"`
	Repo    string        `db:"repo" json:"repo" yaml:"repo"`
	Name    string        `db:"name" json:"name" yaml:"name"`
	Hint    string        `db:"hint" json:"hint" yaml:"hint"`
	Enabled bool          `db:"enabled" json:"enabled" yaml:"enabled"`
	Memory  []CheatMemory `db:"-" json:"memory" yaml:"memory"`
}

// SaveCheatMod inserts or replaces a mod and its memory records. The enabled
// flag of an existing mod is kept.
func (s *Store) SaveCheatMod(ctx context.Context, mod CheatMod) (CheatMod, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return CheatMod{}, err
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO cheat_mods (cusa, version, repo, name, hint, enabled)
		VALUES (:cusa, :version, :repo, :name, :hint, :enabled)
		ON CONFLICT(cusa, version, repo, name) DO UPDATE SET hint = excluded.hint`, mod)
	if err != nil {
		return CheatMod{}, fmt.Errorf("failed to save cheat %s: %w", mod.Name, err)
	}
	var stored CheatMod
	err = tx.GetContext(ctx, &stored, `SELECT * FROM cheat_mods
		WHERE cusa = $1 AND version = $2 AND repo = $3 AND name = $4`,
		mod.CUSA, mod.Version, mod.Repo, mod.Name)
	if err != nil {
		return CheatMod{}, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM cheat_memory WHERE mod_id = $1", stored.ID); err != nil {
		return CheatMod{}, err
	}
	for i, mem := range mod.Memory {
		_, err := tx.ExecContext(ctx, `INSERT INTO cheat_memory (mod_id, seq, mem_offset, on_value, off_value)
			VALUES ($1, $2, $3, $4, $5)`, stored.ID, i, mem.Offset, mem.On, mem.Off)
		if err != nil {
			return CheatMod{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return CheatMod{}, err
	}
	stored.Memory = append([]CheatMemory(nil), mod.Memory...)
	return stored, nil
}

func (s *Store) loadMemory(ctx context.Context, mods []CheatMod) error {
	for i := range mods {
		mods[i].Memory = []CheatMemory{}
		err := s.db.SelectContext(ctx, &mods[i].Memory,
			"SELECT mem_offset, on_value, off_value FROM cheat_memory WHERE mod_id = $1 ORDER BY seq", mods[i].ID)
		if err != nil {
			return err
		}
	}
	return nil
}

// CheatMods returns every mod stored for the game's content id and version.
func (s *Store) CheatMods(ctx context.Context, game Game) ([]CheatMod, error) {
	mods := []CheatMod{}
	err := s.db.SelectContext(ctx, &mods, `SELECT * FROM cheat_mods
		WHERE cusa = $1 AND version = $2 ORDER BY repo, id`, game.CUSA, game.Version)
	if err != nil {
		return nil, err
	}
	return mods, s.loadMemory(ctx, mods)
}

// EnabledCheats returns the enabled mods for the game, in insertion order per
// repository.
func (s *Store) EnabledCheats(ctx context.Context, game Game) ([]CheatMod, error) {
	mods := []CheatMod{}
	err := s.db.SelectContext(ctx, &mods, `SELECT * FROM cheat_mods
		WHERE cusa = $1 AND version = $2 AND enabled = 1 ORDER BY repo, id`, game.CUSA, game.Version)
	if err != nil {
		return nil, err
	}
	return mods, s.loadMemory(ctx, mods)
}

// SetCheatEnabled persists the enabled flag of a mod and returns it with its
// memory records.
func (s *Store) SetCheatEnabled(ctx context.Context, game Game, repo, name string, enabled bool) (CheatMod, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE cheat_mods SET enabled = $1
		WHERE cusa = $2 AND version = $3 AND repo = $4 AND name = $5`,
		enabled, game.CUSA, game.Version, repo, name)
	if err != nil {
		return CheatMod{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return CheatMod{}, ErrCheatNotFound
	}

	mods := []CheatMod{}
	err = s.db.SelectContext(ctx, &mods, `SELECT * FROM cheat_mods
		WHERE cusa = $1 AND version = $2 AND repo = $3 AND name = $4`,
		game.CUSA, game.Version, repo, name)
	if err != nil {
		return CheatMod{}, err
	}
	if len(mods) == 0 {
		return CheatMod{}, ErrCheatNotFound
	}
	if err := s.loadMemory(ctx, mods); err != nil {
		return CheatMod{}, err
	}
	return mods[0], nil
}

// SetPatchFile records the patch file a repository provides for a game.
func (s *Store) SetPatchFile(ctx context.Context, cusa, repo, path string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO patch_files (cusa, repo, path) VALUES ($1, $2, $3)
		ON CONFLICT(cusa, repo) DO UPDATE SET path = excluded.path`, cusa, repo, path)
	return err
}

// EnablePatchRepo selects which repository's patch file is applied for a game.
// An empty repo disables patching.
func (s *Store) EnablePatchRepo(ctx context.Context, cusa, repo string) error {
	if repo == "" {
		_, err := s.db.ExecContext(ctx, "DELETE FROM patch_repo_enabled WHERE cusa = $1", cusa)
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO patch_repo_enabled (cusa, repo) VALUES ($1, $2)
		ON CONFLICT(cusa) DO UPDATE SET repo = excluded.repo`, cusa, repo)
	return err
}

// PatchFile returns the patch file of the enabled repository for the game, or
// "" when there is none.
func (s *Store) PatchFile(ctx context.Context, game Game) (string, error) {
	var path string
	err := s.db.GetContext(ctx, &path, `SELECT f.path FROM patch_files f
		JOIN patch_repo_enabled e ON e.cusa = f.cusa AND e.repo = f.repo
		WHERE f.cusa = $1`, game.CUSA)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return path, err
}
