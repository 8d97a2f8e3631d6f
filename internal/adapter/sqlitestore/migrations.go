package sqlitestore

import (
	"context"
	"fmt"
)

// migrations are applied in order; the database's user_version records how
// many have run.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS collections (
		name       TEXT PRIMARY KEY,
		dimension  INTEGER NOT NULL,
		metric     TEXT NOT NULL,
		model      TEXT NOT NULL DEFAULT '',
		source     TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		next_seq   INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		text       TEXT NOT NULL,
		metadata   TEXT,
		vector     BLOB NOT NULL,
		PRIMARY KEY (collection, id)
	);`,
}

// SchemaVersion returns the number of migrations applied to the database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version)
	return version, err
}

func (s *Store) migrate(ctx context.Context) error {
	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if version > len(migrations) {
		return fmt.Errorf("database created by newer version (v%d > v%d)", version, len(migrations))
	}

	for v := version; v < len(migrations); v++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration to v%d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}
