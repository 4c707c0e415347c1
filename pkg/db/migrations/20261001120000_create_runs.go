package migrations

import (
	"database/sql"

	"github.com/a5c-ai/babysitter/pkg/db"
	"github.com/pkg/errors"
)

// Migration20261001120000CreateRuns creates the runs table.
func Migration20261001120000CreateRuns() db.Migration {
	return db.Migration{
		Version:     20261001120000,
		Description: "Create runs table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS runs (
					id TEXT PRIMARY KEY,
					process_id TEXT NOT NULL,
					status TEXT NOT NULL,
					inputs TEXT NOT NULL,
					result TEXT,
					error TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					completed_at DATETIME
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create runs table")
			}

			indexes := []string{
				"CREATE INDEX IF NOT EXISTS idx_runs_process_id ON runs(process_id)",
				"CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)",
				"CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)",
			}
			for _, stmt := range indexes {
				if _, err := tx.Exec(stmt); err != nil {
					return errors.Wrapf(err, "failed to create index: %s", stmt)
				}
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS runs")
			return errors.Wrap(err, "failed to drop runs table")
		},
	}
}
