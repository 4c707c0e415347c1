package migrations

import (
	"database/sql"

	"github.com/a5c-ai/babysitter/pkg/db"
	"github.com/pkg/errors"
)

// Migration20261001120001CreateJournal creates the per-run effect journal.
func Migration20261001120001CreateJournal() db.Migration {
	return db.Migration{
		Version:     20261001120001,
		Description: "Create run_journal table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS run_journal (
					run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
					seq INTEGER NOT NULL,
					kind TEXT NOT NULL,
					name TEXT NOT NULL,
					status TEXT NOT NULL,
					payload TEXT,
					result TEXT,
					error TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL,
					PRIMARY KEY (run_id, seq)
				)
			`)
			return errors.Wrap(err, "failed to create run_journal table")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS run_journal")
			return errors.Wrap(err, "failed to drop run_journal table")
		},
	}
}
