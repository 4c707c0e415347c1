package migrations

import (
	"database/sql"

	"github.com/a5c-ai/babysitter/pkg/db"
	"github.com/pkg/errors"
)

// Migration20261001120002CreateBreakpoints creates the breakpoints table used
// for approvals decided outside the orchestrating process.
func Migration20261001120002CreateBreakpoints() db.Migration {
	return db.Migration{
		Version:     20261001120002,
		Description: "Create breakpoints table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS breakpoints (
					id TEXT PRIMARY KEY,
					run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
					seq INTEGER NOT NULL,
					title TEXT NOT NULL DEFAULT '',
					question TEXT NOT NULL,
					files TEXT,
					status TEXT NOT NULL,
					response TEXT NOT NULL DEFAULT '',
					decided_by TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL,
					decided_at DATETIME,
					UNIQUE (run_id, seq)
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create breakpoints table")
			}

			_, err := tx.Exec("CREATE INDEX IF NOT EXISTS idx_breakpoints_status ON breakpoints(status)")
			return errors.Wrap(err, "failed to create breakpoints status index")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS breakpoints")
			return errors.Wrap(err, "failed to drop breakpoints table")
		},
	}
}
