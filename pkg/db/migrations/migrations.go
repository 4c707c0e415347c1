// Package migrations contains all database migrations for babysitter.
// Migrations use Rails-style timestamp versioning (YYYYMMDDHHmmss).
package migrations

import (
	"github.com/a5c-ai/babysitter/pkg/db"
)

// All returns all registered migrations. New migrations are appended here.
func All() []db.Migration {
	return []db.Migration{
		Migration20261001120000CreateRuns(),
		Migration20261001120001CreateJournal(),
		Migration20261001120002CreateBreakpoints(),
	}
}
