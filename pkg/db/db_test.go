package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMigrations() []Migration {
	return []Migration{
		{
			Version:     20260101000002,
			Description: "Add column",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec("ALTER TABLE widgets ADD COLUMN color TEXT")
				return err
			},
		},
		{
			Version:     20260101000001,
			Description: "Create widgets",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec("CREATE TABLE widgets (id TEXT PRIMARY KEY)")
				return err
			},
			Down: func(tx *sql.Tx) error {
				_, err := tx.Exec("DROP TABLE widgets")
				return err
			},
		},
	}
}

func TestOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")

	db, err := Open(context.Background(), dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(filepath.Dir(dbPath))
	require.NoError(t, err)
	require.NoError(t, VerifyConfiguration(db))
}

func TestOpenAppliesMigrationsInOrder(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(ctx, dbPath, testMigrations()...)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, "INSERT INTO widgets (id, color) VALUES ('w1', 'red')")
	require.NoError(t, err)

	versions, err := NewMigrationRunner(db).AppliedVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{20260101000001, 20260101000002}, versions)
}

func TestMigrationRunnerIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	runner := NewMigrationRunner(db)
	require.NoError(t, runner.Run(ctx, testMigrations()))
	require.NoError(t, runner.Run(ctx, testMigrations()))

	versions, err := runner.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestMigrationRunnerRollback(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	runner := NewMigrationRunner(db)
	migrations := testMigrations()
	require.NoError(t, runner.Run(ctx, migrations))

	err = runner.Rollback(ctx, migrations)
	assert.ErrorContains(t, err, "has no rollback function")

	fresh, err := Open(ctx, filepath.Join(t.TempDir(), "fresh.db"), migrations[1])
	require.NoError(t, err)
	defer fresh.Close()

	freshRunner := NewMigrationRunner(fresh)
	require.NoError(t, freshRunner.Rollback(ctx, migrations))

	versions, err := freshRunner.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestMigrationRunnerRollbackEmpty(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, NewMigrationRunner(db).Rollback(ctx, nil))
}

func TestFailedMigrationIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	runner := NewMigrationRunner(db)
	err = runner.Run(ctx, []Migration{{
		Version:     20260101000009,
		Description: "broken",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec("CREATE TABLE")
			return err
		},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to apply migration 20260101000009")

	versions, err := runner.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.Empty(t, versions)
}
