package migrations

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "ledger.db")+"?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, MigrateUp(db))

	for _, table := range []string{"repos", "files", "changelists", "file_changes", "branches", "workspaces", "file_checkouts", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, MigrateUp(db))
	require.NoError(t, MigrateUp(db))
}

func TestStatus(t *testing.T) {
	db := openTestDB(t)

	version, latest, err := Status(db)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.Equal(t, uint(1), latest)

	require.NoError(t, MigrateUp(db))

	version, latest, err = Status(db)
	require.NoError(t, err)
	assert.Equal(t, latest, version)
}
