package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"portaladmin/config"
	"portaladmin/db"
)

func setupEnv(t *testing.T) (dir, dbPath string) {
	t.Helper()
	for _, env := range []string{"DATABASE_URL", "SUPABASE_DB_URL", "DB_HOST", "DB_USER", "DB_PASSWORD", "DB_NAME"} {
		t.Setenv(env, "")
	}
	dir = t.TempDir()
	dbPath = filepath.Join(dir, "portal.db")
	t.Setenv("DB_DRIVER", config.DriverSQLite)
	t.Setenv("DB_PATH", dbPath)
	t.Setenv("LOG_LEVEL", "error")
	return dir, dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrateAndVerify(t *testing.T) {
	dir, dbPath := setupEnv(t)

	_, err := execute(t, "verify")
	assert.Error(t, err, "an empty database has no portal tables")

	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "workers")
	assert.Contains(t, out, "Admin workers: 0")

	out, err = execute(t, "migrate", "--max-backups", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "app_settings")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var backups int
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), filepath.Base(dbPath)+".") && strings.HasSuffix(e.Name(), backupFileExt) {
			backups++
		}
	}
	assert.Equal(t, 1, backups)

	_, err = execute(t, "verify")
	assert.NoError(t, err)
}

func TestSchemaAndAddColumn(t *testing.T) {
	dir, _ := setupEnv(t)

	t.Run("missing schema file", func(t *testing.T) {
		_, err := execute(t, "schema", "--file", filepath.Join(dir, "nope.sql"))
		assert.ErrorIs(t, err, db.ErrSchemaFileNotFound)
	})

	t.Run("schema script", func(t *testing.T) {
		schema := filepath.Join(dir, "schema.sql")
		require.NoError(t, os.WriteFile(schema, []byte(`
CREATE TABLE workers (id TEXT PRIMARY KEY CHECK (id <> ''), display_name TEXT NOT NULL, role TEXT, is_active BOOLEAN);
CREATE TABLE clients (id INTEGER PRIMARY KEY, name TEXT UNIQUE NOT NULL);
CREATE TABLE app_settings (key TEXT PRIMARY KEY, value TEXT);
INSERT INTO workers (id, display_name, role, is_active) VALUES ('SG-001', 'Portal Admin', 'Admin', true);
`), 0o600))

		out, err := execute(t, "schema", "--file", schema)
		require.NoError(t, err)
		assert.Contains(t, out, "Admin workers: 1")
		assert.Contains(t, out, "SG-001")
	})

	t.Run("add column", func(t *testing.T) {
		script := filepath.Join(dir, "add-auth-column.sql")
		require.NoError(t, os.WriteFile(script, []byte("ALTER TABLE workers ADD COLUMN auth_user_id TEXT;\n"), 0o600))

		out, err := execute(t, "add-column", "--file", script)
		require.NoError(t, err)
		assert.Contains(t, out, "workers.auth_user_id added")

		out, err = execute(t, "add-column", "--file", script)
		require.NoError(t, err)
		assert.Contains(t, out, "already exists")
	})

	t.Run("script that does not add the column", func(t *testing.T) {
		script := filepath.Join(dir, "noop.sql")
		require.NoError(t, os.WriteFile(script, []byte("SELECT 1;\n"), 0o600))

		_, err := execute(t, "add-column", "--file", script, "--column", "never_added")
		assert.Error(t, err)
	})
}

func TestPruneOldBackups(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "portal.db")
	names := []string{
		"portal.db.20240101-000000.bak",
		"portal.db.20240102-000000.bak",
		"portal.db.20240103-000000.bak",
		"other.db.20240101-000000.bak",
	}
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o600))
	}

	pruneOldBackups(dbPath, 2, zap.NewNop().Sugar())

	_, err := os.Stat(filepath.Join(dir, names[0]))
	assert.True(t, os.IsNotExist(err), "oldest backup is removed")
	for _, n := range names[1:] {
		_, err := os.Stat(filepath.Join(dir, n))
		assert.NoError(t, err, n)
	}
}
