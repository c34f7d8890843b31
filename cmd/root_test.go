package cmd

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ch-ferry/database/clickhousetest"
)

func setupRun(t *testing.T, tasks string) (*clickhousetest.Server, string) {
	t.Helper()
	dir := t.TempDir()

	dbPath := filepath.Join(dir, "source.db")
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`INSERT INTO users VALUES (1, 'ada'), (2, 'grace')`,
		`CREATE TABLE tags (id INTEGER PRIMARY KEY, label TEXT)`,
		`INSERT INTO tags VALUES (1, 'red')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	srv := clickhousetest.NewServer()
	t.Cleanup(srv.Close)

	body := fmt.Sprintf(`[source]
type = "sqlite"
path = %q

[clickhouse]
url = %q

[sync]
progress = false
report_path = %q

[log]
level = "error"
%s`, dbPath, srv.URL, filepath.Join(dir, "report.json"), tasks)

	cfgPath := filepath.Join(dir, "sync.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))
	return srv, cfgPath
}

func execute(args ...string) (string, error) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionFlag(t *testing.T) {
	out, err := execute("--version")
	require.NoError(t, err)
	assert.Contains(t, out, "ch-ferry version "+version)
}

func TestRunOnceSucceeds(t *testing.T) {
	srv, cfgPath := setupRun(t, `
[[tasks]]
table_name = "users"

[[tasks]]
table_name = "tags"
target_table = "labels"
`)

	_, err := execute("--config", cfgPath, "--once")
	require.NoError(t, err)

	users, ok := srv.Table("users")
	require.True(t, ok)
	assert.Len(t, users.Rows, 2)
	labels, ok := srv.Table("labels")
	require.True(t, ok)
	assert.Len(t, labels.Rows, 1)

	assert.FileExists(t, filepath.Join(filepath.Dir(cfgPath), "report.json"))
}

func TestTablesFlagFiltersTasks(t *testing.T) {
	srv, cfgPath := setupRun(t, `
[[tasks]]
table_name = "users"

[[tasks]]
table_name = "tags"
`)

	_, err := execute("--config", cfgPath, "--tables", "tags")
	require.NoError(t, err)

	_, ok := srv.Table("users")
	assert.False(t, ok)
	_, ok = srv.Table("tags")
	assert.True(t, ok)

	_, err = execute("--config", cfgPath, "--tables", "orders")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not defined")
}

func TestRunFailsWhenTableFails(t *testing.T) {
	_, cfgPath := setupRun(t, `
[[tasks]]
table_name = "users"

[[tasks]]
table_name = "missing"
`)

	_, err := execute("--config", cfgPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, errRunFailed)
	assert.Contains(t, err.Error(), "missing")
}

func TestMissingConfig(t *testing.T) {
	_, err := execute("--config", filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}
