package sqlitedb

import (
	"context"
	"database/sql"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMemory(t *testing.T) {
	db := OpenMemory(t)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	var busy int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busy))
	assert.Equal(t, 10_000, busy)
}

func TestOpen_FileWithSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "learning.db")

	db, err := Open(path, WithMkdirAll(), WithSchema(`CREATE TABLE IF NOT EXISTS t (id TEXT PRIMARY KEY)`))
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	_, err = db.Exec(`INSERT INTO t (id) VALUES ('a')`)
	require.NoError(t, err)
}

func TestOpen_PragmasOnEveryConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learning.db")
	db, err := Open(path, WithBusyTimeout(2500))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	conn1, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn1.Close()
	conn2, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn2.Close()

	for i, c := range []interface {
		QueryRowContext(context.Context, string, ...any) *sql.Row
	}{conn1, conn2} {
		var fk, busy int
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy))
		assert.Equal(t, 1, fk, "conn%d foreign_keys", i+1)
		assert.Equal(t, 2500, busy, "conn%d busy_timeout", i+1)
	}
}

func TestDSN(t *testing.T) {
	cfg := defaults()
	got := dsn("/var/lib/learning.db", &cfg)
	assert.True(t, strings.HasPrefix(got, "/var/lib/learning.db?"))
	assert.Contains(t, got, url.QueryEscape("foreign_keys(1)"))
	assert.Contains(t, got, url.QueryEscape("journal_mode(WAL)"))

	mem := dsn(MemoryPath, &cfg)
	assert.NotContains(t, mem, "journal_mode")
}

func TestOpen_BadSchema(t *testing.T) {
	_, err := Open(MemoryPath, WithSchema("CREATE NONSENSE"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exec schema")
}
