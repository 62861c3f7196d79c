package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenFileCreatesDirectoryAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "snapshots.db")
	db, err := Open(path,
		WithMkdirAll(),
		WithBusyTimeout(500),
		WithSchema(`CREATE TABLE t (k TEXT PRIMARY KEY, v BLOB)`),
	)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`INSERT INTO t (k, v) VALUES ('a', x'00ff')`)
	require.NoError(t, err)

	var mode string
	require.NoError(t, db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, db.QueryRow(`PRAGMA busy_timeout`).Scan(&timeout))
	assert.Equal(t, 500, timeout)
}

func TestOpenMemorySharesOneDatabase(t *testing.T) {
	db := OpenMemory(t, WithSchema(`CREATE TABLE t (k TEXT)`))
	_, err := db.Exec(`INSERT INTO t (k) VALUES ('a')`)
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOpenRejectsBadSchema(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "x.db"), WithSchema("NOT SQL"))
	require.ErrorContains(t, err, "sqlite: exec")
}
