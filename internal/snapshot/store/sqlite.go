package store

import "database/sql"

// SQLiteStore persists snapshots in a SQLite database.
type SQLiteStore struct {
	sqlStore
}

var sqliteDialect = dialect{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS model_snapshots (
			session_id  TEXT NOT NULL,
			stage       TEXT NOT NULL,
			snapshot_id TEXT NOT NULL,
			captured_at TIMESTAMP NOT NULL,
			payload     BLOB NOT NULL,
			PRIMARY KEY (session_id, stage)
		)`,
		`CREATE TABLE IF NOT EXISTS model_provenance (
			session_id TEXT PRIMARY KEY,
			payload    BLOB NOT NULL
		)`,
	},
	upsertSnapshot: `
		INSERT INTO model_snapshots (session_id, stage, snapshot_id, captured_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id, stage) DO UPDATE SET
			snapshot_id = excluded.snapshot_id,
			captured_at = excluded.captured_at,
			payload = excluded.payload`,
	selectSnapshot: `SELECT payload FROM model_snapshots WHERE session_id = ? AND stage = ?`,
	upsertProv: `
		INSERT INTO model_provenance (session_id, payload) VALUES (?, ?)
		ON CONFLICT (session_id) DO UPDATE SET payload = excluded.payload`,
	selectProv: `SELECT payload FROM model_provenance WHERE session_id = ?`,
}

// NewSQLite constructs a SQLite-backed snapshot store. Call Migrate before use.
func NewSQLite(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{sqlStore{db: db, d: sqliteDialect}}
}
