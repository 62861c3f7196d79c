package store

import "database/sql"

// PostgresStore persists snapshots in PostgreSQL.
type PostgresStore struct {
	sqlStore
}

var postgresDialect = dialect{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS model_snapshots (
			session_id  UUID NOT NULL,
			stage       TEXT NOT NULL,
			snapshot_id UUID NOT NULL,
			captured_at TIMESTAMPTZ NOT NULL,
			payload     BYTEA NOT NULL,
			PRIMARY KEY (session_id, stage)
		)`,
		`CREATE TABLE IF NOT EXISTS model_provenance (
			session_id UUID PRIMARY KEY,
			payload    BYTEA NOT NULL
		)`,
	},
	upsertSnapshot: `
		INSERT INTO model_snapshots (session_id, stage, snapshot_id, captured_at, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, stage) DO UPDATE SET
			snapshot_id = EXCLUDED.snapshot_id,
			captured_at = EXCLUDED.captured_at,
			payload = EXCLUDED.payload`,
	selectSnapshot: `SELECT payload FROM model_snapshots WHERE session_id = $1 AND stage = $2`,
	upsertProv: `
		INSERT INTO model_provenance (session_id, payload) VALUES ($1, $2)
		ON CONFLICT (session_id) DO UPDATE SET payload = EXCLUDED.payload`,
	selectProv: `SELECT payload FROM model_provenance WHERE session_id = $1`,
}

// NewPostgres constructs a PostgreSQL-backed snapshot store. Call Migrate
// before use.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{sqlStore{db: db, d: postgresDialect}}
}
