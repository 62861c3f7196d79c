package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "safemodel/pkg/domain"
	audit "safemodel/pkg/platform/audit"
	txcontext "safemodel/pkg/platform/tx"
)

// Store implements audit.Store with the transactional outbox pattern: each
// event is written to audit_events for querying and to outbox for the relay
// that publishes it to Kafka, in one transaction.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	outbox bool
}

// New creates a PostgreSQL audit store that feeds the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now, outbox: true}
}

// NewArchive creates a store for events consumed back off the audit topic.
// It writes audit_events only, so archived events are never republished.
func NewArchive(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS audit_events (
		id          UUID PRIMARY KEY,
		category    TEXT NOT NULL,
		timestamp   TIMESTAMPTZ NOT NULL,
		session_id  UUID,
		action      TEXT NOT NULL,
		decision    TEXT NOT NULL DEFAULT '',
		reason      TEXT NOT NULL DEFAULT '',
		check_name  TEXT NOT NULL DEFAULT '',
		epsilon     DOUBLE PRECISION,
		detail      TEXT NOT NULL DEFAULT '',
		request_id  TEXT NOT NULL DEFAULT '',
		actor_id    TEXT NOT NULL DEFAULT ''
	)`,
	`ALTER TABLE audit_events ADD COLUMN IF NOT EXISTS pre_release_fingerprint TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE audit_events ADD COLUMN IF NOT EXISTS post_fit_fingerprint TEXT NOT NULL DEFAULT ''`,
	`CREATE INDEX IF NOT EXISTS audit_events_session_idx ON audit_events (session_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		id             UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		payload        JSONB NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		published_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_unpublished_idx ON outbox (created_at) WHERE published_at IS NULL`,
}

// Migrate creates the audit tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate audit store: %w", err)
		}
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Append writes the event and its outbox entry. When ctx carries a
// transaction (see pkg/platform/tx) both writes join it.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		return s.append(ctx, tx, event)
	})
}

func (s *Store) append(ctx context.Context, exec dbExecutor, event audit.Event) error {
	eventID := uuid.New()
	if event.ID != "" {
		parsed, err := uuid.Parse(event.ID)
		if err != nil {
			return fmt.Errorf("audit event id: %w", err)
		}
		eventID = parsed
	}
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}

	var sessionID *uuid.UUID
	if !event.SessionID.IsNil() {
		sid := uuid.UUID(event.SessionID)
		sessionID = &sid
	}

	_, err := exec.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, category, timestamp, session_id, action,
			decision, reason, check_name, epsilon, detail,
			request_id, actor_id, pre_release_fingerprint, post_fit_fingerprint
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`,
		eventID, string(category), event.Timestamp, sessionID, event.Action,
		event.Decision, event.Reason, event.Check, event.Epsilon, event.Detail,
		event.RequestID, event.ActorID, event.PreReleaseFingerprint, event.PostFitFingerprint,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	if !s.outbox {
		return nil
	}
	event.ID = eventID.String()
	event.Category = category
	payloadBytes, err := audit.EncodeRecord(event)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	aggregateID := eventID.String()
	if sessionID != nil {
		aggregateID = sessionID.String()
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), aggregateType(sessionID), aggregateID, event.Action, payloadBytes, s.now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func aggregateType(session *uuid.UUID) string {
	if session != nil {
		return "session"
	}
	return "audit"
}

const selectEvents = `
	SELECT id, category, timestamp, session_id, action,
		   decision, reason, check_name, epsilon, detail,
		   request_id, actor_id, pre_release_fingerprint, post_fit_fingerprint
	FROM audit_events`

// ListBySession returns a session's events, oldest first.
func (s *Store) ListBySession(ctx context.Context, session id.SessionID) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEvents+` WHERE session_id = $1 ORDER BY timestamp ASC`,
		uuid.UUID(session))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListRecent returns the N most recent events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEvents+` ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	events := []audit.Event{}
	for rows.Next() {
		var (
			event     audit.Event
			eventID   uuid.UUID
			category  string
			sessionID *uuid.UUID
			epsilon   sql.NullFloat64
		)
		err := rows.Scan(
			&eventID, &category, &event.Timestamp, &sessionID, &event.Action,
			&event.Decision, &event.Reason, &event.Check, &epsilon, &event.Detail,
			&event.RequestID, &event.ActorID, &event.PreReleaseFingerprint, &event.PostFitFingerprint,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.ID = eventID.String()
		event.Category = audit.EventCategory(category)
		if sessionID != nil {
			event.SessionID = id.SessionID(*sessionID)
		}
		if epsilon.Valid {
			v := epsilon.Float64
			event.Epsilon = &v
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// OutboxEntry is an unpublished outbox row.
type OutboxEntry struct {
	ID          uuid.UUID
	AggregateID string
	EventType   string
	Payload     []byte
}

// FetchUnpublished returns up to limit outbox entries in creation order.
func (s *Store) FetchUnpublished(ctx context.Context, limit int) ([]OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, aggregate_id, event_type, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return entries, nil
}

// MarkPublished stamps an outbox entry as delivered.
func (s *Store) MarkPublished(ctx context.Context, entryID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox SET published_at = $1 WHERE id = $2`, s.now(), entryID)
	if err != nil {
		return fmt.Errorf("mark outbox entry published: %w", err)
	}
	return nil
}
