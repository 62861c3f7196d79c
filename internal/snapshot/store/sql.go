package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"safemodel/internal/optimizer"
	"safemodel/internal/snapshot"
	id "safemodel/pkg/domain"
	"safemodel/pkg/platform/sentinel"
)

// dialect holds the statements that differ between SQL backends.
type dialect struct {
	schema         []string
	upsertSnapshot string
	selectSnapshot string
	upsertProv     string
	selectProv     string
}

// sqlStore is the database/sql implementation shared by the SQLite and
// PostgreSQL backends.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

// Migrate creates the snapshot tables if they do not exist.
func (s *sqlStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate snapshot store: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) Put(ctx context.Context, session id.SessionID, stage Stage, snap snapshot.Snapshot) error {
	if err := validateKey(session, stage); err != nil {
		return err
	}
	payload, err := snapshot.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.d.upsertSnapshot,
		session.String(), string(stage), snap.ID().String(), snap.CapturedAt(), payload)
	if err != nil {
		return fmt.Errorf("put %s snapshot: %w", stage, err)
	}
	return nil
}

func (s *sqlStore) Get(ctx context.Context, session id.SessionID, stage Stage) (snapshot.Snapshot, error) {
	if err := validateKey(session, stage); err != nil {
		return snapshot.Snapshot{}, err
	}
	var payload []byte
	err := s.db.QueryRowContext(ctx, s.d.selectSnapshot, session.String(), string(stage)).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snapshot.Snapshot{}, sentinel.ErrNotFound
		}
		return snapshot.Snapshot{}, fmt.Errorf("get %s snapshot: %w", stage, err)
	}
	return snapshot.Unmarshal(payload)
}

func (s *sqlStore) PutProvenance(ctx context.Context, session id.SessionID, p optimizer.Provenance) error {
	if err := validateKey(session, StagePostFit); err != nil {
		return err
	}
	payload, err := encodeProvenance(p)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.d.upsertProv, session.String(), payload); err != nil {
		return fmt.Errorf("put provenance: %w", err)
	}
	return nil
}

func (s *sqlStore) GetProvenance(ctx context.Context, session id.SessionID) (optimizer.Provenance, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, s.d.selectProv, session.String()).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return optimizer.Provenance{}, sentinel.ErrNotFound
		}
		return optimizer.Provenance{}, fmt.Errorf("get provenance: %w", err)
	}
	return decodeProvenance(payload)
}
