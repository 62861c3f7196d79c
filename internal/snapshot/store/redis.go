package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"safemodel/internal/optimizer"
	"safemodel/internal/snapshot"
	id "safemodel/pkg/domain"
	"safemodel/pkg/platform/sentinel"
)

const keyPrefix = "safemodel:"

// RedisStore persists snapshots in Redis. Entries expire after ttl when it
// is positive.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis constructs a Redis-backed snapshot store.
func NewRedis(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func snapshotKey(session id.SessionID, stage Stage) string {
	return keyPrefix + "snapshot:" + session.String() + ":" + string(stage)
}

func provenanceKey(session id.SessionID) string {
	return keyPrefix + "provenance:" + session.String()
}

func (s *RedisStore) Put(ctx context.Context, session id.SessionID, stage Stage, snap snapshot.Snapshot) error {
	if err := validateKey(session, stage); err != nil {
		return err
	}
	payload, err := snapshot.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, snapshotKey(session, stage), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("put %s snapshot: %w", stage, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, session id.SessionID, stage Stage) (snapshot.Snapshot, error) {
	if err := validateKey(session, stage); err != nil {
		return snapshot.Snapshot{}, err
	}
	payload, err := s.client.Get(ctx, snapshotKey(session, stage)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return snapshot.Snapshot{}, sentinel.ErrNotFound
		}
		return snapshot.Snapshot{}, fmt.Errorf("get %s snapshot: %w", stage, err)
	}
	return snapshot.Unmarshal(payload)
}

func (s *RedisStore) PutProvenance(ctx context.Context, session id.SessionID, p optimizer.Provenance) error {
	if err := validateKey(session, StagePostFit); err != nil {
		return err
	}
	payload, err := encodeProvenance(p)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, provenanceKey(session), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("put provenance: %w", err)
	}
	return nil
}

func (s *RedisStore) GetProvenance(ctx context.Context, session id.SessionID) (optimizer.Provenance, error) {
	payload, err := s.client.Get(ctx, provenanceKey(session)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return optimizer.Provenance{}, sentinel.ErrNotFound
		}
		return optimizer.Provenance{}, fmt.Errorf("get provenance: %w", err)
	}
	return decodeProvenance(payload)
}
