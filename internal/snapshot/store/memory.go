package store

import (
	"context"
	"sync"

	"safemodel/internal/optimizer"
	"safemodel/internal/snapshot"
	id "safemodel/pkg/domain"
	"safemodel/pkg/platform/sentinel"
)

type key struct {
	session id.SessionID
	stage   Stage
}

// InMemory keeps snapshots in process memory. Snapshots are immutable, so
// storing the value is enough to isolate it from callers.
type InMemory struct {
	mu          sync.RWMutex
	snapshots   map[key]snapshot.Snapshot
	provenances map[id.SessionID]optimizer.Provenance
}

func NewInMemory() *InMemory {
	return &InMemory{
		snapshots:   make(map[key]snapshot.Snapshot),
		provenances: make(map[id.SessionID]optimizer.Provenance),
	}
}

func (s *InMemory) Put(_ context.Context, session id.SessionID, stage Stage, snap snapshot.Snapshot) error {
	if err := validateKey(session, stage); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[key{session, stage}] = snap
	return nil
}

func (s *InMemory) Get(_ context.Context, session id.SessionID, stage Stage) (snapshot.Snapshot, error) {
	if err := validateKey(session, stage); err != nil {
		return snapshot.Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[key{session, stage}]
	if !ok {
		return snapshot.Snapshot{}, sentinel.ErrNotFound
	}
	return snap, nil
}

func (s *InMemory) PutProvenance(_ context.Context, session id.SessionID, p optimizer.Provenance) error {
	if err := validateKey(session, StagePostFit); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provenances[session] = p
	return nil
}

func (s *InMemory) GetProvenance(_ context.Context, session id.SessionID) (optimizer.Provenance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.provenances[session]
	if !ok {
		return optimizer.Provenance{}, sentinel.ErrNotFound
	}
	return p, nil
}
