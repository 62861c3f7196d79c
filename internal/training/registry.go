package training

import (
	"errors"
	"sync"

	id "safemodel/pkg/domain"
)

// ErrSessionNotFound is returned by Registry lookups.
var ErrSessionNotFound = errors.New("session not found")

// Entry pairs a session with the model it wraps.
type Entry struct {
	Session *Session
	Model   *MemoryModel
}

// Registry holds live sessions in memory.
type Registry struct {
	mu      sync.RWMutex
	entries map[id.SessionID]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[id.SessionID]Entry)}
}

func (r *Registry) Add(s *Session, m *MemoryModel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[s.ID()] = Entry{Session: s, Model: m}
}

func (r *Registry) Get(sid id.SessionID) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sid]
	if !ok {
		return Entry{}, ErrSessionNotFound
	}
	return e, nil
}

func (r *Registry) Remove(sid id.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sid)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
