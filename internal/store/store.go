// Package store holds the in-memory table of parsed records.
package store

import (
	"sync"
	"time"

	"github.com/boletin/backend/internal/storage/models"
)

// Snapshot is an immutable view of one completed load. Callers must not
// modify Records.
type Snapshot struct {
	Records     []models.Record
	LoadedAt    time.Time
	ContentHash string
	Source      string
}

func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Records) == 0
}

// Store swaps whole snapshots; it never merges.
type Store struct {
	mu       sync.RWMutex
	current  *Snapshot
	onChange []func(*Snapshot)
}

func New() *Store {
	return &Store{}
}

// Snapshot returns the current snapshot, or nil before the first load.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Store) Len() int {
	snap := s.Snapshot()
	if snap == nil {
		return 0
	}
	return len(snap.Records)
}

func (s *Store) Replace(snap *Snapshot) {
	s.mu.Lock()
	s.current = snap
	hooks := s.onChange
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(snap)
	}
}

// Touch marks the current snapshot as confirmed at t without changing its
// records. It is a no-op before the first load.
func (s *Store) Touch(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	next := *s.current
	next.LoadedAt = t
	s.current = &next
}

// OnReplace registers fn to run after every Replace.
func (s *Store) OnReplace(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}
