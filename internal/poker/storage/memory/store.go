// Package memory provides an in-memory session store with versioned
// optimistic updates. It backs tests and single-process deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ybrake1950/planning-poker/internal/poker/domain"
	"github.com/ybrake1950/planning-poker/internal/poker/storage"
)

type versionedSession struct {
	session domain.Session
	version uint64
}

// Store keeps sessions in a mutex-guarded map. Each record carries a version
// counter; ApplyUpdate runs the mutator outside the lock and commits with a
// compare-and-swap on the version, so concurrent per-player updates never
// overwrite each other.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]versionedSession
}

// NewStore creates an empty in-memory session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]versionedSession),
	}
}

// Create inserts a new session record.
func (s *Store) Create(ctx context.Context, session domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.Code]; exists {
		return storage.ErrAlreadyExists
	}
	s.sessions[session.Code] = versionedSession{session: session.Clone(), version: 1}
	return nil
}

// Get returns a copy of the session with the given code.
func (s *Store) Get(ctx context.Context, code string) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.sessions[code]
	if !ok {
		return domain.Session{}, storage.ErrNotFound
	}
	return record.session.Clone(), nil
}

// Delete removes the session with the given code. Deleting a missing session
// is not an error.
func (s *Store) Delete(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, code)
	return nil
}

// ApplyUpdate applies update to a private copy of the session and commits it
// only when the record version is unchanged, retrying on contention.
func (s *Store) ApplyUpdate(ctx context.Context, code string, update func(*domain.Session) error) (domain.Session, error) {
	for attempt := 0; attempt < storage.UpdateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.Session{}, err
		}

		s.mu.RLock()
		record, ok := s.sessions[code]
		s.mu.RUnlock()
		if !ok {
			return domain.Session{}, storage.ErrNotFound
		}

		working := record.session.Clone()
		if err := update(&working); err != nil {
			return domain.Session{}, err
		}

		s.mu.Lock()
		current, ok := s.sessions[code]
		if !ok {
			s.mu.Unlock()
			return domain.Session{}, storage.ErrNotFound
		}
		if current.version == record.version {
			s.sessions[code] = versionedSession{session: working.Clone(), version: record.version + 1}
			s.mu.Unlock()
			return working, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.Session{}, ctx.Err()
		case <-time.After(storage.RetryBackoff):
		}
	}
	return domain.Session{}, storage.ErrConflict
}
