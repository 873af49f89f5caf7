package migration

import (
	"context"
	"sync"
)

// MemoryStorage keeps the executed set in process memory. State is lost when
// the process exits, so it suits tests and throwaway runs only.
//
// Logging a name that is already present is accepted and leaves the set
// unchanged.
type MemoryStorage struct {
	mu       sync.Mutex
	executed []string
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage returns a MemoryStorage seeded with the given names.
func NewMemoryStorage(names ...string) *MemoryStorage {
	s := &MemoryStorage{}
	for _, name := range names {
		s.appendIfAbsent(name)
	}
	return s
}

// LogMigration appends name if it is not already recorded.
func (s *MemoryStorage) LogMigration(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendIfAbsent(name)
	return nil
}

// UnlogMigration removes every occurrence of name.
func (s *MemoryStorage) UnlogMigration(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.executed[:0]
	for _, existing := range s.executed {
		if existing != name {
			kept = append(kept, existing)
		}
	}
	s.executed = kept
	return nil
}

// Executed returns a copy of the recorded names in the order they were logged.
func (s *MemoryStorage) Executed(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...), nil
}

func (s *MemoryStorage) appendIfAbsent(name string) {
	for _, existing := range s.executed {
		if existing == name {
			return
		}
	}
	s.executed = append(s.executed, name)
}
