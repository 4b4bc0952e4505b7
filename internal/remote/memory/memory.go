package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"registro/internal/remote"
)

// Store is an in-process remote mirror. It backs tests and broker-less
// development runs; data lives only as long as the process.
type Store struct {
	mu   sync.Mutex
	rows map[string]map[string]remote.Record

	// FailUpserts and FailFetches make every call fail, for exercising the
	// advisory-failure paths.
	FailUpserts bool
	FailFetches bool
}

var _ remote.Store = (*Store)(nil)

func New() *Store {
	return &Store{rows: make(map[string]map[string]remote.Record)}
}

func (s *Store) Upsert(_ context.Context, userID, category string, data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpserts {
		return errUnavailable
	}
	if s.rows[userID] == nil {
		s.rows[userID] = make(map[string]remote.Record)
	}
	s.rows[userID][category] = remote.Record{
		Category:  category,
		Data:      append(json.RawMessage(nil), data...),
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *Store) FetchAll(_ context.Context, userID string) ([]remote.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailFetches {
		return nil, errUnavailable
	}
	var out []remote.Record
	for _, rec := range s.rows[userID] {
		out = append(out, rec)
	}
	return out, nil
}

// Record returns the stored payload for a key, for test assertions.
func (s *Store) Record(userID, category string) (remote.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[userID][category]
	return rec, ok
}

var errUnavailable = unavailableError{}

type unavailableError struct{}

func (unavailableError) Error() string { return "remote store unavailable" }
