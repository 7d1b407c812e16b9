// Package mock provides an in-memory [archive.Store] test double that
// records calls for assertion.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/earshot/earshot/internal/archive"
)

var _ archive.Store = (*Store)(nil)

// Store is an in-memory archive for tests. The zero value is ready to use.
// All methods are safe for concurrent use.
type Store struct {
	// SaveErr, when set, is returned by Save.
	SaveErr error

	mu      sync.Mutex
	nextID  int64
	records []archive.Record
	closed  bool
}

// Save implements [archive.Store].
func (s *Store) Save(_ context.Context, r archive.Record) (int64, error) {
	if s.SaveErr != nil {
		return 0, s.SaveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	r.ID = s.nextID
	s.records = append(s.records, r)
	return r.ID, nil
}

// Recent implements [archive.Store]. Records are returned newest first by
// insertion order.
func (s *Store) Recent(_ context.Context, limit int) ([]archive.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]archive.Record, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

// Search implements [archive.Store] with a naive substring match.
func (s *Store) Search(_ context.Context, query string, limit int) ([]archive.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]archive.Record, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if strings.Contains(s.records[i].Text, query) {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

// Prune implements [archive.Store].
func (s *Store) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	var pruned int64
	for _, r := range s.records {
		if r.CapturedAt.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return pruned, nil
}

// Close implements [archive.Store].
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Saved returns a copy of all records saved so far, oldest first.
func (s *Store) Saved() []archive.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]archive.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Closed reports whether Close has been called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
