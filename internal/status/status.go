// Package status keeps the outcome of each station's most recent collection so
// the HTTP surface can report it.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/departure-collector/internal/models"
)

// Store holds one StationStatus per station. Entries expire after the TTL given
// to Set so a station that stops being collected eventually disappears.
type Store interface {
	Get(ctx context.Context, station string) (models.StationStatus, bool, error)
	Set(ctx context.Context, status models.StationStatus, ttl time.Duration) error
	// List returns the stored statuses for the named stations, skipping misses.
	List(ctx context.Context, stations []string) ([]models.StationStatus, error)
}

// InMemoryStore implements Store with a mutex-guarded map. Expired entries are
// removed on access.
type InMemoryStore struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time
}

type entry struct {
	value     models.StationStatus
	expiresAt time.Time
}

// NewInMemoryStore creates an empty in-memory status store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data: make(map[string]entry),
		now:  time.Now,
	}
}

// Get returns (status, true, nil) when present and unexpired, (zero, false, nil) otherwise.
func (s *InMemoryStore) Get(ctx context.Context, station string) (models.StationStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(station)
}

func (s *InMemoryStore) getLocked(station string) (models.StationStatus, bool, error) {
	e, ok := s.data[station]
	if !ok {
		return models.StationStatus{}, false, nil
	}
	if s.now().After(e.expiresAt) {
		delete(s.data, station)
		return models.StationStatus{}, false, nil
	}
	return e.value, true, nil
}

// Set stores status under its station name.
func (s *InMemoryStore) Set(ctx context.Context, status models.StationStatus, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[status.Station] = entry{
		value:     status,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// List implements Store.List.
func (s *InMemoryStore) List(ctx context.Context, stations []string) ([]models.StationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.StationStatus, 0, len(stations))
	for _, name := range stations {
		if st, ok, _ := s.getLocked(name); ok {
			out = append(out, st)
		}
	}
	return out, nil
}
