package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/weather-history-collector/internal/weather"
)

// cityHistory holds the observations of one city keyed by UTC timestamp.
type cityHistory struct {
	byTime map[time.Time]weather.Observation
}

// MemoryStore is a concurrency-safe in-memory store with the same
// insert-or-skip semantics as SQLStore. Nothing survives a restart.
type MemoryStore struct {
	mu sync.RWMutex

	// key: city name, value: history
	data    map[string]*cityHistory
	created bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]*cityHistory),
	}
}

// EnsureSchema reports created on the first call and unchanged afterwards.
func (s *MemoryStore) EnsureSchema(context.Context) (weather.SchemaResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.created {
		s.created = true
		return weather.SchemaResult{Action: weather.SchemaCreated}, nil
	}
	return weather.SchemaResult{Action: weather.SchemaUnchanged}, nil
}

// Write keeps the first observation seen for each (city, timestamp).
func (s *MemoryStore) Write(_ context.Context, city string, obs []weather.Observation) (weather.WriteResult, error) {
	var res weather.WriteResult

	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.data[city]
	if !ok {
		history = &cityHistory{byTime: make(map[time.Time]weather.Observation)}
		s.data[city] = history
	}

	for _, o := range obs {
		if o.Timestamp.IsZero() {
			res.Failed++
			res.Errors = append(res.Errors, weather.ErrMissingTimestamp)
			continue
		}
		o.City = city
		o.Timestamp = o.Timestamp.UTC()
		if _, exists := history.byTime[o.Timestamp]; exists {
			res.Conflicts++
			continue
		}
		history.byTime[o.Timestamp] = o
		res.Inserted++
	}
	return res, nil
}

// Latest returns the most recent observation for a city.
func (s *MemoryStore) Latest(_ context.Context, city string) (weather.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[city]
	if !ok || len(history.byTime) == 0 {
		return weather.Observation{}, ErrNotFound
	}

	var latest weather.Observation
	for ts, o := range history.byTime {
		if ts.After(latest.Timestamp) {
			latest = o
		}
	}
	return latest, nil
}

// History returns all observations for a city between from and to (inclusive).
func (s *MemoryStore) History(_ context.Context, city string, from, to time.Time) ([]weather.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[city]
	if !ok || len(history.byTime) == 0 {
		return nil, ErrNotFound
	}

	var result []weather.Observation
	for ts, o := range history.byTime {
		if !ts.Before(from) && !ts.After(to) {
			result = append(result, o)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// Count returns the number of stored observations for a city, or for every
// city when city is empty.
func (s *MemoryStore) Count(_ context.Context, city string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for name, history := range s.data {
		if city == "" || name == city {
			n += len(history.byTime)
		}
	}
	return n, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
