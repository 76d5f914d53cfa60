package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/weather-ingest/internal/weather"
)

var (
	// ErrNotFound is returned when no record was emitted for a given site.
	ErrNotFound = errors.New("no records for site")
)

// entry pairs an emitted record with its parsed observation time.
type entry struct {
	record weather.NormalizedRecord
	at     time.Time
}

// MemoryStore is a concurrency-safe, retention-bounded history of emitted records.
// It only backs the status API; nothing survives a restart.
type MemoryStore struct {
	mu sync.RWMutex

	// key: site name
	data map[string][]entry

	loc        *time.Location
	maxHistory int           // max records per site (0 = unlimited)
	maxAge     time.Duration // max age of records (0 = unlimited)
}

// NewMemoryStore creates a new MemoryStore. loc is the zone record timestamps
// were formatted in.
func NewMemoryStore(maxHistory int, maxAge time.Duration, loc *time.Location) *MemoryStore {
	if loc == nil {
		loc = time.Local
	}
	return &MemoryStore{
		data:       make(map[string][]entry),
		loc:        loc,
		maxHistory: maxHistory,
		maxAge:     maxAge,
	}
}

// SaveRecord appends rec to its site's history and enforces retention.
func (s *MemoryStore) SaveRecord(rec weather.NormalizedRecord) {
	at, err := rec.Time(s.loc)
	if err != nil {
		at = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.data[rec.SiteName], entry{record: rec, at: at})

	if s.maxHistory > 0 && len(history) > s.maxHistory {
		history = history[len(history)-s.maxHistory:]
	}

	if s.maxAge > 0 {
		cutoff := time.Now().Add(-s.maxAge)
		i := 0
		for ; i < len(history)-1; i++ {
			if !history[i].at.Before(cutoff) {
				break
			}
		}
		history = history[i:]
	}

	s.data[rec.SiteName] = history
}

// GetLatest returns the most recent record for a site.
func (s *MemoryStore) GetLatest(site string) (weather.NormalizedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.data[site]
	if len(history) == 0 {
		return weather.NormalizedRecord{}, ErrNotFound
	}
	return history[len(history)-1].record, nil
}

// GetRange returns all records for a site observed between from and to (inclusive).
func (s *MemoryStore) GetRange(site string, from, to time.Time) ([]weather.NormalizedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []weather.NormalizedRecord
	for _, e := range s.data[site] {
		if !e.at.Before(from) && !e.at.After(to) {
			result = append(result, e.record)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

// Sites returns the number of sites with at least one record.
func (s *MemoryStore) Sites() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
