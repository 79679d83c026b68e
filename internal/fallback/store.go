package fallback

import (
	"context"
	"sync"
	"time"
)

// Record is the last-known-good location for one (bus, driver) pair. Owned
// and mutated only by a Store; superseded by newer validated samples, never
// by older timestamps.
type Record struct {
	BusID      string    `json:"busId"`
	DriverID   string    `json:"driverId"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}

// Store supplies degraded answers when primary validation fails.
type Store interface {
	// Get returns the live record for (busID, driverID), or nil when none
	// exists.
	Get(ctx context.Context, busID, driverID string) (*Record, error)
	// Cache installs rec as the new last-known-good record unless the stored
	// record has a newer timestamp.
	Cache(ctx context.Context, rec Record) error
}

// MemoryStore is the in-process Store used by the client resilience layer
// and by tests. One live record per (busID, driverID).
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(_ context.Context, busID, driverID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key(busID, driverID)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Cache(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(rec.BusID, rec.DriverID)
	if old, ok := s.records[k]; ok && old.Timestamp.After(rec.Timestamp) {
		return nil // never supersede with an older sample
	}
	s.records[k] = rec
	return nil
}

// Len reports the number of live records (debug/tests).
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func key(busID, driverID string) string {
	return busID + "|" + driverID
}
