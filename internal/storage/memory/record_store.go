package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

// RecordStore keeps part records per unit.
type RecordStore struct {
	mu    sync.RWMutex
	units map[crawler.UnitKey][]crawler.PartRecord
}

// NewRecordStore creates an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{units: make(map[crawler.UnitKey][]crawler.PartRecord)}
}

// ReplaceUnit swaps the unit's records for a copy of records.
func (s *RecordStore) ReplaceUnit(_ context.Context, key crawler.UnitKey, records []crawler.PartRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(records) == 0 {
		delete(s.units, key)
		return nil
	}
	s.units[key] = append([]crawler.PartRecord(nil), records...)
	return nil
}

// Unit returns the records stored for key.
func (s *RecordStore) Unit(key crawler.UnitKey) []crawler.PartRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.PartRecord(nil), s.units[key]...)
}

// Total returns the number of records across all units.
func (s *RecordStore) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, recs := range s.units {
		n += len(recs)
	}
	return n
}
