package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/clock"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

// CheckpointStore keeps checkpoints in a map. It is not durable and is meant
// for tests and dry runs.
type CheckpointStore struct {
	mu      sync.Mutex
	records map[crawler.UnitKey]crawler.CheckpointRecord
	clock   crawler.Clock
}

// NewCheckpointStore constructs a CheckpointStore. A nil clock uses the wall clock.
func NewCheckpointStore(clk crawler.Clock) *CheckpointStore {
	if clk == nil {
		clk = clock.System{}
	}
	return &CheckpointStore{
		records: make(map[crawler.UnitKey]crawler.CheckpointRecord),
		clock:   clk,
	}
}

// Register creates a PENDING record if none exists.
func (s *CheckpointStore) Register(_ context.Context, key crawler.UnitKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return nil
	}
	s.records[key] = crawler.CheckpointRecord{Key: key, Status: crawler.StatusPending, UpdatedAt: s.clock.Now()}
	return nil
}

// Get returns the record for key.
func (s *CheckpointStore) Get(_ context.Context, key crawler.UnitKey) (crawler.CheckpointRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	return rec, ok, nil
}

// Claim moves PENDING or absent to IN_PROGRESS.
func (s *CheckpointStore) Claim(_ context.Context, key crawler.UnitKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if ok && rec.Status != crawler.StatusPending {
		return false, nil
	}
	if !ok {
		rec = crawler.CheckpointRecord{Key: key}
	}
	rec.Status = crawler.StatusInProgress
	rec.UpdatedAt = s.clock.Now()
	s.records[key] = rec
	return true, nil
}

// Complete moves IN_PROGRESS to DONE.
func (s *CheckpointStore) Complete(_ context.Context, key crawler.UnitKey, rows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if ok && rec.Status == crawler.StatusDone {
		return nil
	}
	if !ok || rec.Status != crawler.StatusInProgress {
		return transitionErr(key, rec.Status, crawler.StatusDone)
	}
	rec.Status = crawler.StatusDone
	rec.AttemptCount++
	rec.RowCount = rows
	rec.LastError = ""
	rec.UpdatedAt = s.clock.Now()
	s.records[key] = rec
	return nil
}

// Fail moves IN_PROGRESS to FAILED.
func (s *CheckpointStore) Fail(_ context.Context, key crawler.UnitKey, errText string) error {
	return s.finish(key, crawler.StatusFailed, errText)
}

// Release moves IN_PROGRESS back to PENDING.
func (s *CheckpointStore) Release(_ context.Context, key crawler.UnitKey, errText string) error {
	return s.finish(key, crawler.StatusPending, errText)
}

func (s *CheckpointStore) finish(key crawler.UnitKey, to crawler.Status, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || rec.Status != crawler.StatusInProgress {
		return transitionErr(key, rec.Status, to)
	}
	rec.Status = to
	rec.AttemptCount++
	rec.LastError = errText
	rec.UpdatedAt = s.clock.Now()
	s.records[key] = rec
	return nil
}

// Reset forces key back to PENDING.
func (s *CheckpointStore) Reset(_ context.Context, key crawler.UnitKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		rec = crawler.CheckpointRecord{Key: key}
	}
	rec.Status = crawler.StatusPending
	rec.UpdatedAt = s.clock.Now()
	s.records[key] = rec
	return nil
}

// RecoverInProgress returns stale IN_PROGRESS records to PENDING.
func (s *CheckpointStore) RecoverInProgress(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := s.clock.Now()
	for key, rec := range s.records {
		if rec.Status != crawler.StatusInProgress {
			continue
		}
		rec.Status = crawler.StatusPending
		rec.UpdatedAt = now
		s.records[key] = rec
		n++
	}
	return n, nil
}

// List returns records sorted by key, filtered by status when set.
func (s *CheckpointStore) List(_ context.Context, status crawler.Status) ([]crawler.CheckpointRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]crawler.CheckpointRecord, 0, len(s.records))
	for _, rec := range s.records {
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.VehicleID != out[j].Key.VehicleID {
			return out[i].Key.VehicleID < out[j].Key.VehicleID
		}
		return out[i].Key.GroupID < out[j].Key.GroupID
	})
	return out, nil
}

func transitionErr(key crawler.UnitKey, from, to crawler.Status) error {
	if from == "" {
		from = "ABSENT"
	}
	return fmt.Errorf("%s -> %s for %s: %w", from, to, key, crawler.ErrInvalidTransition)
}
