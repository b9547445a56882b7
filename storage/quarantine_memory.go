package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"warden/core"
)

// MemoryQuarantineStore keeps quarantine records in process memory.
type MemoryQuarantineStore struct {
	mu        sync.RWMutex
	records   map[string]*core.QuarantineRecord
	bySandbox map[string][]string
}

// NewMemoryQuarantineStore creates an empty in-memory quarantine store.
func NewMemoryQuarantineStore() *MemoryQuarantineStore {
	return &MemoryQuarantineStore{
		records:   make(map[string]*core.QuarantineRecord),
		bySandbox: make(map[string][]string),
	}
}

func (s *MemoryQuarantineStore) Insert(ctx context.Context, record *core.QuarantineRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *record
	s.records[record.ID] = &cp
	s.bySandbox[record.SandboxID] = append(s.bySandbox[record.SandboxID], record.ID)
	return nil
}

func (s *MemoryQuarantineStore) Get(ctx context.Context, id string) (*core.QuarantineRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, core.ErrQuarantineNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryQuarantineStore) Release(ctx context.Context, id string, endTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return core.ErrQuarantineNotFound
	}
	if rec.EndTime != nil {
		return core.ErrAlreadyReleased
	}
	rec.EndTime = &endTime
	return nil
}

func (s *MemoryQuarantineStore) ActiveForSandbox(ctx context.Context, sandboxID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.bySandbox[sandboxID] {
		if rec := s.records[id]; rec != nil && rec.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryQuarantineStore) ListActive(ctx context.Context) ([]core.QuarantineRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.QuarantineRecord
	for _, rec := range s.records {
		if rec.Active() {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

func (s *MemoryQuarantineStore) ListBySandbox(ctx context.Context, sandboxID string) ([]core.QuarantineRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.bySandbox[sandboxID]
	out := make([]core.QuarantineRecord, 0, len(ids))
	for _, id := range ids {
		if rec := s.records[id]; rec != nil {
			out = append(out, *rec)
		}
	}
	return out, nil
}
