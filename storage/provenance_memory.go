package storage

import (
	"context"
	"sync"

	"warden/core"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxProvenance bounds the number of retained attestations.
const DefaultMaxProvenance = 10_000

// MemoryProvenanceStore keeps the most recent attestations in an LRU
// keyed by sandbox ID. A new run of the same sandbox overwrites the
// previous attestation (see DESIGN.md on the keying decision).
type MemoryProvenanceStore struct {
	mu      sync.Mutex
	records *lru.Cache[string, *core.SignedProvenance]
}

// NewMemoryProvenanceStore creates a store retaining at most size
// attestations. size <= 0 selects DefaultMaxProvenance.
func NewMemoryProvenanceStore(size int) (*MemoryProvenanceStore, error) {
	if size <= 0 {
		size = DefaultMaxProvenance
	}
	cache, err := lru.New[string, *core.SignedProvenance](size)
	if err != nil {
		return nil, err
	}
	return &MemoryProvenanceStore{records: cache}, nil
}

func (s *MemoryProvenanceStore) Put(ctx context.Context, record *core.SignedProvenance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *record
	s.records.Add(record.SandboxID, &cp)
	return nil
}

func (s *MemoryProvenanceStore) Get(ctx context.Context, sandboxID string) (*core.SignedProvenance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records.Get(sandboxID)
	if !ok {
		return nil, core.ErrProvenanceNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryProvenanceStore) SetAnchor(ctx context.Context, sandboxID string, anchor core.ChainAnchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records.Get(sandboxID)
	if !ok {
		return core.ErrProvenanceNotFound
	}
	if rec.ChainAnchor != nil {
		return core.ErrAlreadyAnchored
	}
	a := anchor
	rec.ChainAnchor = &a
	return nil
}
