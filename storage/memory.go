package storage

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"

	"time"

	"warden/core"

	"go.uber.org/zap"
)

const (
	// defaultShardCount spreads sandbox IDs over independent locks so
	// concurrent captures for different sandboxes do not contend.
	defaultShardCount = 16

	// DefaultMaxEvents bounds retained history. Oldest events are
	// evicted first; threshold-window rule counts degrade to retained
	// history when a window reaches past the eviction horizon.
	DefaultMaxEvents = 100_000
)

// storedEvent pairs an event with its global capture sequence number.
type storedEvent struct {
	seq   uint64
	event core.SecurityEvent
}

// eventShard is a single-writer segment of the log. All events of a
// sandbox live in one shard, so the per-sandbox index never spans
// locks.
type eventShard struct {
	mu sync.RWMutex
	// events ordered by capture sequence; events[0] is at absolute
	// offset base within this shard's history.
	events []storedEvent
	base   uint64
	// bySandbox holds absolute offsets, oldest first.
	bySandbox map[string][]uint64
	ids       map[string]struct{}
}

// MemoryEventStore is the in-process EventStore: a bounded, sharded
// append-only log with a per-sandbox index.
type MemoryEventStore struct {
	shards      []*eventShard
	seq         atomic.Uint64
	maxPerShard int
	logger      *zap.SugaredLogger
}

// NewMemoryEventStore creates a store retaining at most maxEvents
// events across all shards. maxEvents <= 0 selects DefaultMaxEvents.
func NewMemoryEventStore(maxEvents int, logger *zap.SugaredLogger) *MemoryEventStore {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	perShard := maxEvents / defaultShardCount
	if perShard < 1 {
		perShard = 1
	}

	shards := make([]*eventShard, defaultShardCount)
	for i := range shards {
		shards[i] = &eventShard{
			bySandbox: make(map[string][]uint64),
			ids:       make(map[string]struct{}),
		}
	}
	return &MemoryEventStore{
		shards:      shards,
		maxPerShard: perShard,
		logger:      logger,
	}
}

func (s *MemoryEventStore) shardFor(sandboxID string) *eventShard {
	h := fnv.New32a()
	h.Write([]byte(sandboxID))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Append adds the event to its sandbox's shard and index atomically
// under the shard lock, evicting the shard's oldest event when the
// retention cap is reached.
func (s *MemoryEventStore) Append(ctx context.Context, event *core.SecurityEvent) error {
	if err := core.ValidateEvent(event); err != nil {
		return err
	}

	sh := s.shardFor(event.SandboxID)
	seq := s.seq.Add(1)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if len(sh.events) >= s.maxPerShard {
		sh.evictOldestLocked()
	}

	offset := sh.base + uint64(len(sh.events))
	sh.events = append(sh.events, storedEvent{seq: seq, event: *event})
	sh.bySandbox[event.SandboxID] = append(sh.bySandbox[event.SandboxID], offset)
	sh.ids[event.ID] = struct{}{}
	return nil
}

// evictOldestLocked drops the shard's oldest event and repairs the
// sandbox index. Caller holds the shard lock.
func (sh *eventShard) evictOldestLocked() {
	old := sh.events[0]
	sh.events = sh.events[1:]

	delete(sh.ids, old.event.ID)
	sb := old.event.SandboxID
	if idx := sh.bySandbox[sb]; len(idx) > 0 && idx[0] == sh.base {
		if len(idx) == 1 {
			delete(sh.bySandbox, sb)
		} else {
			sh.bySandbox[sb] = idx[1:]
		}
	}
	sh.base++
}

// at returns the event stored at an absolute offset. Caller holds at
// least a read lock and guarantees offset >= base.
func (sh *eventShard) at(offset uint64) storedEvent {
	return sh.events[offset-sh.base]
}

func matchesFilters(e *core.SecurityEvent, f EventFilters) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}

// GetEvents returns a snapshot of matching events in capture order.
func (s *MemoryEventStore) GetEvents(ctx context.Context, filters EventFilters) ([]core.SecurityEvent, error) {
	var collected []storedEvent

	if filters.SandboxID != "" {
		sh := s.shardFor(filters.SandboxID)
		sh.mu.RLock()
		for _, offset := range sh.bySandbox[filters.SandboxID] {
			se := sh.at(offset)
			if matchesFilters(&se.event, filters) {
				collected = append(collected, se)
			}
		}
		sh.mu.RUnlock()
	} else {
		for _, sh := range s.shards {
			sh.mu.RLock()
			for i := range sh.events {
				if matchesFilters(&sh.events[i].event, filters) {
					collected = append(collected, sh.events[i])
				}
			}
			sh.mu.RUnlock()
		}
		sort.Slice(collected, func(i, j int) bool {
			return collected[i].seq < collected[j].seq
		})
	}

	if filters.Limit > 0 && len(collected) > filters.Limit {
		collected = collected[:filters.Limit]
	}

	out := make([]core.SecurityEvent, len(collected))
	for i, se := range collected {
		out[i] = se.event
	}
	return out, nil
}

// HasEvent reports whether an event ID is retained in any shard.
func (s *MemoryEventStore) HasEvent(ctx context.Context, id string) (bool, error) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		_, ok := sh.ids[id]
		sh.mu.RUnlock()
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// CountInWindow counts same-type events for a sandbox with timestamps
// in [since, until].
func (s *MemoryEventStore) CountInWindow(ctx context.Context, sandboxID string, eventType core.EventType, since, until time.Time) (int, error) {
	sh := s.shardFor(sandboxID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	count := 0
	for _, offset := range sh.bySandbox[sandboxID] {
		se := sh.at(offset)
		if se.event.Type != eventType {
			continue
		}
		ts := se.event.Timestamp
		if !ts.Before(since) && !ts.After(until) {
			count++
		}
	}
	return count, nil
}

// EventCount returns the number of retained events.
func (s *MemoryEventStore) EventCount(ctx context.Context) (int64, error) {
	var total int64
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += int64(len(sh.events))
		sh.mu.RUnlock()
	}
	return total, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryEventStore) Close() error {
	return nil
}
