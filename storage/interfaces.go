// Package storage defines the persistence interfaces for events,
// quarantine records, and provenance, plus the in-memory, SQLite, and
// Redis implementations. The engine depends only on the interfaces so
// state can live in-process, on disk, or in a shared store without
// touching evaluation logic.
package storage

import (
	"context"
	"time"

	"warden/core"
)

// EventFilters narrows a GetEvents read. Filters are independently
// conjunctive; zero values are wildcards. Severity is an exact match,
// not an ordinal comparison. Time bounds are inclusive.
type EventFilters struct {
	SandboxID string
	Type      core.EventType
	Severity  core.Severity
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
}

// EventStore is the append-only log of captured events with a
// per-sandbox index. Append must be atomic with the index update.
type EventStore interface {
	// Append adds an event to the log and indexes it by sandbox.
	Append(ctx context.Context, event *core.SecurityEvent) error

	// GetEvents returns a snapshot of matching events in capture order.
	GetEvents(ctx context.Context, filters EventFilters) ([]core.SecurityEvent, error)

	// HasEvent reports whether an event ID exists in the log.
	HasEvent(ctx context.Context, id string) (bool, error)

	// CountInWindow counts events of the given type for the given
	// sandbox with timestamps in [since, until], both inclusive. Used
	// by threshold rule conditions. When retention has evicted part of
	// the window the count covers only what is retained.
	CountInWindow(ctx context.Context, sandboxID string, eventType core.EventType, since, until time.Time) (int, error)

	// EventCount returns the number of retained events.
	EventCount(ctx context.Context) (int64, error)

	Close() error
}

// QuarantineStore persists quarantine records.
type QuarantineStore interface {
	Insert(ctx context.Context, record *core.QuarantineRecord) error

	// Get returns core.ErrQuarantineNotFound for unknown IDs.
	Get(ctx context.Context, id string) (*core.QuarantineRecord, error)

	// Release sets the record's end time. Returns
	// core.ErrQuarantineNotFound for unknown IDs and
	// core.ErrAlreadyReleased when the record already has an end time.
	Release(ctx context.Context, id string, endTime time.Time) error

	// ActiveForSandbox reports whether the sandbox has at least one
	// record with no end time.
	ActiveForSandbox(ctx context.Context, sandboxID string) (bool, error)

	// ListActive returns all records with no end time.
	ListActive(ctx context.Context) ([]core.QuarantineRecord, error)

	// ListBySandbox returns all records for a sandbox, active or not.
	ListBySandbox(ctx context.Context, sandboxID string) ([]core.QuarantineRecord, error)
}

// ProvenanceStore persists signed attestations keyed by sandbox ID.
// A second run of the same sandbox replaces the stored attestation;
// see DESIGN.md for the keying decision.
type ProvenanceStore interface {
	Put(ctx context.Context, record *core.SignedProvenance) error

	// Get returns core.ErrProvenanceNotFound for unknown sandboxes.
	Get(ctx context.Context, sandboxID string) (*core.SignedProvenance, error)

	// SetAnchor appends the chain anchor to a stored record. Returns
	// core.ErrAlreadyAnchored if the record already has one.
	SetAnchor(ctx context.Context, sandboxID string, anchor core.ChainAnchor) error
}
