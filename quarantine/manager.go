// Package quarantine manages sandbox isolation records.
package quarantine

import (
	"context"
	"time"

	"warden/core"
	"warden/metrics"
	"warden/storage"
	"warden/stream"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager creates, queries, and releases quarantine records, and
// publishes a notification for every state change.
type Manager struct {
	store  storage.QuarantineStore
	bus    *stream.Bus
	logger *zap.SugaredLogger
}

func NewManager(store storage.QuarantineStore, bus *stream.Bus, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		store:  store,
		bus:    bus,
		logger: logger,
	}
}

// Quarantine opens an isolation record for the sandbox and publishes
// a quarantine notification. A sandbox can hold several records at
// once; it stays quarantined while any of them is open.
func (m *Manager) Quarantine(ctx context.Context, sandboxID, reason string, trigger core.SecurityEvent) (*core.QuarantineRecord, error) {
	record := &core.QuarantineRecord{
		ID:          uuid.New().String(),
		SandboxID:   sandboxID,
		Reason:      reason,
		TriggeredBy: trigger,
		StartTime:   time.Now().UTC(),
	}

	if err := m.store.Insert(ctx, record); err != nil {
		return nil, err
	}
	metrics.QuarantinesTriggered.Inc()

	m.logger.Warnw("Sandbox quarantined",
		"quarantine_id", record.ID, "sandbox_id", sandboxID,
		"reason", reason, "trigger_event", trigger.ID)

	m.bus.Publish(core.Notification{
		Kind:       core.NotificationQuarantine,
		Timestamp:  record.StartTime,
		Quarantine: record,
	})
	return record, nil
}

// Release closes a quarantine record. Releasing an unknown record
// returns core.ErrQuarantineNotFound; releasing one that is already
// closed returns core.ErrAlreadyReleased.
func (m *Manager) Release(ctx context.Context, quarantineID string) error {
	endTime := time.Now().UTC()
	if err := m.store.Release(ctx, quarantineID, endTime); err != nil {
		return err
	}
	metrics.QuarantinesReleased.Inc()

	record, err := m.store.Get(ctx, quarantineID)
	if err != nil {
		return err
	}

	m.logger.Infow("Quarantine released",
		"quarantine_id", quarantineID, "sandbox_id", record.SandboxID)

	m.bus.Publish(core.Notification{
		Kind:       core.NotificationQuarantine,
		Timestamp:  endTime,
		Quarantine: record,
	})
	return nil
}

// IsQuarantined reports whether the sandbox has at least one open
// record.
func (m *Manager) IsQuarantined(ctx context.Context, sandboxID string) (bool, error) {
	return m.store.ActiveForSandbox(ctx, sandboxID)
}

// Get returns one record by ID.
func (m *Manager) Get(ctx context.Context, quarantineID string) (*core.QuarantineRecord, error) {
	return m.store.Get(ctx, quarantineID)
}

// ListActive returns all open records across sandboxes.
func (m *Manager) ListActive(ctx context.Context) ([]core.QuarantineRecord, error) {
	return m.store.ListActive(ctx)
}

// History returns every record for a sandbox, open or closed.
func (m *Manager) History(ctx context.Context, sandboxID string) ([]core.QuarantineRecord, error) {
	return m.store.ListBySandbox(ctx, sandboxID)
}
