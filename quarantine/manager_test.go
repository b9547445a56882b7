package quarantine

import (
	"context"
	"testing"

	"warden/core"
	"warden/storage"
	"warden/stream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) (*Manager, <-chan core.Notification) {
	t.Helper()
	bus := stream.NewBus(zap.NewNop().Sugar())
	t.Cleanup(bus.Close)
	ch, unsubscribe := bus.Subscribe("test", 16)
	t.Cleanup(unsubscribe)
	return NewManager(storage.NewMemoryQuarantineStore(), bus, zap.NewNop().Sugar()), ch
}

func triggerEvent(sandboxID string) core.SecurityEvent {
	e := core.NewSecurityEvent()
	e.Type = core.EventSuspiciousBehavior
	e.Severity = core.SeverityCritical
	e.SandboxID = sandboxID
	e.Message = "reverse shell detected"
	return *e
}

func TestQuarantineLifecycle(t *testing.T) {
	manager, ch := newTestManager(t)
	ctx := context.Background()

	record, err := manager.Quarantine(ctx, "sb-1", "Block Suspicious Behavior", triggerEvent("sb-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, record.ID)
	assert.True(t, record.Active())

	quarantined, err := manager.IsQuarantined(ctx, "sb-1")
	require.NoError(t, err)
	assert.True(t, quarantined)

	n := <-ch
	assert.Equal(t, core.NotificationQuarantine, n.Kind)
	require.NotNil(t, n.Quarantine)
	assert.True(t, n.Quarantine.Active())

	require.NoError(t, manager.Release(ctx, record.ID))

	quarantined, err = manager.IsQuarantined(ctx, "sb-1")
	require.NoError(t, err)
	assert.False(t, quarantined)

	n = <-ch
	require.NotNil(t, n.Quarantine)
	assert.False(t, n.Quarantine.Active(), "release notification carries the closed record")
}

func TestReleaseErrors(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	assert.ErrorIs(t, manager.Release(ctx, "missing"), core.ErrQuarantineNotFound)

	record, err := manager.Quarantine(ctx, "sb-1", "test", triggerEvent("sb-1"))
	require.NoError(t, err)
	require.NoError(t, manager.Release(ctx, record.ID))

	assert.ErrorIs(t, manager.Release(ctx, record.ID), core.ErrAlreadyReleased)
}

func TestMultipleRecordsKeepSandboxQuarantined(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	first, err := manager.Quarantine(ctx, "sb-1", "first", triggerEvent("sb-1"))
	require.NoError(t, err)
	second, err := manager.Quarantine(ctx, "sb-1", "second", triggerEvent("sb-1"))
	require.NoError(t, err)

	require.NoError(t, manager.Release(ctx, first.ID))
	quarantined, err := manager.IsQuarantined(ctx, "sb-1")
	require.NoError(t, err)
	assert.True(t, quarantined, "second record still open")

	require.NoError(t, manager.Release(ctx, second.ID))
	quarantined, err = manager.IsQuarantined(ctx, "sb-1")
	require.NoError(t, err)
	assert.False(t, quarantined)

	history, err := manager.History(ctx, "sb-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
