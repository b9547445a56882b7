package monitor

import (
	"context"
	"testing"
	"time"

	"warden/core"
	"warden/policy"
	"warden/quarantine"
	"warden/storage"
	"warden/stream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*Service, *stream.Bus) {
	t.Helper()
	logger := zap.NewNop().Sugar()

	events := storage.NewMemoryEventStore(0, logger)
	t.Cleanup(func() { events.Close() })

	registry := policy.NewRegistry(logger)
	for _, p := range policy.Defaults() {
		require.NoError(t, registry.Apply(p))
	}
	engine := policy.NewEngine(registry, events, logger)

	bus := stream.NewBus(logger)
	t.Cleanup(bus.Close)

	manager := quarantine.NewManager(storage.NewMemoryQuarantineStore(), bus, logger)
	return NewService(events, registry, engine, manager, bus, logger), bus
}

func shadowEvent(sandboxID string) *core.SecurityEvent {
	e := core.NewSecurityEvent()
	e.Type = core.EventFileAccess
	e.Severity = core.SeverityCritical
	e.SandboxID = sandboxID
	e.Message = "access /etc/shadow"
	return e
}

func TestCaptureQuarantinesOnVerdict(t *testing.T) {
	service, bus := newTestService(t)
	ctx := context.Background()

	ch, unsubscribe := bus.Subscribe("test", 16)
	defer unsubscribe()

	outcome, err := service.CaptureEvent(ctx, shadowEvent("sb1"))
	require.NoError(t, err)
	assert.Equal(t, core.ActionQuarantine, outcome.Action)
	assert.Equal(t, []string{"Block Critical File Access", "Auto-Quarantine Critical Events"}, outcome.MatchedRules)

	// Exactly one quarantine record was opened for the sandbox.
	quarantined, err := service.quarantine.IsQuarantined(ctx, "sb1")
	require.NoError(t, err)
	assert.True(t, quarantined)
	active, err := service.quarantine.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Block Critical File Access, Auto-Quarantine Critical Events", active[0].Reason)

	// Both the quarantine and the outcome land on the stream.
	first := <-ch
	second := <-ch
	kinds := []core.NotificationKind{first.Kind, second.Kind}
	assert.Contains(t, kinds, core.NotificationQuarantine)
	assert.Contains(t, kinds, core.NotificationOutcome)

	// The event is stored.
	events, err := service.GetEvents(ctx, storage.EventFilters{SandboxID: "sb1"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCaptureAllowedEvent(t *testing.T) {
	service, bus := newTestService(t)
	ctx := context.Background()

	ch, unsubscribe := bus.Subscribe("test", 16)
	defer unsubscribe()

	e := core.NewSecurityEvent()
	e.Type = core.EventComplianceCheck
	e.Severity = core.SeverityLow
	e.SandboxID = "sb-1"

	outcome, err := service.CaptureEvent(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, core.ActionAllow, outcome.Action)
	assert.Empty(t, outcome.MatchedRules)

	n := <-ch
	assert.Equal(t, core.NotificationOutcome, n.Kind)
	require.NotNil(t, n.Outcome)
	assert.Equal(t, e.ID, n.Outcome.Event.ID)

	quarantined, err := service.quarantine.IsQuarantined(ctx, "sb-1")
	require.NoError(t, err)
	assert.False(t, quarantined)
}

func TestCaptureRejectsInvalidEventBeforeStoring(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	e := core.NewSecurityEvent()
	e.Type = core.EventFileAccess
	// Severity and SandboxID missing.

	_, err := service.CaptureEvent(ctx, e)
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))

	events, err := service.GetEvents(ctx, storage.EventFilters{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestCaptureThresholdRuleSeesIncomingEvent(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	burst := &core.SecurityPolicy{
		ID: "p_burst", Name: "burst", Enabled: true, Tier: core.TierShield,
		Rules: []core.SecurityRule{{
			ID: "r_burst", Name: "spawn burst",
			Condition: core.RuleCondition{
				Type:         core.EventProcessSpawn,
				Threshold:    3,
				TimeWindowMS: 60_000,
			},
			Action: core.ActionDeny,
		}},
	}
	require.NoError(t, service.ApplyPolicy(burst))

	base := time.Now().UTC()
	for i := 0; i < 2; i++ {
		e := core.NewSecurityEvent()
		e.Type = core.EventProcessSpawn
		e.Severity = core.SeverityMedium
		e.SandboxID = "sb-1"
		e.Timestamp = base.Add(time.Duration(i) * time.Second)

		outcome, err := service.CaptureEvent(ctx, e)
		require.NoError(t, err)
		assert.Equal(t, core.ActionAllow, outcome.Action, "event %d is below the threshold", i+1)
	}

	// The third spawn is counted in its own window and trips the rule.
	e := core.NewSecurityEvent()
	e.Type = core.EventProcessSpawn
	e.Severity = core.SeverityMedium
	e.SandboxID = "sb-1"
	e.Timestamp = base.Add(2 * time.Second)

	outcome, err := service.CaptureEvent(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, core.ActionDeny, outcome.Action)
}

func TestAggregateWindowPublishesAnomalies(t *testing.T) {
	service, bus := newTestService(t)
	ctx := context.Background()

	// A lone privilege escalation among a crowd of file accesses is a
	// rare-type anomaly.
	for i := 0; i < 5; i++ {
		e := core.NewSecurityEvent()
		e.Type = core.EventFileAccess
		e.Severity = core.SeverityLow
		e.SandboxID = "sb-1"
		e.Message = "read /tmp/data"
		_, err := service.CaptureEvent(ctx, e)
		require.NoError(t, err)
	}
	rare := core.NewSecurityEvent()
	rare.Type = core.EventPrivilegeEscalation
	rare.Severity = core.SeverityMedium
	rare.SandboxID = "sb-1"
	_, err := service.CaptureEvent(ctx, rare)
	require.NoError(t, err)

	ch, unsubscribe := bus.Subscribe("test", 16)
	defer unsubscribe()

	report, err := service.AggregateWindow(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, rare.ID, report.Anomalies[0].ID)

	n := <-ch
	assert.Equal(t, core.NotificationAnomaly, n.Kind)
	require.NotNil(t, n.Anomaly)
	assert.Equal(t, rare.ID, n.Anomaly.ID)
}

func TestServiceStats(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.CaptureEvent(ctx, shadowEvent("sb1"))
	require.NoError(t, err)

	stats, err := service.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalEvents)
	assert.Equal(t, 1, stats.ActiveQuarantines)
	assert.Equal(t, 2, stats.Policies)
	assert.Greater(t, stats.AvgCaptureMS, 0.0)
	assert.Equal(t, 1, stats.EventsByType[string(core.EventFileAccess)])
	assert.Equal(t, 1, stats.EventsBySeverity[string(core.SeverityCritical)])
	assert.Greater(t, stats.EventsPerSecond, 0.0)
}
