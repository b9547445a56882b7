package aggregate

import (
	"testing"
	"time"

	"warden/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelateTemporal(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []core.SecurityEvent{
		makeEvent("sb-1", core.EventFileAccess, core.SeverityLow, base.Add(5*time.Second), "a"),
		makeEvent("sb-2", core.EventProcessSpawn, core.SeverityLow, base.Add(20*time.Second), "b"),
		makeEvent("sb-3", core.EventFileAccess, core.SeverityLow, base.Add(3*time.Minute), "c"),
	}

	results := correlateTemporal(events)
	require.Len(t, results, 1)
	assert.Equal(t, "temporal", results[0].CorrelationType)
	assert.Len(t, results[0].RelatedEvents, 2)
	assert.InDelta(t, 0.2, results[0].Confidence, 1e-9)
}

func TestCorrelateTemporalConfidenceCap(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var events []core.SecurityEvent
	for i := 0; i < 20; i++ {
		events = append(events, makeEvent("sb-1", core.EventFileAccess, core.SeverityLow, base.Add(time.Duration(i)*time.Second), "x"))
	}

	results := correlateTemporal(events)
	require.Len(t, results, 1)
	assert.Equal(t, 0.9, results[0].Confidence)
}

func TestCorrelateSandboxCompromise(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []core.SecurityEvent{
		makeEvent("sb-1", core.EventFileAccess, core.SeverityHigh, base, "a"),
		makeEvent("sb-1", core.EventProcessSpawn, core.SeverityCritical, base.Add(time.Hour), "b"),
		makeEvent("sb-1", core.EventNetworkActivity, core.SeverityLow, base, "ignored"),
		makeEvent("sb-2", core.EventFileAccess, core.SeverityHigh, base, "only one"),
	}

	results := correlateSandboxCompromise(events)
	require.Len(t, results, 1)
	assert.Equal(t, "sandbox_compromise", results[0].CorrelationType)
	assert.Len(t, results[0].RelatedEvents, 2, "only high and critical events are included")
	assert.InDelta(t, 0.4, results[0].Confidence, 1e-9)
}

func TestCorrelateDataExfiltration(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Events sit in different temporal buckets and below high
	// severity, so only the chain pass fires.
	events := []core.SecurityEvent{
		makeEvent("sb-1", core.EventFileAccess, core.SeverityMedium, base.Add(30*time.Second), "read secrets"),
		makeEvent("sb-1", core.EventNetworkActivity, core.SeverityMedium, base.Add(150*time.Second), "upload"),
	}

	results := Correlate(events)
	require.Len(t, results, 1, "exactly one correlation expected")
	assert.Equal(t, "data_exfiltration", results[0].CorrelationType)
	assert.Equal(t, 0.8, results[0].Confidence)
	require.Len(t, results[0].RelatedEvents, 2)
	assert.Equal(t, core.EventFileAccess, results[0].RelatedEvents[0].Type)
	assert.Equal(t, core.EventNetworkActivity, results[0].RelatedEvents[1].Type)
}

func TestCorrelateChainOrderMatters(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// network_activity before file_access completes no chain.
	events := []core.SecurityEvent{
		makeEvent("sb-1", core.EventNetworkActivity, core.SeverityMedium, base.Add(30*time.Second), "dial"),
		makeEvent("sb-1", core.EventFileAccess, core.SeverityMedium, base.Add(150*time.Second), "read"),
	}

	results := correlateAttackChains(events)
	assert.Empty(t, results)
}

func TestCorrelateAllCompletedChainsReported(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// This sequence completes both the privilege escalation chain and
	// data exfiltration; each completed chain is its own result.
	events := []core.SecurityEvent{
		makeEvent("sb-1", core.EventFileAccess, core.SeverityMedium, base.Add(30*time.Second), "read"),
		makeEvent("sb-1", core.EventProcessSpawn, core.SeverityMedium, base.Add(2*time.Minute), "spawn"),
		makeEvent("sb-1", core.EventPrivilegeEscalation, core.SeverityMedium, base.Add(4*time.Minute), "sudo"),
		makeEvent("sb-1", core.EventNetworkActivity, core.SeverityMedium, base.Add(6*time.Minute), "upload"),
	}

	results := correlateAttackChains(events)
	require.Len(t, results, 2)

	byType := make(map[string]CorrelationResult, len(results))
	for _, r := range results {
		byType[r.CorrelationType] = r
	}
	require.Contains(t, byType, "privilege_escalation_chain")
	require.Contains(t, byType, "data_exfiltration")
	assert.Len(t, byType["privilege_escalation_chain"].RelatedEvents, 3)
	assert.Len(t, byType["data_exfiltration"].RelatedEvents, 2)
}

func TestCorrelateNonContiguousChain(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []core.SecurityEvent{
		makeEvent("sb-1", core.EventFileAccess, core.SeverityMedium, base.Add(30*time.Second), "read"),
		makeEvent("sb-1", core.EventResourceLimit, core.SeverityMedium, base.Add(2*time.Minute), "noise"),
		makeEvent("sb-1", core.EventNetworkActivity, core.SeverityMedium, base.Add(4*time.Minute), "upload"),
	}

	results := correlateAttackChains(events)
	require.Len(t, results, 1)
	assert.Equal(t, "data_exfiltration", results[0].CorrelationType)
}

func TestDeduplicateSlidingWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []core.SecurityEvent{
		makeEvent("sb2", core.EventProcessSpawn, core.SeverityMedium, base, "spawned shell"),
		makeEvent("sb2", core.EventProcessSpawn, core.SeverityMedium, base.Add(100*time.Millisecond), "spawned shell"),
		makeEvent("sb2", core.EventProcessSpawn, core.SeverityMedium, base.Add(2000*time.Millisecond), "spawned shell"),
	}

	kept := Deduplicate(events, time.Second)
	require.Len(t, kept, 2)
	assert.Equal(t, base, kept[0].Timestamp)
	assert.Equal(t, base.Add(2*time.Second), kept[1].Timestamp)
}

func TestDeduplicateWindowSlidesFromLastKept(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// 0ms kept, 900ms dropped, 1100ms kept (past window from 0ms),
	// 1900ms dropped relative to the 1100ms keep even though it is
	// past the window from the first event.
	events := []core.SecurityEvent{
		makeEvent("sb-1", core.EventFileAccess, core.SeverityLow, base, "m"),
		makeEvent("sb-1", core.EventFileAccess, core.SeverityLow, base.Add(900*time.Millisecond), "m"),
		makeEvent("sb-1", core.EventFileAccess, core.SeverityLow, base.Add(1100*time.Millisecond), "m"),
		makeEvent("sb-1", core.EventFileAccess, core.SeverityLow, base.Add(1900*time.Millisecond), "m"),
	}

	kept := Deduplicate(events, time.Second)
	require.Len(t, kept, 2)
	assert.Equal(t, base, kept[0].Timestamp)
	assert.Equal(t, base.Add(1100*time.Millisecond), kept[1].Timestamp)
}

func TestDeduplicateDistinctKeysUntouched(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []core.SecurityEvent{
		makeEvent("sb-1", core.EventFileAccess, core.SeverityLow, base, "m"),
		makeEvent("sb-2", core.EventFileAccess, core.SeverityLow, base, "m"),
		makeEvent("sb-1", core.EventFileAccess, core.SeverityHigh, base, "m"),
		makeEvent("sb-1", core.EventFileAccess, core.SeverityLow, base, "other"),
	}

	kept := Deduplicate(events, time.Second)
	assert.Len(t, kept, 4)
}
