// Package aggregate holds the stateless analysis functions over event
// slices: pattern summaries, anomaly flagging, correlation, and
// deduplication. Nothing here touches the event store; callers read a
// window of events and pass it in.
package aggregate

import (
	"regexp"
	"sort"
	"time"

	"warden/core"
	"warden/metrics"
)

// PatternSummary describes one (type, severity) group observed in the
// aggregation window.
type PatternSummary struct {
	Type       core.EventType `json:"type"`
	Severity   core.Severity  `json:"severity"`
	Count      int            `json:"count"`
	SandboxIDs []string       `json:"sandbox_ids"`
	FirstSeen  time.Time      `json:"first_seen"`
	LastSeen   time.Time      `json:"last_seen"`
}

// Report is the output of one aggregation pass.
type Report struct {
	Patterns  []PatternSummary     `json:"patterns"`
	Anomalies []core.SecurityEvent `json:"anomalies"`
}

// criticalSpikeThreshold is the (type, critical) group size above
// which every member is flagged as a spike anomaly.
const criticalSpikeThreshold = 10

// rareTypeThreshold is the type-group size below which events are
// flagged as rare-type anomalies.
const rareTypeThreshold = 3

// suspiciousPatterns are fixed indicators checked against the
// serialized event. They are compiled once; operator-supplied rule
// patterns go through util.ValidatePattern instead.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/etc/passwd`),
	regexp.MustCompile(`/etc/shadow`),
	regexp.MustCompile(`\.ssh/id_rsa`),
	regexp.MustCompile(`curl[^|]*\|\s*(ba)?sh`),
	regexp.MustCompile(`wget[^|]*\|\s*(ba)?sh`),
	regexp.MustCompile(`nc\s+-e\s+/bin/sh`),
	regexp.MustCompile(`/etc/sudoers`),
	regexp.MustCompile(`base64\s+(-d|--decode)[^|]*\|`),
}

type groupKey struct {
	Type     core.EventType
	Severity core.Severity
}

// Aggregate summarizes the events whose timestamps fall within window
// of now and flags anomalies. now is a parameter so the function stays
// pure; callers pass time.Now().
func Aggregate(events []core.SecurityEvent, window time.Duration, now time.Time) Report {
	cutoff := now.Add(-window)

	var inWindow []core.SecurityEvent
	for _, e := range events {
		if !e.Timestamp.Before(cutoff) && !e.Timestamp.After(now) {
			inWindow = append(inWindow, e)
		}
	}

	groups := make(map[groupKey]*PatternSummary)
	sandboxSets := make(map[groupKey]map[string]struct{})
	typeCounts := make(map[core.EventType]int)

	for _, e := range inWindow {
		typeCounts[e.Type]++
		k := groupKey{Type: e.Type, Severity: e.Severity}
		g, ok := groups[k]
		if !ok {
			g = &PatternSummary{
				Type: e.Type, Severity: e.Severity,
				FirstSeen: e.Timestamp, LastSeen: e.Timestamp,
			}
			groups[k] = g
			sandboxSets[k] = make(map[string]struct{})
		}
		g.Count++
		sandboxSets[k][e.SandboxID] = struct{}{}
		if e.Timestamp.Before(g.FirstSeen) {
			g.FirstSeen = e.Timestamp
		}
		if e.Timestamp.After(g.LastSeen) {
			g.LastSeen = e.Timestamp
		}
	}

	patterns := make([]PatternSummary, 0, len(groups))
	for k, g := range groups {
		ids := make([]string, 0, len(sandboxSets[k]))
		for id := range sandboxSets[k] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		g.SandboxIDs = ids
		patterns = append(patterns, *g)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Type != patterns[j].Type {
			return patterns[i].Type < patterns[j].Type
		}
		return patterns[i].Severity.Rank() < patterns[j].Severity.Rank()
	})

	var anomalies []core.SecurityEvent
	for _, e := range inWindow {
		switch {
		case typeCounts[e.Type] < rareTypeThreshold:
			metrics.AnomaliesDetected.WithLabelValues("rare_type").Inc()
		case e.Severity == core.SeverityCritical &&
			groups[groupKey{Type: e.Type, Severity: e.Severity}].Count > criticalSpikeThreshold:
			metrics.AnomaliesDetected.WithLabelValues("critical_spike").Inc()
		case matchesSuspiciousPattern(&e):
			metrics.AnomaliesDetected.WithLabelValues("suspicious_pattern").Inc()
		default:
			continue
		}
		anomalies = append(anomalies, e)
	}

	return Report{Patterns: patterns, Anomalies: anomalies}
}

func matchesSuspiciousPattern(e *core.SecurityEvent) bool {
	serialized := e.Serialized()
	for _, re := range suspiciousPatterns {
		if re.MatchString(serialized) {
			return true
		}
	}
	return false
}
