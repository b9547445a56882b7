package aggregate

import (
	"sort"
	"time"

	"warden/core"
)

// CorrelationResult groups events inferred to be related, with a
// confidence in [0, 1].
type CorrelationResult struct {
	RelatedEvents   []core.SecurityEvent `json:"related_events"`
	CorrelationType string               `json:"correlation_type"`
	Confidence      float64              `json:"confidence"`
}

const temporalBucket = 60 * time.Second

// attackChains are ordered type sequences recognized per sandbox,
// checked in declaration order.
var attackChains = []struct {
	name     string
	sequence []core.EventType
}{
	{"privilege_escalation_chain", []core.EventType{core.EventFileAccess, core.EventProcessSpawn, core.EventPrivilegeEscalation}},
	{"data_exfiltration", []core.EventType{core.EventFileAccess, core.EventNetworkActivity}},
	{"lateral_movement", []core.EventType{core.EventNetworkActivity, core.EventProcessSpawn, core.EventNetworkActivity}},
}

// Correlate runs three independent passes over the events and
// concatenates their results: temporal proximity, per-sandbox
// compromise scoring, and known attack chains.
func Correlate(events []core.SecurityEvent) []CorrelationResult {
	results := correlateTemporal(events)
	results = append(results, correlateSandboxCompromise(events)...)
	results = append(results, correlateAttackChains(events)...)
	return results
}

// correlateTemporal buckets events into fixed 60-second windows; any
// bucket holding more than one event is a result.
func correlateTemporal(events []core.SecurityEvent) []CorrelationResult {
	buckets := make(map[int64][]core.SecurityEvent)
	for _, e := range events {
		key := e.Timestamp.Unix() / int64(temporalBucket/time.Second)
		buckets[key] = append(buckets[key], e)
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var results []CorrelationResult
	for _, k := range keys {
		group := buckets[k]
		if len(group) < 2 {
			continue
		}
		results = append(results, CorrelationResult{
			RelatedEvents:   group,
			CorrelationType: "temporal",
			Confidence:      minFloat(0.9, float64(len(group))/10),
		})
	}
	return results
}

// correlateSandboxCompromise flags sandboxes with two or more high or
// critical events; the result covers exactly those events.
func correlateSandboxCompromise(events []core.SecurityEvent) []CorrelationResult {
	severe := make(map[string][]core.SecurityEvent)
	for _, e := range events {
		if e.Severity.AtLeast(core.SeverityHigh) {
			severe[e.SandboxID] = append(severe[e.SandboxID], e)
		}
	}

	ids := make([]string, 0, len(severe))
	for id := range severe {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var results []CorrelationResult
	for _, id := range ids {
		group := severe[id]
		if len(group) < 2 {
			continue
		}
		results = append(results, CorrelationResult{
			RelatedEvents:   group,
			CorrelationType: "sandbox_compromise",
			Confidence:      minFloat(0.95, float64(len(group))/5),
		})
	}
	return results
}

// correlateAttackChains scans each sandbox's chronological events
// against the known chains. Chains are checked independently; within
// one chain attempt each event is consumed at most once, and every
// chain that completes for a sandbox yields its own result.
func correlateAttackChains(events []core.SecurityEvent) []CorrelationResult {
	bySandbox := make(map[string][]core.SecurityEvent)
	for _, e := range events {
		bySandbox[e.SandboxID] = append(bySandbox[e.SandboxID], e)
	}

	ids := make([]string, 0, len(bySandbox))
	for id := range bySandbox {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var results []CorrelationResult
	for _, id := range ids {
		group := bySandbox[id]
		sort.Slice(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})
		for _, chain := range attackChains {
			if matched, ok := matchSequence(group, chain.sequence); ok {
				results = append(results, CorrelationResult{
					RelatedEvents:   matched,
					CorrelationType: chain.name,
					Confidence:      0.8,
				})
			}
		}
	}
	return results
}

// matchSequence finds the first event of each required type in order,
// left to right, without reusing an event.
func matchSequence(events []core.SecurityEvent, sequence []core.EventType) ([]core.SecurityEvent, bool) {
	matched := make([]core.SecurityEvent, 0, len(sequence))
	i := 0
	for _, want := range sequence {
		found := false
		for ; i < len(events); i++ {
			if events[i].Type == want {
				matched = append(matched, events[i])
				i++
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	return matched, true
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
