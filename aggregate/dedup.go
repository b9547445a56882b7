package aggregate

import (
	"time"

	"warden/core"
)

type dedupKey struct {
	Type      core.EventType
	Severity  core.Severity
	SandboxID string
	Message   string
}

// Deduplicate suppresses repeats of the same (type, severity,
// sandbox, message) key. The first occurrence of a key is always
// kept; a later one is kept only when its timestamp is more than
// timeWindow after the most recently kept occurrence of that key.
// The window slides from each kept event, so a steady repeat stream
// yields one event per window length. Input order is preserved.
func Deduplicate(events []core.SecurityEvent, timeWindow time.Duration) []core.SecurityEvent {
	lastKept := make(map[dedupKey]time.Time)

	var out []core.SecurityEvent
	for _, e := range events {
		k := dedupKey{Type: e.Type, Severity: e.Severity, SandboxID: e.SandboxID, Message: e.Message}
		if prev, seen := lastKept[k]; seen && e.Timestamp.Sub(prev) <= timeWindow {
			continue
		}
		lastKept[k] = e.Timestamp
		out = append(out, e)
	}
	return out
}
