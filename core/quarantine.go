package core

import "time"

// QuarantineRecord tracks one isolation episode for a sandbox. A
// record with no EndTime is active; a sandbox is quarantined while at
// least one of its records is active.
type QuarantineRecord struct {
	ID                string        `json:"id"`
	SandboxID         string        `json:"sandbox_id"`
	Reason            string        `json:"reason"`
	TriggeredBy       SecurityEvent `json:"triggered_by"`
	StartTime         time.Time     `json:"start_time"`
	EndTime           *time.Time    `json:"end_time,omitempty"`
	AutoRelease       bool          `json:"auto_release"`
	ReleaseConditions []string      `json:"release_conditions,omitempty"`
}

// Active reports whether the record has not been released.
func (r *QuarantineRecord) Active() bool {
	return r.EndTime == nil
}
