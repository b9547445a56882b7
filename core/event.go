package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a security observation.
type EventType string

const (
	EventFileAccess          EventType = "file_access"
	EventNetworkActivity     EventType = "network_activity"
	EventProcessSpawn        EventType = "process_spawn"
	EventPrivilegeEscalation EventType = "privilege_escalation"
	EventResourceLimit       EventType = "resource_limit"
	EventSuspiciousBehavior  EventType = "suspicious_behavior"
	EventPolicyViolation     EventType = "policy_violation"
	EventQuarantine          EventType = "quarantine"
	EventComplianceCheck     EventType = "compliance_check"
)

// Severity is the impact level of an event. Severities form a total
// order: low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordinal position of the severity, 0 for unknown values.
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s is equal to or more severe than min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// EventMetadata carries optional low-level context captured by the
// producing monitor (kernel-behavior monitor or anomaly detector).
type EventMetadata struct {
	PID           int    `json:"pid,omitempty"`
	UID           int    `json:"uid,omitempty"`
	GID           int    `json:"gid,omitempty"`
	Executable    string `json:"executable,omitempty"`
	SourceIP      string `json:"source_ip,omitempty"`
	DestinationIP string `json:"destination_ip,omitempty"`
	Port          int    `json:"port,omitempty"`
	FilePath      string `json:"file_path,omitempty"`
	Syscall       string `json:"syscall,omitempty"`
}

// SecurityEvent is a single normalized security observation tied to a
// sandbox. Events are immutable after capture.
type SecurityEvent struct {
	ID         string                 `json:"id" validate:"required"`
	Type       EventType              `json:"type" validate:"required,oneof=file_access network_activity process_spawn privilege_escalation resource_limit suspicious_behavior policy_violation quarantine compliance_check"`
	Severity   Severity               `json:"severity" validate:"required,oneof=low medium high critical"`
	Timestamp  time.Time              `json:"timestamp" validate:"required"`
	SandboxID  string                 `json:"sandbox_id" validate:"required"`
	Provider   string                 `json:"provider,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Metadata   *EventMetadata         `json:"metadata,omitempty"`
	SourceRule string                 `json:"source_rule,omitempty"`
}

// NewSecurityEvent creates an event with a generated UUID and the
// current UTC timestamp. Producers fill in the remaining fields.
func NewSecurityEvent() *SecurityEvent {
	return &SecurityEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Details:   make(map[string]interface{}),
	}
}

// Serialized returns the JSON form of the event used for pattern
// matching in rule conditions and anomaly detection. Returns an empty
// string if Details contains a value JSON cannot encode.
func (e *SecurityEvent) Serialized() string {
	b, err := json.Marshal(e)
	if err != nil {
		return ""
	}
	return string(b)
}
