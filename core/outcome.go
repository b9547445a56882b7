package core

import "time"

// Outcome is the result of capturing one event: the stored event plus
// the policy verdict resolved for it. Exactly one outcome is produced
// per captured event.
type Outcome struct {
	Event        SecurityEvent `json:"event"`
	Action       Action        `json:"action"`
	MatchedRules []string      `json:"matched_rules"`
}

// NotificationKind discriminates messages on the outcome stream.
type NotificationKind string

const (
	NotificationOutcome    NotificationKind = "outcome"
	NotificationQuarantine NotificationKind = "quarantine"
	NotificationAnomaly    NotificationKind = "anomaly"
)

// Notification is one message on the outcome/alert stream consumed by
// the dashboard and the SIEM forwarder. Exactly one of Outcome,
// Quarantine, or Anomaly is set, matching Kind.
type Notification struct {
	Kind       NotificationKind  `json:"kind"`
	Timestamp  time.Time         `json:"timestamp"`
	Outcome    *Outcome          `json:"outcome,omitempty"`
	Quarantine *QuarantineRecord `json:"quarantine,omitempty"`
	Anomaly    *SecurityEvent    `json:"anomaly,omitempty"`
}
