package core

import "time"

// Action is the response a rule requests when it matches. Actions form
// a total order by restrictiveness: allow < alert < deny < quarantine.
type Action string

const (
	ActionAllow      Action = "allow"
	ActionAlert      Action = "alert"
	ActionDeny       Action = "deny"
	ActionQuarantine Action = "quarantine"
)

var actionRank = map[Action]int{
	ActionAllow:      0,
	ActionAlert:      1,
	ActionDeny:       2,
	ActionQuarantine: 3,
}

// Rank returns the restrictiveness ordinal of the action, 0 for
// unknown values (treated as allow).
func (a Action) Rank() int {
	return actionRank[a]
}

// MoreRestrictive reports whether a is strictly more restrictive than b.
func (a Action) MoreRestrictive(b Action) bool {
	return a.Rank() > b.Rank()
}

// RuleCondition is a conjunction of match components. Zero-valued
// components are wildcards: a condition with only MinSeverity set
// matches every event at or above that severity.
type RuleCondition struct {
	// Type matches the event type exactly when set.
	Type EventType `json:"event_type,omitempty" yaml:"event_type,omitempty"`
	// MinSeverity matches events with severity >= this value (ordinal).
	MinSeverity Severity `json:"severity,omitempty" yaml:"severity,omitempty" validate:"omitempty,oneof=low medium high critical"`
	// Pattern is a regular expression tested against the serialized
	// event. Patterns are validated for length and ReDoS shapes before
	// a rule is accepted.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	// Threshold and TimeWindowMS together mean "Threshold or more
	// events of the same type for the same sandbox within the trailing
	// window", measured backward from the incoming event's timestamp
	// and inclusive of it.
	Threshold    int   `json:"threshold,omitempty" yaml:"threshold,omitempty" validate:"omitempty,min=1"`
	TimeWindowMS int64 `json:"time_window_ms,omitempty" yaml:"time_window_ms,omitempty" validate:"omitempty,min=1"`
}

// TimeWindow returns the threshold window as a duration.
func (c RuleCondition) TimeWindow() time.Duration {
	return time.Duration(c.TimeWindowMS) * time.Millisecond
}

// HasThreshold reports whether the condition carries a usable
// threshold component. Both halves must be present.
func (c RuleCondition) HasThreshold() bool {
	return c.Threshold > 0 && c.TimeWindowMS > 0
}

// SecurityRule maps a matching condition to an action.
type SecurityRule struct {
	ID            string        `json:"id" yaml:"id" validate:"required"`
	Name          string        `json:"name" yaml:"name" validate:"required"`
	Description   string        `json:"description,omitempty" yaml:"description,omitempty"`
	Condition     RuleCondition `json:"condition" yaml:"condition"`
	Action        Action        `json:"action" yaml:"action" validate:"required,oneof=allow alert deny quarantine"`
	Notifications []string      `json:"notifications,omitempty" yaml:"notifications,omitempty"`
}

// PolicyTier identifies the protection level a policy belongs to.
type PolicyTier string

const (
	TierBasic  PolicyTier = "basic"
	TierShield PolicyTier = "shield"
)

// SecurityPolicy is a named, enabled/disabled set of rules. Policies
// are registered and removed by ID; rules keep their declared order.
type SecurityPolicy struct {
	ID          string         `json:"id" yaml:"id" validate:"required"`
	Name        string         `json:"name" yaml:"name" validate:"required"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool           `json:"enabled" yaml:"enabled"`
	Tier        PolicyTier     `json:"tier" yaml:"tier" validate:"required,oneof=basic shield"`
	Rules       []SecurityRule `json:"rules" yaml:"rules" validate:"required,min=1,dive"`
	CreatedAt   time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time      `json:"updated_at" yaml:"-"`
}

// Verdict is the resolved outcome of evaluating one event against all
// enabled policies.
type Verdict struct {
	Action       Action   `json:"action"`
	MatchedRules []string `json:"matched_rules"`
}
