package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEvent() *SecurityEvent {
	e := NewSecurityEvent()
	e.Type = EventFileAccess
	e.Severity = SeverityHigh
	e.SandboxID = "sb-1"
	return e
}

func TestValidateEvent(t *testing.T) {
	assert.NoError(t, ValidateEvent(validEvent()))
	assert.Error(t, ValidateEvent(nil))

	e := validEvent()
	e.SandboxID = ""
	err := ValidateEvent(e)
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	e = validEvent()
	e.Type = "window_open"
	assert.Error(t, ValidateEvent(e))

	e = validEvent()
	e.Severity = "apocalyptic"
	assert.Error(t, ValidateEvent(e))

	e = validEvent()
	e.Timestamp = time.Time{}
	assert.Error(t, ValidateEvent(e))
}

func TestValidatePolicy(t *testing.T) {
	policy := &SecurityPolicy{
		ID:      "policy_x",
		Name:    "Policy X",
		Enabled: true,
		Tier:    TierBasic,
		Rules: []SecurityRule{{
			ID:        "rule_x",
			Name:      "Rule X",
			Condition: RuleCondition{Type: EventProcessSpawn},
			Action:    ActionAlert,
		}},
	}
	assert.NoError(t, ValidatePolicy(policy))
	assert.Error(t, ValidatePolicy(nil))

	noRules := *policy
	noRules.Rules = nil
	assert.Error(t, ValidatePolicy(&noRules))

	badAction := *policy
	badAction.Rules = []SecurityRule{{
		ID: "rule_y", Name: "Rule Y", Action: "obliterate",
	}}
	err := ValidatePolicy(&badAction)
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	badTier := *policy
	badTier.Tier = "platinum"
	assert.Error(t, ValidatePolicy(&badTier))
}

func TestValidateResult(t *testing.T) {
	assert.NoError(t, ValidateResult(&SandboxResult{SandboxID: "sb-1", Provider: "e2b"}))
	assert.Error(t, ValidateResult(nil))
	assert.Error(t, ValidateResult(&SandboxResult{Provider: "e2b"}))
	assert.Error(t, ValidateResult(&SandboxResult{SandboxID: "sb-1"}))
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityLow))
	assert.True(t, SeverityHigh.AtLeast(SeverityHigh))
	assert.False(t, SeverityMedium.AtLeast(SeverityHigh))
	assert.Equal(t, 0, Severity("unknown").Rank())
}

func TestActionOrdering(t *testing.T) {
	assert.True(t, ActionQuarantine.MoreRestrictive(ActionDeny))
	assert.True(t, ActionDeny.MoreRestrictive(ActionAlert))
	assert.False(t, ActionAllow.MoreRestrictive(ActionAllow))
	assert.False(t, ActionAlert.MoreRestrictive(ActionQuarantine))
}
