package policy

import "warden/core"

// Defaults returns the built-in policy set applied at startup. The
// basic tier blocks the obvious filesystem and privilege abuses; the
// shield tier adds automatic quarantine for critical activity.
func Defaults() []*core.SecurityPolicy {
	return []*core.SecurityPolicy{
		{
			ID:          "policy_basic",
			Name:        "Basic Security Policy",
			Description: "Default protections applied to every sandbox",
			Enabled:     true,
			Tier:        core.TierBasic,
			Rules: []core.SecurityRule{
				{
					ID:          "rule_block_critical_files",
					Name:        "Block Critical File Access",
					Description: "Deny access to system credential files and root home",
					Condition: core.RuleCondition{
						Type:    core.EventFileAccess,
						Pattern: `(/etc/passwd|/etc/shadow|/root/.*)`,
					},
					Action: core.ActionDeny,
				},
				{
					ID:          "rule_alert_priv_escalation",
					Name:        "Alert on Privilege Escalation",
					Description: "Flag any privilege escalation attempt",
					Condition: core.RuleCondition{
						Type: core.EventPrivilegeEscalation,
					},
					Action: core.ActionAlert,
				},
			},
		},
		{
			ID:          "policy_shield",
			Name:        "Shield Policy",
			Description: "Aggressive containment for high-trust workloads",
			Enabled:     true,
			Tier:        core.TierShield,
			Rules: []core.SecurityRule{
				{
					ID:          "rule_quarantine_critical",
					Name:        "Auto-Quarantine Critical Events",
					Description: "Isolate the sandbox on any critical event",
					Condition: core.RuleCondition{
						MinSeverity: core.SeverityCritical,
					},
					Action:        core.ActionQuarantine,
					Notifications: []string{"security-ops@company.com"},
				},
				{
					ID:          "rule_quarantine_suspicious",
					Name:        "Block Suspicious Behavior",
					Description: "Isolate the sandbox on detected suspicious behavior",
					Condition: core.RuleCondition{
						Type: core.EventSuspiciousBehavior,
					},
					Action: core.ActionQuarantine,
				},
			},
		},
	}
}
