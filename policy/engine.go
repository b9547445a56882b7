package policy

import (
	"context"
	"time"

	"warden/core"
	"warden/metrics"
	"warden/util"

	"go.uber.org/zap"
)

// patternMatchTimeout caps a single rule pattern evaluation. A rule
// pattern that cannot finish in this budget is treated as a non-match.
const patternMatchTimeout = 100 * time.Millisecond

// EventHistory is the slice of the event store the engine needs for
// threshold conditions.
type EventHistory interface {
	CountInWindow(ctx context.Context, sandboxID string, eventType core.EventType, since, until time.Time) (int, error)
}

// Engine evaluates events against the registry and resolves the
// verdict. When rules from different policies disagree, the most
// restrictive action wins.
type Engine struct {
	registry *Registry
	history  EventHistory
	logger   *zap.SugaredLogger
}

func NewEngine(registry *Registry, history EventHistory, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		registry: registry,
		history:  history,
		logger:   logger,
	}
}

// EvaluateEvent runs the event through every enabled policy and
// returns the resolved verdict. An event no rule matches is allowed.
// MatchedRules holds the names of matching rules in policy application
// order, then rule declaration order.
func (e *Engine) EvaluateEvent(ctx context.Context, event *core.SecurityEvent) (*core.Verdict, error) {
	if err := core.ValidateEvent(event); err != nil {
		return nil, err
	}

	verdict := &core.Verdict{Action: core.ActionAllow, MatchedRules: []string{}}

	for _, policy := range e.registry.enabledSnapshot() {
		for i := range policy.Rules {
			rule := &policy.Rules[i]
			matched, err := e.ruleMatches(ctx, rule, event)
			if err != nil {
				return nil, err
			}
			if !matched {
				continue
			}
			verdict.MatchedRules = append(verdict.MatchedRules, rule.Name)
			if rule.Action.MoreRestrictive(verdict.Action) {
				verdict.Action = rule.Action
			}
			e.logger.Debugw("Rule matched",
				"policy_id", policy.ID, "rule", rule.Name, "action", rule.Action,
				"event_id", event.ID, "sandbox_id", event.SandboxID)
		}
	}

	metrics.VerdictsTotal.WithLabelValues(string(verdict.Action)).Inc()
	return verdict, nil
}

// ruleMatches tests one rule condition. Components are conjunctive;
// unset components match everything.
func (e *Engine) ruleMatches(ctx context.Context, rule *core.SecurityRule, event *core.SecurityEvent) (bool, error) {
	cond := rule.Condition

	if cond.Type != "" && cond.Type != event.Type {
		return false, nil
	}
	if cond.MinSeverity != "" && !event.Severity.AtLeast(cond.MinSeverity) {
		return false, nil
	}
	if cond.Pattern != "" {
		ok, err := util.MatchWithTimeout(cond.Pattern, event.Serialized(), patternMatchTimeout)
		if err != nil {
			// A slow or broken pattern disables itself for this event
			// rather than failing the capture.
			e.logger.Warnw("Rule pattern match failed",
				"rule", rule.Name, "pattern", cond.Pattern, "error", err)
			return false, nil
		}
		if !ok {
			return false, nil
		}
	}
	if cond.HasThreshold() {
		since := event.Timestamp.Add(-cond.TimeWindow())
		count, err := e.history.CountInWindow(ctx, event.SandboxID, event.Type, since, event.Timestamp)
		if err != nil {
			return false, err
		}
		if count < cond.Threshold {
			return false, nil
		}
	}
	return true, nil
}
