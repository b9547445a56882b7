// Package policy holds the policy registry and the evaluation engine
// that turns a captured event into a verdict.
package policy

import (
	"sync"
	"time"

	"warden/core"
	"warden/util"

	"go.uber.org/zap"
)

// Registry is the in-memory set of applied policies. Evaluation walks
// policies in application order, so re-applying a policy keeps its
// original position.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]*core.SecurityPolicy
	order    []string
	logger   *zap.SugaredLogger
}

func NewRegistry(logger *zap.SugaredLogger) *Registry {
	return &Registry{
		policies: make(map[string]*core.SecurityPolicy),
		logger:   logger,
	}
}

// Apply validates the policy and its rule patterns, then upserts it by
// ID. Applying the same policy twice is a no-op update, not an error.
func (r *Registry) Apply(policy *core.SecurityPolicy) error {
	if err := core.ValidatePolicy(policy); err != nil {
		return err
	}
	for _, rule := range policy.Rules {
		if rule.Condition.Pattern == "" {
			continue
		}
		if err := util.ValidatePattern(rule.Condition.Pattern); err != nil {
			return core.NewValidationError("pattern", "rule "+rule.ID+": "+err.Error())
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	stored := *policy
	stored.UpdatedAt = now
	if existing, ok := r.policies[policy.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
		r.order = append(r.order, policy.ID)
	}
	r.policies[policy.ID] = &stored

	r.logger.Infow("Applied security policy",
		"policy_id", policy.ID, "name", policy.Name, "tier", policy.Tier, "rules", len(policy.Rules))
	return nil
}

// Remove deletes a policy by ID. Removing an unknown policy is a
// no-op.
func (r *Registry) Remove(policyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.policies[policyID]; !ok {
		return
	}
	delete(r.policies, policyID)
	for i, id := range r.order {
		if id == policyID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.logger.Infow("Removed security policy", "policy_id", policyID)
}

// Get returns a copy of the policy, or core.ErrPolicyNotFound.
func (r *Registry) Get(policyID string) (*core.SecurityPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	policy, ok := r.policies[policyID]
	if !ok {
		return nil, core.ErrPolicyNotFound
	}
	cp := *policy
	return &cp, nil
}

// List returns copies of all policies in application order.
func (r *Registry) List() []core.SecurityPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]core.SecurityPolicy, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.policies[id])
	}
	return out
}

// SetEnabled flips a policy's enabled flag without touching its rules.
func (r *Registry) SetEnabled(policyID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	policy, ok := r.policies[policyID]
	if !ok {
		return core.ErrPolicyNotFound
	}
	policy.Enabled = enabled
	policy.UpdatedAt = time.Now().UTC()
	return nil
}

// enabledSnapshot returns the enabled policies in application order.
// The engine evaluates against the snapshot so a concurrent Apply
// cannot change the set mid-evaluation.
func (r *Registry) enabledSnapshot() []*core.SecurityPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*core.SecurityPolicy, 0, len(r.order))
	for _, id := range r.order {
		if p := r.policies[id]; p.Enabled {
			out = append(out, p)
		}
	}
	return out
}
