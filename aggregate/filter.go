package aggregate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"warden/core"
	"warden/util"
)

// FilterOp is a comparison operator in a filter rule.
type FilterOp string

const (
	OpEq       FilterOp = "eq"
	OpNe       FilterOp = "ne"
	OpGt       FilterOp = "gt"
	OpLt       FilterOp = "lt"
	OpContains FilterOp = "contains"
	OpRegex    FilterOp = "regex"
)

// FilterRule compares one field of an event, addressed by a
// dot-separated path into its JSON form ("severity",
// "details.path", "metadata.pid"), against a value.
type FilterRule struct {
	Field string      `json:"field"`
	Op    FilterOp    `json:"op"`
	Value interface{} `json:"value"`
}

// Filter returns the events matching every rule. An unknown field path
// simply does not match; a malformed rule (bad operator, invalid
// regex) is an error.
func Filter(events []core.SecurityEvent, rules []FilterRule) ([]core.SecurityEvent, error) {
	if len(rules) == 0 {
		return events, nil
	}

	var out []core.SecurityEvent
	for _, e := range events {
		doc, err := eventDocument(&e)
		if err != nil {
			return nil, err
		}
		matched := true
		for _, rule := range rules {
			ok, err := ruleMatches(doc, rule)
			if err != nil {
				return nil, err
			}
			if !ok {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, e)
		}
	}
	return out, nil
}

// eventDocument flattens the event into its JSON object form so field
// paths resolve against wire names.
func eventDocument(e *core.SecurityEvent) (map[string]interface{}, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event %s: %w", e.ID, err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func lookupPath(doc map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = doc
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func ruleMatches(doc map[string]interface{}, rule FilterRule) (bool, error) {
	value, ok := lookupPath(doc, rule.Field)
	if !ok {
		return false, nil
	}

	switch rule.Op {
	case OpEq:
		return stringify(value) == stringify(rule.Value), nil
	case OpNe:
		return stringify(value) != stringify(rule.Value), nil
	case OpGt, OpLt:
		got, ok1 := toFloat(value)
		want, ok2 := toFloat(rule.Value)
		if !ok1 || !ok2 {
			return false, nil
		}
		if rule.Op == OpGt {
			return got > want, nil
		}
		return got < want, nil
	case OpContains:
		return strings.Contains(stringify(value), stringify(rule.Value)), nil
	case OpRegex:
		pattern := stringify(rule.Value)
		if err := util.ValidatePattern(pattern); err != nil {
			return false, fmt.Errorf("filter rule on %q: %w", rule.Field, err)
		}
		return util.MatchWithTimeout(pattern, stringify(value), util.DefaultMatchTimeout)
	default:
		return false, fmt.Errorf("unknown filter operator %q", rule.Op)
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
