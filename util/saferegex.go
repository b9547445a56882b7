// Package util holds small shared helpers with no domain knowledge.
package util

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
)

const (
	// MaxPatternLength is the maximum allowed regex pattern length.
	MaxPatternLength = 500
	// DefaultMatchTimeout bounds a single match attempt. Rule patterns
	// run on the capture hot path, so the budget is tight.
	DefaultMatchTimeout = 100 * time.Millisecond
)

// ErrMatchTimeout is returned when a match attempt exceeds its budget.
var ErrMatchTimeout = fmt.Errorf("regex match timeout")

var repetitionRe = regexp.MustCompile(`\{(\d+)(?:,\d*)?\}`)

// ValidatePattern rejects patterns that are empty, oversized, or carry
// constructs known to enable catastrophic backtracking. Rule patterns
// come from operator configuration, not arbitrary users, but a single
// bad pattern would stall every capture, so they are screened anyway.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("regex pattern cannot be empty")
	}
	if len(pattern) > MaxPatternLength {
		return fmt.Errorf("regex pattern too long: %d characters (max %d)", len(pattern), MaxPatternLength)
	}

	nested := []string{
		")+*", ")*+", ")+{", ")*{",
		"}+*", "}*+", "}+{", "}*{",
		"++", "**", "*+", "+*",
	}
	for _, construct := range nested {
		if strings.Contains(pattern, construct) {
			return fmt.Errorf("pattern contains nested quantifiers which may cause ReDoS: found %q", construct)
		}
	}

	if n := strings.Count(pattern, "|"); n > 50 {
		return fmt.Errorf("too many alternations: %d (max 50)", n)
	}

	for _, m := range repetitionRe.FindAllStringSubmatch(pattern, -1) {
		var count int
		fmt.Sscanf(m[1], "%d", &count)
		if count >= 1000 {
			return fmt.Errorf("excessive repetition: %s (max 999)", m[0])
		}
	}

	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("invalid regex pattern: %w", err)
	}
	return nil
}

// compiled patterns keyed by pattern string; MatchTimeout is uniform
// so the pattern alone is a sufficient key.
var (
	regexCache   = make(map[string]*regexp2.Regexp)
	regexCacheMu sync.RWMutex
)

// MatchWithTimeout matches pattern against input, bounded by timeout.
// regexp2 enforces the timeout inside the matcher itself, which is the
// only reliable guard against backtracking blowups.
func MatchWithTimeout(pattern, input string, timeout time.Duration) (bool, error) {
	if pattern == "" {
		return false, fmt.Errorf("regex pattern cannot be empty")
	}
	if timeout <= 0 {
		timeout = DefaultMatchTimeout
	}

	regexCacheMu.RLock()
	re, ok := regexCache[pattern]
	regexCacheMu.RUnlock()

	if !ok {
		regexCacheMu.Lock()
		re, ok = regexCache[pattern]
		if !ok {
			var err error
			re, err = regexp2.Compile(pattern, 0)
			if err != nil {
				regexCacheMu.Unlock()
				return false, fmt.Errorf("failed to compile regex pattern: %w", err)
			}
			re.MatchTimeout = timeout
			regexCache[pattern] = re
		}
		regexCacheMu.Unlock()
	}

	match, err := re.MatchString(input)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "timeout") {
			return false, ErrMatchTimeout
		}
		return false, fmt.Errorf("regex matching error: %w", err)
	}
	return match, nil
}

// ClearRegexCache clears the compiled pattern cache (useful for testing).
func ClearRegexCache() {
	regexCacheMu.Lock()
	defer regexCacheMu.Unlock()
	regexCache = make(map[string]*regexp2.Regexp)
}
