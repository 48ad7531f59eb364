// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/qolzam/entitystore/internal/pkg/log"
	"github.com/qolzam/entitystore/internal/platform/config"
	"github.com/qolzam/entitystore/internal/scope"
)

// ErrInvalidRuleConfig is the sentinel behind every ConfigError.
var ErrInvalidRuleConfig = errors.New("invalid record rule configuration")

// ConfigError reports a rule list that cannot be used at all.
type ConfigError struct {
	Key   string
	Cause error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Cause)
}

func (e *ConfigError) Unwrap() []error {
	return []error{ErrInvalidRuleConfig, e.Cause}
}

// Rule caps how many records a scope may match.
type Rule struct {
	Scope string `json:"scope"`
	Limit int    `json:"limit"`
	// Duration limits counting to records created within the trailing window. Zero means all time.
	Duration time.Duration `json:"-"`
	// RawDuration is the configured duration text.
	RawDuration string `json:"duration,omitempty"`
}

// UniquenessRule forbids any existing record within its scope.
type UniquenessRule struct {
	Scope string `json:"scope"`
}

// ParseRules parses a JSON array of {scope, limit, duration?}. A malformed
// document is a ConfigError; malformed entries are dropped with a warning.
func ParseRules(key, raw string) ([]Rule, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, &ConfigError{Key: key, Cause: fmt.Errorf("expected a JSON array of rules: %w", err)}
	}

	parser := scope.NewParser()
	rules := make([]Rule, 0, len(entries))
	for i, entry := range entries {
		rule, err := parseRule(entry)
		if err == nil {
			err = parser.Validate(rule.Scope)
		}
		if err != nil {
			log.Warn("%s[%d] dropped: %v", key, i, err)
			continue
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func parseRule(entry json.RawMessage) (Rule, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(entry, &fields); err != nil {
		return Rule{}, fmt.Errorf("rule must be an object")
	}

	var rule Rule
	rawScope, ok := fields["scope"]
	if !ok {
		return Rule{}, fmt.Errorf("missing scope")
	}
	if err := json.Unmarshal(rawScope, &rule.Scope); err != nil || strings.TrimSpace(rule.Scope) == "" {
		return Rule{}, fmt.Errorf("scope must be a non-empty string")
	}

	rawLimit, ok := fields["limit"]
	if !ok {
		return Rule{}, fmt.Errorf("missing limit")
	}
	limit, err := parseLimit(rawLimit)
	if err != nil {
		return Rule{}, err
	}
	rule.Limit = limit

	if rawDuration, ok := fields["duration"]; ok && string(rawDuration) != "null" {
		if err := json.Unmarshal(rawDuration, &rule.RawDuration); err != nil {
			return Rule{}, fmt.Errorf("duration must be a string")
		}
		if rule.Duration, err = ParseDuration(rule.RawDuration); err != nil {
			return Rule{}, err
		}
	}
	return rule, nil
}

// parseLimit accepts a non-negative integer given as a number or a numeric string.
func parseLimit(raw json.RawMessage) (int, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("limit must be a number")
		}
		n = json.Number(strings.TrimSpace(s))
	}
	limit, err := strconv.Atoi(n.String())
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer, got %s", n)
	}
	return limit, nil
}

// ParseDuration extends time.ParseDuration with day (d) and week (w) units,
// e.g. "1d", "2w", "1d12h", and ISO-8601 style "P1D"/"PT12H".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if strings.HasPrefix(strings.ToUpper(s), "P") {
		return parseISODuration(strings.ToUpper(s))
	}

	var total time.Duration
	rest := s
	for rest != "" {
		i := 0
		for i < len(rest) && (rest[i] >= '0' && rest[i] <= '9' || rest[i] == '.') {
			i++
		}
		j := i
		for j < len(rest) && !(rest[j] >= '0' && rest[j] <= '9' || rest[j] == '.') {
			j++
		}
		if i == 0 || i == j {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		n, err := strconv.ParseFloat(rest[:i], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		unit := rest[i:j]
		switch unit {
		case "d":
			total += time.Duration(n * float64(24*time.Hour))
		case "w":
			total += time.Duration(n * float64(7*24*time.Hour))
		default:
			d, err := time.ParseDuration(rest[:j])
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q: %w", s, err)
			}
			total += d
		}
		rest = rest[j:]
	}
	if total <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return total, nil
}

func parseISODuration(s string) (time.Duration, error) {
	units := map[byte]time.Duration{
		'W': 7 * 24 * time.Hour,
		'D': 24 * time.Hour,
		'H': time.Hour,
		'M': time.Minute,
		'S': time.Second,
	}
	var total time.Duration
	inTime := false
	num := ""
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == 'T':
			inTime = true
		case c >= '0' && c <= '9' || c == '.':
			num += string(c)
		default:
			unit, ok := units[c]
			if !ok || num == "" || (c == 'M' && !inTime) {
				return 0, fmt.Errorf("invalid duration %q", s)
			}
			n, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q", s)
			}
			total += time.Duration(n * float64(unit))
			num = ""
		}
	}
	if num != "" || total <= 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return total, nil
}

// UniquenessFromPolicy builds the uniqueness rule of a kind: one where
// segment per configured field, plus the optional extra scope.
func UniquenessFromPolicy(policy config.KindPolicy) []UniquenessRule {
	var segments []string
	for _, field := range policy.UniquenessFields {
		segments = append(segments, fmt.Sprintf("where[%s]=${%s}", field, field))
	}
	if extra := strings.Trim(strings.TrimSpace(policy.UniquenessScope), "&"); extra != "" {
		segments = append(segments, extra)
	}
	if len(segments) == 0 {
		return nil
	}
	return []UniquenessRule{{Scope: strings.Join(segments, "&")}}
}
