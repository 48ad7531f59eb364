// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package models

import (
	"github.com/qolzam/entitystore/internal/platform/config"
)

// RuleSet holds the parsed rules of every kind. It is immutable once built
// and safe to share across goroutines.
type RuleSet struct {
	limits     map[Kind][]Rule
	uniqueness map[Kind][]UniquenessRule
}

// NewRuleSet parses the policies of every kind. It fails only when a rule
// list is not a JSON array at all.
func NewRuleSet(policies config.PoliciesConfig) (*RuleSet, error) {
	rs := &RuleSet{
		limits:     map[Kind][]Rule{},
		uniqueness: map[Kind][]UniquenessRule{},
	}
	for _, kind := range Kinds {
		policy := policies.Get(kind.EnvPrefix())
		rules, err := ParseRules(kind.EnvPrefix()+"_RECORD_LIMITS", policy.RecordLimits)
		if err != nil {
			return nil, err
		}
		if len(rules) > 0 {
			rs.limits[kind] = rules
		}
		if unique := UniquenessFromPolicy(policy); len(unique) > 0 {
			rs.uniqueness[kind] = unique
		}
	}
	return rs, nil
}

// NewRuleSetFromRules builds a RuleSet directly, mostly for tests and embedding.
func NewRuleSetFromRules(limits map[Kind][]Rule, uniqueness map[Kind][]UniquenessRule) *RuleSet {
	rs := &RuleSet{
		limits:     make(map[Kind][]Rule, len(limits)),
		uniqueness: make(map[Kind][]UniquenessRule, len(uniqueness)),
	}
	for k, rules := range limits {
		rs.limits[k] = append([]Rule(nil), rules...)
	}
	for k, rules := range uniqueness {
		rs.uniqueness[k] = append([]UniquenessRule(nil), rules...)
	}
	return rs
}

// Limits returns a copy of the limit rules of kind, in configuration order.
func (rs *RuleSet) Limits(kind Kind) []Rule {
	if rs == nil {
		return nil
	}
	return append([]Rule(nil), rs.limits[kind]...)
}

// Uniqueness returns a copy of the uniqueness rules of kind.
func (rs *RuleSet) Uniqueness(kind Kind) []UniquenessRule {
	if rs == nil {
		return nil
	}
	return append([]UniquenessRule(nil), rs.uniqueness[kind]...)
}
