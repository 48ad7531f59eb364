// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package filter

import (
	"github.com/qolzam/entitystore/internal/value"
)

// Matches reports whether record satisfies where. A nil where matches every record.
//
// It performs no I/O, so it can decide whether a record that does not exist
// in storage yet would be counted by a query using the same where.
func Matches(record value.Object, where *Where) bool {
	if where == nil {
		return true
	}
	switch where.Logic {
	case LogicAnd:
		for _, clause := range where.Clauses {
			if !Matches(record, clause) {
				return false
			}
		}
		return true
	case LogicOr:
		for _, clause := range where.Clauses {
			if Matches(record, clause) {
				return true
			}
		}
		return false
	}

	for _, cond := range where.Fields {
		if !matchCondition(value.Lookup(record, cond.Field), cond) {
			return false
		}
	}
	return true
}

func matchCondition(v value.Value, cond Condition) bool {
	if cond.IsOperator() {
		for _, op := range cond.Ops {
			if !evaluate(v, op, cond.Options) {
				return false
			}
		}
		return true
	}

	switch value.KindOf(cond.Literal) {
	case value.KindNull:
		return value.IsNull(v)
	case value.KindUndefined:
		return value.IsUndefined(v)
	}
	return matchLiteral(v, cond.Literal)
}

// matchLiteral applies direct-equality semantics with array containment.
func matchLiteral(v, literal value.Value) bool {
	arr, isArray := v.(value.Array)
	if !isArray {
		return value.Equal(v, literal)
	}
	if want, ok := literal.(value.Array); ok {
		return value.Equal(arr, want) || isSubset(want, arr)
	}
	return value.Contains(arr, literal)
}

// isSubset reports whether every element of sub is present in set.
func isSubset(sub, set value.Array) bool {
	for _, item := range sub {
		if !value.Contains(set, item) {
			return false
		}
	}
	return true
}
