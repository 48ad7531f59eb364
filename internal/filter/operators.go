// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package filter

import (
	"strings"

	"github.com/qolzam/entitystore/internal/value"
)

// evaluate applies one operator to a record value. Unknown operators and
// malformed operands fail the condition; nothing here panics or errors.
func evaluate(v value.Value, op Operation, options string) bool {
	switch op.Op {
	case OpEq:
		return equalsCoerced(Coerce(v), Coerce(op.Operand))
	case OpNeq:
		return !equalsCoerced(Coerce(v), Coerce(op.Operand))
	case OpGt:
		return compareAny(Coerce(v), Coerce(op.Operand), func(c int) bool { return c > 0 })
	case OpGte:
		return compareAny(Coerce(v), Coerce(op.Operand), func(c int) bool { return c >= 0 })
	case OpLt:
		return compareAny(Coerce(v), Coerce(op.Operand), func(c int) bool { return c < 0 })
	case OpLte:
		return compareAny(Coerce(v), Coerce(op.Operand), func(c int) bool { return c <= 0 })
	case OpBetween:
		return between(Coerce(v), Coerce(op.Operand))
	case OpInq:
		set, ok := Coerce(op.Operand).(value.Array)
		return ok && inSet(Coerce(v), set)
	case OpNin:
		set, ok := Coerce(op.Operand).(value.Array)
		return ok && !inSet(Coerce(v), set)
	case OpLike, OpNlike, OpIlike, OpNilike:
		return like(v, op, options)
	case OpRegexp:
		return matchRegexp(v, op)
	case OpExists:
		want, ok := truthy(op.Operand)
		return ok && want == !value.IsUndefined(v)
	}
	return false
}

// Coerce normalizes dates for comparison: Date values and ISO-like date
// strings become epoch milliseconds; arrays are coerced element-wise.
func Coerce(v value.Value) value.Value {
	switch t := v.(type) {
	case value.Date:
		return value.Number(t.Millis())
	case value.String:
		if ts, ok := value.ParseISODate(string(t)); ok {
			return value.Number(ts.UnixMilli())
		}
	case value.Array:
		out := make(value.Array, len(t))
		for i, item := range t {
			out[i] = Coerce(item)
		}
		return out
	}
	return v
}

func equalsCoerced(v, operand value.Value) bool {
	// A null operand also matches an absent field, as the document store does.
	if value.IsNull(operand) && value.IsUndefined(v) {
		return true
	}
	arr, isArray := v.(value.Array)
	if !isArray {
		return value.Equal(v, operand)
	}
	if want, ok := operand.(value.Array); ok {
		return sameElements(arr, want)
	}
	return value.Contains(arr, operand)
}

// sameElements is set equality for equally sized arrays.
func sameElements(a, b value.Array) bool {
	if len(a) != len(b) {
		return false
	}
	return isSubset(a, b) && isSubset(b, a)
}

// compare orders two scalars of the same kind.
func compare(a, b value.Value) (int, bool) {
	switch av := a.(type) {
	case value.Number:
		bv, ok := b.(value.Number)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case value.String:
		bv, ok := b.(value.String)
		if !ok {
			return 0, false
		}
		return strings.Compare(string(av), string(bv)), true
	case value.Bool:
		bv, ok := b.(value.Bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !bool(av):
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// compareAny evaluates pred against v, or against any element when v is an array.
func compareAny(v, operand value.Value, pred func(int) bool) bool {
	if arr, ok := v.(value.Array); ok {
		for _, item := range arr {
			if c, ok := compare(item, operand); ok && pred(c) {
				return true
			}
		}
		return false
	}
	c, ok := compare(v, operand)
	return ok && pred(c)
}

func between(v, operand value.Value) bool {
	bounds, ok := operand.(value.Array)
	if !ok || len(bounds) != 2 {
		return false
	}
	check := func(item value.Value) bool {
		lo, okLo := compare(item, bounds[0])
		hi, okHi := compare(item, bounds[1])
		return okLo && okHi && lo >= 0 && hi <= 0
	}
	if arr, ok := v.(value.Array); ok {
		for _, item := range arr {
			if check(item) {
				return true
			}
		}
		return false
	}
	return check(v)
}

func inSet(v value.Value, set value.Array) bool {
	if arr, ok := v.(value.Array); ok {
		for _, item := range arr {
			if value.Contains(set, item) {
				return true
			}
		}
		return false
	}
	return value.Contains(set, v)
}

func like(v value.Value, op Operation, options string) bool {
	pattern, ok := op.Operand.(value.String)
	if !ok {
		return false
	}
	insensitive := op.Op == OpIlike || op.Op == OpNilike || strings.Contains(options, "i")
	re, err := compileLike(string(pattern), insensitive)
	if err != nil {
		return false
	}
	matched := anyString(v, re.MatchString)
	if op.Op == OpNlike || op.Op == OpNilike {
		return !matched
	}
	return matched
}

func matchRegexp(v value.Value, op Operation) bool {
	re := op.Pattern
	if re == nil {
		pattern, ok := op.Operand.(value.String)
		if !ok {
			return false
		}
		compiled, err := compileRegexp(string(pattern))
		if err != nil {
			return false
		}
		re = compiled
	}
	return anyString(v, re.MatchString)
}

// anyString applies match to a string value, or to any string element of an array.
func anyString(v value.Value, match func(string) bool) bool {
	switch t := v.(type) {
	case value.String:
		return match(string(t))
	case value.Array:
		for _, item := range t {
			if s, ok := item.(value.String); ok && match(string(s)) {
				return true
			}
		}
	}
	return false
}

// truthy reads a boolean operand; query strings deliver "true"/"false".
func truthy(v value.Value) (bool, bool) {
	switch t := v.(type) {
	case value.Bool:
		return bool(t), true
	case value.String:
		switch strings.ToLower(string(t)) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		}
	case value.Number:
		return t != 0, true
	}
	return false, false
}

// Compare orders two values after date coercion. ok is false when the values
// are of different kinds or not orderable.
func Compare(a, b value.Value) (int, bool) {
	return compare(Coerce(a), Coerce(b))
}
