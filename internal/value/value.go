// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package value holds the dynamic value model records are evaluated against.
//
// A record is an Object: a string-keyed map of Values. Every Value belongs to
// exactly one Kind, so the filter engine can switch over an explicit
// enumeration instead of inspecting Go types at each step.
package value

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind enumerates the value kinds a record field can hold.
type Kind int

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindDate
	KindArray
	KindObject
)

var kindNames = map[Kind]string{
	KindUndefined: "undefined",
	KindNull:      "null",
	KindBool:      "bool",
	KindNumber:    "number",
	KindString:    "string",
	KindDate:      "date",
	KindArray:     "array",
	KindObject:    "object",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a sealed interface: only the types of this package implement it.
type Value interface {
	Kind() Kind
}

// Undefined marks an absent field. It is distinct from Null.
type Undefined struct{}

// Null is an explicit null.
type Null struct{}

// Bool is a boolean value.
type Bool bool

// Number is any numeric value. Integers and floats share one kind, like JSON.
type Number float64

// String is a string value.
type String string

// Date is a point in time.
type Date time.Time

// Array is an ordered list of values.
type Array []Value

// Object is a string-keyed map of values. Records are Objects.
type Object map[string]Value

func (Undefined) Kind() Kind { return KindUndefined }
func (Null) Kind() Kind      { return KindNull }
func (Bool) Kind() Kind      { return KindBool }
func (Number) Kind() Kind    { return KindNumber }
func (String) Kind() Kind    { return KindString }
func (Date) Kind() Kind      { return KindDate }
func (Array) Kind() Kind     { return KindArray }
func (Object) Kind() Kind    { return KindObject }

// Time returns the date as a time.Time.
func (d Date) Time() time.Time { return time.Time(d) }

// Millis returns the epoch milliseconds of the date.
func (d Date) Millis() int64 { return time.Time(d).UnixMilli() }

// KindOf returns the kind of v, treating a nil Value as Undefined.
func KindOf(v Value) Kind {
	if v == nil {
		return KindUndefined
	}
	return v.Kind()
}

// IsUndefined reports whether v is absent.
func IsUndefined(v Value) bool { return KindOf(v) == KindUndefined }

// IsNull reports whether v is an explicit null.
func IsNull(v Value) bool { return KindOf(v) == KindNull }

// SortedKeys returns the object keys in lexical order.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value at a dotted path, or Undefined.
func (o Object) Get(path string) Value {
	return Lookup(o, path)
}

// With returns a shallow copy of o with key set to v. The receiver is not modified.
func (o Object) With(key string, v Value) Object {
	out := make(Object, len(o)+1)
	for k, existing := range o {
		out[k] = existing
	}
	out[key] = v
	return out
}

// Lookup resolves a dotted path ("a.b.0.c") inside v. Numeric segments index
// into arrays. Any miss yields Undefined.
func Lookup(v Value, path string) Value {
	if path == "" {
		return v
	}
	current := v
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case Object:
			next, ok := node[segment]
			if !ok || next == nil {
				return Undefined{}
			}
			current = next
		case Array:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return Undefined{}
			}
			current = node[idx]
		default:
			return Undefined{}
		}
	}
	if current == nil {
		return Undefined{}
	}
	return current
}

// Equal is strict deep equality. Numbers compare by value, dates by instant.
func Equal(a, b Value) bool {
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		return false
	}
	switch ka {
	case KindUndefined, KindNull:
		return true
	case KindBool:
		return a.(Bool) == b.(Bool)
	case KindNumber:
		return a.(Number) == b.(Number)
	case KindString:
		return a.(String) == b.(String)
	case KindDate:
		return a.(Date).Time().Equal(b.(Date).Time())
	case KindArray:
		aa, ba := a.(Array), b.(Array)
		if len(aa) != len(ba) {
			return false
		}
		for i := range aa {
			if !Equal(aa[i], ba[i]) {
				return false
			}
		}
		return true
	case KindObject:
		ao, bo := a.(Object), b.(Object)
		if len(ao) != len(bo) {
			return false
		}
		for k, av := range ao {
			bv, ok := bo[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// Contains reports whether arr holds an element deep-equal to v.
func Contains(arr Array, v Value) bool {
	for _, item := range arr {
		if Equal(item, v) {
			return true
		}
	}
	return false
}
