// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// timeLike is satisfied by driver date types (e.g. BSON DateTime) without importing them.
type timeLike interface {
	Time() time.Time
}

// hexLike is satisfied by driver object identifiers.
type hexLike interface {
	Hex() string
}

// FromAny converts decoded JSON/BSON/Go data into a Value.
func FromAny(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Null{}
	case Value:
		return t
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case int:
		return Number(t)
	case int8:
		return Number(t)
	case int16:
		return Number(t)
	case int32:
		return Number(t)
	case int64:
		return Number(t)
	case uint:
		return Number(t)
	case uint8:
		return Number(t)
	case uint16:
		return Number(t)
	case uint32:
		return Number(t)
	case uint64:
		return Number(t)
	case float32:
		return Number(t)
	case float64:
		return Number(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return String(t.String())
		}
		return Number(f)
	case time.Time:
		return Date(t)
	case *time.Time:
		if t == nil {
			return Null{}
		}
		return Date(*t)
	case []interface{}:
		arr := make(Array, len(t))
		for i, item := range t {
			arr[i] = FromAny(item)
		}
		return arr
	case []string:
		arr := make(Array, len(t))
		for i, item := range t {
			arr[i] = String(item)
		}
		return arr
	case map[string]interface{}:
		obj := make(Object, len(t))
		for k, item := range t {
			obj[k] = FromAny(item)
		}
		return obj
	case timeLike:
		return Date(t.Time())
	case hexLike:
		return String(t.Hex())
	}
	return fromReflect(reflect.ValueOf(v))
}

func fromReflect(rv reflect.Value) Value {
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return Null{}
		}
		return FromAny(rv.Elem().Interface())
	case reflect.Bool:
		return Bool(rv.Bool())
	case reflect.String:
		return String(rv.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Number(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return Number(rv.Float())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		obj := make(Object, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			obj[iter.Key().String()] = FromAny(iter.Value().Interface())
		}
		return obj
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return String(rv.Bytes())
		}
		arr := make(Array, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			arr[i] = FromAny(rv.Index(i).Interface())
		}
		return arr
	case reflect.Array:
		if s, ok := rv.Interface().(fmt.Stringer); ok {
			return String(s.String())
		}
		arr := make(Array, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			arr[i] = FromAny(rv.Index(i).Interface())
		}
		return arr
	case reflect.Struct:
		raw, err := json.Marshal(rv.Interface())
		if err != nil {
			break
		}
		var decoded interface{}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			break
		}
		return FromAny(decoded)
	}
	if rv.IsValid() {
		return String(fmt.Sprint(rv.Interface()))
	}
	return Null{}
}

// ToObject converts a decoded map into an Object.
func ToObject(m map[string]interface{}) Object {
	obj, _ := FromAny(m).(Object)
	if obj == nil {
		return Object{}
	}
	return obj
}

// ToAny converts a Value back into plain Go data. Undefined object members are dropped.
func ToAny(v Value) interface{} {
	switch t := v.(type) {
	case nil, Undefined, Null:
		return nil
	case Bool:
		return bool(t)
	case Number:
		f := float64(t)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case String:
		return string(t)
	case Date:
		return t.Time().UTC()
	case Array:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = ToAny(item)
		}
		return out
	case Object:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			if IsUndefined(item) {
				continue
			}
			out[k] = ToAny(item)
		}
		return out
	}
	return nil
}

// Map converts an Object into a plain map.
func (o Object) Map() map[string]interface{} {
	m, _ := ToAny(o).(map[string]interface{})
	return m
}

// MarshalJSON encodes the object as plain JSON, dates as RFC 3339 with milliseconds.
func (o Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonSafe(o))
}

// MarshalValue encodes any value as JSON the way MarshalJSON encodes objects.
func MarshalValue(v Value) ([]byte, error) {
	return json.Marshal(jsonSafe(v))
}

func jsonSafe(v Value) interface{} {
	switch t := v.(type) {
	case Date:
		return FormatISO(t.Time())
	case Array:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = jsonSafe(item)
		}
		return out
	case Object:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			if IsUndefined(item) {
				continue
			}
			out[k] = jsonSafe(item)
		}
		return out
	}
	return ToAny(v)
}

// ParseJSON decodes a JSON document into a Value, keeping numbers exact.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var decoded interface{}
	if err := dec.Decode(&decoded); err != nil {
		return nil, err
	}
	return FromAny(decoded), nil
}

// ParseObjectJSON decodes a JSON object into an Object.
func ParseObjectJSON(data []byte) (Object, error) {
	v, err := ParseJSON(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(Object)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %s", KindOf(v))
	}
	return obj, nil
}

// isoDatePattern accepts the ISO-8601 shapes records carry: a calendar date
// with an optional time, fraction and zone.
var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([T ]\d{2}:\d{2}(:\d{2}(\.\d{1,9})?)?(Z|[+-]\d{2}:?\d{2})?)?$`)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseISODate parses an ISO-like date string. Zone-less inputs are read as UTC.
func ParseISODate(s string) (time.Time, bool) {
	if !isoDatePattern.MatchString(s) {
		return time.Time{}, false
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatISO renders t the way records store timestamps: UTC, millisecond precision.
func FormatISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Format renders v as plain text: arrays comma-joined, objects as JSON.
func Format(v Value) string {
	switch t := v.(type) {
	case nil, Undefined:
		return ""
	case Null:
		return "null"
	case Bool:
		return strconv.FormatBool(bool(t))
	case Number:
		return strconv.FormatFloat(float64(t), 'f', -1, 64)
	case String:
		return string(t)
	case Date:
		return FormatISO(t.Time())
	case Array:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = Format(item)
		}
		return strings.Join(parts, ",")
	case Object:
		raw, err := t.MarshalJSON()
		if err != nil {
			return ""
		}
		return string(raw)
	}
	return ""
}
