// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/qolzam/entitystore/internal/value"
)

// Filter is a query: a predicate tree plus paging and projection.
type Filter struct {
	Where  *Where
	Limit  int
	Skip   int
	Order  []string
	Fields []string
}

// WithWhere returns a copy of f whose where is replaced.
func (f Filter) WithWhere(where *Where) Filter {
	f.Where = where
	f.Order = append([]string(nil), f.Order...)
	f.Fields = append([]string(nil), f.Fields...)
	return f
}

// Narrow returns a copy of f whose where is AND-ed with extra.
func (f Filter) Narrow(extra *Where) Filter {
	return f.WithWhere(Conjoin(f.Where, extra))
}

// FilterFromMap builds a Filter from its loose map form:
//
//	{"where": {...}, "limit": 10, "skip": 0, "order": ["_name ASC"], "fields": ["_id"]}
func FilterFromMap(m map[string]interface{}) (Filter, error) {
	return FilterFromValue(value.ToObject(m))
}

// FilterFromValue builds a Filter from an Object value.
func FilterFromValue(v value.Value) (Filter, error) {
	var f Filter
	obj, ok := v.(value.Object)
	if !ok {
		if value.IsUndefined(v) || value.IsNull(v) || v == nil {
			return f, nil
		}
		return f, fmt.Errorf("filter must be an object, got %s", value.KindOf(v))
	}

	where, err := FromValue(obj["where"])
	if err != nil {
		return f, err
	}
	f.Where = where

	if f.Limit, err = intOf("limit", obj["limit"]); err != nil {
		return f, err
	}
	if f.Skip, err = intOf("skip", obj["skip"]); err != nil {
		return f, err
	}
	f.Order = stringsOf(obj["order"])
	f.Fields = stringsOf(obj["fields"])
	return f, nil
}

func intOf(name string, v value.Value) (int, error) {
	switch t := v.(type) {
	case nil, value.Undefined, value.Null:
		return 0, nil
	case value.Number:
		return int(t), nil
	case value.String:
		n, err := strconv.Atoi(string(t))
		if err != nil {
			return 0, fmt.Errorf("%s must be numeric: %w", name, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%s must be numeric, got %s", name, value.KindOf(v))
}

// stringsOf accepts a list, a comma-separated string, or a {field: true} projection.
func stringsOf(v value.Value) []string {
	switch t := v.(type) {
	case value.String:
		var out []string
		for _, part := range strings.Split(string(t), ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	case value.Array:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, value.Format(item))
		}
		return out
	case value.Object:
		if items := IndexedItems(t); items != nil {
			return stringsOf(value.Array(items))
		}
		var out []string
		for _, k := range t.SortedKeys() {
			if on, ok := truthy(t[k]); ok && on {
				out = append(out, k)
			}
		}
		return out
	}
	return nil
}

// ToMap renders the filter in its loose map form.
func (f Filter) ToMap() map[string]interface{} {
	out := map[string]interface{}{}
	if f.Where != nil {
		out["where"] = f.Where.ToMap()
	}
	if f.Limit > 0 {
		out["limit"] = f.Limit
	}
	if f.Skip > 0 {
		out["skip"] = f.Skip
	}
	if len(f.Order) > 0 {
		out["order"] = f.Order
	}
	if len(f.Fields) > 0 {
		out["fields"] = f.Fields
	}
	return out
}

// OrderTerm is one parsed entry of Filter.Order.
type OrderTerm struct {
	Field      string
	Descending bool
}

// OrderTerms parses Order entries such as "_name ASC" or "_createdDateTime DESC".
// Entries without a direction sort ascending; blank entries are skipped.
func (f Filter) OrderTerms() []OrderTerm {
	terms := make([]OrderTerm, 0, len(f.Order))
	for _, entry := range f.Order {
		parts := strings.Fields(entry)
		if len(parts) == 0 {
			continue
		}
		term := OrderTerm{Field: parts[0]}
		if len(parts) > 1 && strings.EqualFold(parts[1], "DESC") {
			term.Descending = true
		}
		terms = append(terms, term)
	}
	return terms
}
