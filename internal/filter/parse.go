// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package filter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/qolzam/entitystore/internal/value"
)

// FromMap builds a predicate tree from its loose map form, e.g. decoded JSON:
//
//	{"and": [{"_kind": "book"}, {"price": {"gt": 10}}]}
//
// An object value whose keys are all operators is an operator object; any
// other object names sub-fields, so {"address": {"city": "x"}} is the same as
// {"address.city": "x"}. Field keys that sit next to "and"/"or" are AND-ed
// with the combinator.
func FromMap(m map[string]interface{}) (*Where, error) {
	if m == nil {
		return nil, nil
	}
	return fromObject(value.ToObject(m))
}

// FromValue builds a predicate tree from an Object value.
func FromValue(v value.Value) (*Where, error) {
	switch t := v.(type) {
	case nil, value.Undefined, value.Null:
		return nil, nil
	case value.Object:
		return fromObject(t)
	}
	return nil, fmt.Errorf("where must be an object, got %s", value.KindOf(v))
}

// ParseJSON decodes a JSON where clause.
func ParseJSON(data []byte) (*Where, error) {
	v, err := value.ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("invalid where JSON: %w", err)
	}
	return FromValue(v)
}

func fromObject(obj value.Object) (*Where, error) {
	var combinator *Where
	fields := &Where{Logic: LogicFields}

	for _, key := range obj.SortedKeys() {
		raw := obj[key]
		switch key {
		case "and", "or":
			clauses, err := clauseList(key, raw)
			if err != nil {
				return nil, err
			}
			node := And(clauses...)
			if key == "or" {
				node = Or(clauses...)
			}
			if combinator == nil {
				combinator = node
			} else {
				combinator = And(combinator, node)
			}
		default:
			fields.Fields = append(fields.Fields, conditionsFrom(key, raw)...)
		}
	}

	switch {
	case combinator == nil:
		return fields, nil
	case len(fields.Fields) == 0:
		return combinator, nil
	}
	return And(combinator, fields), nil
}

func clauseList(key string, raw value.Value) ([]*Where, error) {
	var items []value.Value
	switch t := raw.(type) {
	case value.Array:
		items = t
	case value.Object:
		// Bracket notation yields {"0": {...}, "1": {...}}.
		items = IndexedItems(t)
		if items == nil {
			items = []value.Value{t}
		}
	default:
		return nil, fmt.Errorf("%q expects a list of clauses, got %s", key, value.KindOf(raw))
	}

	clauses := make([]*Where, 0, len(items))
	for i, item := range items {
		obj, ok := item.(value.Object)
		if !ok {
			return nil, fmt.Errorf("%q clause %d must be an object, got %s", key, i, value.KindOf(item))
		}
		clause, err := fromObject(obj)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}
	return clauses, nil
}

// IndexedItems returns the values of an object whose keys are all array
// indexes, ordered by index; nil when any key is not an index.
func IndexedItems(obj value.Object) []value.Value {
	if len(obj) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(obj))
	byIndex := make(map[int]value.Value, len(obj))
	for k, v := range obj {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 {
			return nil
		}
		indexes = append(indexes, i)
		byIndex[i] = v
	}
	sort.Ints(indexes)
	items := make([]value.Value, len(indexes))
	for n, i := range indexes {
		items[n] = byIndex[i]
	}
	return items
}

// IsOperatorObject reports whether every key of obj is an operator or the
// options flag. An empty object counts as an operator object.
func IsOperatorObject(obj value.Object) bool {
	for k := range obj {
		if k != optionsKey && !Operator(k).IsValid() {
			return false
		}
	}
	return true
}

func conditionsFrom(field string, raw value.Value) []Condition {
	obj, isObject := raw.(value.Object)
	if !isObject || IsOperatorObject(obj) {
		return []Condition{conditionFrom(field, raw)}
	}
	var conds []Condition
	for _, key := range obj.SortedKeys() {
		conds = append(conds, conditionsFrom(field+"."+key, obj[key])...)
	}
	return conds
}

func conditionFrom(field string, raw value.Value) Condition {
	obj, isObject := raw.(value.Object)
	if !isObject {
		return Condition{Field: field, Literal: raw}
	}

	cond := Condition{Field: field, Ops: []Operation{}}
	for _, key := range obj.SortedKeys() {
		operand := obj[key]
		if key == optionsKey {
			cond.Options = value.Format(operand)
			continue
		}
		if items := listOperand(Operator(key), operand); items != nil {
			operand = items
		}
		cond.Ops = append(cond.Ops, Operation{Op: Operator(key), Operand: operand})
	}
	return cond
}

// listOperand normalizes bracket-notation lists ({"0": a, "1": b}) for list operators.
func listOperand(op Operator, operand value.Value) value.Value {
	switch op {
	case OpInq, OpNin, OpBetween:
	default:
		return nil
	}
	if obj, ok := operand.(value.Object); ok {
		if items := IndexedItems(obj); items != nil {
			return value.Array(items)
		}
	}
	return nil
}

// ToMap renders the tree back into its loose map form.
func (w *Where) ToMap() map[string]interface{} {
	if w == nil {
		return map[string]interface{}{}
	}
	switch w.Logic {
	case LogicAnd, LogicOr:
		clauses := make([]interface{}, len(w.Clauses))
		for i, c := range w.Clauses {
			clauses[i] = c.ToMap()
		}
		key := "and"
		if w.Logic == LogicOr {
			key = "or"
		}
		return map[string]interface{}{key: clauses}
	}

	out := make(map[string]interface{}, len(w.Fields))
	for _, cond := range w.Fields {
		if _, repeated := out[cond.Field]; repeated {
			// Repeated fields cannot share a key; fold into an AND.
			return And(splitFields(w)...).ToMap()
		}
		out[cond.Field] = cond.render()
	}
	return out
}

func splitFields(w *Where) []*Where {
	nodes := make([]*Where, len(w.Fields))
	for i, cond := range w.Fields {
		nodes[i] = Fields(cond)
	}
	return nodes
}

func (c Condition) render() interface{} {
	if !c.IsOperator() {
		if value.IsUndefined(c.Literal) {
			return nil
		}
		return value.ToAny(c.Literal)
	}
	ops := make(map[string]interface{}, len(c.Ops)+1)
	for _, op := range c.Ops {
		ops[string(op.Op)] = value.ToAny(op.Operand)
	}
	if c.Options != "" {
		ops[optionsKey] = c.Options
	}
	return ops
}

// String renders the tree as JSON for logs and error details.
func (w *Where) String() string {
	raw, err := json.Marshal(w.ToMap())
	if err != nil {
		return fmt.Sprintf("<where: %v>", err)
	}
	return string(raw)
}
