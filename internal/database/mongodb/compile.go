// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package mongodb

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/qolzam/entitystore/internal/filter"
	"github.com/qolzam/entitystore/internal/value"
)

// matchNothing is a query no document satisfies.
var matchNothing = bson.D{{Key: "$expr", Value: false}}

// CompileWhere translates a filter tree into a MongoDB query document.
func CompileWhere(where *filter.Where) bson.D {
	return compiler{}.where(where)
}

type compiler struct {
	// prefix is prepended to every field, e.g. "_list." after a $lookup.
	prefix string
}

func (c compiler) where(w *filter.Where) bson.D {
	if w == nil {
		return bson.D{}
	}
	switch w.Logic {
	case filter.LogicAnd:
		parts := make([]bson.D, 0, len(w.Clauses))
		for _, clause := range w.Clauses {
			parts = append(parts, c.where(clause))
		}
		return and(parts)
	case filter.LogicOr:
		if len(w.Clauses) == 0 {
			return matchNothing
		}
		if len(w.Clauses) == 1 {
			return c.where(w.Clauses[0])
		}
		parts := make(bson.A, 0, len(w.Clauses))
		for _, clause := range w.Clauses {
			parts = append(parts, c.where(clause))
		}
		return bson.D{{Key: "$or", Value: parts}}
	}
	parts := make([]bson.D, 0, len(w.Fields))
	for _, cond := range w.Fields {
		parts = append(parts, c.condition(cond))
	}
	return and(parts)
}

// and joins query documents, dropping empty ones.
func and(parts []bson.D) bson.D {
	kept := make(bson.A, 0, len(parts))
	for _, p := range parts {
		if len(p) > 0 {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return bson.D{}
	case 1:
		return kept[0].(bson.D)
	}
	return bson.D{{Key: "$and", Value: kept}}
}

func (c compiler) condition(cond filter.Condition) bson.D {
	field := c.prefix + cond.Field
	if !cond.IsOperator() {
		if arr, ok := cond.Literal.(value.Array); ok {
			return containsAll(field, arr)
		}
		return literal(field, cond.Literal)
	}
	parts := make([]bson.D, 0, len(cond.Ops))
	for _, op := range cond.Ops {
		parts = append(parts, operation(field, op, cond.Options))
	}
	return and(parts)
}

func literal(field string, v value.Value) bson.D {
	if alts := dateAlternatives(v); alts != nil {
		return bson.D{{Key: field, Value: bson.D{{Key: "$in", Value: alts}}}}
	}
	return bson.D{{Key: field, Value: toBSON(v)}}
}

// containsAll matches array fields holding every element of arr, in any
// order. An empty arr matches any array.
func containsAll(field string, arr value.Array) bson.D {
	expr := bson.D{{Key: "$type", Value: "array"}}
	if len(arr) > 0 {
		expr = append(bson.D{{Key: "$all", Value: toBSON(arr)}}, expr...)
	}
	return bson.D{{Key: field, Value: expr}}
}

func operation(field string, op filter.Operation, options string) bson.D {
	on := func(expr bson.D) bson.D {
		return bson.D{{Key: field, Value: expr}}
	}
	switch op.Op {
	case filter.OpEq:
		return literal(field, op.Operand)
	case filter.OpNeq:
		if alts := dateAlternatives(op.Operand); alts != nil {
			return on(bson.D{{Key: "$nin", Value: alts}})
		}
		return on(bson.D{{Key: "$ne", Value: toBSON(op.Operand)}})
	case filter.OpGt:
		return on(bson.D{{Key: "$gt", Value: rangeOperand(op.Operand)}})
	case filter.OpGte:
		return on(bson.D{{Key: "$gte", Value: rangeOperand(op.Operand)}})
	case filter.OpLt:
		return on(bson.D{{Key: "$lt", Value: rangeOperand(op.Operand)}})
	case filter.OpLte:
		return on(bson.D{{Key: "$lte", Value: rangeOperand(op.Operand)}})
	case filter.OpBetween:
		bounds, ok := op.Operand.(value.Array)
		if !ok || len(bounds) != 2 {
			return matchNothing
		}
		return on(bson.D{
			{Key: "$gte", Value: rangeOperand(bounds[0])},
			{Key: "$lte", Value: rangeOperand(bounds[1])},
		})
	case filter.OpInq, filter.OpNin:
		set, ok := op.Operand.(value.Array)
		if !ok {
			return matchNothing
		}
		key := "$in"
		if op.Op == filter.OpNin {
			key = "$nin"
		}
		return on(bson.D{{Key: key, Value: listOperand(set)}})
	case filter.OpLike, filter.OpNlike, filter.OpIlike, filter.OpNilike:
		pattern, ok := op.Operand.(value.String)
		if !ok {
			return matchNothing
		}
		flags := ""
		if op.Op == filter.OpIlike || op.Op == filter.OpNilike || strings.Contains(options, "i") {
			flags = "i"
		}
		re := primitive.Regex{Pattern: filter.LikeExpression(string(pattern)), Options: flags}
		if op.Op == filter.OpNlike || op.Op == filter.OpNilike {
			return on(bson.D{{Key: "$not", Value: re}})
		}
		return on(bson.D{{Key: "$regex", Value: re}})
	case filter.OpRegexp:
		re, ok := regexOperand(op)
		if !ok {
			return matchNothing
		}
		return on(bson.D{{Key: "$regex", Value: re}})
	case filter.OpExists:
		want, ok := boolOperand(op.Operand)
		if !ok {
			return matchNothing
		}
		return on(bson.D{{Key: "$exists", Value: want}})
	}
	return matchNothing
}

func regexOperand(op filter.Operation) (primitive.Regex, bool) {
	if op.Pattern != nil {
		return primitive.Regex{Pattern: op.Pattern.String()}, true
	}
	s, ok := op.Operand.(value.String)
	if !ok {
		return primitive.Regex{}, false
	}
	pattern, flags := filter.SplitRegexp(string(s))
	var kept strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			if !strings.ContainsRune(kept.String(), f) {
				kept.WriteRune(f)
			}
		case 'g', 'u', 'y':
		default:
			return primitive.Regex{}, false
		}
	}
	return primitive.Regex{Pattern: pattern, Options: kept.String()}, true
}

func boolOperand(v value.Value) (bool, bool) {
	switch t := v.(type) {
	case value.Bool:
		return bool(t), true
	case value.Number:
		return t != 0, true
	case value.String:
		switch strings.ToLower(string(t)) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		}
	}
	return false, false
}

// rangeOperand reads ISO date strings as dates so they order against stored timestamps.
func rangeOperand(v value.Value) interface{} {
	if s, ok := v.(value.String); ok {
		if t, ok := value.ParseISODate(string(s)); ok {
			return t.UTC()
		}
	}
	return toBSON(v)
}

// dateAlternatives returns [string, date] for ISO date strings so equality
// holds whether the field stores text or a timestamp.
func dateAlternatives(v value.Value) bson.A {
	s, ok := v.(value.String)
	if !ok {
		return nil
	}
	t, ok := value.ParseISODate(string(s))
	if !ok {
		return nil
	}
	return bson.A{string(s), t.UTC()}
}

func listOperand(set value.Array) bson.A {
	out := make(bson.A, 0, len(set))
	for _, item := range set {
		if alts := dateAlternatives(item); alts != nil {
			out = append(out, alts...)
			continue
		}
		out = append(out, toBSON(item))
	}
	return out
}

// toBSON converts a value into driver-native data.
func toBSON(v value.Value) interface{} {
	switch t := v.(type) {
	case value.Array:
		out := make(bson.A, len(t))
		for i, item := range t {
			out[i] = toBSON(item)
		}
		return out
	case value.Object:
		out := bson.M{}
		for k, item := range t {
			if value.IsUndefined(item) {
				continue
			}
			out[k] = toBSON(item)
		}
		return out
	}
	return value.ToAny(v)
}

// fromBSON converts a decoded document into a record.
func fromBSON(doc bson.M) value.Object {
	return value.ToObject(normalize(doc).(map[string]interface{}))
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = normalize(item)
		}
		return out
	case map[string]interface{}:
		return normalize(bson.M(t))
	case bson.D:
		out := make(map[string]interface{}, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = normalize(item)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.ObjectID:
		return t.Hex()
	case primitive.Timestamp:
		return time.Unix(int64(t.T), 0).UTC()
	case primitive.Decimal128:
		return t.String()
	case primitive.Regex:
		return t.Pattern
	}
	return v
}

// sortDocument builds a $sort specification from filter order terms.
func sortDocument(terms []filter.OrderTerm) bson.D {
	out := make(bson.D, 0, len(terms))
	for _, term := range terms {
		dir := 1
		if term.Descending {
			dir = -1
		}
		out = append(out, bson.E{Key: term.Field, Value: dir})
	}
	return out
}

// projection includes only the listed fields.
func projection(fields []string) bson.D {
	out := make(bson.D, 0, len(fields))
	for _, f := range fields {
		out = append(out, bson.E{Key: f, Value: 1})
	}
	return out
}

// relationPipeline counts relations joined to their list and entity.
func relationPipeline(q relationStages) bson.A {
	pipeline := bson.A{}
	if m := CompileWhere(q.where); len(m) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: m}})
	}
	for _, join := range q.joins {
		if join.where.IsEmpty() {
			continue
		}
		pipeline = append(pipeline,
			bson.D{{Key: "$lookup", Value: bson.D{
				{Key: "from", Value: join.from},
				{Key: "localField", Value: join.localField},
				{Key: "foreignField", Value: "_id"},
				{Key: "as", Value: join.as},
			}}},
			bson.D{{Key: "$unwind", Value: "$" + join.as}},
		)
		if m := (compiler{prefix: join.as + "."}).where(join.where); len(m) > 0 {
			pipeline = append(pipeline, bson.D{{Key: "$match", Value: m}})
		}
	}
	return append(pipeline, bson.D{{Key: "$count", Value: "count"}})
}

type relationJoin struct {
	from       string
	localField string
	as         string
	where      *filter.Where
}

type relationStages struct {
	where *filter.Where
	joins []relationJoin
}
