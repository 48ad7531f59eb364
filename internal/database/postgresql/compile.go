// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package postgresql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/qolzam/entitystore/internal/filter"
	"github.com/qolzam/entitystore/internal/value"
)

const (
	sqlTrue  = "TRUE"
	sqlFalse = "FALSE"
)

// queryBuilder collects positional arguments while a statement is compiled.
type queryBuilder struct {
	args []interface{}
}

func (b *queryBuilder) bind(v interface{}) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

// CompileWhere translates a filter tree into a SQL condition over the JSONB
// column and returns it with its positional arguments.
func CompileWhere(column string, where *filter.Where) (string, []interface{}) {
	b := &queryBuilder{}
	return b.where(column, where), b.args
}

func (b *queryBuilder) where(column string, w *filter.Where) string {
	if w == nil {
		return sqlTrue
	}
	switch w.Logic {
	case filter.LogicAnd:
		parts := make([]string, 0, len(w.Clauses))
		for _, clause := range w.Clauses {
			parts = append(parts, b.where(column, clause))
		}
		return joinAnd(parts)
	case filter.LogicOr:
		if len(w.Clauses) == 0 {
			return sqlFalse
		}
		parts := make([]string, 0, len(w.Clauses))
		for _, clause := range w.Clauses {
			parts = append(parts, b.where(column, clause))
		}
		if len(parts) == 1 {
			return parts[0]
		}
		return "(" + strings.Join(parts, " OR ") + ")"
	}
	parts := make([]string, 0, len(w.Fields))
	for _, cond := range w.Fields {
		parts = append(parts, b.condition(column, cond))
	}
	return joinAnd(parts)
}

func joinAnd(parts []string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != sqlTrue {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return sqlTrue
	case 1:
		return kept[0]
	}
	return "(" + strings.Join(kept, " AND ") + ")"
}

func (b *queryBuilder) condition(column string, cond filter.Condition) string {
	f := field{json: jsonPath(column, cond.Field), text: textPath(column, cond.Field)}
	if !cond.IsOperator() {
		if arr, ok := cond.Literal.(value.Array); ok {
			return b.containsAll(f, arr)
		}
		return b.equals(f, cond.Literal)
	}
	parts := make([]string, 0, len(cond.Ops))
	for _, op := range cond.Ops {
		parts = append(parts, b.operation(f, op, cond.Options))
	}
	return joinAnd(parts)
}

// field holds the JSONB and text extraction expressions of one record field.
type field struct {
	json string
	text string
}

func (b *queryBuilder) operation(f field, op filter.Operation, options string) string {
	switch op.Op {
	case filter.OpEq:
		return b.equals(f, op.Operand)
	case filter.OpNeq:
		if value.IsNull(op.Operand) {
			return fmt.Sprintf("(%s IS NOT NULL AND %s <> 'null'::jsonb)", f.json, f.json)
		}
		return negate(b.equals(f, op.Operand))
	case filter.OpGt:
		return b.compare(f, ">", op.Operand)
	case filter.OpGte:
		return b.compare(f, ">=", op.Operand)
	case filter.OpLt:
		return b.compare(f, "<", op.Operand)
	case filter.OpLte:
		return b.compare(f, "<=", op.Operand)
	case filter.OpBetween:
		bounds, ok := op.Operand.(value.Array)
		if !ok || len(bounds) != 2 {
			return sqlFalse
		}
		return joinAnd([]string{b.compare(f, ">=", bounds[0]), b.compare(f, "<=", bounds[1])})
	case filter.OpInq, filter.OpNin:
		set, ok := op.Operand.(value.Array)
		if !ok {
			return sqlFalse
		}
		parts := make([]string, 0, len(set))
		for _, item := range set {
			parts = append(parts, b.equals(f, item))
		}
		in := sqlFalse
		if len(parts) == 1 {
			in = parts[0]
		} else if len(parts) > 1 {
			in = "(" + strings.Join(parts, " OR ") + ")"
		}
		if op.Op == filter.OpNin {
			return negate(in)
		}
		return in
	case filter.OpLike, filter.OpNlike, filter.OpIlike, filter.OpNilike:
		pattern, ok := op.Operand.(value.String)
		if !ok {
			return sqlFalse
		}
		insensitive := op.Op == filter.OpIlike || op.Op == filter.OpNilike || strings.Contains(options, "i")
		match := b.regexMatch(f, filter.LikeExpression(string(pattern)), insensitive)
		if op.Op == filter.OpNlike || op.Op == filter.OpNilike {
			return negate(match)
		}
		return match
	case filter.OpRegexp:
		pattern, insensitive, ok := regexOperand(op)
		if !ok {
			return sqlFalse
		}
		return b.regexMatch(f, pattern, insensitive)
	case filter.OpExists:
		want, ok := boolOperand(op.Operand)
		if !ok {
			return sqlFalse
		}
		if want {
			return f.json + " IS NOT NULL"
		}
		return f.json + " IS NULL"
	}
	return sqlFalse
}

// equals matches a field equal to v, or an array field containing v.
func (b *queryBuilder) equals(f field, v value.Value) string {
	switch t := v.(type) {
	case nil, value.Undefined, value.Null:
		return fmt.Sprintf("(%s IS NULL OR %s = 'null'::jsonb)", f.json, f.json)
	case value.Array:
		arg := b.bind(jsonArg(t))
		return fmt.Sprintf("(%s @> %s::jsonb AND %s::jsonb @> %s)", f.json, arg, arg, f.json)
	case value.String:
		if ts, ok := value.ParseISODate(string(t)); ok && value.FormatISO(ts) != string(t) {
			return fmt.Sprintf("(%s @> %s::jsonb OR %s @> %s::jsonb)",
				f.json, b.bind(jsonArg(t)), f.json, b.bind(jsonArg(value.Date(ts))))
		}
	}
	return fmt.Sprintf("%s @> %s::jsonb", f.json, b.bind(jsonArg(v)))
}

// containsAll matches array fields holding every element of arr, in any order.
func (b *queryBuilder) containsAll(f field, arr value.Array) string {
	return fmt.Sprintf("(jsonb_typeof(%s) = 'array' AND %s @> %s::jsonb)", f.json, f.json, b.bind(jsonArg(arr)))
}

// compare orders numbers numerically and strings bytewise. Dates are stored
// as fixed-width ISO text, so ISO operands compare as text.
func (b *queryBuilder) compare(f field, op string, v value.Value) string {
	switch t := v.(type) {
	case value.Number:
		return fmt.Sprintf("(jsonb_typeof(%s) = 'number' AND (%s)::numeric %s %s)", f.json, f.text, op, b.bind(float64(t)))
	case value.Date:
		return b.compareText(f, op, value.FormatISO(t.Time()))
	case value.String:
		if ts, ok := value.ParseISODate(string(t)); ok {
			return b.compareText(f, op, value.FormatISO(ts))
		}
		return b.compareText(f, op, string(t))
	}
	return sqlFalse
}

func (b *queryBuilder) compareText(f field, op, s string) string {
	return fmt.Sprintf(`(jsonb_typeof(%s) = 'string' AND %s COLLATE "C" %s %s)`, f.json, f.text, op, b.bind(s))
}

// regexMatch applies a POSIX regular expression to a string field or to any
// string element of an array field.
func (b *queryBuilder) regexMatch(f field, pattern string, insensitive bool) string {
	op := "~"
	if insensitive {
		op = "~*"
	}
	arg := b.bind(pattern)
	return fmt.Sprintf("((jsonb_typeof(%s) = 'string' AND %s %s %s) OR (jsonb_typeof(%s) = 'array' AND EXISTS (SELECT 1 FROM jsonb_array_elements_text(%s) AS el(v) WHERE el.v %s %s)))",
		f.json, f.text, op, arg, f.json, f.json, op, arg)
}

// negate inverts a condition, treating an unknown result as false first.
func negate(cond string) string {
	switch cond {
	case sqlTrue:
		return sqlFalse
	case sqlFalse:
		return sqlTrue
	}
	return "NOT COALESCE(" + cond + ", FALSE)"
}

func regexOperand(op filter.Operation) (string, bool, bool) {
	if op.Pattern != nil {
		pattern := op.Pattern.String()
		if strings.HasPrefix(pattern, "(?i)") {
			return strings.TrimPrefix(pattern, "(?i)"), true, true
		}
		return pattern, false, true
	}
	s, ok := op.Operand.(value.String)
	if !ok {
		return "", false, false
	}
	pattern, flags := filter.SplitRegexp(string(s))
	insensitive := false
	for _, f := range flags {
		switch f {
		case 'i':
			insensitive = true
		case 'm', 's', 'g', 'u', 'y':
		default:
			return "", false, false
		}
	}
	return pattern, insensitive, true
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

func jsonArg(v value.Value) string {
	raw, err := value.MarshalValue(v)
	if err != nil {
		return "null"
	}
	return string(raw)
}

// jsonPath extracts a dotted field path as JSONB, e.g. data #> '{_meta,pages}'.
func jsonPath(column, fieldName string) string {
	return column + " #> " + pathLiteral(fieldName)
}

// textPath extracts a dotted field path as text.
func textPath(column, fieldName string) string {
	return column + " #>> " + pathLiteral(fieldName)
}

func pathLiteral(fieldName string) string {
	parts := strings.Split(fieldName, ".")
	for i, p := range parts {
		if p == "" || strings.ContainsAny(p, `{},"\ `) {
			p = `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(p) + `"`
		}
		parts[i] = strings.ReplaceAll(p, "'", "''")
	}
	return "'{" + strings.Join(parts, ",") + "}'"
}

// orderBy renders an ORDER BY clause from filter order terms.
func orderBy(column string, terms []filter.OrderTerm) string {
	if len(terms) == 0 {
		return ""
	}
	parts := make([]string, 0, len(terms))
	for _, term := range terms {
		dir := "ASC"
		if term.Descending {
			dir = "DESC"
		}
		parts = append(parts, jsonPath(column, term.Field)+" "+dir)
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}
