// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package filter defines the predicate tree used for record queries and
// evaluates it against in-memory records with the same semantics the
// document store applies.
package filter

import (
	"regexp"
	"sort"

	"github.com/qolzam/entitystore/internal/value"
)

// Logic selects how a node combines its clauses.
type Logic int

const (
	// LogicFields is a plain node: every field condition must hold.
	LogicFields Logic = iota
	// LogicAnd holds when every clause holds. An empty AND holds.
	LogicAnd
	// LogicOr holds when any clause holds. An empty OR never holds.
	LogicOr
)

// Operator names a field operator.
type Operator string

const (
	OpEq      Operator = "eq"
	OpNeq     Operator = "neq"
	OpGt      Operator = "gt"
	OpGte     Operator = "gte"
	OpLt      Operator = "lt"
	OpLte     Operator = "lte"
	OpBetween Operator = "between"
	OpInq     Operator = "inq"
	OpNin     Operator = "nin"
	OpLike    Operator = "like"
	OpNlike   Operator = "nlike"
	OpIlike   Operator = "ilike"
	OpNilike  Operator = "nilike"
	OpRegexp  Operator = "regexp"
	OpExists  Operator = "exists"
)

// optionsKey carries the case-insensitivity flag next to like/nlike.
const optionsKey = "options"

var knownOperators = map[Operator]bool{
	OpEq: true, OpNeq: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpBetween: true, OpInq: true, OpNin: true, OpLike: true, OpNlike: true,
	OpIlike: true, OpNilike: true, OpRegexp: true, OpExists: true,
}

// IsValid reports whether the operator is one the matcher understands.
func (op Operator) IsValid() bool {
	return knownOperators[op]
}

// Operation is one {op: operand} entry of an operator object.
type Operation struct {
	Op      Operator
	Operand value.Value
	// Pattern is set when a regexp operand was supplied precompiled.
	Pattern *regexp.Regexp
}

// Condition constrains a single field. Exactly one of Literal or Ops is used:
// a nil Ops means the condition is a literal comparison.
type Condition struct {
	Field   string
	Literal value.Value
	Ops     []Operation
	Options string
}

// IsOperator reports whether the condition is an operator object.
func (c Condition) IsOperator() bool {
	return c.Ops != nil
}

// Where is a node of the predicate tree. A nil *Where matches everything.
type Where struct {
	Logic   Logic
	Clauses []*Where
	Fields  []Condition
}

// And combines clauses with logical AND. Nil clauses are skipped.
func And(clauses ...*Where) *Where {
	return &Where{Logic: LogicAnd, Clauses: compact(clauses)}
}

// Or combines clauses with logical OR. Nil clauses are skipped.
func Or(clauses ...*Where) *Where {
	return &Where{Logic: LogicOr, Clauses: compact(clauses)}
}

// Fields builds a plain node from conditions.
func Fields(conds ...Condition) *Where {
	return &Where{Logic: LogicFields, Fields: conds}
}

// Eq is shorthand for a literal equality node.
func Eq(field string, v interface{}) *Where {
	return Fields(Literal(field, v))
}

// Op is shorthand for a single-operator node.
func Op(field string, op Operator, operand interface{}) *Where {
	return Fields(OpCondition(field, op, operand))
}

// Literal builds a literal condition.
func Literal(field string, v interface{}) Condition {
	return Condition{Field: field, Literal: toValue(v)}
}

// OpCondition builds a single-operator condition.
func OpCondition(field string, op Operator, operand interface{}) Condition {
	operation := Operation{Op: op}
	if re, ok := operand.(*regexp.Regexp); ok {
		operation.Pattern = re
		operation.Operand = value.String(re.String())
	} else {
		operation.Operand = toValue(operand)
	}
	return Condition{Field: field, Ops: []Operation{operation}}
}

// WithOptions returns a copy of c carrying the given options flag.
func (c Condition) WithOptions(options string) Condition {
	c.Options = options
	return c
}

func toValue(v interface{}) value.Value {
	if v == nil {
		return value.Null{}
	}
	return value.FromAny(v)
}

func compact(clauses []*Where) []*Where {
	out := make([]*Where, 0, len(clauses))
	for _, c := range clauses {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// IsEmpty reports whether w places no constraint at all.
func (w *Where) IsEmpty() bool {
	if w == nil {
		return true
	}
	switch w.Logic {
	case LogicAnd:
		for _, c := range w.Clauses {
			if !c.IsEmpty() {
				return false
			}
		}
		return true
	case LogicOr:
		return false
	default:
		return len(w.Fields) == 0
	}
}

// Conjoin returns existing AND extra as a new tree; neither input is modified.
// Empty sides drop out so the result stays minimal.
func Conjoin(existing, extra *Where) *Where {
	switch {
	case existing.IsEmpty() && extra.IsEmpty():
		if existing != nil {
			return existing
		}
		return extra
	case existing.IsEmpty():
		return extra
	case extra.IsEmpty():
		return existing
	}
	return And(existing, extra)
}

// FieldNames lists every field referenced anywhere in the tree, sorted.
func (w *Where) FieldNames() []string {
	seen := map[string]bool{}
	var walk func(*Where)
	walk = func(n *Where) {
		if n == nil {
			return
		}
		for _, c := range n.Clauses {
			walk(c)
		}
		for _, f := range n.Fields {
			seen[f.Field] = true
		}
	}
	walk(w)
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
