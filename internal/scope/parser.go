// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package scope

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/qolzam/entitystore/internal/filter"
	"github.com/qolzam/entitystore/internal/setfilter"
	"github.com/qolzam/entitystore/internal/value"
)

// Namespaces a segment key may start with.
const (
	NamespaceWhere       = "where"
	NamespaceSet         = "set"
	NamespaceListWhere   = "listWhere"
	NamespaceListSet     = "listSet"
	NamespaceEntityWhere = "entityWhere"
	NamespaceEntitySet   = "entitySet"
)

// Group is a parsed scope. Filter applies to the governed records themselves;
// ListFilter and EntityFilter constrain the two sides of a relation.
type Group struct {
	Raw          string
	Filter       filter.Filter
	ListFilter   filter.Filter
	EntityFilter filter.Filter
}

// HasRelationFilters reports whether the scope constrains either side of a relation.
func (g Group) HasRelationFilters() bool {
	return !g.ListFilter.Where.IsEmpty() || !g.EntityFilter.Where.IsEmpty()
}

// Parser turns scope strings into filter groups.
type Parser struct {
	now func() time.Time
}

// Option configures a Parser.
type Option func(*Parser)

// WithClock sets the clock handed to set builders.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) {
		p.now = now
	}
}

// NewParser creates a Parser.
func NewParser(opts ...Option) *Parser {
	p := &Parser{now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Resolve interpolates template against data and parses the result.
// Segments are split before placeholders are expanded, so record values may
// hold '&', '=', '%' or brackets without changing the shape of the scope.
func (p *Parser) Resolve(ctx context.Context, template string, data value.Object) (Group, error) {
	return p.parse(template, &resolver{ctx: ctx, data: data})
}

// Parse parses an already interpolated scope string.
//
//	scope   := segment ('&' segment)*
//	segment := namespace ('[' key ']')* '=' value
func (p *Parser) Parse(raw string) (Group, error) {
	return p.parse(raw, nil)
}

type resolver struct {
	ctx  context.Context
	data value.Object
}

func (p *Parser) parse(template string, r *resolver) (Group, error) {
	trees := map[string]value.Object{}
	var rendered []string
	for _, segment := range strings.Split(template, "&") {
		if strings.TrimSpace(segment) == "" {
			continue
		}
		key, rawValue, hasValue := strings.Cut(segment, "=")
		namespace, path, err := splitKey(key)
		if err != nil {
			return Group{}, fmt.Errorf("scope %q: %w", template, err)
		}
		if !knownNamespace(namespace) {
			return Group{}, fmt.Errorf("scope %q: unknown namespace %q", template, namespace)
		}
		if len(path) == 0 {
			return Group{}, fmt.Errorf("scope %q: %s needs at least one [key]", template, namespace)
		}

		var leaf value.Value = value.String(rawValue)
		typed := false
		if r != nil {
			for i := range path {
				path[i] = InterpolateWithContext(r.ctx, path[i], r.data)
			}
			leaf, typed = resolveValue(r.ctx, rawValue, r.data)
			rendered = append(rendered, render(namespace, path, leaf, hasValue))
		}

		root, ok := trees[namespace]
		if !ok {
			root = value.Object{}
			trees[namespace] = root
		}
		if err := assign(root, path, typeLeaf(namespace, path, leaf, typed)); err != nil {
			return Group{}, fmt.Errorf("scope %q: %w", template, err)
		}
	}

	raw := template
	if r != nil {
		raw = strings.Join(rendered, "&")
	}
	group := Group{Raw: raw}
	var err error
	if group.Filter, err = p.build(trees[NamespaceWhere], trees[NamespaceSet]); err != nil {
		return Group{}, fmt.Errorf("scope %q: %w", raw, err)
	}
	if group.ListFilter, err = p.build(trees[NamespaceListWhere], trees[NamespaceListSet]); err != nil {
		return Group{}, fmt.Errorf("scope %q: %w", raw, err)
	}
	if group.EntityFilter, err = p.build(trees[NamespaceEntityWhere], trees[NamespaceEntitySet]); err != nil {
		return Group{}, fmt.Errorf("scope %q: %w", raw, err)
	}
	return group, nil
}

// render writes a resolved segment back out as plain text.
func render(namespace string, path []string, leaf value.Value, hasValue bool) string {
	var b strings.Builder
	b.WriteString(namespace)
	for _, key := range path {
		b.WriteByte('[')
		b.WriteString(key)
		b.WriteByte(']')
	}
	if hasValue {
		b.WriteByte('=')
		b.WriteString(value.Format(leaf))
	}
	return b.String()
}

// Validate checks that a template parses once its placeholders are blanked out.
func (p *Parser) Validate(template string) error {
	_, err := p.Parse(placeholder.ReplaceAllString(template, ""))
	return err
}

func (p *Parser) build(whereTree, setTree value.Object) (filter.Filter, error) {
	var f filter.Filter
	if whereTree != nil {
		where, err := filter.FromValue(whereTree)
		if err != nil {
			return f, err
		}
		f.Where = where
	}
	if len(setTree) == 0 {
		return f, nil
	}
	return setfilter.NewBuilder(setfilter.Set(setTree),
		setfilter.WithFilter(f),
		setfilter.WithClock(p.now),
	).Build(), nil
}

func knownNamespace(ns string) bool {
	switch ns {
	case NamespaceWhere, NamespaceSet, NamespaceListWhere, NamespaceListSet,
		NamespaceEntityWhere, NamespaceEntitySet:
		return true
	}
	return false
}

func isWhereNamespace(ns string) bool {
	return ns == NamespaceWhere || ns == NamespaceListWhere || ns == NamespaceEntityWhere
}

// splitKey splits "where[a][b]" into "where" and ["a", "b"]. An empty
// bracket pair ("[]") appends to a list.
func splitKey(key string) (string, []string, error) {
	key = strings.TrimSpace(key)
	open := strings.IndexByte(key, '[')
	if open < 0 {
		return key, nil, nil
	}
	namespace := key[:open]
	var path []string
	rest := key[open:]
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, fmt.Errorf("unexpected %q in key %q", rest, key)
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return "", nil, fmt.Errorf("unclosed bracket in key %q", key)
		}
		path = append(path, rest[1:end])
		rest = rest[end+1:]
	}
	return namespace, path, nil
}

func assign(node value.Object, path []string, leaf value.Value) error {
	key := path[0]
	if key == "" {
		key = strconv.Itoa(len(node))
	}
	if len(path) == 1 {
		existing, taken := node[key]
		if !taken {
			node[key] = leaf
			return nil
		}
		if _, isGroup := existing.(value.Object); isGroup {
			return fmt.Errorf("key %q is both a value and a group", key)
		}
		node[key] = merge(existing, leaf)
		return nil
	}
	child, ok := node[key].(value.Object)
	if !ok {
		if _, taken := node[key]; taken {
			return fmt.Errorf("key %q is both a value and a group", key)
		}
		child = value.Object{}
		node[key] = child
	}
	return assign(child, path[1:], leaf)
}

// merge combines the values of a repeated key into one list.
func merge(existing, leaf value.Value) value.Value {
	var out value.Array
	if arr, ok := existing.(value.Array); ok {
		out = append(out, arr...)
	} else {
		out = append(out, existing)
	}
	if arr, ok := leaf.(value.Array); ok {
		return append(out, arr...)
	}
	return append(out, leaf)
}

var rangeOperators = map[filter.Operator]bool{
	filter.OpGt: true, filter.OpGte: true, filter.OpLt: true, filter.OpLte: true, filter.OpBetween: true,
}

var listOperators = map[filter.Operator]bool{
	filter.OpInq: true, filter.OpNin: true, filter.OpBetween: true,
}

var textOperators = map[filter.Operator]bool{
	filter.OpLike: true, filter.OpNlike: true, filter.OpIlike: true, filter.OpNilike: true, filter.OpRegexp: true,
}

// operatorAt returns the operator a leaf at path is an operand of, if any.
// A trailing list index ("[]" or "[0]") refers to the key before it.
func operatorAt(path []string) (op filter.Operator, indexed bool) {
	last := path[len(path)-1]
	if len(path) > 1 && isIndex(last) {
		return filter.Operator(path[len(path)-2]), true
	}
	return filter.Operator(last), false
}

func isIndex(key string) bool {
	if key == "" {
		return true
	}
	_, err := strconv.Atoi(key)
	return err == nil
}

// typeLeaf turns a segment value into the value stored in the tree. Set
// values stay text. Where values follow the operator they belong to: pattern
// operands stay text, list operands given as "a,b" are split, "null", "true"
// and "false" become literals and range operands become numbers when they
// look numeric. A typed value resolved from a record keeps its kind.
func typeLeaf(namespace string, path []string, v value.Value, typed bool) value.Value {
	if !isWhereNamespace(namespace) {
		if typed {
			return value.String(value.Format(v))
		}
		return v
	}
	op, indexed := operatorAt(path)
	text := textOperators[op] || op == "options"
	list := listOperators[op] && !indexed

	if typed {
		switch {
		case text:
			return value.String(value.Format(v))
		case list:
			switch t := v.(type) {
			case value.Array:
				return t
			case value.String:
				return splitList(string(t), func(s string) value.Value { return value.String(s) })
			}
			if op == filter.OpBetween {
				return v
			}
			return value.Array{v}
		}
		return v
	}

	s := value.Format(v)
	numeric := rangeOperators[op]
	switch {
	case text:
		return value.String(s)
	case list:
		return splitList(s, func(item string) value.Value { return coerceScalar(item, numeric) })
	}
	return coerceScalar(s, numeric)
}

func splitList(s string, item func(string) value.Value) value.Array {
	if s == "" {
		return value.Array{}
	}
	parts := strings.Split(s, ",")
	out := make(value.Array, len(parts))
	for i, part := range parts {
		out[i] = item(strings.TrimSpace(part))
	}
	return out
}

func coerceScalar(s string, numeric bool) value.Value {
	switch s {
	case "null":
		return value.Null{}
	case "true":
		return value.Bool(true)
	case "false":
		return value.Bool(false)
	}
	if numeric {
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return value.Number(n)
		}
	}
	return value.String(s)
}

var defaultParser = NewParser()

// Parse parses raw with the system clock.
func Parse(raw string) (Group, error) {
	return defaultParser.Parse(raw)
}
