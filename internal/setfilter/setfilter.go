// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package setfilter translates declarative audience and time-window sets into
// predicate trees.
package setfilter

import (
	"strings"
	"time"

	"github.com/qolzam/entitystore/internal/filter"
	"github.com/qolzam/entitystore/internal/value"
)

// Record fields the set vocabulary is expressed over.
const (
	FieldVisibility   = "_visibility"
	FieldValidFrom    = "_validFromDateTime"
	FieldValidUntil   = "_validUntilDateTime"
	FieldCreated      = "_createdDateTime"
	FieldOwnerUsers   = "_ownerUsers"
	FieldOwnerGroups  = "_ownerGroups"
	FieldViewerUsers  = "_viewerUsers"
	FieldViewerGroups = "_viewerGroups"

	VisibilityPublic    = "public"
	VisibilityPrivate   = "private"
	VisibilityProtected = "protected"
)

// Set names, in the order they are tried.
const (
	SetAnd        = "and"
	SetOr         = "or"
	SetPublics    = "publics"
	SetPrivates   = "privates"
	SetProtecteds = "protecteds"
	SetActives    = "actives"
	SetOwners     = "owners"
	SetAudience   = "audience"
	SetDay        = "day"
	SetWeek       = "week"
	SetMonth      = "month"
)

// Set is a request-scoped audience or time filter, e.g. {"owners": {"userIds": "u1,u2"}}.
type Set value.Object

// SetFromMap converts decoded query or JSON data into a Set.
func SetFromMap(m map[string]interface{}) Set {
	return Set(value.ToObject(m))
}

// Option configures a Builder.
type Option func(*Builder)

// WithFilter merges the built where into an existing filter.
func WithFilter(f filter.Filter) Option {
	return func(b *Builder) {
		b.base = f
	}
}

// WithClock overrides the clock used for active and creation windows.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// Builder turns a Set into a filter.
type Builder struct {
	set  Set
	base filter.Filter
	now  func() time.Time
}

// NewBuilder creates a builder for set.
func NewBuilder(set Set, opts ...Option) *Builder {
	b := &Builder{set: set, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the base filter with the set's where AND-ed into it.
// Every other filter property is preserved.
func (b *Builder) Build() filter.Filter {
	return b.base.Narrow(b.BuildWhere())
}

// BuildWhere returns the where for the set alone. The clock is read once.
func (b *Builder) BuildWhere() *filter.Where {
	now := b.now().UTC()
	return buildWhere(value.Object(b.set), now)
}

func buildWhere(set value.Object, now time.Time) *filter.Where {
	if len(set) == 0 {
		return filter.Fields()
	}
	if raw, ok := set[SetAnd]; ok {
		return filter.And(nested(raw, now)...)
	}
	if raw, ok := set[SetOr]; ok {
		return filter.Or(nested(raw, now)...)
	}
	if _, ok := set[SetPublics]; ok {
		return filter.Eq(FieldVisibility, VisibilityPublic)
	}
	if _, ok := set[SetPrivates]; ok {
		return filter.Eq(FieldVisibility, VisibilityPrivate)
	}
	if _, ok := set[SetProtecteds]; ok {
		return filter.Eq(FieldVisibility, VisibilityProtected)
	}
	if _, ok := set[SetActives]; ok {
		return activeWhere(now)
	}
	if raw, ok := set[SetOwners]; ok {
		users, groups := principals(raw)
		return ownersWhere(users, groups)
	}
	if raw, ok := set[SetAudience]; ok {
		users, groups := principals(raw)
		return audienceWhere(users, groups, now)
	}
	if _, ok := set[SetDay]; ok {
		return createdSince(startOfDay(now), now)
	}
	if _, ok := set[SetWeek]; ok {
		return createdSince(startOfWeek(now), now)
	}
	if _, ok := set[SetMonth]; ok {
		return createdSince(startOfMonth(now), now)
	}
	return filter.Fields()
}

// nested accepts a list of sets or a bracket-indexed object of sets.
func nested(raw value.Value, now time.Time) []*filter.Where {
	var items []value.Value
	switch t := raw.(type) {
	case value.Array:
		items = t
	case value.Object:
		items = indexed(t)
	}
	out := make([]*filter.Where, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(value.Object); ok {
			out = append(out, buildWhere(obj, now))
		}
	}
	return out
}

func indexed(obj value.Object) []value.Value {
	if items := filter.IndexedItems(obj); items != nil {
		return items
	}
	return []value.Value{obj}
}

func activeWhere(now time.Time) *filter.Where {
	iso := value.FormatISO(now)
	return filter.And(
		filter.Or(
			filter.Op(FieldValidUntil, filter.OpEq, nil),
			filter.Op(FieldValidUntil, filter.OpGt, iso),
		),
		filter.Op(FieldValidFrom, filter.OpNeq, nil),
		filter.Op(FieldValidFrom, filter.OpLt, iso),
	)
}

// membership is "any user id in usersField" OR ("any group id in groupsField"
// AND visibility is not private). With no ids at all it matches nothing.
func membership(usersField, groupsField string, users, groups []string) *filter.Where {
	var branches []*filter.Where
	if len(users) > 0 {
		branches = append(branches, filter.Op(usersField, filter.OpInq, users))
	}
	if len(groups) > 0 {
		branches = append(branches, filter.And(
			filter.Op(groupsField, filter.OpInq, groups),
			filter.Op(FieldVisibility, filter.OpNeq, VisibilityPrivate),
		))
	}
	if len(branches) == 0 {
		return filter.Op(usersField, filter.OpInq, []string{})
	}
	return filter.Or(branches...)
}

func ownersWhere(users, groups []string) *filter.Where {
	return membership(FieldOwnerUsers, FieldOwnerGroups, users, groups)
}

func audienceWhere(users, groups []string, now time.Time) *filter.Where {
	return filter.Or(
		filter.And(filter.Eq(FieldVisibility, VisibilityPublic), activeWhere(now)),
		filter.And(ownersWhere(users, groups), activeWhere(now)),
		filter.And(membership(FieldViewerUsers, FieldViewerGroups, users, groups), activeWhere(now)),
	)
}

func createdSince(start, now time.Time) *filter.Where {
	return filter.Op(FieldCreated, filter.OpBetween, []string{value.FormatISO(start), value.FormatISO(now)})
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// startOfWeek anchors weeks on Sunday.
func startOfWeek(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, -int(t.Weekday()))
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// principals reads {userIds, groupIds}; each may be a comma-separated string or a list.
func principals(raw value.Value) (users, groups []string) {
	obj, ok := raw.(value.Object)
	if !ok {
		return nil, nil
	}
	return idList(obj["userIds"]), idList(obj["groupIds"])
}

func idList(v value.Value) []string {
	var out []string
	add := func(s string) {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	switch t := v.(type) {
	case value.String:
		add(string(t))
	case value.Array:
		for _, item := range t {
			add(value.Format(item))
		}
	case value.Object:
		for _, item := range indexed(t) {
			add(value.Format(item))
		}
	}
	return out
}
