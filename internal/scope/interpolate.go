// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package scope resolves scope templates such as
//
//	where[_kind]=book&where[_ownerUsers][inq]=${_ownerUsers}&set[actives]=true
//
// against a record and parses them into filters.
package scope

import (
	"context"
	"regexp"
	"strings"

	"github.com/qolzam/entitystore/internal/pkg/log"
	"github.com/qolzam/entitystore/internal/value"
)

var placeholder = regexp.MustCompile(`\$\{([^}]*)\}`)

// Interpolate replaces every ${path} with the value at path in data.
// Missing paths become empty strings and are logged; it never fails.
func Interpolate(template string, data value.Object) string {
	return InterpolateWithContext(context.Background(), template, data)
}

// InterpolateWithContext is Interpolate with request-scoped logging.
func InterpolateWithContext(ctx context.Context, template string, data value.Object) string {
	if !strings.Contains(template, "${") {
		return template
	}
	return placeholder.ReplaceAllStringFunc(template, func(token string) string {
		path := strings.TrimSpace(token[2 : len(token)-1])
		v := value.Lookup(data, path)
		if value.IsUndefined(v) {
			log.WarnWithContext(ctx, "scope placeholder ${%s} has no value in record; using empty string", path)
			return ""
		}
		return value.Format(v)
	})
}

// resolveValue interpolates the value side of one segment. A value that is
// exactly one placeholder keeps the kind of the record value it names, so a
// numeric or date field compares as such; typed reports that case.
func resolveValue(ctx context.Context, s string, data value.Object) (v value.Value, typed bool) {
	if m := placeholder.FindStringSubmatchIndex(s); m != nil && m[0] == 0 && m[1] == len(s) {
		v := value.Lookup(data, strings.TrimSpace(s[m[2]:m[3]]))
		switch value.KindOf(v) {
		case value.KindUndefined, value.KindObject:
		default:
			return v, true
		}
	}
	return value.String(InterpolateWithContext(ctx, s, data)), false
}

// Placeholders lists the paths referenced by a template, in order of appearance.
func Placeholders(template string) []string {
	matches := placeholder.FindAllStringSubmatch(template, -1)
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, strings.TrimSpace(m[1]))
	}
	return paths
}
