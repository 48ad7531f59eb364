// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package filter

import (
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// PatternCacheSize bounds the compiled patterns kept in memory. Patterns are
// often interpolated from record data, so most of them are seen once.
const PatternCacheSize = 1024

var patternCache = mustPatternCache(PatternCacheSize)

func mustPatternCache(size int) *lru.Cache[string, *regexp.Regexp] {
	c, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		panic(err)
	}
	return c
}

func cachedCompile(expr string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Get(expr); ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	patternCache.Add(expr, re)
	return re, nil
}

// LikeExpression turns a LIKE pattern into a regular expression source.
// '%' and '*' are wildcards; every other character is matched literally.
func LikeExpression(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '%', '*':
			b.WriteString(".*")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}

func compileLike(pattern string, insensitive bool) (*regexp.Regexp, error) {
	expr := LikeExpression(pattern)
	if insensitive {
		expr = "(?i)" + expr
	}
	return cachedCompile(expr)
}

// SplitRegexp separates "/pattern/flags" notation. A bare pattern has no flags.
func SplitRegexp(s string) (pattern, flags string) {
	if len(s) >= 2 && strings.HasPrefix(s, "/") {
		if end := strings.LastIndex(s, "/"); end > 0 {
			return s[1:end], s[end+1:]
		}
	}
	return s, ""
}

// compileRegexp compiles a bare or slash-delimited pattern. Flags i, m and s
// map onto Go flags; g and other stateful flags are ignored.
func compileRegexp(s string) (*regexp.Regexp, error) {
	pattern, flags := SplitRegexp(s)
	var goFlags strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			if !strings.ContainsRune(goFlags.String(), f) {
				goFlags.WriteRune(f)
			}
		case 'g', 'u', 'y':
		default:
			return nil, fmt.Errorf("unsupported regexp flag %q", f)
		}
	}
	if goFlags.Len() > 0 {
		pattern = "(?" + goFlags.String() + ")" + pattern
	}
	return cachedCompile(pattern)
}
