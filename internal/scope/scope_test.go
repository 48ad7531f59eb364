// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package scope

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qolzam/entitystore/internal/filter"
	"github.com/qolzam/entitystore/internal/pkg/log"
	"github.com/qolzam/entitystore/internal/value"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(prev) })
	return &buf
}

func TestInterpolate(t *testing.T) {
	data := value.Object{
		"_kind":       value.String("book"),
		"_ownerUsers": value.Array{value.String("u1"), value.String("u2")},
		"meta":        value.Object{"isbn": value.String("978-3")},
		"price":       value.Number(12.5),
		"until":       value.Null{},
		"title":       value.String("Tom & Jerry [1] = 100%"),
	}

	cases := []struct {
		name     string
		template string
		want     string
	}{
		{"no placeholders", "where[_kind]=book", "where[_kind]=book"},
		{"scalar", "where[_kind]=${_kind}", "where[_kind]=book"},
		{"array joins with commas", "where[_ownerUsers][inq]=${_ownerUsers}", "where[_ownerUsers][inq]=u1,u2"},
		{"dotted path", "where[meta.isbn]=${ meta.isbn }", "where[meta.isbn]=978-3"},
		{"number", "where[price]=${price}", "where[price]=12.5"},
		{"null", "where[until]=${until}", "where[until]=null"},
		{"object becomes json", "where[m]=${meta}", `where[m]={"isbn":"978-3"}`},
		{"reserved characters are kept", "where[title]=${title}", "where[title]=Tom & Jerry [1] = 100%"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Interpolate(tc.template, data))
		})
	}
}

func TestInterpolate_MissingPathWarns(t *testing.T) {
	buf := captureLog(t)

	var got string
	require.NotPanics(t, func() {
		got = Interpolate("where[_kind]=${nonexistent}&where[a]=1", value.Object{"a": value.Number(1)})
	})
	assert.Equal(t, "where[_kind]=&where[a]=1", got)
	assert.Contains(t, buf.String(), "${nonexistent}")
	assert.Contains(t, buf.String(), "[WARN]")
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []string{"_kind", "owner.id"}, Placeholders("where[_kind]=${_kind}&where[o]=${ owner.id }"))
	assert.Empty(t, Placeholders("where[_kind]=book"))
}

func TestParse_Where(t *testing.T) {
	g, err := Parse("where[_kind]=book&where[price][gt]=10&where[tags][inq]=a,b&where[deleted]=false&where[until]=null")
	require.NoError(t, err)

	rec := value.Object{
		"_kind":   value.String("book"),
		"price":   value.Number(12),
		"tags":    value.Array{value.String("b")},
		"deleted": value.Bool(false),
		"until":   value.Null{},
	}
	assert.True(t, filter.Matches(rec, g.Filter.Where))
	assert.False(t, filter.Matches(rec.With("price", value.Number(9)), g.Filter.Where))
	assert.False(t, filter.Matches(rec.With("deleted", value.Bool(true)), g.Filter.Where))
	assert.False(t, g.HasRelationFilters())
	assert.Equal(t, "where[_kind]=book&where[price][gt]=10&where[tags][inq]=a,b&where[deleted]=false&where[until]=null", g.Raw)
}

func TestParse_LiteralsStayStrings(t *testing.T) {
	g, err := Parse("where[code]=10&where[name][like]=Jo%&where[n][between]=1,5")
	require.NoError(t, err)

	assert.True(t, filter.Matches(value.Object{
		"code": value.String("10"),
		"name": value.String("John"),
		"n":    value.Number(5),
	}, g.Filter.Where))
	assert.False(t, filter.Matches(value.Object{
		"code": value.Number(10),
		"name": value.String("John"),
		"n":    value.Number(5),
	}, g.Filter.Where))
}

func TestParse_NestedAndLists(t *testing.T) {
	g, err := Parse("where[or][0][_kind]=book&where[or][1][_kind]=article&where[tags][nin][]=x&where[tags][nin][]=y")
	require.NoError(t, err)

	assert.True(t, filter.Matches(value.Object{"_kind": value.String("article"), "tags": value.Array{value.String("z")}}, g.Filter.Where))
	assert.False(t, filter.Matches(value.Object{"_kind": value.String("article"), "tags": value.Array{value.String("y")}}, g.Filter.Where))
	assert.False(t, filter.Matches(value.Object{"_kind": value.String("film")}, g.Filter.Where))
}

func TestParse_SetsAndRelations(t *testing.T) {
	now := time.Date(2024, 1, 17, 21, 0, 0, 0, time.UTC)
	p := NewParser(WithClock(func() time.Time { return now }))

	g, err := p.Parse("where[_kind]=member&set[publics]=true&listWhere[_kind]=club&entitySet[owners][userIds]=u1,u2")
	require.NoError(t, err)
	assert.True(t, g.HasRelationFilters())

	assert.True(t, filter.Matches(value.Object{
		"_kind":       value.String("member"),
		"_visibility": value.String("public"),
	}, g.Filter.Where))
	assert.False(t, filter.Matches(value.Object{
		"_kind":       value.String("member"),
		"_visibility": value.String("private"),
	}, g.Filter.Where))
	assert.True(t, filter.Matches(value.Object{"_kind": value.String("club")}, g.ListFilter.Where))
	assert.True(t, filter.Matches(value.Object{"_ownerUsers": value.Array{value.String("u2")}}, g.EntityFilter.Where))
	assert.False(t, filter.Matches(value.Object{"_ownerUsers": value.Array{value.String("u3")}}, g.EntityFilter.Where))
}

func TestParse_LikePatternsKeepPercent(t *testing.T) {
	rec := value.Object{"_name": value.String("roast beef Ada")}
	for _, raw := range []string{"where[_name][like]=%beef%", "where[_name][like]=%Ada", "where[_name][ilike]=%25 off%"} {
		t.Run(raw, func(t *testing.T) {
			g, err := Parse(raw)
			require.NoError(t, err)
			assert.Equal(t, raw, g.Raw)
		})
	}

	g, err := Parse("where[_name][like]=%Ada")
	require.NoError(t, err)
	assert.True(t, filter.Matches(rec, g.Filter.Where))

	g, err = Parse("where[_name][like]=%beef%")
	require.NoError(t, err)
	assert.True(t, filter.Matches(rec, g.Filter.Where))
	assert.False(t, filter.Matches(value.Object{"_name": value.String("lamb")}, g.Filter.Where))
}

func TestResolve_ValuesWithReservedCharacters(t *testing.T) {
	data := value.Object{
		"title": value.String("Tom & Jerry [1] = 100%"),
		"_id":   value.String("X"),
	}
	g, err := NewParser().Resolve(context.Background(), "where[title]=${title}&where[_id][neq]=${_id}", data)
	require.NoError(t, err)

	assert.True(t, filter.Matches(value.Object{"title": data["title"], "_id": value.String("Y")}, g.Filter.Where))
	assert.False(t, filter.Matches(data, g.Filter.Where))
	assert.Equal(t, "where[title]=Tom & Jerry [1] = 100%&where[_id][neq]=X", g.Raw)
}

func TestResolve_PatternAroundPlaceholder(t *testing.T) {
	g, err := NewParser().Resolve(context.Background(), "where[_name][like]=${p}%", value.Object{"p": value.String("a&b")})
	require.NoError(t, err)

	assert.True(t, filter.Matches(value.Object{"_name": value.String("a&b rocks")}, g.Filter.Where))
	assert.False(t, filter.Matches(value.Object{"_name": value.String("a rocks")}, g.Filter.Where))
	assert.Equal(t, "where[_name][like]=a&b%", g.Raw)
}

func TestResolve_PlaceholderKeepsKind(t *testing.T) {
	published := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	data := value.Object{
		"isbn":      value.Number(12345),
		"published": value.Date(published),
		"draft":     value.Bool(false),
		"tags":      value.Array{value.String("a"), value.String("b")},
		"code":      value.String("10"),
	}
	g, err := NewParser().Resolve(context.Background(),
		"where[isbn]=${isbn}&where[published]=${published}&where[draft]=${draft}&where[tags][inq]=${tags}&where[code]=${code}", data)
	require.NoError(t, err)

	assert.True(t, filter.Matches(data, g.Filter.Where))
	assert.False(t, filter.Matches(data.With("isbn", value.String("12345")), g.Filter.Where))
	assert.False(t, filter.Matches(data.With("isbn", value.Number(54321)), g.Filter.Where))
	assert.Equal(t, "where[isbn]=12345&where[published]=2024-03-01T00:00:00.000Z&where[draft]=false&where[tags][inq]=a,b&where[code]=10", g.Raw)
}

func TestResolve_InterpolatedKeys(t *testing.T) {
	g, err := NewParser().Resolve(context.Background(), "where[${field}]=x", value.Object{"field": value.String("color")})
	require.NoError(t, err)
	assert.Equal(t, []string{"color"}, g.Filter.Where.FieldNames())
	assert.Equal(t, "where[color]=x", g.Raw)
}

func TestParse_NestedFieldPath(t *testing.T) {
	g, err := Parse("where[address][city]=Oslo&where[address][zip][gte]=100")
	require.NoError(t, err)

	assert.True(t, filter.Matches(value.Object{
		"address": value.Object{"city": value.String("Oslo"), "zip": value.Number(150)},
	}, g.Filter.Where))
	assert.False(t, filter.Matches(value.Object{
		"address": value.Object{"city": value.String("Bergen"), "zip": value.Number(150)},
	}, g.Filter.Where))
}

func TestParse_Errors(t *testing.T) {
	cases := []string{
		"unknown[x]=1",
		"where=1",
		"where[x=1",
		"where[x]junk[y]=1",
		"where[a]=1&where[a][b]=2",
		"where[or]=x",
	}
	for _, raw := range cases {
		t.Run(raw, func(t *testing.T) {
			_, err := Parse(raw)
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	p := NewParser()
	assert.NoError(t, p.Validate("where[_kind]=${_kind}&where[_ownerUsers][inq]=${_ownerUsers}"))
	assert.Error(t, p.Validate("nope[${x}]=1"))
}
