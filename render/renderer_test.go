package render

import (
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/shibukawa/sqltmpl"
	"github.com/shibukawa/sqltmpl/binding"
	"github.com/shibukawa/sqltmpl/segment"
)

var numberedPattern = regexp.MustCompile(`\$(\d+)`)

func mapSource(record map[string]any) *binding.Source {
	return binding.NewSource(binding.TableFromMap(record), record, nil)
}

func TestRender_NumberedScalarAndList(t *testing.T) {
	stream := segment.Stream{
		segment.Literal("SELECT * FROM users WHERE org_id = "),
		segment.Field("org_id"),
		segment.Literal(" AND id IN ("),
		segment.FieldList("ids"),
		segment.Literal(")"),
	}
	src := mapSource(map[string]any{"org_id": 9, "ids": []int{4, 5, 6}})

	q, err := Render(stream, sqltmpl.DialectPostgres, src)
	assert.NoError(t, err)
	assert.Equal(t, "SELECT * FROM users WHERE org_id = $1 AND id IN ($2, $3, $4)", q.SQL())
	assert.Equal(t, Args{9, 4, 5, 6}, q.Args())
	assert.True(t, q.Persistent())
}

func TestRender_AnonymousScalarAndList(t *testing.T) {
	stream := segment.Stream{
		segment.Literal("SELECT * FROM users WHERE name = "),
		segment.Field("name"),
		segment.Literal(" AND role IN ("),
		segment.FieldList("roles"),
		segment.Literal(")"),
	}
	src := mapSource(map[string]any{"name": "alice", "roles": []string{"admin", "owner"}})

	for _, d := range []sqltmpl.Dialect{sqltmpl.DialectMySQL, sqltmpl.DialectSQLite, sqltmpl.DialectMariaDB} {
		t.Run(string(d), func(t *testing.T) {
			q, err := Render(stream, d, src)
			assert.NoError(t, err)
			assert.Equal(t, "SELECT * FROM users WHERE name = ? AND role IN (?, ?)", q.SQL())
			assert.Equal(t, 3, strings.Count(q.SQL(), "?"))
			assert.Equal(t, Args{"alice", "admin", "owner"}, q.Args())
		})
	}
}

func TestRender_OrderCorrespondence(t *testing.T) {
	locals := binding.NewLocals()
	first := locals.Bind("x", 100)
	second := locals.Bind("x", 200)

	record := map[string]any{"a": 1, "b": []int{2, 3}, "c": 4}
	src := binding.NewSource(binding.TableFromMap(record), record, locals)

	stream := segment.Stream{
		segment.Literal("SELECT "),
		segment.Field("a"),
		segment.Literal(", "),
		segment.Local("x", first),
		segment.Literal(" WHERE b IN ("),
		segment.FieldList("b"),
		segment.Literal(") AND c = "),
		segment.Field("c"),
		segment.Literal(" AND d = "),
		segment.Local("x", second),
	}

	q, err := Render(stream, sqltmpl.DialectPostgres, src)
	assert.NoError(t, err)

	matches := numberedPattern.FindAllStringSubmatch(q.SQL(), -1)
	assert.Equal(t, q.Len(), len(matches))

	for i, m := range matches {
		n, err := strconv.Atoi(m[1])
		assert.NoError(t, err)
		assert.Equal(t, i+1, n)
	}

	assert.Equal(t, Args{1, 100, 2, 3, 4, 200}, q.Args())
}

func TestRender_ListDeterminism(t *testing.T) {
	record := map[string]any{"tags": map[string]string{"z": "zeta", "a": "alpha", "m": "mu"}}
	stream := segment.Stream{segment.Literal("IN ("), segment.FieldList("tags"), segment.Literal(")")}

	first, err := Render(stream, sqltmpl.DialectSQLite, mapSource(record))
	assert.NoError(t, err)

	for range 10 {
		again, err := Render(stream, sqltmpl.DialectSQLite, mapSource(record))
		assert.NoError(t, err)
		assert.Equal(t, first.SQL(), again.SQL())
		assert.Equal(t, first.Args(), again.Args())
	}

	assert.Equal(t, Args{"alpha", "mu", "zeta"}, first.Args())
}

func TestRender_Errors(t *testing.T) {
	record := map[string]any{"empty": []int{}, "bad": struct{}{}, "ok": 1}

	tests := []struct {
		name   string
		stream segment.Stream
		target error
	}{
		{"empty list", segment.Stream{segment.Literal("IN ("), segment.FieldList("empty"), segment.Literal(")")}, sqltmpl.ErrEmptyListExpansion},
		{"unknown field", segment.Stream{segment.Field("ok"), segment.Field("nope")}, sqltmpl.ErrUnknownField},
		{"unbound local", segment.Stream{segment.Field("ok"), segment.Local("x", "")}, sqltmpl.ErrUnboundLocal},
		{"not encodable", segment.Stream{segment.Field("ok"), segment.Field("bad")}, sqltmpl.ErrNotEncodable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Render(tt.stream, sqltmpl.DialectPostgres, mapSource(record))
			assert.IsError(t, err, tt.target)
			assert.Zero(t, q)
		})
	}
}

func TestRender_EmptyListNeverEmitsEmptyIn(t *testing.T) {
	record := map[string]any{"ids": []int64(nil)}
	stream := segment.Stream{segment.Literal("WHERE id IN ("), segment.FieldList("ids"), segment.Literal(")")}

	q, err := Render(stream, sqltmpl.DialectMySQL, mapSource(record))
	assert.IsError(t, err, sqltmpl.ErrEmptyListExpansion)
	assert.Contains(t, err.Error(), "ids")
	assert.Zero(t, q)
}

func TestNew_UnsupportedDialect(t *testing.T) {
	_, err := New(sqltmpl.DialectAny)
	assert.IsError(t, err, sqltmpl.ErrUnsupportedDialect)

	_, err = New("oracle")
	assert.IsError(t, err, sqltmpl.ErrUnsupportedDialect)
}

func TestRenderer_WithPersistent(t *testing.T) {
	r, err := New(sqltmpl.DialectSQLite, WithPersistent(false))
	assert.NoError(t, err)
	assert.Equal(t, sqltmpl.DialectSQLite, r.Dialect())

	q, err := r.Render(segment.Stream{segment.Literal("SELECT 1")}, binding.NewSource(nil, nil, nil))
	assert.NoError(t, err)
	assert.False(t, q.Persistent())
	assert.Equal(t, 0, q.Len())
	assert.True(t, q.WithPersistent(true).Persistent())
}

func TestQuery_ArgsAreCopies(t *testing.T) {
	q := NewQuery("SELECT ?", 1)
	args := q.Args()
	args[0] = 99

	assert.Equal(t, Args{1}, q.Args())

	derived := q.Derive("SELECT ? LIMIT ?", 10)
	assert.Equal(t, Args{1, 10}, derived.Args())
	assert.Equal(t, 1, q.Len())
}
