package evaluator

import (
	"sync"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/shibukawa/sqltmpl"
	"github.com/shibukawa/sqltmpl/segment"
)

func evaluate(t *testing.T, template string, params map[string]any) (segment.Stream, []any) {
	t.Helper()

	prg, err := Compile(template)
	assert.NoError(t, err)

	stream, locals, err := prg.Evaluate(params)
	assert.NoError(t, err)

	var values []any

	for _, bp := range stream.BindPoints() {
		if bp.Origin != segment.OriginLocal {
			continue
		}

		v, ok := locals.Lookup(bp.Key)
		assert.True(t, ok, "local %s has no value", bp.Name)

		values = append(values, v)
	}

	return stream, values
}

func TestProgram_Conditionals(t *testing.T) {
	template := `SELECT * FROM users WHERE 1 = 1` +
		`/*# if name != "" */ AND name = /*= name */'bob'` +
		`/*# elseif age > 0 */ AND age > /*= age */20` +
		`/*# else */ AND active` +
		`/*# end */`

	tests := []struct {
		name     string
		params   map[string]any
		expected string
	}{
		{"if branch", map[string]any{"name": "alice", "age": 0}, "SELECT * FROM users WHERE 1 = 1 AND name = {{name}}"},
		{"elseif branch", map[string]any{"name": "", "age": 30}, "SELECT * FROM users WHERE 1 = 1 AND age > {{age}}"},
		{"else branch", map[string]any{"name": "", "age": 0}, "SELECT * FROM users WHERE 1 = 1 AND active"},
	}

	prg, err := Compile(template)
	assert.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream, _, err := prg.Evaluate(tt.params)
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, stream.String())
		})
	}
}

func TestProgram_Truthiness(t *testing.T) {
	prg, err := Compile(`/*# if flag */yes/*# else */no/*# end */`)
	assert.NoError(t, err)

	tests := []struct {
		value    any
		expected string
	}{
		{nil, "no"},
		{true, "yes"},
		{false, "no"},
		{"", "no"},
		{"x", "yes"},
		{0, "no"},
		{3, "yes"},
		{0.0, "no"},
		{[]int{}, "no"},
		{[]int{1}, "yes"},
		{map[string]any{}, "no"},
	}

	for _, tt := range tests {
		stream, _, err := prg.Evaluate(map[string]any{"flag": tt.value})
		assert.NoError(t, err)
		assert.Equal(t, tt.expected, stream.String(), "flag=%#v", tt.value)
	}
}

func TestProgram_ForLoop(t *testing.T) {
	template := `INSERT INTO users (id, name) VALUES ` +
		`/*# for u : users */(/*= u.id */1, /*= u.name */'x'), /*# end */`

	stream, values := evaluate(t, template, map[string]any{
		"users": []map[string]any{
			{"id": 1, "name": "alice"},
			{"id": 2, "name": "bob"},
		},
	})

	assert.Equal(t, "INSERT INTO users (id, name) VALUES ({{local:u.id}}, {{local:u.name}}), ({{local:u.id}}, {{local:u.name}}), ", stream.String())
	assert.Equal(t, []any{1, "alice", 2, "bob"}, values)

	keys := map[string]bool{}
	for _, bp := range stream.BindPoints() {
		keys[bp.Key] = true
	}

	assert.Equal(t, 4, len(keys))
}

func TestProgram_ForLoopOverStructs(t *testing.T) {
	type item struct {
		ID    int    `db:"id"`
		Label string `db:"label"`
	}

	_, values := evaluate(t, `/*# for it : items */[/*= it.id */0:/*= it.label */'']/*# end */`, map[string]any{
		"items": []item{{ID: 7, Label: "seven"}, {ID: 8, Label: "eight"}},
	})

	assert.Equal(t, []any{7, "seven", 8, "eight"}, values)
}

func TestProgram_NestedLoopAndCondition(t *testing.T) {
	template := `/*# for x : xs *//*# if x > 1 */[/*= x */0]/*# end *//*# end */`

	stream, values := evaluate(t, template, map[string]any{"xs": []int{1, 2, 3}})
	assert.Equal(t, "[{{local:x}}][{{local:x}}]", stream.String())
	assert.Equal(t, []any{2, 3}, values)
}

func TestProgram_EmptyCollection(t *testing.T) {
	for _, xs := range []any{nil, []string{}, []any(nil)} {
		stream, values := evaluate(t, `a/*# for x : xs */[/*= x */0]/*# end */b`, map[string]any{"xs": xs})
		assert.Equal(t, "ab", stream.String())
		assert.Equal(t, 0, len(values))
	}
}

func TestProgram_ForOverCELList(t *testing.T) {
	_, values := evaluate(t, `/*# for x : [1, 2, 3].filter(v, v != 2) */[/*= x */0]/*# end */`, nil)
	assert.Equal(t, []any{int64(1), int64(3)}, values)
}

func TestProgram_ForOverScalarFails(t *testing.T) {
	prg, err := Compile(`/*# for x : n */[/*= x */0]/*# end */`)
	assert.NoError(t, err)

	_, _, err = prg.Evaluate(map[string]any{"n": 3})
	assert.IsError(t, err, sqltmpl.ErrExpression)
}

func TestProgram_Let(t *testing.T) {
	template := `/*# let pattern = name + "%" */SELECT * FROM users WHERE name LIKE /*= pattern */'a%'`

	stream, values := evaluate(t, template, map[string]any{"name": "bo"})
	assert.Equal(t, "SELECT * FROM users WHERE name LIKE {{local:pattern}}", stream.String())
	assert.Equal(t, []any{"bo%"}, values)
}

func TestProgram_ComputedBinds(t *testing.T) {
	stream, values := evaluate(t, `LIMIT /*= limit * 2 */10 OFFSET /*= page.offset */0`, map[string]any{
		"limit": 5,
		"page":  map[string]any{"offset": 40},
	})

	assert.Equal(t, "LIMIT {{local:limit * 2}} OFFSET {{local:page.offset}}", stream.String())
	assert.Equal(t, []any{int64(10), 40}, values)
}

func TestProgram_ComputedListBind(t *testing.T) {
	stream, values := evaluate(t, `WHERE id IN /*=* ids.filter(i, i > 1) */(1)`, map[string]any{"ids": []int{1, 2, 3}})
	assert.Equal(t, "WHERE id IN ({{local:ids.filter(i, i > 1)...}})", stream.String())
	assert.Equal(t, []any{[]any{int64(2), int64(3)}}, values)
}

func TestProgram_LocalOutOfScopeIsUnbound(t *testing.T) {
	template := `/*# if flag *//*# let x = 1 */a = /*= x */0/*# end */ AND b = /*= x */0`

	prg, err := Compile(template)
	assert.NoError(t, err)

	stream, locals, err := prg.Evaluate(map[string]any{"flag": true})
	assert.NoError(t, err)

	bps := stream.BindPoints()
	assert.Equal(t, 2, len(bps))
	assert.Equal(t, segment.OriginLocal, bps[0].Origin)
	assert.NotEqual(t, "", bps[0].Key)
	assert.Equal(t, segment.OriginLocal, bps[1].Origin)
	assert.Equal(t, "", bps[1].Key)

	_, ok := locals.Lookup(bps[1].Key)
	assert.False(t, ok)
}

func TestProgram_LoopVariableAfterLoopIsUnbound(t *testing.T) {
	prg, err := Compile(`/*# for x : xs *//*# end */ /*= x */0`)
	assert.NoError(t, err)

	stream, locals, err := prg.Evaluate(map[string]any{"xs": []int{1}})
	assert.NoError(t, err)

	bps := stream.BindPoints()
	assert.Equal(t, 1, len(bps))
	assert.Equal(t, segment.OriginLocal, bps[0].Origin)
	assert.Equal(t, "", bps[0].Key)

	_, ok := locals.Lookup(bps[0].Key)
	assert.False(t, ok)
}

func TestProgram_ListFieldBind(t *testing.T) {
	stream, values := evaluate(t, `WHERE id IN /*=* ids */(1, 2)`, map[string]any{"ids": []int{1, 2, 3}})

	assert.Equal(t, []segment.BindPoint{{Name: "ids", Origin: segment.OriginField, Cardinality: segment.List}}, stream.BindPoints())
	assert.Equal(t, 0, len(values))
}

func TestProgram_ExpressionErrors(t *testing.T) {
	tests := []struct {
		name     string
		template string
		params   map[string]any
	}{
		{"undeclared variable", `/*# if missing */a/*# end */`, map[string]any{}},
		{"type mismatch", `/*# if name > 1 */a/*# end */`, map[string]any{"name": "x"}},
		{"select on scalar", `/*= n.value */0`, map[string]any{"n": 1}},
		{"unknown struct field", `/*# for u : us */ /*= u.missing */0/*# end */`, map[string]any{"us": []struct{ ID int }{{1}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prg, err := Compile(tt.template)
			assert.NoError(t, err)

			_, _, err = prg.Evaluate(tt.params)
			assert.IsError(t, err, sqltmpl.ErrExpression)
		})
	}
}

func TestProgram_ConcurrentEvaluate(t *testing.T) {
	prg, err := Compile(`/*# if n > 1 */big/*# else */small/*# end */`)
	assert.NoError(t, err)

	var wg sync.WaitGroup

	results := make([]string, 16)

	for i := range results {
		wg.Add(1)

		go func() {
			defer wg.Done()

			stream, _, err := prg.Evaluate(map[string]any{"n": i})
			if err == nil {
				results[i] = stream.String()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, "small", results[0])
	assert.Equal(t, "small", results[1])
	assert.Equal(t, "big", results[15])
}

func TestInstructionCompiler_IfJumpTargets(t *testing.T) {
	ast, err := Parse(`/*# if a */A/*# else */B/*# end */`)
	assert.NoError(t, err)

	prg, err := NewInstructionCompiler().Compile(ast)
	assert.NoError(t, err)

	ops := make([]Op, 0)
	for _, inst := range prg.Instructions() {
		ops = append(ops, inst.Op)
	}

	assert.Equal(t, []Op{
		OpScopeBegin,
		OpJumpIfExp,
		OpScopeBegin, OpEmitLiteral, OpScopeEnd,
		OpJump,
		OpLabel,
		OpScopeBegin, OpEmitLiteral, OpScopeEnd,
		OpLabel,
		OpScopeEnd,
	}, ops)

	instructions := prg.Instructions()
	assert.Equal(t, 6, instructions[1].Target)
	assert.True(t, instructions[1].Negate)
	assert.Equal(t, 10, instructions[5].Target)
}

func TestInstructionCompiler_Locals(t *testing.T) {
	prg, err := Compile(`/*# for b : xs *//*# let a = b */ /*# end */`)
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, prg.Locals())
}

func TestProgram_UnknownInstruction(t *testing.T) {
	prg := newProgram([]Instruction{{Op: "BOGUS"}}, nil)

	_, _, err := prg.Evaluate(nil)
	assert.IsError(t, err, ErrUnknownInstruction)
}
