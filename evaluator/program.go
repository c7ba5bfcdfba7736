package evaluator

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"

	"github.com/shibukawa/sqltmpl"
	"github.com/shibukawa/sqltmpl/binding"
	"github.com/shibukawa/sqltmpl/segment"
)

// reserved identifiers cannot be declared as CEL variables.
var reserved = map[string]struct{}{
	"true": {}, "false": {}, "null": {}, "in": {}, "as": {}, "break": {}, "const": {},
	"continue": {}, "else": {}, "for": {}, "function": {}, "if": {}, "import": {},
	"let": {}, "loop": {}, "package": {}, "namespace": {}, "return": {}, "var": {},
	"void": {}, "while": {},
}

// Program is a compiled template. It is safe for concurrent use.
type Program struct {
	instructions []Instruction
	locals       []string

	mu       sync.Mutex
	envs     map[string]*cel.Env
	programs map[string]cel.Program
}

func newProgram(instructions []Instruction, locals []string) *Program {
	return &Program{
		instructions: instructions,
		locals:       locals,
		envs:         make(map[string]*cel.Env),
		programs:     make(map[string]cel.Program),
	}
}

// Compile parses and compiles a template in one step.
func Compile(source string) (*Program, error) {
	ast, err := Parse(source)
	if err != nil {
		return nil, err
	}

	return NewInstructionCompiler().Compile(ast)
}

// Instructions returns a copy of the instruction list.
func (p *Program) Instructions() []Instruction {
	return append([]Instruction(nil), p.instructions...)
}

// Locals returns the names the template declares with for or let.
func (p *Program) Locals() []string {
	return append([]string(nil), p.locals...)
}

// Evaluate runs the program against params. The stream refers to record
// fields by name and to template locals by key in the returned Locals.
func (p *Program) Evaluate(params map[string]any) (segment.Stream, *binding.Locals, error) {
	e := &execution{
		program: p,
		params:  params,
		locals:  binding.NewLocals(),
	}

	if err := e.run(); err != nil {
		return nil, nil, err
	}

	return e.output.Stream(), e.locals, nil
}

// execution holds the state of one Evaluate call
type execution struct {
	program *Program
	params  map[string]any
	locals  *binding.Locals
	output  segment.Builder
	pc      int
	loops   []loopState
	frames  []map[string]any
}

func (e *execution) run() error {
	instructions := e.program.instructions

	for e.pc < len(instructions) {
		if err := e.step(instructions[e.pc]); err != nil {
			return err
		}

		e.pc++
	}

	return nil
}

// step executes a single instruction
func (e *execution) step(inst Instruction) error {
	switch inst.Op {
	case OpEmitLiteral:
		e.output.Literal(inst.Value)
	case OpEmitBind:
		return e.emitBind(inst)
	case OpJump:
		e.pc = inst.Target - 1
	case OpJumpIfExp:
		value, err := e.evaluate(inst.Exp, inst.Pos)
		if err != nil {
			return err
		}

		if isTruthy(value) != inst.Negate {
			e.pc = inst.Target - 1
		}
	case OpLoopStart:
		return e.loopStart(inst)
	case OpLoopNext:
		loop := &e.loops[len(e.loops)-1]

		loop.index++
		if loop.index < len(loop.collection) {
			e.frames[len(e.frames)-1][loop.variable] = loop.collection[loop.index]
			e.pc = inst.Target - 1
		}
	case OpLoopEnd:
		e.loops = e.loops[:len(e.loops)-1]
		e.frames = e.frames[:len(e.frames)-1]
	case OpLet:
		value, err := e.evaluate(inst.Exp, inst.Pos)
		if err != nil {
			return err
		}

		e.frames[len(e.frames)-1][inst.Variable] = value
	case OpScopeBegin:
		e.frames = append(e.frames, make(map[string]any))
	case OpScopeEnd:
		e.frames = e.frames[:len(e.frames)-1]
	case OpLabel, OpNop:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownInstruction, inst.Op)
	}

	return nil
}

func (e *execution) emitBind(inst Instruction) error {
	switch inst.Mode {
	case BindField:
		if inst.List {
			e.output.Append(segment.FieldList(inst.Exp))
		} else {
			e.output.Append(segment.Field(inst.Exp))
		}
	case BindUnbound:
		// left without a key; rendering reports the unbound local
		if inst.List {
			e.output.Append(segment.LocalList(inst.Exp, ""))
		} else {
			e.output.Append(segment.Local(inst.Exp, ""))
		}
	case BindLocal:
		value, err := e.evaluate(inst.Exp, inst.Pos)
		if err != nil {
			return err
		}

		key := e.locals.Bind(inst.Exp, value)

		if inst.List {
			e.output.Append(segment.LocalList(inst.Exp, key))
		} else {
			e.output.Append(segment.Local(inst.Exp, key))
		}
	default:
		return fmt.Errorf("%w: %s with mode %q", ErrUnknownInstruction, inst.Op, inst.Mode)
	}

	return nil
}

func (e *execution) loopStart(inst Instruction) error {
	value, err := e.evaluate(inst.Exp, inst.Pos)
	if err != nil {
		return err
	}

	collection, err := listOf(value)
	if err != nil {
		return expressionError(inst.Pos, inst.Exp, err)
	}

	if len(collection) == 0 {
		e.pc = inst.Target - 1
		return nil
	}

	e.frames = append(e.frames, map[string]any{inst.Variable: collection[0]})
	e.loops = append(e.loops, loopState{variable: inst.Variable, collection: collection})

	return nil
}

// lookup finds a live local first, then a parameter.
func (e *execution) lookup(name string) (any, bool) {
	for i := len(e.frames) - 1; i >= 0; i-- {
		if v, ok := e.frames[i][name]; ok {
			return v, true
		}
	}

	v, ok := e.params[name]

	return v, ok
}

// evaluate resolves plain paths directly and hands everything else to CEL.
func (e *execution) evaluate(expr string, pos []int) (any, error) {
	if pathPattern.MatchString(expr) {
		parts := strings.Split(expr, ".")

		if root, ok := e.lookup(parts[0]); ok {
			v, err := walkPath(root, parts[1:])
			if err != nil {
				return nil, expressionError(pos, expr, err)
			}

			return v, nil
		}
	}

	prg, err := e.program.compiled(expr, e.params)
	if err != nil {
		return nil, expressionError(pos, expr, err)
	}

	out, _, err := prg.Eval(e.activation())
	if err != nil {
		return nil, expressionError(pos, expr, err)
	}

	return nativeValue(out)
}

func (e *execution) activation() map[string]any {
	vars := make(map[string]any, len(e.params))
	for k, v := range e.params {
		vars[k] = v
	}

	for _, frame := range e.frames {
		for k, v := range frame {
			vars[k] = v
		}
	}

	return vars
}

// compiled returns the memoised CEL program for expr under the variable set
// made of the parameter names and the template's locals.
func (p *Program) compiled(expr string, params map[string]any) (cel.Program, error) {
	names := make([]string, 0, len(params)+len(p.locals))
	seen := make(map[string]struct{}, cap(names))

	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}

		if _, ok := reserved[name]; ok || !identPattern.MatchString(name) {
			return
		}

		seen[name] = struct{}{}
		names = append(names, name)
	}

	for name := range params {
		add(name)
	}

	for _, name := range p.locals {
		add(name)
	}

	sort.Strings(names)

	envKey := strings.Join(names, ",")
	programKey := envKey + "\x00" + expr

	p.mu.Lock()
	defer p.mu.Unlock()

	if prg, ok := p.programs[programKey]; ok {
		return prg, nil
	}

	env, ok := p.envs[envKey]
	if !ok {
		opts := make([]cel.EnvOption, 0, len(names))
		for _, name := range names {
			opts = append(opts, cel.Variable(name, cel.DynType))
		}

		var err error

		env, err = cel.NewEnv(opts...)
		if err != nil {
			return nil, err
		}

		p.envs[envKey] = env
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}

	p.programs[programKey] = prg

	return prg, nil
}

func expressionError(pos []int, expr string, err error) error {
	line, column := 0, 0
	if len(pos) >= 2 {
		line, column = pos[0], pos[1]
	}

	return fmt.Errorf("%w at line %d, column %d: %q: %w", sqltmpl.ErrExpression, line, column, expr, err)
}

// nativeValue converts a CEL result back to plain Go values.
func nativeValue(v ref.Val) (any, error) {
	if v.Type() == types.NullType {
		return nil, nil
	}

	switch val := v.(type) {
	case traits.Lister:
		return val.ConvertToNative(reflect.TypeFor[[]any]())
	case traits.Mapper:
		if native, err := val.ConvertToNative(reflect.TypeFor[map[string]any]()); err == nil {
			return native, nil
		}
	}

	return v.Value(), nil
}

// walkPath follows dotted names through maps and structs. A missing map
// key yields nil.
func walkPath(current any, parts []string) (any, error) {
	for _, part := range parts {
		v := reflect.ValueOf(current)
		for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
			if v.IsNil() {
				return nil, nil
			}

			v = v.Elem()
		}

		switch v.Kind() {
		case reflect.Invalid:
			return nil, nil
		case reflect.Map:
			if v.Type().Key().Kind() != reflect.String {
				return nil, fmt.Errorf("cannot select %q from %s", part, v.Type())
			}

			elem := v.MapIndex(reflect.ValueOf(part).Convert(v.Type().Key()))
			if !elem.IsValid() {
				return nil, nil
			}

			current = elem.Interface()
		case reflect.Struct:
			table, err := binding.TableOf(v.Interface())
			if err != nil {
				return nil, err
			}

			field, ok, err := table.Get(v.Interface(), part)
			if err != nil {
				return nil, err
			}

			if !ok {
				return nil, fmt.Errorf("%s has no field %q", v.Type(), part)
			}

			current = field
		default:
			return nil, fmt.Errorf("cannot select %q from %s", part, v.Type())
		}
	}

	return current, nil
}

// listOf returns the elements a for block iterates over.
func listOf(value any) ([]any, error) {
	if value == nil {
		return nil, nil
	}

	if list, ok := value.([]any); ok {
		return list, nil
	}

	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil, nil
		}

		list := make([]any, v.Len())
		for i := range v.Len() {
			list[i] = v.Index(i).Interface()
		}

		return list, nil
	default:
		return nil, fmt.Errorf("for collection must be a list, got %T", value)
	}
}

// isTruthy determines if a value is truthy
func isTruthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Slice, reflect.Map:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	default:
		return true
	}
}
