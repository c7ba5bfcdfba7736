// Package binding resolves bind points to concrete values from the caller's
// record or from template-local bindings.
package binding

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// ErrRecordType is returned when a record does not match the table it is read through.
var ErrRecordType = errors.New("record type does not match binding table")

// Accessor reads one field from a record.
type Accessor func(record any) (any, error)

// Table is the static name to accessor mapping established before rendering.
// It is never modified after construction.
type Table struct {
	fields map[string]Accessor
	names  []string
}

// NewTable creates a table from explicit accessors.
func NewTable(fields map[string]Accessor) *Table {
	t := &Table{fields: make(map[string]Accessor, len(fields))}
	for name, acc := range fields {
		t.fields[name] = acc
		t.names = append(t.names, name)
	}

	sort.Strings(t.names)

	return t
}

// Names returns the field names in sorted order.
func (t *Table) Names() []string {
	return append([]string(nil), t.names...)
}

// Has reports whether the table maps the name.
func (t *Table) Has(name string) bool {
	_, ok := t.fields[name]
	return ok
}

// Get reads the named field from the record.
func (t *Table) Get(record any, name string) (any, bool, error) {
	acc, ok := t.fields[name]
	if !ok {
		return nil, false, nil
	}

	v, err := acc(record)
	if err != nil {
		return nil, true, fmt.Errorf("field %s: %w", name, err)
	}

	return v, true, nil
}

// Params returns every field of the record keyed by name.
func (t *Table) Params(record any) (map[string]any, error) {
	params := make(map[string]any, len(t.names))

	for _, name := range t.names {
		v, _, err := t.Get(record, name)
		if err != nil {
			return nil, err
		}

		params[name] = v
	}

	return params, nil
}

// TableFromMap creates a table over the keys present in a map record.
func TableFromMap(record map[string]any) *Table {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}

	return MapTable(keys...)
}

// MapTable creates a table reading the given keys from map[string]any records.
func MapTable(keys ...string) *Table {
	fields := make(map[string]Accessor, len(keys))

	for _, key := range keys {
		fields[key] = func(record any) (any, error) {
			m, ok := record.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: expected map[string]any, got %T", ErrRecordType, record)
			}

			return m[key], nil
		}
	}

	return NewTable(fields)
}

var structTables sync.Map // reflect.Type -> *Table

// TableOf builds a table from the exported fields of a struct type.
// The field name is the db tag, or the snake_case Go name when untagged.
// Fields tagged db:"-" are skipped and embedded structs are flattened.
// Tables are cached per struct type and shared between callers.
func TableOf(sample any) (*Table, error) {
	typ := reflect.TypeOf(sample)
	for typ != nil && typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}

	if typ == nil || typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: expected a struct, got %T", ErrRecordType, sample)
	}

	if cached, ok := structTables.Load(typ); ok {
		return cached.(*Table), nil
	}

	fields := make(map[string]Accessor)
	collectFields(typ, typ, nil, fields)

	table, _ := structTables.LoadOrStore(typ, NewTable(fields))

	return table.(*Table), nil
}

func collectFields(root, typ reflect.Type, index []int, fields map[string]Accessor) {
	for i := range typ.NumField() {
		sf := typ.Field(i)
		if !sf.IsExported() {
			continue
		}

		fieldIndex := append(append([]int(nil), index...), i)

		tag, hasTag := sf.Tag.Lookup("db")
		if tag == "-" {
			continue
		}

		if sf.Anonymous && !hasTag && sf.Type.Kind() == reflect.Struct {
			collectFields(root, sf.Type, fieldIndex, fields)
			continue
		}

		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			name = toSnakeCase(sf.Name)
		}

		if _, exists := fields[name]; exists {
			continue
		}

		fields[name] = structAccessor(root, fieldIndex)
	}
}

func structAccessor(root reflect.Type, index []int) Accessor {
	return func(record any) (any, error) {
		v := reflect.ValueOf(record)
		for v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return nil, fmt.Errorf("%w: nil %s", ErrRecordType, v.Type())
			}

			v = v.Elem()
		}

		if v.Type() != root {
			return nil, fmt.Errorf("%w: expected %s, got %T", ErrRecordType, root, record)
		}

		return v.FieldByIndex(index).Interface(), nil
	}
}

// toSnakeCase converts a string to snake_case
// Example: "UserID" -> "user_id"
func toSnakeCase(s string) string {
	var result strings.Builder

	runes := []rune(s)

	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prevIsLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])

				nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if prevIsLower || nextIsLower {
					result.WriteRune('_')
				}
			}

			result.WriteRune(unicode.ToLower(r))
		} else {
			result.WriteRune(r)
		}
	}

	return result.String()
}
