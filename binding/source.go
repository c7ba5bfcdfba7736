package binding

import (
	"cmp"
	"database/sql/driver"
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/shibukawa/sqltmpl"
	"github.com/shibukawa/sqltmpl/segment"
)

// Value is a resolved bind point: one scalar or an ordered sequence.
type Value struct {
	Scalar any
	List   []any
	IsList bool
}

// Len returns the number of placeholders the value occupies.
func (v Value) Len() int {
	if v.IsList {
		return len(v.List)
	}

	return 1
}

// Source resolves bind points against one record and one locals scope.
// It is created per render call.
type Source struct {
	table  *Table
	record any
	locals *Locals
	extra  []Encodability
}

// Option configures a Source.
type Option func(*Source)

// WithEncodable accepts values that the dialect's default check rejects.
func WithEncodable(checks ...Encodability) Option {
	return func(s *Source) {
		s.extra = append(s.extra, checks...)
	}
}

// NewSource creates a Source. table and locals may be nil.
func NewSource(table *Table, record any, locals *Locals, opts ...Option) *Source {
	if table == nil {
		table = NewTable(nil)
	}

	s := &Source{table: table, record: record, locals: locals}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Resolve returns the value of a bind point, checked against the dialect's
// encodability rules.
func (s *Source) Resolve(bp segment.BindPoint, dialect sqltmpl.Dialect) (Value, error) {
	raw, err := s.lookup(bp)
	if err != nil {
		return Value{}, err
	}

	check := s.encodability(dialect)

	if bp.Cardinality != segment.List {
		if !check(raw) {
			return Value{}, fmt.Errorf("%w: %s has type %T", sqltmpl.ErrNotEncodable, bp.Name, raw)
		}

		return Value{Scalar: raw}, nil
	}

	items, err := listValues(bp.Name, raw)
	if err != nil {
		return Value{}, err
	}

	var errs []error

	for i, item := range items {
		if !check(item) {
			errs = append(errs, fmt.Errorf("%w: %s[%d] has type %T", sqltmpl.ErrNotEncodable, bp.Name, i, item))
		}
	}

	if len(errs) > 0 {
		return Value{}, errors.Join(errs...)
	}

	return Value{List: items, IsList: true}, nil
}

func (s *Source) lookup(bp segment.BindPoint) (any, error) {
	switch bp.Origin {
	case segment.OriginField:
		v, ok, err := s.table.Get(s.record, bp.Name)
		if err != nil {
			return nil, err
		}

		if !ok {
			return nil, fmt.Errorf("%w: %s", sqltmpl.ErrUnknownField, bp.Name)
		}

		return v, nil
	case segment.OriginLocal:
		v, ok := s.locals.Lookup(bp.Key)
		if !ok {
			return nil, fmt.Errorf("%w: %s", sqltmpl.ErrUnboundLocal, bp.Name)
		}

		return v, nil
	default:
		return nil, fmt.Errorf("%w: %s has no origin", sqltmpl.ErrUnknownField, bp.Name)
	}
}

func (s *Source) encodability(dialect sqltmpl.Dialect) Encodability {
	base := DefaultEncodability(dialect)
	if len(s.extra) == 0 {
		return base
	}

	return func(v any) bool {
		if base(v) {
			return true
		}

		for _, check := range s.extra {
			if check(v) {
				return true
			}
		}

		return false
	}
}

// listValues flattens a slice, array or map into an ordered sequence.
// Map values are ordered by key so repeated renders agree.
func listValues(name string, raw any) ([]any, error) {
	if raw == nil {
		return nil, nil
	}

	if _, ok := raw.(driver.Valuer); ok {
		return nil, fmt.Errorf("%w: list %s has scalar type %T", sqltmpl.ErrNotEncodable, name, raw)
	}

	v := reflect.ValueOf(raw)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, nil
		}

		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return nil, fmt.Errorf("%w: list %s has scalar type %T", sqltmpl.ErrNotEncodable, name, raw)
		}

		items := make([]any, v.Len())
		for i := range items {
			items[i] = v.Index(i).Interface()
		}

		return items, nil
	case reflect.Map:
		keys := v.MapKeys()
		slices.SortFunc(keys, compareKeys)

		items := make([]any, len(keys))
		for i, k := range keys {
			items[i] = v.MapIndex(k).Interface()
		}

		return items, nil
	default:
		return nil, fmt.Errorf("%w: list %s has non-sequence type %T", sqltmpl.ErrNotEncodable, name, raw)
	}
}

func compareKeys(a, b reflect.Value) int {
	switch a.Kind() {
	case reflect.String:
		return cmp.Compare(a.String(), b.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return cmp.Compare(a.Int(), b.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return cmp.Compare(a.Uint(), b.Uint())
	case reflect.Float32, reflect.Float64:
		return cmp.Compare(a.Float(), b.Float())
	default:
		return cmp.Compare(fmt.Sprint(a.Interface()), fmt.Sprint(b.Interface()))
	}
}
