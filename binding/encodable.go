package binding

import (
	"database/sql/driver"
	"math"
	"reflect"
	"time"

	"github.com/shibukawa/sqltmpl"
)

// Encodability reports whether a value can be sent to the backend.
type Encodability func(v any) bool

var (
	valuerType = reflect.TypeFor[driver.Valuer]()
	timeType   = reflect.TypeFor[time.Time]()
)

// DefaultEncodability returns the check used for the dialect.
// Values implementing driver.Valuer (decimal.Decimal, uuid.UUID, sql.Null*)
// are always accepted; dialects with FeatureArrayBind also accept slices.
func DefaultEncodability(d sqltmpl.Dialect) Encodability {
	arrays := sqltmpl.Supports(d, sqltmpl.FeatureArrayBind)

	return func(v any) bool {
		if v == nil {
			return true
		}

		return encodableValue(reflect.ValueOf(v), arrays)
	}
}

func encodableValue(v reflect.Value, arrays bool) bool {
	if v.Type().Implements(valuerType) {
		return true
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return true
		}

		return encodableValue(v.Elem(), arrays)
	case reflect.Interface:
		if v.IsNil() {
			return true
		}

		return encodableValue(v.Elem(), arrays)
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Uint, reflect.Uint64, reflect.Uintptr:
		return v.Uint() <= math.MaxInt64
	case reflect.Struct:
		return v.Type() == timeType
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return true
		}

		return arrays && encodableElements(v, arrays)
	case reflect.Array:
		return arrays && encodableElements(v, arrays)
	default:
		return false
	}
}

func encodableElements(v reflect.Value, arrays bool) bool {
	for i := range v.Len() {
		if !encodableValue(v.Index(i), arrays) {
			return false
		}
	}

	return true
}
