// Package record models per-object survey records as they arrive from a
// record source, before any schema has been applied.
package record

import (
	"errors"
	"fmt"
)

// ErrUnsupportedValue is returned when a raw value cannot be represented.
var ErrUnsupportedValue = errors.New("unsupported value")

// Record is the field-access interface every record source provides.
// A field that is absent and a field that is explicitly null are both
// reported as not present.
type Record interface {
	Field(name string) (Value, bool)
}

// Value is one raw field value. Implementations are Scalar, Array, Raw,
// Fields, Structs and Lists.
type Value interface {
	// Rank is the number of array dimensions the value carries.
	Rank() int
}

// Scalar holds a single bool, integer, float, string, []byte or json.Number.
type Scalar struct {
	V any
}

func (Scalar) Rank() int { return 0 }

// Fields is a named set of values: a single nested struct, or a compound
// group of equal-length arrays. It is also a Record.
type Fields map[string]Value

func (Fields) Rank() int { return 0 }

// Field implements Record.
func (f Fields) Field(name string) (Value, bool) {
	v, ok := f[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Map is the common Record implementation.
type Map = Fields

// Structs is a variable number of sub-rows, one Fields per sub-row.
type Structs []Fields

func (Structs) Rank() int { return 1 }

// Len returns the number of sub-rows.
func (s Structs) Len() int { return len(s) }

// Lists is a variable-length list whose elements have differing lengths,
// such as a ragged nested JSON array. Each element is an Array, Lists or
// Structs.
type Lists []Value

// Rank is one more than the highest element rank.
func (l Lists) Rank() int {
	r := 0
	for _, v := range l {
		if v != nil && v.Rank() > r {
			r = v.Rank()
		}
	}
	return r + 1
}

// IsEmptyList reports whether v is a list with no elements. An empty JSON
// array decodes without an element type, so it fits any declared list.
func IsEmptyList(v Value) bool {
	switch x := v.(type) {
	case Array:
		return len(x.Shape) == 1 && x.Shape[0] == 0
	case Structs:
		return len(x) == 0
	case Lists:
		return len(x) == 0
	}
	return false
}

// Int returns an integer scalar.
func Int(v int64) Scalar { return Scalar{V: v} }

// Float returns a float scalar.
func Float(v float64) Scalar { return Scalar{V: v} }

// String returns a string scalar.
func String(v string) Scalar { return Scalar{V: v} }

// Bool returns a bool scalar.
func Bool(v bool) Scalar { return Scalar{V: v} }

// Describe renders a short description of a value for error messages.
func Describe(v Value) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case Scalar:
		return fmt.Sprintf("scalar %T", x.V)
	case Array:
		return fmt.Sprintf("array %v of %s", x.Shape, elemName(x.Data))
	case Raw:
		return fmt.Sprintf("raw %s %v", x.DType, x.Shape)
	case Fields:
		return fmt.Sprintf("struct with %d fields", len(x))
	case Structs:
		return fmt.Sprintf("struct list of %d", len(x))
	case Lists:
		return fmt.Sprintf("ragged list of %d", len(x))
	default:
		return fmt.Sprintf("%T", v)
	}
}
