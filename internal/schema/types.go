package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// Elem is the element kind of a scalar or array column.
type Elem uint8

const (
	Invalid Elem = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	String
	Binary
)

var elemNames = [...]string{
	Invalid: "invalid",
	Bool:    "bool",
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Uint64:  "uint64",
	Float32: "float32",
	Float64: "float64",
	String:  "string",
	Binary:  "binary",
}

func (e Elem) String() string {
	if int(e) < len(elemNames) {
		return elemNames[e]
	}
	return "invalid"
}

// ParseElem resolves an element kind by name.
func ParseElem(s string) (Elem, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bool", "boolean":
		return Bool, nil
	case "int8":
		return Int8, nil
	case "int16":
		return Int16, nil
	case "int32":
		return Int32, nil
	case "int64", "int":
		return Int64, nil
	case "uint8":
		return Uint8, nil
	case "uint16":
		return Uint16, nil
	case "uint32":
		return Uint32, nil
	case "uint64":
		return Uint64, nil
	case "float32", "float":
		return Float32, nil
	case "float64", "double":
		return Float64, nil
	case "string", "str":
		return String, nil
	case "binary", "bytes":
		return Binary, nil
	}
	return Invalid, fmt.Errorf("%w: unknown element type %q", ErrInvalidSchema, s)
}

// IsInteger reports whether e is a signed or unsigned integer kind.
func (e Elem) IsInteger() bool { return e >= Int8 && e <= Uint64 }

// IsFloat reports whether e is a floating point kind.
func (e Elem) IsFloat() bool { return e == Float32 || e == Float64 }

// Arrow returns the Arrow type for the element kind.
func (e Elem) Arrow() arrow.DataType {
	switch e {
	case Bool:
		return arrow.FixedWidthTypes.Boolean
	case Int8:
		return arrow.PrimitiveTypes.Int8
	case Int16:
		return arrow.PrimitiveTypes.Int16
	case Int32:
		return arrow.PrimitiveTypes.Int32
	case Int64:
		return arrow.PrimitiveTypes.Int64
	case Uint8:
		return arrow.PrimitiveTypes.Uint8
	case Uint16:
		return arrow.PrimitiveTypes.Uint16
	case Uint32:
		return arrow.PrimitiveTypes.Uint32
	case Uint64:
		return arrow.PrimitiveTypes.Uint64
	case Float32:
		return arrow.PrimitiveTypes.Float32
	case Float64:
		return arrow.PrimitiveTypes.Float64
	case String:
		return arrow.BinaryTypes.String
	case Binary:
		return arrow.BinaryTypes.Binary
	}
	return arrow.Null
}

// Type is a logical column type. Implementations are Scalar, Tensor, List,
// Struct and StructList.
type Type interface {
	// Rank is the number of array dimensions a raw value must carry.
	Rank() int
	Arrow() arrow.DataType
	String() string
	clone() Type
}

// Scalar is a single value per row. A String scalar with Width > 0 is
// stored as fixed-width bytes.
type Scalar struct {
	Elem  Elem
	Width int
}

func (Scalar) Rank() int { return 0 }

func (s Scalar) Arrow() arrow.DataType {
	if s.Elem == String && s.Width > 0 {
		return &arrow.FixedSizeBinaryType{ByteWidth: s.Width}
	}
	return s.Elem.Arrow()
}

func (s Scalar) String() string {
	if s.Elem == String && s.Width > 0 {
		return fmt.Sprintf("string[%d]", s.Width)
	}
	return s.Elem.String()
}

func (s Scalar) clone() Type { return s }

// AnyExtent marks a tensor dimension whose extent is not fixed.
const AnyExtent = -1

// Tensor is a fixed-rank array per row, such as a 2D image or a 3D cube.
type Tensor struct {
	Elem  Elem
	Shape []int
}

func (t Tensor) Rank() int { return len(t.Shape) }

func (t Tensor) Arrow() arrow.DataType {
	dt := t.Elem.Arrow()
	for range t.Shape {
		dt = arrow.ListOf(dt)
	}
	return dt
}

func (t Tensor) String() string {
	dims := make([]string, len(t.Shape))
	for i, d := range t.Shape {
		if d == AnyExtent {
			dims[i] = "?"
		} else {
			dims[i] = strconv.Itoa(d)
		}
	}
	return fmt.Sprintf("%s[%s]", t.Elem, strings.Join(dims, ","))
}

func (t Tensor) clone() Type {
	return Tensor{Elem: t.Elem, Shape: append([]int(nil), t.Shape...)}
}

// List is a variable-length sequence per row.
type List struct {
	Of Type
}

func (l List) Rank() int { return 1 + l.Of.Rank() }

func (l List) Arrow() arrow.DataType { return arrow.ListOf(l.Of.Arrow()) }

func (l List) String() string { return "list<" + l.Of.String() + ">" }

func (l List) clone() Type { return List{Of: l.Of.clone()} }

// Struct is a single nested record per row.
type Struct struct {
	Fields []Column
}

func (Struct) Rank() int { return 0 }

func (s Struct) Arrow() arrow.DataType { return arrow.StructOf(arrowFields(s.Fields)...) }

func (s Struct) String() string { return "struct<" + fieldNames(s.Fields) + ">" }

func (s Struct) clone() Type { return Struct{Fields: cloneColumns(s.Fields)} }

// StructList is a nested list-of-struct: zero or more sub-rows per row.
type StructList struct {
	Fields []Column
}

func (StructList) Rank() int { return 1 }

func (s StructList) Arrow() arrow.DataType {
	return arrow.ListOf(arrow.StructOf(arrowFields(s.Fields)...))
}

func (s StructList) String() string { return "list<struct<" + fieldNames(s.Fields) + ">>" }

func (s StructList) clone() Type { return StructList{Fields: cloneColumns(s.Fields)} }

func fieldNames(cols []Column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name + ":" + c.Type.String()
	}
	return strings.Join(names, ",")
}
