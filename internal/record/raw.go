package record

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// DType is the element type of an undecoded numeric buffer.
type DType uint8

const (
	DTypeInvalid DType = iota
	DTypeBool
	DTypeInt8
	DTypeInt16
	DTypeInt32
	DTypeInt64
	DTypeUint8
	DTypeUint16
	DTypeUint32
	DTypeUint64
	DTypeFloat32
	DTypeFloat64
)

var dtypeNames = map[DType]string{
	DTypeBool:    "bool",
	DTypeInt8:    "int8",
	DTypeInt16:   "int16",
	DTypeInt32:   "int32",
	DTypeInt64:   "int64",
	DTypeUint8:   "uint8",
	DTypeUint16:  "uint16",
	DTypeUint32:  "uint32",
	DTypeUint64:  "uint64",
	DTypeFloat32: "float32",
	DTypeFloat64: "float64",
}

func (d DType) String() string {
	if n, ok := dtypeNames[d]; ok {
		return n
	}
	return "invalid"
}

// Size is the width of one element in bytes.
func (d DType) Size() int {
	switch d {
	case DTypeBool, DTypeInt8, DTypeUint8:
		return 1
	case DTypeInt16, DTypeUint16:
		return 2
	case DTypeInt32, DTypeUint32, DTypeFloat32:
		return 4
	case DTypeInt64, DTypeUint64, DTypeFloat64:
		return 8
	}
	return 0
}

// ParseDType parses a numpy-style type code such as "<f4", ">i8", "|u1"
// or "?". A missing byte-order mark means little-endian.
func ParseDType(code string) (DType, binary.ByteOrder, error) {
	var order binary.ByteOrder = binary.LittleEndian
	c := strings.TrimSpace(code)
	if c == "" {
		return DTypeInvalid, nil, fmt.Errorf("%w: empty dtype", ErrUnsupportedValue)
	}
	switch c[0] {
	case '<', '|', '=':
		c = c[1:]
	case '>', '!':
		order = binary.BigEndian
		c = c[1:]
	}
	dt, ok := map[string]DType{
		"?": DTypeBool, "b1": DTypeBool,
		"i1": DTypeInt8, "i2": DTypeInt16, "i4": DTypeInt32, "i8": DTypeInt64,
		"u1": DTypeUint8, "u2": DTypeUint16, "u4": DTypeUint32, "u8": DTypeUint64,
		"f4": DTypeFloat32, "f8": DTypeFloat64,
	}[c]
	if !ok {
		return DTypeInvalid, nil, fmt.Errorf("%w: dtype %q", ErrUnsupportedValue, code)
	}
	return dt, order, nil
}

// Raw is a numeric buffer in the byte order of the file it came from.
type Raw struct {
	DType DType
	Order binary.ByteOrder
	Shape []int
	Bytes []byte
}

func (r Raw) Rank() int { return len(r.Shape) }

// Decode converts the buffer into a native Array, normalizing byte order.
func (r Raw) Decode() (Array, error) {
	size := r.DType.Size()
	if size == 0 {
		return Array{}, fmt.Errorf("%w: dtype %s", ErrUnsupportedValue, r.DType)
	}
	order := r.Order
	if order == nil {
		order = binary.LittleEndian
	}
	n := 1
	for _, d := range r.Shape {
		n *= d
	}
	if len(r.Bytes) != n*size {
		return Array{}, fmt.Errorf("%w: shape %v of %s needs %d bytes, have %d",
			ErrUnsupportedValue, r.Shape, r.DType, n*size, len(r.Bytes))
	}

	b := r.Bytes
	var data any
	switch r.DType {
	case DTypeBool:
		out := make([]bool, n)
		for i := range out {
			out[i] = b[i] != 0
		}
		data = out
	case DTypeInt8:
		out := make([]int8, n)
		for i := range out {
			out[i] = int8(b[i])
		}
		data = out
	case DTypeUint8:
		data = append([]uint8(nil), b...)
	case DTypeInt16:
		out := make([]int16, n)
		for i := range out {
			out[i] = int16(order.Uint16(b[i*2:]))
		}
		data = out
	case DTypeUint16:
		out := make([]uint16, n)
		for i := range out {
			out[i] = order.Uint16(b[i*2:])
		}
		data = out
	case DTypeInt32:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(order.Uint32(b[i*4:]))
		}
		data = out
	case DTypeUint32:
		out := make([]uint32, n)
		for i := range out {
			out[i] = order.Uint32(b[i*4:])
		}
		data = out
	case DTypeInt64:
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(order.Uint64(b[i*8:]))
		}
		data = out
	case DTypeUint64:
		out := make([]uint64, n)
		for i := range out {
			out[i] = order.Uint64(b[i*8:])
		}
		data = out
	case DTypeFloat32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(order.Uint32(b[i*4:]))
		}
		data = out
	case DTypeFloat64:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(order.Uint64(b[i*8:]))
		}
		data = out
	}
	return Array{Shape: append([]int(nil), r.Shape...), Data: data}, nil
}
