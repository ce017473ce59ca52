package transform

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/withObsrvr/mmu-to-hats/internal/schema"
)

// appendElem coerces one raw element to the declared scalar type and
// appends it. A nil element is NaN for floats and null otherwise.
func appendElem(b array.Builder, t schema.Scalar, v any) error {
	if v == nil {
		switch bb := b.(type) {
		case *array.Float32Builder:
			bb.Append(float32(math.NaN()))
		case *array.Float64Builder:
			bb.Append(math.NaN())
		default:
			b.AppendNull()
		}
		return nil
	}
	switch t.Elem {
	case schema.Bool:
		x, err := toBool(v)
		if err != nil {
			return err
		}
		b.(*array.BooleanBuilder).Append(x)

	case schema.Int8, schema.Int16, schema.Int32, schema.Int64:
		x, err := toInt64(v)
		if err != nil {
			return err
		}
		lo, hi := intBounds(t.Elem)
		if x < lo || x > hi {
			return faultf(ErrOutOfRange, "%d does not fit %s", x, t.Elem)
		}
		switch bb := b.(type) {
		case *array.Int8Builder:
			bb.Append(int8(x))
		case *array.Int16Builder:
			bb.Append(int16(x))
		case *array.Int32Builder:
			bb.Append(int32(x))
		case *array.Int64Builder:
			bb.Append(x)
		}

	case schema.Uint8, schema.Uint16, schema.Uint32, schema.Uint64:
		x, err := toUint64(v)
		if err != nil {
			return err
		}
		if hi := uintBound(t.Elem); x > hi {
			return faultf(ErrOutOfRange, "%d does not fit %s", x, t.Elem)
		}
		switch bb := b.(type) {
		case *array.Uint8Builder:
			bb.Append(uint8(x))
		case *array.Uint16Builder:
			bb.Append(uint16(x))
		case *array.Uint32Builder:
			bb.Append(uint32(x))
		case *array.Uint64Builder:
			bb.Append(x)
		}

	case schema.Float32:
		x, err := toFloat64(v)
		if err != nil {
			return err
		}
		b.(*array.Float32Builder).Append(float32(x))

	case schema.Float64:
		x, err := toFloat64(v)
		if err != nil {
			return err
		}
		b.(*array.Float64Builder).Append(x)

	case schema.String:
		s, err := toText(v)
		if err != nil {
			return err
		}
		if t.Width > 0 {
			if len(s) > t.Width {
				return faultf(ErrOutOfRange, "%d-byte string exceeds width %d", len(s), t.Width)
			}
			buf := make([]byte, t.Width)
			copy(buf, s)
			b.(*array.FixedSizeBinaryBuilder).Append(buf)
			return nil
		}
		b.(*array.StringBuilder).Append(s)

	case schema.Binary:
		switch x := v.(type) {
		case []byte:
			b.(*array.BinaryBuilder).Append(x)
		case string:
			b.(*array.BinaryBuilder).AppendString(x)
		default:
			return faultf(ErrTypeMismatch, "cannot use %T as bytes", v)
		}

	default:
		return faultf(ErrTypeMismatch, "unsupported element type %s", t.Elem)
	}
	return nil
}

// appendFill appends a declared fill value, or null when there is none.
func appendFill(b array.Builder, col schema.Column) error {
	if col.Fill == nil {
		b.AppendNull()
		return nil
	}
	sc, ok := col.Type.(schema.Scalar)
	if !ok {
		return faultf(ErrTypeMismatch, "fill on non-scalar column")
	}
	return appendElem(b, sc, col.Fill)
}

func intBounds(e schema.Elem) (int64, int64) {
	switch e {
	case schema.Int8:
		return math.MinInt8, math.MaxInt8
	case schema.Int16:
		return math.MinInt16, math.MaxInt16
	case schema.Int32:
		return math.MinInt32, math.MaxInt32
	}
	return math.MinInt64, math.MaxInt64
}

func uintBound(e schema.Elem) uint64 {
	switch e {
	case schema.Uint8:
		return math.MaxUint8
	case schema.Uint16:
		return math.MaxUint16
	case schema.Uint32:
		return math.MaxUint32
	}
	return math.MaxUint64
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return uintToInt(uint64(x))
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return uintToInt(x)
	case float32:
		return floatToInt(float64(x))
	case float64:
		return floatToInt(x)
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, faultf(ErrTypeMismatch, "%q is not a number", x.String())
		}
		return floatToInt(f)
	}
	return 0, faultf(ErrTypeMismatch, "cannot use %T as an integer", v)
}

func uintToInt(x uint64) (int64, error) {
	if x > math.MaxInt64 {
		return 0, faultf(ErrOutOfRange, "%d overflows int64", x)
	}
	return int64(x), nil
}

func floatToInt(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, faultf(ErrOutOfRange, "%v has no integer value", f)
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, faultf(ErrOutOfRange, "%v overflows int64", f)
	}
	return int64(f), nil
}

func toUint64(v any) (uint64, error) {
	switch x := v.(type) {
	case uint:
		return uint64(x), nil
	case uint8:
		return uint64(x), nil
	case uint16:
		return uint64(x), nil
	case uint32:
		return uint64(x), nil
	case uint64:
		return x, nil
	case float32, float64:
		f, _ := toFloat64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f >= math.MaxUint64 {
			return 0, faultf(ErrOutOfRange, "%v does not fit an unsigned integer", f)
		}
		return uint64(f), nil
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, faultf(ErrOutOfRange, "%d is negative", i)
	}
	return uint64(i), nil
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, faultf(ErrTypeMismatch, "%q is not a number", x.String())
		}
		return f, nil
	}
	return 0, faultf(ErrTypeMismatch, "cannot use %T as a float", v)
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string, []byte:
		return false, faultf(ErrTypeMismatch, "cannot use %T as a bool", v)
	}
	f, err := toFloat64(v)
	if err != nil {
		return false, faultf(ErrTypeMismatch, "cannot use %T as a bool", v)
	}
	return f != 0, nil
}

// toText renders a value as a string. Byte strings from fixed-width
// sources lose their trailing NUL padding.
func toText(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(bytes.TrimRight(x, "\x00")), nil
	case bool:
		return strconv.FormatBool(x), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case json.Number:
		return x.String(), nil
	case int, int8, int16, int32, int64:
		i, _ := toInt64(x)
		return strconv.FormatInt(i, 10), nil
	case uint, uint8, uint16, uint32, uint64:
		u, _ := toUint64(x)
		return strconv.FormatUint(u, 10), nil
	}
	return "", faultf(ErrTypeMismatch, "cannot use %T as a string", v)
}
