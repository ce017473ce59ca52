package record

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var errRagged = fmt.Errorf("%w: ragged array", ErrUnsupportedValue)

// DecodeJSON decodes one JSON object into a record.
//
// Objects become Fields, arrays of objects become Structs and rectangular
// nested arrays become an Array whose shape follows the nesting. Nested
// arrays whose elements differ in length become Lists. A null inside an
// array of floats is NaN; inside any other array it stays a nil element.
// An object
// carrying "$dtype" is a Raw buffer: {"$dtype": ">f4", "$shape": [2, 3],
// "$data": "<base64>"}.
func DecodeJSON(line []byte) (Map, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return decodeObject(obj)
}

func decodeObject(obj map[string]any) (Fields, error) {
	out := make(Fields, len(obj))
	for k, raw := range obj {
		if raw == nil {
			continue
		}
		v, err := decodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func decodeValue(raw any) (Value, error) {
	switch x := raw.(type) {
	case json.Number:
		return Scalar{V: number(x)}, nil
	case string, bool:
		return Scalar{V: x}, nil
	case map[string]any:
		if _, ok := x["$dtype"]; ok {
			return decodeRaw(x)
		}
		return decodeObject(x)
	case []any:
		return decodeList(x)
	}
	return nil, fmt.Errorf("%w: json %T", ErrUnsupportedValue, raw)
}

func number(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	f, err := n.Float64()
	if err != nil {
		return n
	}
	return f
}

func decodeList(items []any) (Value, error) {
	if len(items) == 0 {
		return Array{Shape: []int{0}, Data: []float64{}}, nil
	}
	if _, ok := items[0].(map[string]any); ok {
		rows := make(Structs, 0, len(items))
		for i, it := range items {
			m, ok := it.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: element %d of struct list is %T", ErrUnsupportedValue, i, it)
			}
			row, err := decodeObject(m)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			rows = append(rows, row)
		}
		return rows, nil
	}

	shape, err := inferShape(items)
	if errors.Is(err, errRagged) {
		return decodeRagged(items)
	}
	if err != nil {
		return nil, err
	}
	var flat []any
	flatten(items, &flat)
	data, err := typedSlice(flat)
	if err != nil {
		return nil, err
	}
	return Array{Shape: shape, Data: data}, nil
}

func decodeRagged(items []any) (Value, error) {
	out := make(Lists, 0, len(items))
	for i, it := range items {
		sub, ok := it.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: mixed scalars and arrays", ErrUnsupportedValue)
		}
		v, err := decodeList(sub)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func inferShape(items []any) ([]int, error) {
	shape := []int{len(items)}
	if len(items) == 0 {
		return shape, nil
	}
	first, nested := items[0].([]any)
	if !nested {
		for _, it := range items {
			if _, ok := it.([]any); ok {
				return nil, fmt.Errorf("%w: mixed scalars and arrays", ErrUnsupportedValue)
			}
		}
		return shape, nil
	}
	inner, err := inferShape(first)
	if err != nil {
		return nil, err
	}
	for _, it := range items[1:] {
		sub, ok := it.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: mixed scalars and arrays", ErrUnsupportedValue)
		}
		s, err := inferShape(sub)
		if err != nil {
			return nil, err
		}
		if !equalShape(s, inner) {
			return nil, fmt.Errorf("%w %v vs %v", errRagged, s, inner)
		}
	}
	return append(shape, inner...), nil
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func flatten(items []any, out *[]any) {
	for _, it := range items {
		if sub, ok := it.([]any); ok {
			flatten(sub, out)
			continue
		}
		*out = append(*out, it)
	}
}

// typedSlice picks the narrowest common Go slice for decoded JSON scalars.
func typedSlice(flat []any) (any, error) {
	var ints, floats, strs, bools, nulls int
	for _, v := range flat {
		switch x := v.(type) {
		case json.Number:
			if _, err := x.Int64(); err == nil {
				ints++
			} else {
				floats++
			}
		case string:
			strs++
		case bool:
			bools++
		case nil:
			nulls++
		default:
			return nil, fmt.Errorf("%w: array element %T", ErrUnsupportedValue, v)
		}
	}
	n := len(flat)
	switch {
	case n == 0:
		return []float64{}, nil
	case strs == n:
		out := make([]string, n)
		for i, v := range flat {
			out[i] = v.(string)
		}
		return out, nil
	case bools == n:
		out := make([]bool, n)
		for i, v := range flat {
			out[i] = v.(bool)
		}
		return out, nil
	case ints == n:
		out := make([]int64, n)
		for i, v := range flat {
			out[i], _ = v.(json.Number).Int64()
		}
		return out, nil
	case ints+floats == n:
		out := make([]float64, n)
		for i, v := range flat {
			out[i], _ = v.(json.Number).Float64()
		}
		return out, nil
	case nulls == n:
		return make([]any, n), nil
	case nulls > 0 && ints+nulls == n:
		out := make([]any, n)
		for i, v := range flat {
			if v != nil {
				out[i], _ = v.(json.Number).Int64()
			}
		}
		return out, nil
	case nulls > 0 && ints+floats+nulls == n:
		out := make([]float64, n)
		for i, v := range flat {
			if v == nil {
				out[i] = math.NaN()
				continue
			}
			out[i], _ = v.(json.Number).Float64()
		}
		return out, nil
	case nulls > 0 && (strs+nulls == n || bools+nulls == n):
		out := make([]any, n)
		copy(out, flat)
		return out, nil
	}
	return nil, fmt.Errorf("%w: array mixes element types", ErrUnsupportedValue)
}

func decodeRaw(obj map[string]any) (Value, error) {
	code, _ := obj["$dtype"].(string)
	dt, order, err := ParseDType(code)
	if err != nil {
		return nil, err
	}
	var shape []int
	if s, ok := obj["$shape"].([]any); ok {
		for _, d := range s {
			n, ok := d.(json.Number)
			if !ok {
				return nil, fmt.Errorf("%w: $shape entry %v", ErrUnsupportedValue, d)
			}
			v, err := n.Int64()
			if err != nil {
				return nil, fmt.Errorf("%w: $shape entry %v", ErrUnsupportedValue, d)
			}
			shape = append(shape, int(v))
		}
	}
	enc, _ := obj["$data"].(string)
	b, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("decode $data: %w", err)
	}
	if shape == nil {
		shape = []int{len(b) / max(dt.Size(), 1)}
	}
	return Raw{DType: dt, Order: order, Shape: shape, Bytes: b}, nil
}
