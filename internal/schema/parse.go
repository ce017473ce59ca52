package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseType parses a type expression:
//
//	float32            scalar
//	string(16)         fixed-width string
//	float32[?,?]       rank-2 tensor, any extents
//	uint8[64,64,3]     rank-3 tensor, fixed extents
//	list<float32>      variable-length list
//	list<float32[?]>   variable-length list of rank-1 tensors
//
// Struct types are declared with nested fields rather than an expression.
func ParseType(expr string) (Type, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, fmt.Errorf("%w: empty type expression", ErrInvalidSchema)
	}

	if strings.HasPrefix(s, "list<") {
		if !strings.HasSuffix(s, ">") {
			return nil, fmt.Errorf("%w: unterminated list in %q", ErrInvalidSchema, expr)
		}
		of, err := ParseType(s[len("list<") : len(s)-1])
		if err != nil {
			return nil, err
		}
		return List{Of: of}, nil
	}

	if i := strings.IndexByte(s, '('); i >= 0 {
		if !strings.HasSuffix(s, ")") {
			return nil, fmt.Errorf("%w: unterminated width in %q", ErrInvalidSchema, expr)
		}
		elem, err := ParseElem(s[:i])
		if err != nil {
			return nil, err
		}
		if elem != String {
			return nil, fmt.Errorf("%w: width only applies to strings in %q", ErrInvalidSchema, expr)
		}
		w, err := strconv.Atoi(strings.TrimSpace(s[i+1 : len(s)-1]))
		if err != nil || w <= 0 {
			return nil, fmt.Errorf("%w: bad width in %q", ErrInvalidSchema, expr)
		}
		return Scalar{Elem: String, Width: w}, nil
	}

	if i := strings.IndexByte(s, '['); i >= 0 {
		if !strings.HasSuffix(s, "]") {
			return nil, fmt.Errorf("%w: unterminated shape in %q", ErrInvalidSchema, expr)
		}
		elem, err := ParseElem(s[:i])
		if err != nil {
			return nil, err
		}
		var shape []int
		for _, d := range strings.Split(s[i+1:len(s)-1], ",") {
			d = strings.TrimSpace(d)
			if d == "?" {
				shape = append(shape, AnyExtent)
				continue
			}
			n, err := strconv.Atoi(d)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("%w: bad extent %q in %q", ErrInvalidSchema, d, expr)
			}
			shape = append(shape, n)
		}
		return Tensor{Elem: elem, Shape: shape}, nil
	}

	elem, err := ParseElem(s)
	if err != nil {
		return nil, err
	}
	return Scalar{Elem: elem}, nil
}
