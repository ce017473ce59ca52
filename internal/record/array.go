package record

import (
	"fmt"
	"reflect"
)

// Array is a dense n-dimensional array stored row-major in a flat typed
// slice: []int8..[]int64, []uint8..[]uint64, []float32, []float64, []bool,
// []string, [][]byte or []any.
type Array struct {
	Shape []int
	Data  any
}

// Vector returns a 1-D array over data.
func Vector(data any) Array {
	return Array{Shape: []int{sliceLen(data)}, Data: data}
}

// Tensor returns an array with the given shape over flat row-major data.
func Tensor(shape []int, data any) (Array, error) {
	a := Array{Shape: append([]int(nil), shape...), Data: data}
	if err := a.Check(); err != nil {
		return Array{}, err
	}
	return a, nil
}

func (a Array) Rank() int { return len(a.Shape) }

// Size is the total element count implied by the shape.
func (a Array) Size() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// Len is the extent of the first axis.
func (a Array) Len() int {
	if len(a.Shape) == 0 {
		return 1
	}
	return a.Shape[0]
}

// Check verifies that the data is a supported slice whose length matches
// the shape.
func (a Array) Check() error {
	if !supportedData(a.Data) {
		return fmt.Errorf("%w: array data %T", ErrUnsupportedValue, a.Data)
	}
	for _, d := range a.Shape {
		if d < 0 {
			return fmt.Errorf("%w: negative extent in shape %v", ErrUnsupportedValue, a.Shape)
		}
	}
	if n := sliceLen(a.Data); n != a.Size() {
		return fmt.Errorf("%w: shape %v needs %d elements, have %d", ErrUnsupportedValue, a.Shape, a.Size(), n)
	}
	return nil
}

// At returns the flat element i.
func (a Array) At(i int) any {
	return reflect.ValueOf(a.Data).Index(i).Interface()
}

// Index slices the first axis. A rank-1 array yields a Scalar, higher
// ranks yield an Array of rank-1.
func (a Array) Index(j int) Value {
	if len(a.Shape) <= 1 {
		return Scalar{V: a.At(j)}
	}
	stride := 1
	for _, d := range a.Shape[1:] {
		stride *= d
	}
	sub := reflect.ValueOf(a.Data).Slice(j*stride, (j+1)*stride).Interface()
	return Array{Shape: a.Shape[1:], Data: sub}
}

func sliceLen(data any) int {
	v := reflect.ValueOf(data)
	if v.Kind() != reflect.Slice {
		return 0
	}
	return v.Len()
}

func supportedData(data any) bool {
	switch data.(type) {
	case []int8, []int16, []int32, []int64, []int,
		[]uint8, []uint16, []uint32, []uint64,
		[]float32, []float64, []bool, []string, [][]byte, []any:
		return true
	}
	return false
}

func elemName(data any) string {
	t := reflect.TypeOf(data)
	if t == nil || t.Kind() != reflect.Slice {
		return fmt.Sprintf("%T", data)
	}
	return t.Elem().String()
}
