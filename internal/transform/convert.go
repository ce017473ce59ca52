package transform

import (
	"errors"
	"reflect"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/withObsrvr/mmu-to-hats/internal/record"
	"github.com/withObsrvr/mmu-to-hats/internal/schema"
)

// Convert builds one Arrow record from a batch of raw records, following
// the declared schema column by column. Row i of the result is batch[i].
//
// Undeclared raw fields are ignored. A declared field a record lacks
// becomes the column's fill value or null for that record alone. Any value
// whose rank, shape or type does not fit aborts the whole batch with a
// *ViolationError.
//
// The caller owns the returned record and must Release it.
func Convert(mem memory.Allocator, sch schema.Schema, batch []record.Record) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	b := array.NewRecordBuilder(mem, sch.Arrow())
	defer b.Release()

	for ci, col := range sch.Columns {
		fb := b.Field(ci)
		for ri, rec := range batch {
			if err := appendColumn(fb, col, rec); err != nil {
				return nil, violation(col, ri, err)
			}
		}
	}
	return b.NewRecord(), nil
}

func violation(col schema.Column, ri int, err error) error {
	var f *fault
	if errors.As(err, &f) {
		path := col.Name
		if f.path != "" {
			path += "." + f.path
		}
		return &ViolationError{Column: path, Field: col.SourceName(), Record: ri, Reason: f.reason, Err: f.err}
	}
	return &ViolationError{Column: col.Name, Field: col.SourceName(), Record: ri, Reason: err.Error(), Err: ErrTypeMismatch}
}

func appendColumn(b array.Builder, col schema.Column, rec record.Record) error {
	if v, ok := lookup(rec, col); ok {
		return appendValue(b, col.Type, v)
	}
	switch t := col.Type.(type) {
	case schema.Struct:
		if flatPresent(rec, t.Fields) {
			return appendStructRow(b.(*array.StructBuilder), t.Fields, rec, true)
		}
	case schema.StructList:
		if flatPresent(rec, t.Fields) {
			return appendColumnar(b.(*array.ListBuilder), t.Fields, rec, true)
		}
	}
	return appendMissing(b, col)
}

func lookup(rec record.Record, col schema.Column) (record.Value, bool) {
	if v, ok := rec.Field(col.SourceName()); ok {
		return v, true
	}
	if col.Source != "" {
		return rec.Field(col.Name)
	}
	return nil, false
}

// flatLookup reads a child stored as a top-level raw field. Only children
// with an explicit source take part.
func flatLookup(rec record.Record, col schema.Column) (record.Value, bool) {
	if col.Source == "" {
		return nil, false
	}
	return rec.Field(col.Source)
}

func flatPresent(rec record.Record, fields []schema.Column) bool {
	for _, fc := range fields {
		if _, ok := flatLookup(rec, fc); ok {
			return true
		}
	}
	return false
}

func appendMissing(b array.Builder, col schema.Column) error {
	if col.Fill != nil {
		return appendFill(b, col)
	}
	if !col.Nullable {
		return faultf(ErrMissingRequired, "no value for non-nullable column")
	}
	b.AppendNull()
	return nil
}

func appendValue(b array.Builder, t schema.Type, v record.Value) error {
	if raw, ok := v.(record.Raw); ok {
		arr, err := raw.Decode()
		if err != nil {
			return faultf(ErrTypeMismatch, "%v", err)
		}
		v = arr
	}
	if arr, ok := v.(record.Array); ok {
		if err := arr.Check(); err != nil {
			return faultf(ErrTypeMismatch, "%v", err)
		}
	}

	switch t := t.(type) {
	case schema.Scalar:
		return appendScalar(b, t, v)
	case schema.Tensor:
		return appendTensor(b, t, v)
	case schema.List:
		return appendList(b, t, v)
	case schema.Struct:
		f, ok := v.(record.Fields)
		if !ok {
			return faultf(ErrTypeMismatch, "declared %s, got %s", t, record.Describe(v))
		}
		return appendStructRow(b.(*array.StructBuilder), t.Fields, f, false)
	case schema.StructList:
		return appendStructList(b.(*array.ListBuilder), t, v)
	}
	return faultf(ErrTypeMismatch, "unsupported declared type %T", t)
}

func appendScalar(b array.Builder, t schema.Scalar, v record.Value) error {
	switch x := v.(type) {
	case record.Scalar:
		return appendElem(b, t, x.V)
	case record.Array:
		if x.Size() == 1 {
			return appendElem(b, t, x.At(0))
		}
	}
	return faultf(ErrRankMismatch, "declared %s (rank 0), got %s", t, record.Describe(v))
}

func appendTensor(b array.Builder, t schema.Tensor, v record.Value) error {
	arr, ok := v.(record.Array)
	if !ok || arr.Rank() != t.Rank() {
		return faultf(ErrRankMismatch, "declared %s (rank %d), got %s", t, t.Rank(), record.Describe(v))
	}
	for i, d := range t.Shape {
		if d != schema.AnyExtent && arr.Shape[i] != d {
			return faultf(ErrShapeMismatch, "declared %s, got shape %v", t, arr.Shape)
		}
	}
	_, err := appendDims(b, schema.Scalar{Elem: t.Elem}, arr, 0, 0)
	return err
}

// appendDims writes one nested list level per array dimension and returns
// the flat offset after the last element written.
func appendDims(b array.Builder, elem schema.Scalar, arr record.Array, dim, off int) (int, error) {
	lb := b.(*array.ListBuilder)
	lb.Append(true)
	vb := lb.ValueBuilder()
	n := arr.Shape[dim]
	if dim == len(arr.Shape)-1 {
		return off + n, appendRun(vb, elem, arr.Data, off, off+n)
	}
	var err error
	for k := 0; k < n; k++ {
		if off, err = appendDims(vb, elem, arr, dim+1, off); err != nil {
			return off, err
		}
	}
	return off, nil
}

func appendList(b array.Builder, t schema.List, v record.Value) error {
	lb := b.(*array.ListBuilder)
	if record.IsEmptyList(v) {
		lb.Append(true)
		return nil
	}
	if ragged, ok := v.(record.Lists); ok {
		lb.Append(true)
		vb := lb.ValueBuilder()
		for _, el := range ragged {
			if err := appendValue(vb, t.Of, el); err != nil {
				return err
			}
		}
		return nil
	}
	arr, ok := v.(record.Array)
	if !ok || arr.Rank() != t.Rank() {
		return faultf(ErrRankMismatch, "declared %s (rank %d), got %s", t, t.Rank(), record.Describe(v))
	}
	lb.Append(true)
	vb := lb.ValueBuilder()
	if of, ok := t.Of.(schema.Scalar); ok {
		return appendRun(vb, of, arr.Data, 0, arr.Len())
	}
	for j := 0; j < arr.Len(); j++ {
		if err := appendValue(vb, t.Of, arr.Index(j)); err != nil {
			return err
		}
	}
	return nil
}

func appendStructList(lb *array.ListBuilder, t schema.StructList, v record.Value) error {
	if record.IsEmptyList(v) {
		lb.Append(true)
		return nil
	}
	switch x := v.(type) {
	case record.Structs:
		lb.Append(true)
		sb := lb.ValueBuilder().(*array.StructBuilder)
		for _, row := range x {
			if err := appendStructRow(sb, t.Fields, row, false); err != nil {
				return err
			}
		}
		return nil
	case record.Fields:
		return appendColumnar(lb, t.Fields, x, false)
	}
	return faultf(ErrTypeMismatch, "declared %s, got %s", t, record.Describe(v))
}

// appendStructRow appends one struct whose fields are read from container.
func appendStructRow(sb *array.StructBuilder, fields []schema.Column, container record.Record, flat bool) error {
	sb.Append(true)
	for i, fc := range fields {
		fb := sb.FieldBuilder(i)
		cv, ok := childValue(container, fc, flat)
		if !ok {
			if err := appendMissing(fb, fc); err != nil {
				return at(fc.Name, err)
			}
			continue
		}
		if err := appendValue(fb, fc.Type, cv); err != nil {
			return at(fc.Name, err)
		}
	}
	return nil
}

// appendColumnar builds a struct list from parallel child arrays whose
// first axis indexes the sub-rows. All present children must agree on the
// sub-row count.
func appendColumnar(lb *array.ListBuilder, fields []schema.Column, container record.Record, flat bool) error {
	children := make([]func(int) record.Value, len(fields))
	n := -1
	for i, fc := range fields {
		cv, ok := childValue(container, fc, flat)
		if !ok {
			continue
		}
		if raw, isRaw := cv.(record.Raw); isRaw {
			dec, err := raw.Decode()
			if err != nil {
				return at(fc.Name, faultf(ErrTypeMismatch, "%v", err))
			}
			cv = dec
		}
		var rows int
		switch x := cv.(type) {
		case record.Lists:
			rows = len(x)
			children[i] = func(j int) record.Value { return x[j] }
		case record.Array:
			if x.Rank() != fc.Type.Rank()+1 && !record.IsEmptyList(x) {
				return at(fc.Name, faultf(ErrRankMismatch,
					"struct list field %s needs rank %d per record, got %s", fc.Type, fc.Type.Rank()+1, record.Describe(cv)))
			}
			if err := x.Check(); err != nil {
				return at(fc.Name, faultf(ErrTypeMismatch, "%v", err))
			}
			rows = x.Len()
			children[i] = x.Index
		default:
			return at(fc.Name, faultf(ErrRankMismatch,
				"struct list field %s needs rank %d per record, got %s", fc.Type, fc.Type.Rank()+1, record.Describe(cv)))
		}
		if n >= 0 && rows != n {
			return at(fc.Name, faultf(ErrLengthMismatch, "%d sub-rows, other fields have %d", rows, n))
		}
		n = rows
	}
	if n < 0 {
		n = 0
	}

	lb.Append(true)
	sb := lb.ValueBuilder().(*array.StructBuilder)
	for j := 0; j < n; j++ {
		sb.Append(true)
		for i, fc := range fields {
			fb := sb.FieldBuilder(i)
			if children[i] == nil {
				if err := appendMissing(fb, fc); err != nil {
					return at(fc.Name, err)
				}
				continue
			}
			if err := appendValue(fb, fc.Type, children[i](j)); err != nil {
				return at(fc.Name, err)
			}
		}
	}
	return nil
}

func childValue(container record.Record, fc schema.Column, flat bool) (record.Value, bool) {
	if flat {
		return flatLookup(container, fc)
	}
	if v, ok := container.Field(fc.SourceName()); ok {
		return v, true
	}
	if fc.Source != "" {
		return container.Field(fc.Name)
	}
	return nil, false
}

// appendRun appends data[lo:hi] to a scalar builder, bulk-copying when the
// source slice already has the declared element type.
func appendRun(b array.Builder, t schema.Scalar, data any, lo, hi int) error {
	switch d := data.(type) {
	case []float32:
		if fb, ok := b.(*array.Float32Builder); ok {
			fb.AppendValues(d[lo:hi], nil)
			return nil
		}
	case []float64:
		if fb, ok := b.(*array.Float64Builder); ok {
			fb.AppendValues(d[lo:hi], nil)
			return nil
		}
		if fb, ok := b.(*array.Float32Builder); ok {
			for _, x := range d[lo:hi] {
				fb.Append(float32(x))
			}
			return nil
		}
	case []int64:
		if ib, ok := b.(*array.Int64Builder); ok {
			ib.AppendValues(d[lo:hi], nil)
			return nil
		}
	case []uint8:
		if ub, ok := b.(*array.Uint8Builder); ok {
			ub.AppendValues(d[lo:hi], nil)
			return nil
		}
	case []bool:
		if bb, ok := b.(*array.BooleanBuilder); ok {
			bb.AppendValues(d[lo:hi], nil)
			return nil
		}
	case []string:
		if sb, ok := b.(*array.StringBuilder); ok {
			sb.AppendValues(d[lo:hi], nil)
			return nil
		}
	}
	rv := reflect.ValueOf(data)
	for i := lo; i < hi; i++ {
		if err := appendElem(b, t, rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}
