package verify

import (
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// SortByColumn returns a copy of rec stably sorted by an identifier column
// of integers, floats or strings. Nulls sort last. The caller releases the
// result.
func SortByColumn(mem memory.Allocator, rec arrow.Record, column string) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	idx := rec.Schema().FieldIndices(column)
	if len(idx) == 0 {
		return nil, fmt.Errorf("sort: no column %q", column)
	}
	key := rec.Column(idx[0])
	less, err := lessFunc(key)
	if err != nil {
		return nil, fmt.Errorf("sort by %s: %w", column, err)
	}

	n := int(rec.NumRows())
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool { return less(perm[i], perm[j]) })

	cols := make([]arrow.Array, rec.NumCols())
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()
	for ci := range cols {
		taken, err := take(mem, rec.Column(ci), perm)
		if err != nil {
			return nil, fmt.Errorf("sort: column %s: %w", rec.ColumnName(ci), err)
		}
		cols[ci] = taken
	}
	return array.NewRecord(rec.Schema(), cols, int64(n)), nil
}

func lessFunc(key arrow.Array) (func(i, j int) bool, error) {
	at := func(i int) (arrow.Array, int, bool) {
		a, k := resolve(key, i)
		return a, k, a.IsNull(k)
	}
	var cmp func(a arrow.Array, ai int, b arrow.Array, bi int) bool
	switch categoryOf(key.DataType()) {
	case CatInteger:
		cmp = func(a arrow.Array, ai int, b arrow.Array, bi int) bool {
			av, au, unsigned := intAt(a, ai)
			bv, bu, _ := intAt(b, bi)
			if unsigned {
				return au < bu
			}
			return av < bv
		}
	case CatFloat:
		cmp = func(a arrow.Array, ai int, b arrow.Array, bi int) bool { return floatAt(a, ai) < floatAt(b, bi) }
	case CatText:
		cmp = func(a arrow.Array, ai int, b arrow.Array, bi int) bool { return textAt(a, ai) < textAt(b, bi) }
	default:
		return nil, fmt.Errorf("cannot sort by %s", key.DataType())
	}
	return func(i, j int) bool {
		a, ai, an := at(i)
		b, bi, bn := at(j)
		if an || bn {
			return !an && bn
		}
		return cmp(a, ai, b, bi)
	}, nil
}

// take gathers rows in perm order by concatenating one-row slices.
func take(mem memory.Allocator, arr arrow.Array, perm []int) (arrow.Array, error) {
	if len(perm) == 0 {
		return array.NewSlice(arr, 0, 0), nil
	}
	parts := make([]arrow.Array, len(perm))
	for k, i := range perm {
		parts[k] = array.NewSlice(arr, int64(i), int64(i+1))
	}
	defer func() {
		for _, p := range parts {
			p.Release()
		}
	}()
	return array.Concatenate(parts, mem)
}
