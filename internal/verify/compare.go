// Package verify compares two columnar tables under a tolerance and
// reports every difference it finds.
package verify

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// maxRendered is how many list items a sample shows before "...".
const maxRendered = 5

// Compare checks candidate against reference and accumulates every
// mismatch into one report. It fails only on an invalid configuration.
func Compare(reference, candidate arrow.Record, cfg Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ref := flatten(reference, cfg)
	cand := flatten(candidate, cfg)

	rep := newReport(cfg.samples())
	rep.Reference = SideReference
	rep.Candidate = SideCandidate
	rep.RowsReference = reference.NumRows()
	rep.RowsCandidate = candidate.NumRows()

	missing(rep, cfg, ref, cand, SideCandidate)
	missing(rep, cfg, cand, ref, SideReference)

	for _, t := range []struct {
		side string
		tbl  *table
	}{{SideReference, ref}, {SideCandidate, cand}} {
		for _, p := range t.tbl.paths {
			if cfg.forbidden(p) {
				rep.add(KindForbiddenColumn, p, t.side, "forbidden column present", 0, nil)
			}
		}
	}

	required := make([]string, 0, len(cfg.RequiredTypes))
	for col := range cfg.RequiredTypes {
		required = append(required, col)
	}
	sort.Strings(required)
	for _, col := range required {
		want := cfg.RequiredTypes[col]
		dt, ok := cand.types[col]
		switch {
		case !ok:
			rep.add(KindRequiredType, col, SideCandidate, fmt.Sprintf("required column not found, want %s", want), 0, nil)
		case !typeMatches(dt, want):
			rep.add(KindRequiredType, col, SideCandidate, fmt.Sprintf("column is %s, want %s", dt, want), 0, nil)
		}
	}

	skip := map[string]bool{}
	for _, p := range ref.paths {
		bt, ok := cand.types[p]
		if !ok {
			continue
		}
		if skip[parent(p)] {
			skip[p] = true
			continue
		}
		at := ref.types[p]
		if sa, sb := signature(at), signature(bt); sa != sb {
			rep.add(KindTypeMismatch, p, "", fmt.Sprintf("reference is %s (%s), candidate is %s (%s)", at, sa, bt, sb), 0, nil)
			skip[p] = true
		}
	}

	if rep.RowsReference != rep.RowsCandidate {
		rep.add(KindRowCount, "", "", fmt.Sprintf("reference has %d rows, candidate has %d; values not compared",
			rep.RowsReference, rep.RowsCandidate), 0, nil)
	} else {
		c := &comparer{cfg: cfg, rep: rep, skip: skip}
		for _, name := range ref.order {
			b, ok := cand.cols[name]
			if !ok || skip[name] {
				continue
			}
			c.column(name, ref.cols[name], b)
		}
	}

	rep.finish(cfg)
	return rep, nil
}

// table is a record viewed as dotted column paths.
type table struct {
	cols  map[string]arrow.Array
	order []string
	types map[string]arrow.DataType
	paths []string
}

func flatten(rec arrow.Record, cfg Config) *table {
	t := &table{cols: map[string]arrow.Array{}, types: map[string]arrow.DataType{}}
	fields := rec.Schema().Fields()
	present := make(map[string]bool, len(fields))
	for _, f := range fields {
		present[f.Name] = true
	}
	for i, f := range fields {
		name := f.Name
		if to, ok := cfg.ColumnAliases[name]; ok && !present[to] {
			name = to
		}
		if _, dup := t.cols[name]; dup {
			continue
		}
		t.cols[name] = rec.Column(i)
		t.order = append(t.order, name)
		t.walk(name, f.Type)
	}
	return t
}

func flattenSchema(s *arrow.Schema) *table {
	t := &table{types: map[string]arrow.DataType{}}
	for _, f := range s.Fields() {
		if _, dup := t.types[f.Name]; dup {
			continue
		}
		t.order = append(t.order, f.Name)
		t.walk(f.Name, f.Type)
	}
	return t
}

func (t *table) walk(p string, dt arrow.DataType) {
	t.types[p] = dt
	t.paths = append(t.paths, p)
	if st, ok := structOf(dt); ok {
		for _, f := range st.Fields() {
			t.walk(p+"."+f.Name, f.Type)
		}
	}
}

func parent(p string) string {
	if i := strings.LastIndexByte(p, '.'); i >= 0 {
		return p[:i]
	}
	return ""
}

// missing records paths of have that other lacks, reporting only the
// top-most missing path of a subtree.
func missing(rep *Report, cfg Config, have, other *table, side string) {
	for _, p := range have.paths {
		if _, ok := other.types[p]; ok {
			continue
		}
		if par := parent(p); par != "" {
			if _, ok := other.types[par]; !ok {
				continue
			}
		}
		if cfg.ignored(p) {
			continue
		}
		from := SideReference
		if side == SideReference {
			from = SideCandidate
		}
		rep.add(KindMissingColumn, p, side, fmt.Sprintf("present in %s, missing from %s", from, side), 0, nil)
	}
}

type comparer struct {
	cfg  Config
	rep  *Report
	skip map[string]bool
}

func (c *comparer) column(p string, a, b arrow.Array) {
	for i := 0; i < a.Len(); i++ {
		c.value(p, i, "", a, i, b, i)
	}
}

func (c *comparer) value(p string, row int, idx string, a arrow.Array, ai int, b arrow.Array, bi int) {
	a, ai = resolve(a, ai)
	b, bi = resolve(b, bi)
	an, bn := a.IsNull(ai), b.IsNull(bi)
	if an || bn {
		if an && bn {
			return
		}
		if c.cfg.NullListEqualsEmpty && ((an && emptyList(b, bi)) || (bn && emptyList(a, ai))) {
			return
		}
		c.mismatch(p, row, idx, a, ai, b, bi, 0)
		return
	}

	ca, cb := categoryOf(a.DataType()), categoryOf(b.DataType())
	if ca != cb {
		c.mismatch(p, row, idx, a, ai, b, bi, 0)
		return
	}
	switch ca {
	case CatFloat:
		x, y := floatAt(a, ai), floatAt(b, bi)
		if ok, d := c.close(x, y); !ok {
			c.mismatch(p, row, idx, a, ai, b, bi, d)
		}
	case CatInteger:
		if !intEqual(a, ai, b, bi) {
			d := math.Abs(intFloat(a, ai) - intFloat(b, bi))
			c.mismatch(p, row, idx, a, ai, b, bi, d)
		}
	case CatText:
		if textAt(a, ai) != textAt(b, bi) {
			c.mismatch(p, row, idx, a, ai, b, bi, 0)
		}
	case CatBinary:
		if !bytes.Equal(bytesAt(a, ai), bytesAt(b, bi)) {
			c.mismatch(p, row, idx, a, ai, b, bi, 0)
		}
	case CatBool:
		if a.(*array.Boolean).Value(ai) != b.(*array.Boolean).Value(bi) {
			c.mismatch(p, row, idx, a, ai, b, bi, 0)
		}
	case CatList:
		c.list(p, row, idx, a, ai, b, bi)
	case CatStruct:
		c.structs(p, row, idx, a.(*array.Struct), ai, b.(*array.Struct), bi)
	default:
		if a.ValueStr(ai) != b.ValueStr(bi) {
			c.mismatch(p, row, idx, a, ai, b, bi, 0)
		}
	}
}

func (c *comparer) list(p string, row int, idx string, a arrow.Array, ai int, b arrow.Array, bi int) {
	la, lb := a.(array.ListLike), b.(array.ListLike)
	as, ae := la.ValueOffsets(ai)
	bs, be := lb.ValueOffsets(bi)
	if ae-as != be-bs {
		c.mismatch(p, row, idx, a, ai, b, bi, 0)
		return
	}
	av, bv := la.ListValues(), lb.ListValues()
	for k := int64(0); k < ae-as; k++ {
		c.value(p, row, idx+"["+strconv.FormatInt(k, 10)+"]", av, int(as+k), bv, int(bs+k))
	}
}

func (c *comparer) structs(p string, row int, idx string, a *array.Struct, ai int, b *array.Struct, bi int) {
	at := a.DataType().(*arrow.StructType)
	bt := b.DataType().(*arrow.StructType)
	for i, f := range at.Fields() {
		j, ok := bt.FieldIdx(f.Name)
		if !ok {
			continue
		}
		cp := p + "." + f.Name
		if c.skip[cp] {
			continue
		}
		c.value(cp, row, idx, a.Field(i), ai, b.Field(j), bi)
	}
}

// close applies the tolerance. NaN equals NaN.
func (c *comparer) close(x, y float64) (bool, float64) {
	if x == y || (math.IsNaN(x) && math.IsNaN(y)) {
		return true, 0
	}
	d := math.Abs(x - y)
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return false, 0
	}
	tol := c.cfg.Tolerance
	return d <= tol.Absolute+tol.Relative*math.Max(math.Abs(x), math.Abs(y)), d
}

func (c *comparer) mismatch(p string, row int, idx string, a arrow.Array, ai int, b arrow.Array, bi int, delta float64) {
	c.rep.add(KindValueMismatch, p, "", "values differ", delta, &Sample{
		Row:       row,
		Index:     idx,
		Reference: render(a, ai),
		Candidate: render(b, bi),
	})
}

// resolve follows dictionary indices and extension storage to the array
// holding the actual value.
func resolve(a arrow.Array, i int) (arrow.Array, int) {
	for {
		switch x := a.(type) {
		case *array.Dictionary:
			if x.IsNull(i) {
				return x, i
			}
			i = x.GetValueIndex(i)
			a = x.Dictionary()
		case array.ExtensionArray:
			a = x.Storage()
		default:
			return a, i
		}
	}
}

func emptyList(a arrow.Array, i int) bool {
	l, ok := a.(array.ListLike)
	if !ok || a.IsNull(i) {
		return false
	}
	s, e := l.ValueOffsets(i)
	return s == e
}

func floatAt(a arrow.Array, i int) float64 {
	switch x := a.(type) {
	case *array.Float64:
		return x.Value(i)
	case *array.Float32:
		return float64(x.Value(i))
	case *array.Float16:
		return float64(x.Value(i).Float32())
	}
	return math.NaN()
}

// intAt returns a signed value, or an unsigned one when neg is impossible.
func intAt(a arrow.Array, i int) (v int64, u uint64, unsigned bool) {
	switch x := a.(type) {
	case *array.Int8:
		return int64(x.Value(i)), 0, false
	case *array.Int16:
		return int64(x.Value(i)), 0, false
	case *array.Int32:
		return int64(x.Value(i)), 0, false
	case *array.Int64:
		return x.Value(i), 0, false
	case *array.Uint8:
		return 0, uint64(x.Value(i)), true
	case *array.Uint16:
		return 0, uint64(x.Value(i)), true
	case *array.Uint32:
		return 0, uint64(x.Value(i)), true
	case *array.Uint64:
		return 0, x.Value(i), true
	}
	return 0, 0, false
}

func intEqual(a arrow.Array, ai int, b arrow.Array, bi int) bool {
	av, au, aun := intAt(a, ai)
	bv, bu, bun := intAt(b, bi)
	switch {
	case !aun && !bun:
		return av == bv
	case aun && bun:
		return au == bu
	case aun:
		return bv >= 0 && uint64(bv) == au
	default:
		return av >= 0 && uint64(av) == bu
	}
}

func intFloat(a arrow.Array, i int) float64 {
	v, u, unsigned := intAt(a, i)
	if unsigned {
		return float64(u)
	}
	return float64(v)
}

func textAt(a arrow.Array, i int) string {
	if s, ok := a.(interface{ Value(int) string }); ok {
		return s.Value(i)
	}
	return a.ValueStr(i)
}

func bytesAt(a arrow.Array, i int) []byte {
	if b, ok := a.(interface{ Value(int) []byte }); ok {
		return b.Value(i)
	}
	return []byte(a.ValueStr(i))
}

// render formats one value for a sample, truncating long lists.
func render(a arrow.Array, i int) string {
	var b strings.Builder
	renderTo(&b, a, i)
	return b.String()
}

func renderTo(b *strings.Builder, a arrow.Array, i int) {
	a, i = resolve(a, i)
	if a.IsNull(i) {
		b.WriteString("null")
		return
	}
	switch categoryOf(a.DataType()) {
	case CatFloat:
		b.WriteString(strconv.FormatFloat(floatAt(a, i), 'g', -1, 64))
	case CatText:
		b.WriteString(strconv.Quote(textAt(a, i)))
	case CatList:
		l := a.(array.ListLike)
		s, e := l.ValueOffsets(i)
		b.WriteByte('[')
		for k := s; k < e; k++ {
			if k > s {
				b.WriteString(", ")
			}
			if k-s == maxRendered {
				b.WriteString("...")
				break
			}
			renderTo(b, l.ListValues(), int(k))
		}
		b.WriteByte(']')
	case CatStruct:
		st := a.(*array.Struct)
		b.WriteByte('{')
		for k, f := range st.DataType().(*arrow.StructType).Fields() {
			if k > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
			b.WriteString(": ")
			renderTo(b, st.Field(k), i)
		}
		b.WriteByte('}')
	default:
		b.WriteString(a.ValueStr(i))
	}
}
