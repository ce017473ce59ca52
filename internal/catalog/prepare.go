package catalog

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"github.com/withObsrvr/mmu-to-hats/internal/record"
	"github.com/withObsrvr/mmu-to-hats/internal/transform"
)

// Step kinds.
const (
	StepBandGrid   = "band_grid"
	StepBandStack  = "band_stack"
	StepSplitViews = "split_views"
	StepLabelMap   = "label_map"
	StepScale      = "scale"
	StepUnstack    = "unstack"
	StepTile       = "tile"
	StepPNG        = "png"
)

// Step reshapes the raw fields of one record before conversion. Steps only
// add fields; the incoming record is never modified.
type Step struct {
	Kind string `yaml:"kind"`
	// Field is the raw field the step reads.
	Field string `yaml:"field"`
	// Fields lists the grids of a band_grid step.
	Fields []string `yaml:"fields"`
	// Into is the raw field the step writes.
	Into string `yaml:"into"`
	// Names are the output fields of an unstack step.
	Names []string `yaml:"names"`
	// BandsField holds the band names of a band_grid step, either a
	// comma-separated string or a string array.
	BandsField string `yaml:"bands_field"`
	// Bands are fixed band names for a band_stack step.
	Bands []string `yaml:"bands"`
	// Channels name the second axis of a band_stack step.
	Channels []string          `yaml:"channels"`
	Views    []string          `yaml:"views"`
	Shared   map[string]string `yaml:"shared"`
	Labels   map[int64]string  `yaml:"labels"`
	Factor   float64           `yaml:"factor"`
	Invert   bool              `yaml:"invert"`
	// Like names the field whose first-axis length a tile step repeats to.
	Like string `yaml:"like"`
}

func (s Step) validate() error {
	need := func(ok bool, what string) error {
		if !ok {
			return fmt.Errorf("%s step needs %s", s.Kind, what)
		}
		return nil
	}
	switch s.Kind {
	case StepBandGrid:
		return firstErr(need(s.Into != "", "into"), need(len(s.Fields) > 0, "fields"))
	case StepBandStack:
		return firstErr(need(s.Field != "", "field"), need(len(s.Bands) > 0, "bands"), need(len(s.Channels) > 0, "channels"))
	case StepSplitViews:
		return firstErr(need(s.Field != "", "field"), need(s.Into != "", "into"), need(len(s.Views) > 0, "views"))
	case StepLabelMap:
		return firstErr(need(s.Field != "", "field"), need(len(s.Labels) > 0, "labels"))
	case StepScale:
		return firstErr(need(s.Field != "", "field"), need(s.Factor != 0, "a non-zero factor"))
	case StepUnstack:
		return firstErr(need(s.Field != "", "field"), need(len(s.Names) > 0, "names"))
	case StepTile:
		return firstErr(need(s.Field != "", "field"), need(s.Like != "", "like"))
	case StepPNG:
		return need(s.Field != "", "field")
	}
	return fmt.Errorf("unknown step kind %q", s.Kind)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (s Step) output() string {
	if s.Into != "" {
		return s.Into
	}
	return s.Field
}

// overlay is a record with prepared fields layered over the raw ones.
type overlay struct {
	base  record.Record
	extra record.Fields
}

func (o overlay) Field(name string) (record.Value, bool) {
	if v, ok := o.extra[name]; ok {
		if v == nil {
			return nil, false
		}
		return v, true
	}
	return o.base.Field(name)
}

// apply runs the step against rec and stores its outputs in out. A step
// whose input field is absent is a no-op, leaving the missing-field rules
// of the schema to decide.
func (s Step) apply(rec record.Record, out record.Fields) error {
	switch s.Kind {
	case StepBandGrid:
		return s.bandGrid(rec, out)
	case StepBandStack:
		return s.bandStack(rec, out)
	case StepSplitViews:
		return s.splitViews(rec, out)
	case StepLabelMap:
		return s.labelMap(rec, out)
	case StepScale:
		return s.scale(rec, out)
	case StepUnstack:
		return s.unstack(rec, out)
	case StepTile:
		return s.tile(rec, out)
	case StepPNG:
		return s.png(rec, out)
	}
	return fmt.Errorf("unknown step kind %q", s.Kind)
}

// bandGrid flattens (bands × times) grids into parallel per-observation
// lists with a repeated band label.
func (s Step) bandGrid(rec record.Record, out record.Fields) error {
	bandsField := s.BandsField
	if bandsField == "" {
		bandsField = "bands"
	}
	bv, ok := rec.Field(bandsField)
	if !ok {
		return nil
	}
	bands, err := stringList(bv)
	if err != nil {
		return fmt.Errorf("%s: %w", bandsField, err)
	}
	lc := record.Fields{}
	perBand := -1
	for _, name := range s.Fields {
		v, ok := rec.Field(name)
		if !ok {
			continue
		}
		arr, err := asArray(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if arr.Rank() != 2 || arr.Shape[0] != len(bands) {
			return fmt.Errorf("%s: want a (%d bands × times) grid, got shape %v", name, len(bands), arr.Shape)
		}
		if perBand >= 0 && arr.Shape[1] != perBand {
			return fmt.Errorf("%s: %d times per band, other grids have %d", name, arr.Shape[1], perBand)
		}
		perBand = arr.Shape[1]
		lc[name] = record.Array{Shape: []int{arr.Size()}, Data: arr.Data}
	}
	if perBand < 0 {
		perBand = 0
	}
	labels := make([]string, 0, len(bands)*perBand)
	for _, b := range bands {
		for k := 0; k < perBand; k++ {
			labels = append(labels, b)
		}
	}
	lc["band"] = record.Vector(labels)
	out[s.Into] = lc
	return nil
}

// bandStack flattens a (bands × channels × times) cube into one list per
// channel plus a band label list.
func (s Step) bandStack(rec record.Record, out record.Fields) error {
	v, ok := rec.Field(s.Field)
	if !ok {
		return nil
	}
	arr, err := asArray(v)
	if err != nil {
		return err
	}
	if arr.Rank() != 3 || arr.Shape[0] != len(s.Bands) || arr.Shape[1] != len(s.Channels) {
		return fmt.Errorf("want a (%d bands × %d channels × times) cube, got shape %v",
			len(s.Bands), len(s.Channels), arr.Shape)
	}
	nb, nc, nt := arr.Shape[0], arr.Shape[1], arr.Shape[2]
	lc := record.Fields{}
	labels := make([]string, 0, nb*nt)
	for b := 0; b < nb; b++ {
		for k := 0; k < nt; k++ {
			labels = append(labels, s.Bands[b])
		}
	}
	lc["band"] = record.Vector(labels)
	for c, name := range s.Channels {
		vals := make([]any, 0, nb*nt)
		for b := 0; b < nb; b++ {
			base := (b*nc + c) * nt
			for k := 0; k < nt; k++ {
				vals = append(vals, arr.At(base+k))
			}
		}
		lc[name] = record.Vector(vals)
	}
	out[s.output()] = lc
	return nil
}

// splitViews turns an (h × w × views) stack into one sub-row per view,
// copying the shared scalar fields into every sub-row.
func (s Step) splitViews(rec record.Record, out record.Fields) error {
	v, ok := rec.Field(s.Field)
	if !ok {
		return nil
	}
	arr, err := asArray(v)
	if err != nil {
		return err
	}
	if arr.Rank() != 3 || arr.Shape[2] != len(s.Views) {
		return fmt.Errorf("want an (h × w × %d) stack, got shape %v", len(s.Views), arr.Shape)
	}
	h, w, nv := arr.Shape[0], arr.Shape[1], arr.Shape[2]
	rows := make(record.Structs, nv)
	for j, view := range s.Views {
		px := make([]any, 0, h*w)
		for i := 0; i < h*w; i++ {
			px = append(px, arr.At(i*nv+j))
		}
		img, err := record.Tensor([]int{h, w}, px)
		if err != nil {
			return err
		}
		row := record.Fields{"view": record.String(view), "array": img}
		for child, src := range s.Shared {
			if sv, ok := rec.Field(src); ok {
				row[child] = sv
			}
		}
		rows[j] = row
	}
	out[s.Into] = rows
	return nil
}

// labelMap replaces an integer class code with its name.
func (s Step) labelMap(rec record.Record, out record.Fields) error {
	v, ok := rec.Field(s.Field)
	if !ok {
		return nil
	}
	code, err := scalarInt(v)
	if err != nil {
		return err
	}
	name, ok := s.Labels[code]
	if !ok {
		return fmt.Errorf("unknown class code %d", code)
	}
	out[s.output()] = record.String(name)
	return nil
}

// scale multiplies every element by Factor, or stores 1/(x·Factor) when
// Invert is set.
func (s Step) scale(rec record.Record, out record.Fields) error {
	v, ok := rec.Field(s.Field)
	if !ok {
		return nil
	}
	if sc, isScalar := v.(record.Scalar); isScalar {
		x, err := number(sc.V)
		if err != nil {
			return err
		}
		out[s.output()] = record.Float(s.apply1(x))
		return nil
	}
	arr, err := asArray(v)
	if err != nil {
		return err
	}
	vals := make([]float64, arr.Size())
	for i := range vals {
		x, err := number(arr.At(i))
		if err != nil {
			return err
		}
		vals[i] = s.apply1(x)
	}
	out[s.output()] = record.Array{Shape: append([]int(nil), arr.Shape...), Data: vals}
	return nil
}

func (s Step) apply1(x float64) float64 {
	if s.Invert {
		return 1 / (x * s.Factor)
	}
	return x * s.Factor
}

// unstack splits the last axis of a per-record vector into named scalars.
func (s Step) unstack(rec record.Record, out record.Fields) error {
	v, ok := rec.Field(s.Field)
	if !ok {
		return nil
	}
	arr, err := asArray(v)
	if err != nil {
		return err
	}
	if arr.Rank() != 1 || arr.Len() != len(s.Names) {
		return fmt.Errorf("want a vector of %d, got shape %v", len(s.Names), arr.Shape)
	}
	for j, name := range s.Names {
		out[name] = arr.Index(j)
	}
	return nil
}

// tile repeats an array once per entry of the Like field's first axis.
func (s Step) tile(rec record.Record, out record.Fields) error {
	v, ok := rec.Field(s.Field)
	if !ok {
		return nil
	}
	lv, ok := rec.Field(s.Like)
	if !ok {
		return nil
	}
	arr, err := asArray(v)
	if err != nil {
		return err
	}
	like, err := asArray(lv)
	if err != nil {
		return fmt.Errorf("%s: %w", s.Like, err)
	}
	n := like.Len()
	vals := make([]any, 0, n*arr.Size())
	for k := 0; k < n; k++ {
		for i := 0; i < arr.Size(); i++ {
			vals = append(vals, arr.At(i))
		}
	}
	shape := append([]int{n}, arr.Shape...)
	out[s.output()] = record.Array{Shape: shape, Data: vals}
	return nil
}

// png encodes an 8-bit (h × w), (h × w × 3) or (h × w × 4) array as a PNG
// image struct with bytes and an empty path.
func (s Step) png(rec record.Record, out record.Fields) error {
	v, ok := rec.Field(s.Field)
	if !ok {
		return nil
	}
	arr, err := asArray(v)
	if err != nil {
		return err
	}
	data, err := encodePNG(arr)
	if err != nil {
		return err
	}
	out[s.output()] = record.Fields{"bytes": record.Scalar{V: data}}
	return nil
}

func encodePNG(arr record.Array) ([]byte, error) {
	channels := 1
	switch {
	case arr.Rank() == 2:
	case arr.Rank() == 3 && (arr.Shape[2] == 3 || arr.Shape[2] == 4):
		channels = arr.Shape[2]
	default:
		return nil, fmt.Errorf("cannot encode shape %v as an image", arr.Shape)
	}
	h, w := arr.Shape[0], arr.Shape[1]
	px := func(i int) (uint8, error) {
		x, err := number(arr.At(i))
		if err != nil {
			return 0, err
		}
		return uint8(x), nil
	}
	var img image.Image
	switch channels {
	case 1:
		g := image.NewGray(image.Rect(0, 0, w, h))
		for i := 0; i < h*w; i++ {
			p, err := px(i)
			if err != nil {
				return nil, err
			}
			g.Pix[i] = p
		}
		img = g
	default:
		rgba := image.NewNRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				base := (y*w + x) * channels
				var c [4]uint8
				c[3] = 255
				for k := 0; k < channels; k++ {
					p, err := px(base + k)
					if err != nil {
						return nil, err
					}
					c[k] = p
				}
				rgba.SetNRGBA(x, y, color.NRGBA{R: c[0], G: c[1], B: c[2], A: c[3]})
			}
		}
		img = rgba
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func asArray(v record.Value) (record.Array, error) {
	switch x := v.(type) {
	case record.Array:
		return x, x.Check()
	case record.Raw:
		return x.Decode()
	}
	return record.Array{}, fmt.Errorf("want an array, got %s", record.Describe(v))
}

func stringList(v record.Value) ([]string, error) {
	if sc, ok := v.(record.Scalar); ok {
		s, err := text(sc.V)
		if err != nil {
			return nil, err
		}
		return strings.Split(s, ","), nil
	}
	arr, err := asArray(v)
	if err != nil {
		return nil, err
	}
	out := make([]string, arr.Size())
	for i := range out {
		if out[i], err = text(arr.At(i)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func text(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(bytes.TrimRight(x, "\x00")), nil
	}
	return "", fmt.Errorf("want text, got %T", v)
}

func scalarInt(v record.Value) (int64, error) {
	var raw any
	switch x := v.(type) {
	case record.Scalar:
		raw = x.V
	case record.Array:
		if x.Size() != 1 {
			return 0, fmt.Errorf("want one class code, got shape %v", x.Shape)
		}
		raw = x.At(0)
	default:
		return 0, fmt.Errorf("want a class code, got %s", record.Describe(v))
	}
	f, err := number(raw)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// number widens any numeric element to float64.
func number(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
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
	case interface{ Float64() (float64, error) }:
		return x.Float64()
	}
	return 0, fmt.Errorf("want a number, got %T", v)
}

// prepare runs every step over one record.
func prepare(steps []Step, rec record.Record, ri int) (record.Record, error) {
	if len(steps) == 0 {
		return rec, nil
	}
	o := overlay{base: rec, extra: record.Fields{}}
	for _, s := range steps {
		if err := s.apply(o, o.extra); err != nil {
			return nil, &transform.ViolationError{
				Column: s.output(),
				Field:  s.Field,
				Record: ri,
				Reason: err.Error(),
				Err:    transform.ErrTypeMismatch,
			}
		}
	}
	return o, nil
}
