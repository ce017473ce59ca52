package schema

import (
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		expr string
		want string
		rank int
	}{
		{"float32", "float32", 0},
		{"double", "float64", 0},
		{"string(16)", "string[16]", 0},
		{"float32[?,?]", "float32[?,?]", 2},
		{"uint8[64, 64, 3]", "uint8[64,64,3]", 3},
		{"list<float32>", "list<float32>", 1},
		{"list<list<float32>>", "list<list<float32>>", 2},
		{"list<bool[?,?]>", "list<bool[?,?]>", 3},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			typ, err := ParseType(tt.expr)
			if err != nil {
				t.Fatalf("ParseType(%q): %v", tt.expr, err)
			}
			if typ.String() != tt.want {
				t.Errorf("String() = %q, want %q", typ.String(), tt.want)
			}
			if typ.Rank() != tt.rank {
				t.Errorf("Rank() = %d, want %d", typ.Rank(), tt.rank)
			}
		})
	}
}

func TestParseType_Invalid(t *testing.T) {
	for _, expr := range []string{"", "complex64", "list<float32", "float32[0]", "float32[a]", "int32(4)", "string(0)"} {
		if _, err := ParseType(expr); !errors.Is(err, ErrInvalidSchema) {
			t.Errorf("ParseType(%q) error = %v, want ErrInvalidSchema", expr, err)
		}
	}
}

func TestArrowMapping(t *testing.T) {
	tests := []struct {
		typ  Type
		want arrow.DataType
	}{
		{Scalar{Elem: Float32}, arrow.PrimitiveTypes.Float32},
		{Scalar{Elem: String, Width: 8}, &arrow.FixedSizeBinaryType{ByteWidth: 8}},
		{Tensor{Elem: Float32, Shape: []int{AnyExtent, AnyExtent}}, arrow.ListOf(arrow.ListOf(arrow.PrimitiveTypes.Float32))},
		{List{Of: Scalar{Elem: String}}, arrow.ListOf(arrow.BinaryTypes.String)},
		{
			StructList{Fields: []Column{{Name: "time", Type: Scalar{Elem: Float32}, Nullable: true}}},
			arrow.ListOf(arrow.StructOf(arrow.Field{Name: "time", Type: arrow.PrimitiveTypes.Float32, Nullable: true})),
		},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			if got := tt.typ.Arrow(); !arrow.TypeEqual(got, tt.want) {
				t.Errorf("Arrow() = %s, want %s", got, tt.want)
			}
		})
	}
}

const lightcurveYAML = `
catalog: yse
version: "1"
columns:
  - name: object_id
    type: string
    nullable: false
  - names: [redshift, host_log_mass]
    type: float32
    group: host
  - name: lightcurve
    type: struct
    group: lightcurve
    fields:
      - name: band
        type: list<string>
      - names: [time, flux, flux_err]
        type: list<float32>
  - name: spectrum
    type: struct
    source_prefix: spectrum_
    fields:
      - names: [flux, lambda]
        type: list<float32>
  - name: flag
    type: int32
    fill: -1
`

func TestParseYAML(t *testing.T) {
	s, err := ParseYAML([]byte(lightcurveYAML))
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}

	if s.Catalog != "yse" {
		t.Errorf("Catalog = %q", s.Catalog)
	}
	wantNames := []string{"object_id", "redshift", "host_log_mass", "lightcurve", "spectrum", "flag"}
	names := s.Names()
	if len(names) != len(wantNames) {
		t.Fatalf("Names() = %v, want %v", names, wantNames)
	}
	for i := range wantNames {
		if names[i] != wantNames[i] {
			t.Errorf("column %d = %q, want %q", i, names[i], wantNames[i])
		}
	}

	oid, _ := s.Lookup("object_id")
	if oid.Nullable {
		t.Error("object_id should not be nullable")
	}

	lc, _ := s.Lookup("lightcurve")
	st, ok := lc.Type.(Struct)
	if !ok || len(st.Fields) != 4 {
		t.Fatalf("lightcurve type = %s, want struct of 4 fields", lc.Type)
	}

	sp, _ := s.Lookup("spectrum")
	if src := sp.Type.(Struct).Fields[1].SourceName(); src != "spectrum_lambda" {
		t.Errorf("spectrum.lambda source = %q, want spectrum_lambda", src)
	}

	groups := s.Groups()
	if len(groups["host"]) != 2 {
		t.Errorf("host group = %v, want 2 columns", groups["host"])
	}

	as := s.Arrow()
	f, _ := as.FieldsByName("redshift")
	if len(f) != 1 {
		t.Fatalf("redshift missing from Arrow schema")
	}
	if g, ok := f[0].Metadata.GetValue(MetaGroup); !ok || g != "host" {
		t.Errorf("redshift group metadata = %q", g)
	}
}

func TestValidate_Duplicates(t *testing.T) {
	s := Schema{
		Catalog: "x",
		Columns: []Column{
			{Name: "a", Type: Scalar{Elem: Int64}},
			{Name: "a", Type: Scalar{Elem: Float32}},
		},
	}
	if err := s.Validate(); !errors.Is(err, ErrInvalidSchema) {
		t.Errorf("duplicate columns: got %v, want ErrInvalidSchema", err)
	}

	nested := Schema{
		Catalog: "x",
		Columns: []Column{{
			Name: "lc",
			Type: StructList{Fields: []Column{
				{Name: "t", Type: Scalar{Elem: Float32}},
				{Name: "t", Type: Scalar{Elem: Float32}},
			}},
		}},
	}
	if err := nested.Validate(); !errors.Is(err, ErrInvalidSchema) {
		t.Errorf("duplicate nested fields: got %v, want ErrInvalidSchema", err)
	}
}

func TestValidate_Fill(t *testing.T) {
	bad := Schema{
		Catalog: "x",
		Columns: []Column{{Name: "img", Type: Tensor{Elem: Float32, Shape: []int{2, 2}}, Fill: 0.0}},
	}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidSchema) {
		t.Errorf("fill on tensor: got %v, want ErrInvalidSchema", err)
	}

	wrongKind := Schema{
		Catalog: "x",
		Columns: []Column{{Name: "n", Type: Scalar{Elem: Int32}, Fill: "none"}},
	}
	if err := wrongKind.Validate(); !errors.Is(err, ErrInvalidSchema) {
		t.Errorf("string fill on int: got %v, want ErrInvalidSchema", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := Schema{
		Catalog: "x",
		Columns: []Column{{Name: "img", Type: Tensor{Elem: Float32, Shape: []int{4, 4}}}},
	}
	c := s.Clone()
	c.Columns[0].Type.(Tensor).Shape[0] = 9
	c.Columns[0].Name = "other"

	if s.Columns[0].Name != "img" || s.Columns[0].Type.(Tensor).Shape[0] != 4 {
		t.Errorf("Clone shares state with the original: %+v", s.Columns[0])
	}
	if s.Hash() == c.Hash() {
		t.Error("Hash should change when the declaration changes")
	}
}
