package verify

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func fromJSON(t *testing.T, s *arrow.Schema, rows string) arrow.Record {
	t.Helper()
	rec, _, err := array.RecordFromJSON(memory.NewGoAllocator(), s, strings.NewReader(rows))
	if err != nil {
		t.Fatalf("RecordFromJSON: %v", err)
	}
	t.Cleanup(rec.Release)
	return rec
}

func floatRecord(t *testing.T, name string, vals ...float64) arrow.Record {
	t.Helper()
	s := arrow.NewSchema([]arrow.Field{{Name: name, Type: arrow.PrimitiveTypes.Float64, Nullable: true}}, nil)
	b := array.NewRecordBuilder(memory.NewGoAllocator(), s)
	defer b.Release()
	b.Field(0).(*array.Float64Builder).AppendValues(vals, nil)
	rec := b.NewRecord()
	t.Cleanup(rec.Release)
	return rec
}

var lightcurveSchema = arrow.NewSchema([]arrow.Field{
	{Name: "object_id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "ra", Type: arrow.PrimitiveTypes.Float64},
	{Name: "lightcurve", Type: arrow.StructOf(
		arrow.Field{Name: "band", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
		arrow.Field{Name: "flux", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64), Nullable: true},
	), Nullable: true},
}, nil)

const lightcurveRows = `[
	{"object_id": 1, "ra": 10.5, "lightcurve": {"band": ["g", "r"], "flux": [1.0, 2.0]}},
	{"object_id": 2, "ra": 11.5, "lightcurve": {"band": ["g"], "flux": [3.0]}}
]`

func TestCompare_Reflexive(t *testing.T) {
	rec := fromJSON(t, lightcurveSchema, lightcurveRows)
	rep, err := Compare(rec, rec, DefaultConfig())
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if !rep.Passed() || len(rep.Mismatches) != 0 {
		t.Fatalf("table differs from itself:\n%s", rep)
	}
}

func TestCompare_ToleranceBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tolerance = Tolerance{Absolute: 0.25}

	tests := []struct {
		name string
		b    float64
		pass bool
	}{
		{"at absolute bound", 1.25, true},
		{"just past bound", 1.2500001, false},
		{"below", 0.75, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, err := Compare(floatRecord(t, "x", 1.0), floatRecord(t, "x", tt.b), cfg)
			if err != nil {
				t.Fatalf("Compare: %v", err)
			}
			if rep.Passed() != tt.pass {
				t.Fatalf("Passed = %v, want %v\n%s", rep.Passed(), tt.pass, rep)
			}
		})
	}
}

func TestCompare_RelativeTolerance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tolerance = Tolerance{Relative: 0.01}
	rep, err := Compare(floatRecord(t, "x", 1000), floatRecord(t, "x", 1009), cfg)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if !rep.Passed() {
		t.Fatalf("1000 vs 1009 within 1%%:\n%s", rep)
	}
}

func TestCompare_NaNEqualsNaN(t *testing.T) {
	a := floatRecord(t, "x", math.NaN(), 1)
	b := floatRecord(t, "x", math.NaN(), 1)
	rep, err := Compare(a, b, DefaultConfig())
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if !rep.Passed() {
		t.Fatalf("NaN should equal NaN:\n%s", rep)
	}

	rep, _ = Compare(a, floatRecord(t, "x", 0, 1), DefaultConfig())
	if rep.Passed() {
		t.Fatal("NaN vs 0 passed")
	}
}

func TestCompare_MissingAndIgnored(t *testing.T) {
	ref := fromJSON(t, lightcurveSchema, lightcurveRows)
	short := arrow.NewSchema([]arrow.Field{
		{Name: "object_id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "ra", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
	cand := fromJSON(t, short, `[{"object_id": 1, "ra": 10.5}, {"object_id": 2, "ra": 11.5}]`)

	rep, err := Compare(ref, cand, DefaultConfig())
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	m, ok := rep.Find(KindMissingColumn, "lightcurve")
	if !ok {
		t.Fatalf("no missing_column for lightcurve:\n%s", rep)
	}
	if m.Table != SideCandidate {
		t.Errorf("Table = %q, want %q", m.Table, SideCandidate)
	}
	if _, ok := rep.Find(KindMissingColumn, "lightcurve.flux"); ok {
		t.Error("nested path of a missing column reported separately")
	}

	cfg := DefaultConfig()
	cfg.IgnoreMissingColumns = []string{"lightcurve"}
	rep, err = Compare(ref, cand, cfg)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if !rep.Passed() {
		t.Fatalf("ignored column still fails:\n%s", rep)
	}
}

func TestCompare_ForbiddenColumn(t *testing.T) {
	rec := fromJSON(t, lightcurveSchema, lightcurveRows)
	cfg := DefaultConfig()
	cfg.ForbiddenColumns = []string{"lightcurve.*"}

	rep, err := Compare(rec, rec, cfg)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if rep.Passed() {
		t.Fatal("forbidden column passed")
	}
	for _, p := range []string{"lightcurve.band", "lightcurve.flux"} {
		m, ok := rep.Find(KindForbiddenColumn, p)
		if !ok {
			t.Errorf("no forbidden_column for %s", p)
			continue
		}
		if m.Count != 1 {
			t.Errorf("%s Count = %d, want 1 per side", p, m.Count)
		}
	}
	if n := len(rep.Failures()); n != 4 {
		t.Errorf("failures = %d, want 4 (two paths on two sides)", n)
	}
}

func TestCompare_TypeMismatch(t *testing.T) {
	ref := fromJSON(t, lightcurveSchema, lightcurveRows)
	alt := arrow.NewSchema([]arrow.Field{
		{Name: "object_id", Type: arrow.BinaryTypes.String},
		{Name: "ra", Type: arrow.PrimitiveTypes.Float32},
		{Name: "lightcurve", Type: arrow.StructOf(
			arrow.Field{Name: "band", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
			arrow.Field{Name: "flux", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32), Nullable: true},
		), Nullable: true},
	}, nil)
	cand := fromJSON(t, alt, `[
		{"object_id": "1", "ra": 10.5, "lightcurve": {"band": ["g", "r"], "flux": [1.0, 2.0]}},
		{"object_id": "2", "ra": 11.5, "lightcurve": {"band": ["g"], "flux": [3.0]}}
	]`)

	rep, err := Compare(ref, cand, DefaultConfig())
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if _, ok := rep.Find(KindTypeMismatch, "object_id"); !ok {
		t.Errorf("int64 vs string not reported:\n%s", rep)
	}
	if _, ok := rep.Find(KindValueMismatch, "object_id"); ok {
		t.Error("values compared for a column with a type mismatch")
	}
	if _, ok := rep.Find(KindTypeMismatch, "ra"); ok {
		t.Error("float64 vs float32 is the same category")
	}
	if len(rep.Failures()) != 1 {
		t.Errorf("failures = %d, want 1:\n%s", len(rep.Failures()), rep)
	}
}

func TestCompare_RequiredTypes(t *testing.T) {
	s := arrow.NewSchema([]arrow.Field{{Name: "ra", Type: arrow.PrimitiveTypes.Float32}}, nil)
	rec := fromJSON(t, s, `[{"ra": 1.5}]`)

	cfg := DefaultConfig()
	cfg.RequiredTypes = map[string]string{"ra": "float64", "dec": "float64"}
	rep, err := Compare(rec, rec, cfg)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	for _, col := range []string{"ra", "dec"} {
		if _, ok := rep.Find(KindRequiredType, col); !ok {
			t.Errorf("no required_type finding for %s", col)
		}
	}

	cfg.RequiredTypes = map[string]string{"ra": "float"}
	rep, _ = Compare(rec, rec, cfg)
	if !rep.Passed() {
		t.Errorf("float32 should satisfy category float:\n%s", rep)
	}
}

func TestCompare_NullListEqualsEmpty(t *testing.T) {
	s := arrow.NewSchema([]arrow.Field{{Name: "flux", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64), Nullable: true}}, nil)
	a := fromJSON(t, s, `[{"flux": null}, {"flux": [1.0]}]`)
	b := fromJSON(t, s, `[{"flux": []}, {"flux": [1.0]}]`)

	cfg := DefaultConfig()
	rep, err := Compare(a, b, cfg)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if !rep.Passed() {
		t.Fatalf("null vs empty should pass by default:\n%s", rep)
	}

	cfg.NullListEqualsEmpty = false
	rep, _ = Compare(a, b, cfg)
	m, ok := rep.Find(KindValueMismatch, "flux")
	if !ok {
		t.Fatalf("null vs empty passed with NullListEqualsEmpty off")
	}
	if m.Samples[0].Reference != "null" || m.Samples[0].Candidate != "[]" {
		t.Errorf("sample = %+v", m.Samples[0])
	}
}

func TestCompare_NestedPath(t *testing.T) {
	ref := fromJSON(t, lightcurveSchema, lightcurveRows)
	cand := fromJSON(t, lightcurveSchema, `[
		{"object_id": 1, "ra": 10.5, "lightcurve": {"band": ["g", "r"], "flux": [1.0, 2.5]}},
		{"object_id": 2, "ra": 11.5, "lightcurve": {"band": ["g"], "flux": [3.0]}}
	]`)

	rep, err := Compare(ref, cand, DefaultConfig())
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	m, ok := rep.Find(KindValueMismatch, "lightcurve.flux")
	if !ok {
		t.Fatalf("no mismatch at lightcurve.flux:\n%s", rep)
	}
	if m.Count != 1 || len(m.Samples) != 1 {
		t.Fatalf("Count = %d, samples = %d", m.Count, len(m.Samples))
	}
	s := m.Samples[0]
	if s.Row != 0 || s.Index != "[1]" || s.Reference != "2" || s.Candidate != "2.5" {
		t.Errorf("sample = %+v", s)
	}
	if m.MaxDelta != 0.5 {
		t.Errorf("MaxDelta = %g, want 0.5", m.MaxDelta)
	}
}

func TestCompare_ListLengthMismatch(t *testing.T) {
	s := arrow.NewSchema([]arrow.Field{{Name: "flux", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64), Nullable: true}}, nil)
	a := fromJSON(t, s, `[{"flux": [1, 2, 3, 4, 5, 6, 7]}]`)
	b := fromJSON(t, s, `[{"flux": [1, 2, 3]}]`)

	rep, err := Compare(a, b, DefaultConfig())
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	m, ok := rep.Find(KindValueMismatch, "flux")
	if !ok {
		t.Fatalf("length mismatch not reported")
	}
	if got, want := m.Samples[0].Reference, "[1, 2, 3, 4, 5, ...]"; got != want {
		t.Errorf("rendered = %q, want %q", got, want)
	}
}

func TestCompare_AccumulatesSamples(t *testing.T) {
	a := floatRecord(t, "x", 1, 2, 3, 4, 5)
	b := floatRecord(t, "x", 2, 3, 4, 5, 6)

	rep, err := Compare(a, b, DefaultConfig())
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if len(rep.Mismatches) != 1 {
		t.Fatalf("mismatches = %d, want 1 aggregated", len(rep.Mismatches))
	}
	m := rep.Mismatches[0]
	if m.Count != 5 {
		t.Errorf("Count = %d, want 5", m.Count)
	}
	if len(m.Samples) != DefaultMaxSamples {
		t.Errorf("samples = %d, want %d", len(m.Samples), DefaultMaxSamples)
	}
	for i, s := range m.Samples {
		if s.Row != i {
			t.Errorf("sample %d row = %d", i, s.Row)
		}
	}
}

func TestCompare_AllowedMismatch(t *testing.T) {
	ref := fromJSON(t, lightcurveSchema, lightcurveRows)
	cand := fromJSON(t, lightcurveSchema, `[
		{"object_id": 1, "ra": 10.5, "lightcurve": {"band": ["r", "g"], "flux": [1.0, 2.0]}},
		{"object_id": 2, "ra": 11.5, "lightcurve": {"band": ["g"], "flux": [3.0]}}
	]`)

	cfg := DefaultConfig()
	cfg.AllowedMismatchColumns = []string{"lightcurve.band"}
	rep, err := Compare(ref, cand, cfg)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if !rep.Passed() {
		t.Fatalf("allowed mismatch failed:\n%s", rep)
	}
	m, ok := rep.Find(KindValueMismatch, "lightcurve.band")
	if !ok || !m.Allowed || m.Count != 2 {
		t.Fatalf("mismatch = %+v, ok = %v", m, ok)
	}
	if !strings.Contains(rep.String(), "(allowed)") {
		t.Errorf("listing does not mark allowed mismatch:\n%s", rep)
	}
}

func TestCompare_RowCount(t *testing.T) {
	rep, err := Compare(floatRecord(t, "x", 1, 2), floatRecord(t, "x", 1), DefaultConfig())
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if _, ok := rep.Find(KindRowCount, ""); !ok {
		t.Fatalf("row count not reported:\n%s", rep)
	}
	if _, ok := rep.Find(KindValueMismatch, "x"); ok {
		t.Error("values compared despite differing row counts")
	}
}

func TestCompare_ColumnAlias(t *testing.T) {
	rep, err := Compare(floatRecord(t, "RA", 10), floatRecord(t, "ra", 10), DefaultConfig())
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if !rep.Passed() {
		t.Fatalf("RA alias not applied:\n%s", rep)
	}

	cfg := DefaultConfig()
	cfg.ColumnAliases = nil
	rep, _ = Compare(floatRecord(t, "RA", 10), floatRecord(t, "ra", 10), cfg)
	if rep.Passed() {
		t.Fatal("RA matched ra without an alias")
	}
}

func TestCompare_UnsignedAgainstSigned(t *testing.T) {
	u := arrow.NewSchema([]arrow.Field{{Name: "id", Type: arrow.PrimitiveTypes.Uint64}}, nil)
	s := arrow.NewSchema([]arrow.Field{{Name: "id", Type: arrow.PrimitiveTypes.Int32}}, nil)
	rep, err := Compare(fromJSON(t, u, `[{"id": 7}, {"id": 8}]`), fromJSON(t, s, `[{"id": 7}, {"id": -8}]`), DefaultConfig())
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	m, ok := rep.Find(KindValueMismatch, "id")
	if !ok || m.Count != 1 || m.Samples[0].Row != 1 {
		t.Fatalf("mismatch = %+v, ok = %v", m, ok)
	}
}

func TestCompare_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative absolute", func(c *Config) { c.Tolerance.Absolute = -1 }},
		{"nan relative", func(c *Config) { c.Tolerance.Relative = math.NaN() }},
		{"negative samples", func(c *Config) { c.MaxSamples = -1 }},
		{"duplicate ignore", func(c *Config) { c.IgnoreMissingColumns = []string{"a", "a"} }},
		{"empty forbidden", func(c *Config) { c.ForbiddenColumns = []string{" "} }},
		{"bad pattern", func(c *Config) { c.ForbiddenColumns = []string{"a["} }},
		{"forbidden and ignored", func(c *Config) {
			c.ForbiddenColumns = []string{"a"}
			c.IgnoreMissingColumns = []string{"a"}
		}},
		{"unknown required type", func(c *Config) { c.RequiredTypes = map[string]string{"ra": "double"} }},
	}
	rec := floatRecord(t, "x", 1)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := Compare(rec, rec, cfg)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
			var ce *ConfigError
			if !errors.As(err, &ce) || ce.Option == "" {
				t.Errorf("err %v does not name the option", err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(`
ignore_missing_columns: [host_log_mass]
allowed_mismatch_columns: [image.band]
tolerance:
  absolute: 0.001
max_samples: 1
`))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Tolerance.Absolute != 0.001 || cfg.Tolerance.Relative != DefaultRelative {
		t.Errorf("Tolerance = %+v", cfg.Tolerance)
	}
	if cfg.MaxSamples != 1 || len(cfg.IgnoreMissingColumns) != 1 || cfg.AllowedMismatchColumns[0] != "image.band" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.ColumnAliases["RA"] != "ra" {
		t.Error("default aliases lost")
	}

	empty, err := LoadConfig(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadConfig(empty): %v", err)
	}
	if empty.Tolerance != (Tolerance{Absolute: DefaultAbsolute, Relative: DefaultRelative}) {
		t.Errorf("empty config tolerance = %+v", empty.Tolerance)
	}

	if _, err := LoadConfig(strings.NewReader("tolerence: {absolute: 1}\n")); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("unknown key: err = %v, want ErrInvalidConfig", err)
	}
	if _, err := LoadConfig(strings.NewReader("tolerance: {absolute: -1}\n")); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("negative tolerance: err = %v, want ErrInvalidConfig", err)
	}
}

func TestLoadConfigOver(t *testing.T) {
	base := DefaultConfig()
	base.ForbiddenColumns = []string{"_healpix_*"}
	cfg, err := LoadConfigOver(base, strings.NewReader("tolerance: {relative: 0.01}\ncolumn_aliases: {ID: object_id}\n"))
	if err != nil {
		t.Fatalf("LoadConfigOver: %v", err)
	}
	if len(cfg.ForbiddenColumns) != 1 || cfg.Tolerance.Relative != 0.01 || cfg.Tolerance.Absolute != DefaultAbsolute {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.ColumnAliases["ID"] != "object_id" || cfg.ColumnAliases["RA"] != "ra" {
		t.Errorf("aliases = %v", cfg.ColumnAliases)
	}
	if _, ok := base.ColumnAliases["ID"]; ok {
		t.Error("base config was modified")
	}
}

func TestReport_Outputs(t *testing.T) {
	rep, err := Compare(floatRecord(t, "x", 1, 2), floatRecord(t, "x", 1, 3), DefaultConfig())
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if !strings.HasPrefix(rep.String(), "FAIL") {
		t.Errorf("String() = %q", rep.String())
	}

	var js bytes.Buffer
	if err := rep.WriteJSON(&js); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if !strings.Contains(js.String(), `"value_mismatch"`) {
		t.Errorf("json = %s", js.String())
	}

	var pq bytes.Buffer
	if err := rep.WriteParquet(&pq); err != nil {
		t.Fatalf("WriteParquet: %v", err)
	}
	if pq.Len() == 0 || !bytes.HasPrefix(pq.Bytes(), []byte("PAR1")) {
		t.Errorf("parquet output is %d bytes", pq.Len())
	}
}
