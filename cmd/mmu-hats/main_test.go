package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/withObsrvr/mmu-to-hats/internal/config"
	"github.com/withObsrvr/mmu-to-hats/internal/storage"
	"github.com/withObsrvr/mmu-to-hats/internal/tables"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load(func(string) string { return "" })
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), testConfig(t), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// writeTable writes a two-column parquet table and returns its path.
func writeTable(t *testing.T, dir, name string, ids []int64, ra []float64) string {
	t.Helper()
	mem := memory.NewGoAllocator()
	sc := arrow.NewSchema([]arrow.Field{
		{Name: "object_id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "ra", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, nil)
	b := array.NewRecordBuilder(mem, sc)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).AppendValues(ids, nil)
	b.Field(1).(*array.Float64Builder).AppendValues(ra, nil)
	rec := b.NewRecord()
	defer rec.Release()

	data, err := tables.EncodeParquet(rec, tables.DefaultParquetConfig())
	if err != nil {
		t.Fatalf("EncodeParquet: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunDispatch(t *testing.T) {
	tests := []struct {
		args []string
		code int
		out  string
	}{
		{nil, exitUsage, ""},
		{[]string{"nope"}, exitUsage, ""},
		{[]string{"help"}, exitOK, "usage: mmu-hats"},
		{[]string{"version"}, exitOK, "mmu-hats dev"},
		{[]string{"catalogs"}, exitOK, "gaia\n"},
		{[]string{"schema", "gaia"}, exitOK, "object_id"},
		{[]string{"schema", "-arrow", "gaia"}, exitOK, "spectral_coefficients"},
		{[]string{"schema", "no_such_catalog"}, exitUsage, ""},
		{[]string{"schema"}, exitUsage, ""},
		{[]string{"convert"}, exitUsage, ""},
		{[]string{"verify", "only-one"}, exitUsage, ""},
		{[]string{"conform", "x.parquet"}, exitUsage, ""},
	}
	for _, tt := range tests {
		code, out, _ := runCLI(t, tt.args...)
		if code != tt.code {
			t.Errorf("run(%q) = %d, want %d", tt.args, code, tt.code)
		}
		if tt.out != "" && !strings.Contains(out, tt.out) {
			t.Errorf("run(%q) output %q lacks %q", tt.args, out, tt.out)
		}
	}
}

func TestVerifyCommand(t *testing.T) {
	dir := t.TempDir()
	ref := writeTable(t, dir, "ref.parquet", []int64{1, 2, 3}, []float64{10, 20, 30})
	same := writeTable(t, dir, "same.parquet", []int64{1, 2, 3}, []float64{10, 20, 30})
	shuffled := writeTable(t, dir, "shuffled.parquet", []int64{3, 1, 2}, []float64{30, 10, 20})
	drift := writeTable(t, dir, "drift.parquet", []int64{1, 2, 3}, []float64{10, 20, 30.5})

	tests := []struct {
		name string
		args []string
		code int
		out  string
	}{
		{"identical", []string{ref, same}, exitOK, "PASS"},
		{"perturbed", []string{ref, drift}, exitFail, "value_mismatch"},
		{"tolerated", []string{"-tolerance", "1", ref, drift}, exitOK, "PASS"},
		{"allowed", []string{"-allow", "ra", ref, drift}, exitOK, "(allowed)"},
		{"unsorted", []string{ref, shuffled}, exitFail, "FAIL"},
		{"sorted", []string{"-sort-by", "object_id", ref, shuffled}, exitOK, "PASS"},
		{"json", []string{"-json", ref, same}, exitOK, `"mismatches": []`},
		{"negative tolerance", []string{"-tolerance", "-1", ref, same}, exitUsage, ""},
		{"missing file", []string{ref, filepath.Join(dir, "absent.parquet")}, exitUsage, ""},
		{"bad sort column", []string{"-sort-by", "nope", ref, same}, exitUsage, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out, errOut := runCLI(t, append([]string{"verify"}, tt.args...)...)
			if code != tt.code {
				t.Fatalf("exit = %d, want %d\nstdout: %s\nstderr: %s", code, tt.code, out, errOut)
			}
			if tt.out != "" && !strings.Contains(out, tt.out) {
				t.Errorf("output lacks %q:\n%s", tt.out, out)
			}
		})
	}
}

func TestVerifyConfigFile(t *testing.T) {
	dir := t.TempDir()
	ref := writeTable(t, dir, "ref.parquet", []int64{1}, []float64{10})
	drift := writeTable(t, dir, "drift.parquet", []int64{1}, []float64{10.5})
	cfgPath := filepath.Join(dir, "verify.yaml")
	if err := os.WriteFile(cfgPath, []byte("allowed_mismatch_columns: [ra]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if code, out, _ := runCLI(t, "verify", "-config", cfgPath, ref, drift); code != exitOK {
		t.Errorf("exit = %d, want %d\n%s", code, exitOK, out)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("no_such_option: true\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if code, _, _ := runCLI(t, "verify", "-config", bad, ref, drift); code != exitUsage {
		t.Errorf("unknown option exit = %d, want %d", code, exitUsage)
	}
}

func TestVerifyParquetReport(t *testing.T) {
	dir := t.TempDir()
	ref := writeTable(t, dir, "ref.parquet", []int64{1, 2}, []float64{1, 2})
	drift := writeTable(t, dir, "drift.parquet", []int64{1, 2}, []float64{1, 3})
	out := filepath.Join(dir, "report.parquet")
	if code, _, _ := runCLI(t, "verify", "-parquet", out, ref, drift); code != exitFail {
		t.Fatalf("exit = %d, want %d", code, exitFail)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("PAR1")) {
		t.Error("report is not a parquet file")
	}
}

func TestConvertThenVerify(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "gaia"), 0755); err != nil {
		t.Fatal(err)
	}
	body := `{"source_id": 10, "ra": 44.99, "dec": 0.005, "coeff": [1.5, 2.5, 3.5], "coeff_error": [0.1, 0.2, 0.3]}
{"source_id": 11, "ra": 45.01, "dec": -0.5}
`
	if err := os.WriteFile(filepath.Join(src, "gaia", "healpix=7.jsonl"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	code, stdout, stderr := runCLI(t, "convert", "-catalog", "gaia", "-source", src, "-out", out)
	if code != exitOK {
		t.Fatalf("convert exit = %d\nstdout: %s\nstderr: %s", code, stdout, stderr)
	}
	if !strings.Contains(stdout, "1 published, 0 skipped, 0 failed, 2 rows") {
		t.Errorf("convert summary:\n%s", stdout)
	}

	ref := storage.TableRef{Catalog: "gaia", Version: "v1", Partition: "healpix=7"}
	table := filepath.Join(out, ref.Path("hats/"))
	if _, err := os.Stat(table); err != nil {
		t.Fatalf("table not published: %v", err)
	}

	if code, stdout, _ := runCLI(t, "convert", "-catalog", "gaia", "-source", src, "-out", out); code != exitOK || !strings.Contains(stdout, "skipped") {
		t.Errorf("rerun exit = %d\n%s", code, stdout)
	}
	if code, stdout, _ := runCLI(t, "conform", "-catalog", "gaia", table); code != exitOK {
		t.Errorf("conform exit = %d\n%s", code, stdout)
	}
	if code, stdout, _ := runCLI(t, "verify", "-catalog", "gaia", table, table); code != exitOK {
		t.Errorf("self verify exit = %d\n%s", code, stdout)
	}
	if code, _, stderr := runCLI(t, "verify", "-catalog", "gaia", "-forbid", "not_a_gaia_column", table, table); code != exitUsage {
		t.Errorf("unknown forbidden column exit = %d, want %d\n%s", code, exitUsage, stderr)
	}
	if code, stdout, _ := runCLI(t, "verify", "-catalog", "gaia", "-forbid", "legacy_*", table, table); code != exitOK {
		t.Errorf("forbidden pattern exit = %d\n%s", code, stdout)
	}
	if code, _, _ := runCLI(t, "convert", "-catalog", "gaia", "-source", src, "-out", out, "-compression", "lz9"); code != exitUsage {
		t.Errorf("bad compression exit = %d, want %d", code, exitUsage)
	}
}
