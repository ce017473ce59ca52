package pipeline

import (
	"strings"
	"testing"

	"github.com/withObsrvr/mmu-to-hats/internal/tables"
)

func validOutput() *tables.Output {
	data := []byte("PAR1 fake parquet body PAR1")
	return &tables.Output{
		Catalog:    "gaia",
		Partition:  "healpix=1",
		Parquet:    data,
		Checksum:   tables.ComputeChecksum(data),
		RowCount:   5,
		SchemaHash: "0123456789abcdef",
	}
}

func TestValidateOutput_Valid(t *testing.T) {
	result := ValidateOutput(validOutput(), 5)
	if !result.Passed {
		t.Errorf("valid output should pass. Errors: %v", result.Errors)
	}
	if len(result.Warnings) > 0 {
		t.Errorf("no warnings expected, got: %v", result.Warnings)
	}
	if result.RowCount != 5 || result.ByteSize != int64(len(validOutput().Parquet)) {
		t.Errorf("result = %+v", result)
	}
}

func TestValidateOutput_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *tables.Output)
		records int
		want    string
	}{
		{"row count", func(o *tables.Output) {}, 4, "row count mismatch"},
		{"empty parquet", func(o *tables.Output) { o.Parquet = nil; o.Checksum = tables.ComputeChecksum(nil) }, 5, "empty parquet"},
		{"not parquet", func(o *tables.Output) {
			o.Parquet = []byte("garbage")
			o.Checksum = tables.ComputeChecksum(o.Parquet)
		}, 5, "PAR1"},
		{"missing checksum", func(o *tables.Output) { o.Checksum = "" }, 5, "missing checksum"},
		{"bad format", func(o *tables.Output) { o.Checksum = "md5:abc" }, 5, "non-standard"},
		{"stale checksum", func(o *tables.Output) { o.Checksum = tables.ComputeChecksum([]byte("other")) }, 5, "does not match"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := validOutput()
			tt.mutate(out)
			result := ValidateOutput(out, tt.records)
			if result.Passed {
				t.Fatal("should fail validation")
			}
			if !strings.Contains(result.Error(), tt.want) {
				t.Errorf("errors %v, want one containing %q", result.Errors, tt.want)
			}
		})
	}
}

func TestValidateOutput_Nil(t *testing.T) {
	if ValidateOutput(nil, 0).Passed {
		t.Error("nil output should fail")
	}
}

func TestValidateOutput_Warnings(t *testing.T) {
	out := validOutput()
	out.RowCount = 0
	out.SchemaHash = ""
	result := ValidateOutput(out, 0)
	if !result.Passed {
		t.Errorf("empty partition should still pass: %v", result.Errors)
	}
	if len(result.Warnings) != 2 {
		t.Errorf("warnings = %v, want 2", result.Warnings)
	}
}
