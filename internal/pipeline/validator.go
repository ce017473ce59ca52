package pipeline

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/withObsrvr/mmu-to-hats/internal/tables"
)

var parquetMagic = []byte("PAR1")

// ValidationResult contains the outcome of partition validation.
type ValidationResult struct {
	Passed   bool
	Errors   []string
	Warnings []string
	RowCount int64
	ByteSize int64
}

// Error joins the validation errors.
func (v ValidationResult) Error() string {
	return strings.Join(v.Errors, "; ")
}

// ValidateOutput performs quality checks on a converted partition before
// publish:
//   - the parquet payload is non-empty and framed by the parquet magic
//   - the checksum is present, well formed and matches the payload
//   - the table holds exactly one row per source record
func ValidateOutput(out *tables.Output, records int) ValidationResult {
	result := ValidationResult{Passed: true}
	fail := func(format string, args ...any) {
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
		result.Passed = false
	}

	if out == nil {
		fail("no parquet output provided")
		return result
	}
	result.RowCount = out.RowCount
	result.ByteSize = out.ByteSize()

	if len(out.Parquet) == 0 {
		fail("empty parquet data for partition %s", out.Partition)
	} else if !bytes.HasPrefix(out.Parquet, parquetMagic) || !bytes.HasSuffix(out.Parquet, parquetMagic) {
		fail("parquet data for partition %s is not framed by PAR1", out.Partition)
	}

	switch {
	case out.Checksum == "":
		fail("missing checksum for partition %s", out.Partition)
	case !strings.HasPrefix(out.Checksum, tables.ChecksumPrefix):
		fail("checksum for %s is in non-standard format: %.20s", out.Partition, out.Checksum)
	case !tables.VerifyChecksum(out.Parquet, out.Checksum):
		fail("checksum for %s does not match its payload", out.Partition)
	}

	if out.RowCount != int64(records) {
		fail("row count mismatch: table has %d rows, source had %d records", out.RowCount, records)
	}
	if out.RowCount == 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("partition %s is empty", out.Partition))
	}
	if out.SchemaHash == "" {
		result.Warnings = append(result.Warnings, fmt.Sprintf("partition %s has no schema hash", out.Partition))
	}
	return result
}
