package tables

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/withObsrvr/mmu-to-hats/internal/schema"
)

// Output is one converted partition ready to publish.
type Output struct {
	Catalog    string
	Partition  string
	Parquet    []byte
	Checksum   string
	RowCount   int64
	SchemaHash string
}

// ByteSize is the encoded file size.
func (o Output) ByteSize() int64 { return int64(len(o.Parquet)) }

// NewOutput encodes rec and fingerprints it against the declaration that
// produced it.
func NewOutput(declared schema.Schema, partition string, rec arrow.Record, cfg ParquetConfig) (*Output, error) {
	return NewBatchedOutput(declared, partition, []arrow.Record{rec}, cfg)
}

// NewBatchedOutput encodes several converted batches of one partition into
// a single file.
func NewBatchedOutput(declared schema.Schema, partition string, recs []arrow.Record, cfg ParquetConfig) (*Output, error) {
	data, err := EncodeParquetBatches(recs, cfg)
	if err != nil {
		return nil, fmt.Errorf("encode %s/%s: %w", declared.Catalog, partition, err)
	}
	var rows int64
	for _, rec := range recs {
		rows += rec.NumRows()
	}
	return &Output{
		Catalog:    declared.Catalog,
		Partition:  partition,
		Parquet:    data,
		Checksum:   ComputeChecksum(data),
		RowCount:   rows,
		SchemaHash: declared.Hash(),
	}, nil
}
