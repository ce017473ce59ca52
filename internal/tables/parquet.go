// Package tables encodes converted catalog tables as parquet files and
// reads them back.
package tables

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// Compression codecs accepted by ParquetConfig.
const (
	CompressionSnappy = "snappy"
	CompressionZstd   = "zstd"
	CompressionGzip   = "gzip"
	CompressionNone   = "none"
)

// DefaultRowGroupSize bounds rows per row group.
const DefaultRowGroupSize = 64 * 1024

// ParquetConfig controls how tables are written.
type ParquetConfig struct {
	Compression  string
	RowGroupSize int64
}

// DefaultParquetConfig returns snappy compression and the default row
// group size.
func DefaultParquetConfig() ParquetConfig {
	return ParquetConfig{Compression: CompressionSnappy, RowGroupSize: DefaultRowGroupSize}
}

// Validate reports an unknown compression codec.
func (c ParquetConfig) Validate() error {
	_, err := c.codec()
	return err
}

func (c ParquetConfig) codec() (compress.Compression, error) {
	switch strings.ToLower(c.Compression) {
	case "", CompressionSnappy:
		return compress.Codecs.Snappy, nil
	case CompressionZstd:
		return compress.Codecs.Zstd, nil
	case CompressionGzip:
		return compress.Codecs.Gzip, nil
	case CompressionNone, "uncompressed":
		return compress.Codecs.Uncompressed, nil
	}
	return compress.Codecs.Uncompressed, fmt.Errorf("unknown parquet compression %q", c.Compression)
}

// EncodeParquet writes rec as a single parquet file. The Arrow schema,
// including catalog and group metadata, is stored in the file so that
// DecodeParquet restores the exact column types.
func EncodeParquet(rec arrow.Record, cfg ParquetConfig) ([]byte, error) {
	return EncodeParquetBatches([]arrow.Record{rec}, cfg)
}

// EncodeParquetBatches writes recs, which must share one schema, into a
// single parquet file in order.
func EncodeParquetBatches(recs []arrow.Record, cfg ParquetConfig) ([]byte, error) {
	if len(recs) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}
	codec, err := cfg.codec()
	if err != nil {
		return nil, err
	}
	rowGroup := cfg.RowGroupSize
	if rowGroup <= 0 {
		rowGroup = DefaultRowGroupSize
	}
	props := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithMaxRowGroupLength(rowGroup),
	)
	arrProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	sc := recs[0].Schema()
	var buf bytes.Buffer
	w, err := pqarrow.NewFileWriter(sc, &buf, props, arrProps)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	for i, rec := range recs {
		if !rec.Schema().Equal(sc) {
			w.Close()
			return nil, fmt.Errorf("batch %d: schema differs from batch 0", i)
		}
		if err := w.Write(rec); err != nil {
			w.Close()
			return nil, fmt.Errorf("write batch %d: %w", i, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeParquet reads a parquet file into one record. Chunks are
// concatenated. The caller releases the result.
func DecodeParquet(ctx context.Context, data []byte, mem memory.Allocator) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	tbl, err := pqarrow.ReadTable(ctx, bytes.NewReader(data), parquet.NewReaderProperties(mem),
		pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	defer tbl.Release()

	cols := make([]arrow.Array, tbl.NumCols())
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()
	for i := range cols {
		col := tbl.Column(i)
		chunks := col.Data().Chunks()
		switch len(chunks) {
		case 0:
			b := array.NewBuilder(mem, col.DataType())
			cols[i] = b.NewArray()
			b.Release()
		case 1:
			chunks[0].Retain()
			cols[i] = chunks[0]
		default:
			joined, err := array.Concatenate(chunks, mem)
			if err != nil {
				return nil, fmt.Errorf("concatenate column %s: %w", col.Name(), err)
			}
			cols[i] = joined
		}
	}
	return array.NewRecord(tbl.Schema(), cols, tbl.NumRows()), nil
}
