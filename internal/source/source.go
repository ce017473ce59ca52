// Package source lists and reads per-object survey record partitions.
package source

import (
	"context"
	"errors"

	"github.com/withObsrvr/mmu-to-hats/internal/record"
)

// ErrNoPartitions is returned when a source holds no record files.
var ErrNoPartitions = errors.New("no record partitions found")

// Partition is one record file.
type Partition struct {
	Key        string // object key within the source
	Name       string // key without prefix and suffix
	Compressed bool   // zstd
	Size       int64
}

// RecordSource lists partitions and reads each as one batch.
type RecordSource interface {
	List(ctx context.Context) ([]Partition, error)
	// ReadBatch returns the partition's records in file order.
	ReadBatch(ctx context.Context, p Partition) ([]record.Record, error)
	Close() error
}
