package pipeline

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/withObsrvr/mmu-to-hats/internal/metadata"
	"github.com/withObsrvr/mmu-to-hats/internal/source"
	"github.com/withObsrvr/mmu-to-hats/internal/storage"
	"github.com/withObsrvr/mmu-to-hats/internal/tables"
)

// writeAtomic writes parquet and manifest files atomically using temp files.
// If any step fails, all temp files are cleaned up.
func writeAtomic(ctx context.Context, store storage.AtomicStore, ref storage.TableRef, parquetData []byte, manifest *storage.Manifest) error {
	var tempKeys []string

	tempParquet, err := store.WriteParquetTemp(ctx, ref, parquetData)
	if err != nil {
		return fmt.Errorf("write parquet temp: %w", err)
	}
	tempKeys = append(tempKeys, tempParquet)

	tempManifest, err := store.WriteManifestTemp(ctx, ref, manifest)
	if err != nil {
		store.Abort(ctx, tempKeys)
		return fmt.Errorf("write manifest temp: %w", err)
	}
	tempKeys = append(tempKeys, tempManifest)

	if err := ctx.Err(); err != nil {
		store.Abort(ctx, tempKeys)
		return err
	}

	// Finalize handles its own cleanup on failure
	if err := store.Finalize(ctx, ref, tempKeys); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	return nil
}

// buildManifest describes the partition directory.
func buildManifest(out *tables.Output, ref storage.TableRef, part source.Partition, producer storage.ProducerInfo) *storage.Manifest {
	return &storage.Manifest{
		Partition: storage.PartitionInfo{
			Catalog:    ref.Catalog,
			Version:    ref.Version,
			Name:       ref.Partition,
			Source:     part.Key,
			SchemaHash: out.SchemaHash,
		},
		Tables: map[string]storage.TableInfo{
			ref.Catalog: {
				File:     path.Base(ref.Path("")),
				Checksum: out.Checksum,
				RowCount: out.RowCount,
				ByteSize: out.ByteSize(),
			},
		},
		Producer:  producer,
		CreatedAt: time.Now().UTC(),
	}
}

func buildLineageRecord(datasetID int64, out *tables.Output, ref storage.TableRef, uri string, part source.Partition, producer storage.ProducerInfo) metadata.PartitionRecord {
	return metadata.PartitionRecord{
		DatasetID:       datasetID,
		Partition:       ref.Partition,
		RowCount:        out.RowCount,
		ByteSize:        out.ByteSize(),
		Checksum:        out.Checksum,
		StoragePath:     ref.Path(""),
		StorageURI:      uri,
		ProducerVersion: producer.Version,
		ProducerBuildID: producer.BuildID,
		SourceLocation:  part.Key,
	}
}
