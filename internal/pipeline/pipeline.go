// Package pipeline converts every partition of a record source with one
// catalog converter and publishes the tables to a store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"golang.org/x/sync/errgroup"

	"github.com/withObsrvr/mmu-to-hats/internal/audit"
	"github.com/withObsrvr/mmu-to-hats/internal/logging"
	"github.com/withObsrvr/mmu-to-hats/internal/metadata"
	"github.com/withObsrvr/mmu-to-hats/internal/metrics"
	"github.com/withObsrvr/mmu-to-hats/internal/record"
	"github.com/withObsrvr/mmu-to-hats/internal/schema"
	"github.com/withObsrvr/mmu-to-hats/internal/source"
	"github.com/withObsrvr/mmu-to-hats/internal/storage"
	"github.com/withObsrvr/mmu-to-hats/internal/tables"
	"github.com/withObsrvr/mmu-to-hats/internal/transform"
)

// Config controls one conversion run.
type Config struct {
	Version   string // output version label, e.g. "v1"
	Namespace string // metadata namespace
	Workers   int    // partitions converted concurrently
	BatchSize int    // records per Convert call; 0 converts a partition at once
	Overwrite bool   // republish partitions already in the store
	Backend   string // storage backend name, for metrics
	Parquet   tables.ParquetConfig
	Producer  storage.ProducerInfo
}

// Pipeline implements the list → convert → validate → publish flow.
// Partitions are independent; up to Workers are in flight at once.
type Pipeline struct {
	cfg      Config
	conv     transform.Transformer
	declared schema.Schema
	src      source.RecordSource
	store    storage.AtomicStore
	meta     metadata.Writer
	audit    audit.Emitter
	log      *slog.Logger

	inFlight atomic.Int64
}

// New creates a pipeline. A nil meta writer records nothing.
func New(cfg Config, conv transform.Transformer, src source.RecordSource, store storage.AtomicStore, meta metadata.Writer) *Pipeline {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Version == "" {
		cfg.Version = "v1"
	}
	if cfg.Parquet.Compression == "" {
		cfg.Parquet = tables.DefaultParquetConfig()
	}
	if meta == nil {
		meta = metadata.NoopWriter()
	}
	declared := conv.DeclareSchema()
	return &Pipeline{
		cfg:      cfg,
		conv:     conv,
		declared: declared,
		src:      src,
		store:    store,
		meta:     meta,
		audit:    audit.NewEmitter(audit.Config{}),
		log:      logging.Component("pipeline").With("catalog", declared.Catalog),
	}
}

// WithAudit makes Run emit an audit event for every published partition.
func (p *Pipeline) WithAudit(e audit.Emitter) *Pipeline {
	if e != nil {
		p.audit = e
	}
	return p
}

// Run converts every partition the source lists. Per-partition failures
// are reported in the results, in source order; Run itself fails only when
// listing fails or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) ([]Result, error) {
	parts, err := p.src.List(ctx)
	if err != nil {
		if m := metrics.Get(); m != nil {
			m.IncSourceErrors(p.labels())
		}
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	declared := p.declared
	datasetID, err := p.meta.EnsureDataset(ctx, metadata.DatasetInfo{
		Namespace:   p.cfg.Namespace,
		Catalog:     declared.Catalog,
		Version:     p.cfg.Version,
		SchemaHash:  declared.Hash(),
		Description: fmt.Sprintf("%s tables, declaration %s", declared.Catalog, declared.Version),
	})
	if err != nil {
		p.log.Warn("dataset registration failed, lineage disabled", "error", err)
		if m := metrics.Get(); m != nil {
			m.IncMetadataErrors(p.labels())
		}
		datasetID = 0
	}

	p.log.Info("starting conversion", "partitions", len(parts), "workers", p.cfg.Workers)
	start := time.Now()

	results := make([]Result, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, part := range parts {
		g.Go(func() error {
			results[i] = p.process(gctx, part, datasetID)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	p.emitAudit(ctx, results)

	s := Summarize(results)
	p.log.Info("conversion finished",
		"published", s.Published,
		"skipped", s.Skipped,
		"failed", s.Failed,
		"rows", s.Rows,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}

// process handles one partition end to end and never returns an error;
// failures are captured in the Result.
func (p *Pipeline) process(ctx context.Context, part source.Partition, datasetID int64) (res Result) {
	declared := p.declared
	correlationID := logging.GenerateCorrelationID()
	ctx = logging.WithCorrelationID(ctx, correlationID)
	log := logging.PartitionLogger(correlationID, declared.Catalog, p.cfg.Version, part.Name)

	res = Result{Partition: part.Name, Source: part.Key}
	started := time.Now()
	defer func() { res.Duration = time.Since(started) }()

	if m := metrics.Get(); m != nil {
		m.SetInFlightPartitions(float64(p.inFlight.Add(1)))
		defer func() { m.SetInFlightPartitions(float64(p.inFlight.Add(-1))) }()
	}

	ref := storage.TableRef{Catalog: declared.Catalog, Version: p.cfg.Version, Partition: part.Name}
	if !p.cfg.Overwrite {
		exists, err := p.store.Exists(ctx, ref)
		if err != nil {
			log.Warn("existence check failed", "error", err)
		} else if exists {
			log.Info("skipping partition (exists in storage)")
			if m := metrics.Get(); m != nil {
				m.IncPartitionsSkipped(p.labels())
			}
			res.Status = StatusSkipped
			res.URI = p.store.URI(ref.Path(""))
			return res
		}
	}

	out, records, err := p.convert(ctx, part)
	if err != nil {
		log.Error("conversion failed", "error", err)
		return p.failed(res, err)
	}

	v := ValidateOutput(out, records)
	for _, w := range v.Warnings {
		log.Warn("validation warning", "warning", w)
	}
	if !v.Passed {
		return p.failed(res, fmt.Errorf("%w: %s", ErrValidation, v.Error()))
	}
	convertElapsed := time.Since(started)

	uploadStart := time.Now()
	manifest := buildManifest(out, ref, part, p.cfg.Producer)
	if err := writeAtomic(ctx, p.store, ref, out.Parquet, manifest); err != nil {
		if m := metrics.Get(); m != nil {
			l := p.labels()
			l.Backend = p.cfg.Backend
			m.IncStorageErrors(l)
		}
		return p.failed(res, fmt.Errorf("publish: %w", err))
	}
	uploadElapsed := time.Since(uploadStart)

	res.Status = StatusPublished
	res.RowCount = out.RowCount
	res.ByteSize = out.ByteSize()
	res.Checksum = out.Checksum
	res.URI = p.store.URI(ref.Path(""))

	if datasetID > 0 {
		rec := buildLineageRecord(datasetID, out, ref, res.URI, part, p.cfg.Producer)
		if err := p.meta.RecordPartition(ctx, rec); err != nil {
			log.Warn("failed to record lineage", "error", err)
			if m := metrics.Get(); m != nil {
				m.IncMetadataErrors(p.labels())
			}
		}
	}

	log.Info("published partition",
		"rows", out.RowCount,
		"bytes", out.ByteSize(),
		"checksum", out.Checksum,
		"convert_ms", convertElapsed.Milliseconds(),
		"upload_ms", uploadElapsed.Milliseconds(),
	)
	if m := metrics.Get(); m != nil {
		l := p.labels()
		m.IncPartitionsProcessed(l)
		m.ObservePartitionConvertDuration(l, convertElapsed.Seconds())
		m.ObservePartitionUploadDuration(l, uploadElapsed.Seconds())
		m.ObservePartitionCommitDuration(l, time.Since(started).Seconds())
		m.ObservePartitionRows(l, float64(out.RowCount))
		m.ObservePartitionBytes(l, float64(out.ByteSize()))
	}
	return res
}

// emitAudit records published partitions in source order, which keeps
// the audit chain independent of worker scheduling. Audit failures are
// logged; the tables are already published.
func (p *Pipeline) emitAudit(ctx context.Context, results []Result) {
	for _, r := range results {
		if r.Status != StatusPublished {
			continue
		}
		ref := storage.TableRef{Catalog: p.declared.Catalog, Version: p.cfg.Version, Partition: r.Partition}
		_, err := p.audit.Emit(ctx, audit.Publication{
			Catalog:      ref.Catalog,
			VersionLabel: ref.Version,
			Partition:    r.Partition,
			Source:       r.Source,
			SchemaHash:   p.declared.Hash(),
			Checksum:     r.Checksum,
			RowCount:     r.RowCount,
			ByteSize:     r.ByteSize,
			StoragePath:  ref.Path(""),
			Producer: audit.ProducerInfo{
				Name:    p.cfg.Producer.Name,
				Version: p.cfg.Producer.Version,
				BuildID: p.cfg.Producer.BuildID,
			},
		})
		if err != nil {
			p.log.Warn("audit event not recorded", "partition", r.Partition, "error", err)
			if m := metrics.Get(); m != nil {
				m.IncMetadataErrors(p.labels())
			}
		}
	}
}

// convert reads the partition and converts it batch by batch into one
// encoded table. It returns the number of source records.
func (p *Pipeline) convert(ctx context.Context, part source.Partition) (*tables.Output, int, error) {
	batch, err := p.src.ReadBatch(ctx, part)
	if err != nil {
		if m := metrics.Get(); m != nil {
			m.IncSourceErrors(p.labels())
		}
		return nil, 0, fmt.Errorf("read %s: %w", part.Key, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	var recs []arrow.Record
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()
	off := 0
	for _, chunk := range chunks(batch, p.cfg.BatchSize) {
		rec, err := p.conv.Convert(chunk)
		if err != nil {
			var v *transform.ViolationError
			if errors.As(err, &v) {
				// Report the record's position in the partition, not the chunk.
				v.Record += off
				if m := metrics.Get(); m != nil {
					m.IncSchemaViolations(p.labels(), v.Column)
				}
			}
			return nil, 0, err
		}
		recs = append(recs, rec)
		off += len(chunk)
		if m := metrics.Get(); m != nil {
			m.AddBatch(p.labels(), float64(rec.NumRows()))
		}
	}

	out, err := tables.NewBatchedOutput(p.declared, part.Name, recs, p.cfg.Parquet)
	if err != nil {
		return nil, 0, err
	}
	return out, len(batch), nil
}

// chunks splits batch into runs of at most size records. An empty batch
// still yields one (empty) chunk so the partition gets a table.
func chunks(batch []record.Record, size int) [][]record.Record {
	if size <= 0 || len(batch) <= size {
		return [][]record.Record{batch}
	}
	var out [][]record.Record
	for lo := 0; lo < len(batch); lo += size {
		out = append(out, batch[lo:min(lo+size, len(batch))])
	}
	return out
}

func (p *Pipeline) failed(res Result, err error) Result {
	res.Status = StatusFailed
	res.Err = err
	if m := metrics.Get(); m != nil {
		m.IncPartitionsFailed(p.labels())
	}
	return res
}

// labels returns the standard metric labels for this pipeline.
func (p *Pipeline) labels() metrics.Labels {
	return metrics.Labels{
		Catalog: p.declared.Catalog,
		Version: p.cfg.Version,
	}
}
