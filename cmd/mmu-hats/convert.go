package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"text/tabwriter"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/withObsrvr/mmu-to-hats/internal/audit"
	"github.com/withObsrvr/mmu-to-hats/internal/catalog"
	"github.com/withObsrvr/mmu-to-hats/internal/config"
	"github.com/withObsrvr/mmu-to-hats/internal/metadata"
	"github.com/withObsrvr/mmu-to-hats/internal/pipeline"
	"github.com/withObsrvr/mmu-to-hats/internal/source"
	"github.com/withObsrvr/mmu-to-hats/internal/storage"
	"github.com/withObsrvr/mmu-to-hats/internal/tables"
)

func runConvert(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	fs.SetOutput(stderr)
	name := fs.String("catalog", "", "catalog to convert (see 'mmu-hats catalogs')")
	sourceURL := fs.String("source", cfg.Source.URL, "record source: directory, file://, gs:// or s3:// URL")
	prefix := fs.String("prefix", cfg.Source.Prefix, "key prefix of the record files (default <catalog>/)")
	workers := fs.Int("workers", cfg.Perf.MaxInFlightPartitions, "partitions converted concurrently")
	batchSize := fs.Int("batch-size", cfg.Convert.BatchSize, "records per conversion batch, 0 for whole partitions")
	overwrite := fs.Bool("overwrite", cfg.Convert.AllowOverwrite, "republish partitions that already exist")
	version := fs.String("version", cfg.Convert.VersionLabel, "output version label")
	compression := fs.String("compression", cfg.Convert.ParquetCompression, "parquet codec: snappy, zstd, gzip or none")
	outDir := fs.String("out", "", "write tables under this local directory instead of the configured store")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *name == "" || *sourceURL == "" || fs.NArg() != 0 {
		fmt.Fprintln(stderr, "usage: mmu-hats convert -catalog <name> -source <url> [flags]")
		return exitUsage
	}
	if *workers < 1 || *batchSize < 0 {
		fmt.Fprintln(stderr, "mmu-hats: -workers must be at least 1 and -batch-size not negative")
		return exitUsage
	}

	parquetCfg := tables.ParquetConfig{Compression: *compression, RowGroupSize: tables.DefaultRowGroupSize}
	if err := parquetCfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "mmu-hats: %v\n", err)
		return exitUsage
	}

	conv, err := catalog.Open(*name, memory.NewGoAllocator())
	if err != nil {
		fmt.Fprintf(stderr, "mmu-hats: %v\n", err)
		return exitUsage
	}
	if *prefix == "" {
		*prefix = conv.DeclareSchema().Catalog + "/"
	}

	src, err := source.NewBlobSource(ctx, *sourceURL, *prefix)
	if err != nil {
		fmt.Fprintf(stderr, "mmu-hats: %v\n", err)
		return exitUsage
	}
	defer src.Close()

	storeCfg := storage.StorageConfig{
		Backend:    cfg.Storage.Backend,
		LocalDir:   cfg.Storage.LocalDir,
		Bucket:     cfg.Storage.Bucket,
		S3Endpoint: cfg.Storage.S3Endpoint,
		S3Region:   cfg.Storage.S3Region,
		Prefix:     cfg.Storage.Prefix,
	}
	if *outDir != "" {
		storeCfg.Backend = "local"
		storeCfg.LocalDir = *outDir
	}
	store, err := storage.NewAtomicStore(storeCfg)
	if err != nil {
		fmt.Fprintf(stderr, "mmu-hats: create storage: %v\n", err)
		return exitUsage
	}
	defer store.Close()

	meta, err := metadata.NewWriter(metadata.CatalogConfig{
		PostgresDSN: cfg.Catalog.PostgresDSN,
		Namespace:   cfg.Catalog.Namespace,
	})
	if err != nil {
		// Lineage is advisory; conversion goes ahead without it.
		log.Printf("[main] metadata catalog unavailable: %v", err)
		meta = metadata.NoopWriter()
	}
	defer meta.Close()

	auditor := audit.NewEmitter(audit.Config{
		Enabled:  cfg.Audit.Enabled,
		Endpoint: cfg.Audit.Endpoint,
		Dir:      cfg.Audit.Dir,
	})
	defer auditor.Close()

	p := pipeline.New(pipeline.Config{
		Version:   *version,
		Namespace: cfg.Catalog.Namespace,
		Workers:   *workers,
		BatchSize: *batchSize,
		Overwrite: *overwrite,
		Backend:   storeCfg.Backend,
		Parquet:   parquetCfg,
		Producer:  storage.ProducerInfo{Name: "mmu-hats", Version: Version, BuildID: GitSHA},
	}, conv, src, store, meta).WithAudit(auditor)

	results, err := p.Run(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "mmu-hats: convert %s: %v\n", *name, err)
		if ctx.Err() != nil {
			return exitFail
		}
		return exitUsage
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PARTITION\tSTATUS\tROWS\tBYTES\tLOCATION")
	for _, r := range results {
		loc := r.URI
		if r.Err != nil {
			loc = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", r.Partition, r.Status, r.RowCount, r.ByteSize, loc)
	}
	tw.Flush()

	s := pipeline.Summarize(results)
	fmt.Fprintf(stdout, "%d published, %d skipped, %d failed, %d rows\n", s.Published, s.Skipped, s.Failed, s.Rows)
	if s.Failed > 0 {
		return exitFail
	}
	return exitOK
}
