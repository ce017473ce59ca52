package metadata

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool         *pgxpool.Pool
	cfg          CatalogConfig
	mu           sync.RWMutex
	datasetCache map[string]int64 // cache dataset IDs
}

// NewPostgresWriter creates a new PostgreSQL catalog writer.
func NewPostgresWriter(cfg CatalogConfig) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	// Configure connection pool
	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	w := &PostgresWriter{
		pool:         pool,
		cfg:          cfg,
		datasetCache: make(map[string]int64),
	}

	if err := w.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Println("[metadata] connected to PostgreSQL catalog")
	return w, nil
}

// initSchema creates the _meta_* tables if they don't exist.
func (w *PostgresWriter) initSchema(ctx context.Context) error {
	if _, err := w.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// EnsureDataset registers or retrieves a dataset entry.
func (w *PostgresWriter) EnsureDataset(ctx context.Context, info DatasetInfo) (int64, error) {
	if info.Namespace == "" {
		info.Namespace = w.cfg.Namespace
	}
	cacheKey := info.key()
	w.mu.RLock()
	if id, ok := w.datasetCache[cacheKey]; ok {
		w.mu.RUnlock()
		return id, nil
	}
	w.mu.RUnlock()

	query := `
		INSERT INTO _meta_datasets (namespace, catalog, version, schema_hash, description)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (namespace, catalog, version)
		DO UPDATE SET schema_hash = EXCLUDED.schema_hash, updated_at = NOW()
		RETURNING id
	`

	var id int64
	err := w.pool.QueryRow(ctx, query,
		info.Namespace,
		info.Catalog,
		info.Version,
		info.SchemaHash,
		info.Description,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure dataset: %w", err)
	}

	w.mu.Lock()
	w.datasetCache[cacheKey] = id
	w.mu.Unlock()

	return id, nil
}

// RecordPartition writes a lineage record for a published partition.
func (w *PostgresWriter) RecordPartition(ctx context.Context, rec PartitionRecord) error {
	if err := rec.validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO _meta_lineage (
			dataset_id, partition_name, row_count, byte_size, checksum,
			storage_path, storage_uri, producer_version, producer_build_id,
			source_location
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (dataset_id, partition_name)
		DO UPDATE SET
			row_count = EXCLUDED.row_count,
			byte_size = EXCLUDED.byte_size,
			checksum = EXCLUDED.checksum,
			storage_uri = EXCLUDED.storage_uri,
			created_at = NOW()
	`

	_, err := w.pool.Exec(ctx, query,
		rec.DatasetID,
		rec.Partition,
		rec.RowCount,
		rec.ByteSize,
		rec.Checksum,
		rec.StoragePath,
		nullable(rec.StorageURI),
		rec.ProducerVersion,
		nullable(rec.ProducerBuildID),
		nullable(rec.SourceLocation),
	)
	if err != nil {
		return fmt.Errorf("record partition: %w", err)
	}

	log.Printf("[metadata] recorded lineage for partition %s (%d rows)", rec.Partition, rec.RowCount)
	return nil
}

// RecordVerification stores the verdict of one comparison run.
func (w *PostgresWriter) RecordVerification(ctx context.Context, rec VerificationRecord) error {
	if err := rec.validate(); err != nil {
		return err
	}
	if rec.Namespace == "" {
		rec.Namespace = w.cfg.Namespace
	}

	query := `
		INSERT INTO _meta_verification (
			namespace, catalog, reference, candidate, passed,
			reference_rows, candidate_rows, mismatches, failures, summary
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := w.pool.Exec(ctx, query,
		rec.Namespace,
		nullable(rec.Catalog),
		rec.Reference,
		rec.Candidate,
		rec.Passed,
		rec.ReferenceRows,
		rec.CandidateRows,
		rec.Mismatches,
		rec.Failures,
		nullable(rec.Summary),
	)
	if err != nil {
		return fmt.Errorf("record verification: %w", err)
	}
	return nil
}

// PartitionExists checks if a partition has already been recorded.
func (w *PostgresWriter) PartitionExists(ctx context.Context, datasetID int64, partition string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM _meta_lineage
			WHERE dataset_id = $1 AND partition_name = $2
		)
	`

	var exists bool
	if err := w.pool.QueryRow(ctx, query, datasetID, partition).Scan(&exists); err != nil {
		return false, fmt.Errorf("check partition exists: %w", err)
	}
	return exists, nil
}

// LastChecksum returns the checksum of the most recently recorded partition.
func (w *PostgresWriter) LastChecksum(ctx context.Context, datasetID int64) (string, error) {
	query := `
		SELECT checksum FROM _meta_lineage
		WHERE dataset_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var checksum string
	err := w.pool.QueryRow(ctx, query, datasetID).Scan(&checksum)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get last checksum: %w", err)
	}
	return checksum, nil
}

// Close releases database connections.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Writer = (*PostgresWriter)(nil)
