package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// TableRef describes a versioned catalog partition location.
type TableRef struct {
	Catalog   string // "gaia" | "plasticc" | ...
	Version   string // "v1"
	Partition string // source partition name, e.g. "healpix=1234"
}

// Path returns the storage path for this partition's parquet file.
func (r TableRef) Path(prefix string) string {
	return fmt.Sprintf("%s%s/%s/%s/part-%s.parquet",
		prefix, r.Catalog, r.Version, r.Partition, r.Partition)
}

// ManifestPath returns the storage path for this partition's manifest.
func (r TableRef) ManifestPath(prefix string) string {
	return fmt.Sprintf("%s%s/%s/%s/_manifest.json",
		prefix, r.Catalog, r.Version, r.Partition)
}

// DirPath returns the directory path for this partition.
func (r TableRef) DirPath(prefix string) string {
	return fmt.Sprintf("%s%s/%s/%s", prefix, r.Catalog, r.Version, r.Partition)
}

// Manifest describes the contents of a partition directory.
type Manifest struct {
	Partition PartitionInfo        `json:"partition"`
	Tables    map[string]TableInfo `json:"tables"`
	Producer  ProducerInfo         `json:"producer"`
	CreatedAt time.Time            `json:"created_at"`
}

// PartitionInfo identifies the converted partition.
type PartitionInfo struct {
	Catalog    string `json:"catalog"`
	Version    string `json:"version"`
	Name       string `json:"name"`
	Source     string `json:"source"`
	SchemaHash string `json:"schema_hash"`
}

// TableInfo describes a single table in the partition.
type TableInfo struct {
	File     string `json:"file"`
	Checksum string `json:"checksum"`
	RowCount int64  `json:"row_count"`
	ByteSize int64  `json:"byte_size"`
}

// ProducerInfo describes the software that produced the partition.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	BuildID string `json:"build_id,omitempty"`
}

// MarshalJSON returns the manifest as JSON bytes.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	type Alias Manifest
	return json.MarshalIndent((*Alias)(m), "", "  ")
}

// TableStore abstracts writing parquet payloads to storage.
type TableStore interface {
	// WriteParquet writes parquet bytes to storage.
	WriteParquet(ctx context.Context, ref TableRef, parquetBytes []byte) error

	// WriteManifest writes a manifest file to storage.
	WriteManifest(ctx context.Context, ref TableRef, manifest *Manifest) error

	// Exists checks if a partition already exists.
	Exists(ctx context.Context, ref TableRef) (bool, error)

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// AtomicStore extends TableStore with atomic publish capabilities.
type AtomicStore interface {
	TableStore

	// WriteParquetTemp writes parquet bytes to a temporary location.
	// Returns the temp key that can be passed to Finalize.
	WriteParquetTemp(ctx context.Context, ref TableRef, parquetBytes []byte) (tempKey string, err error)

	// WriteManifestTemp writes a manifest to a temporary location.
	WriteManifestTemp(ctx context.Context, ref TableRef, manifest *Manifest) (tempKey string, err error)

	// Finalize moves temp files to their canonical location, parquet
	// first then manifest. For object stores this is copy+delete; for the
	// local filesystem it's rename. On failure already-moved files are
	// removed.
	Finalize(ctx context.Context, ref TableRef, tempKeys []string) error

	// Abort removes temporary files without publishing.
	Abort(ctx context.Context, tempKeys []string) error

	// Head returns metadata about a stored object.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// List returns all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ETag    string // MD5 for S3/GCS, empty for local
	ModTime time.Time
}

// StorageConfig configures the storage backend.
type StorageConfig struct {
	Backend string // "local" | "gcs" | "s3"

	// Local filesystem
	LocalDir string

	// GCS or S3 bucket name
	Bucket string

	// S3 (also works for B2, R2, MinIO)
	S3Endpoint string
	S3Region   string

	// Common
	Prefix string // "hats/" (path prefix within bucket or local dir)
}

// NewAtomicStore creates a storage backend based on configuration.
func NewAtomicStore(cfg StorageConfig) (AtomicStore, error) {
	switch cfg.Backend {
	case "local", "":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir, cfg.Prefix)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for gcs backend")
		}
		return NewGCSStore(cfg.Bucket, cfg.Prefix)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for s3 backend")
		}
		return NewS3Store(cfg.Bucket, cfg.Prefix, cfg.S3Endpoint, cfg.S3Region)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// S3URL builds a gocloud S3 bucket URL. A custom endpoint switches to path
// style addressing for B2, R2 and MinIO.
func S3URL(bucketName, endpoint, region string) string {
	bucketURL := fmt.Sprintf("s3://%s", bucketName)
	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	if len(params) > 0 {
		bucketURL += "?" + params.Encode()
	}
	return bucketURL
}
