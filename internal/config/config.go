package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Source  SourceConfig
	Storage StorageConfig
	Catalog CatalogConfig
	Convert ConvertConfig
	Perf    PerfConfig
	Log     LogConfig
	Metrics MetricsConfig
	Audit   AuditConfig
}

type SourceConfig struct {
	URL    string // file:///data, gs://bucket, s3://bucket?region=..., or a plain path
	Prefix string
}

type StorageConfig struct {
	Backend    string
	Bucket     string
	Prefix     string
	LocalDir   string
	S3Endpoint string
	S3Region   string
}

type CatalogConfig struct {
	PostgresDSN string
	Namespace   string
}

type ConvertConfig struct {
	VersionLabel       string
	BatchSize          int
	ParquetCompression string
	AllowOverwrite     bool
}

type PerfConfig struct {
	MaxInFlightPartitions int
}

type LogConfig struct {
	Format string
	Level  string
}

type MetricsConfig struct {
	Address string // empty disables the metrics server
}

type AuditConfig struct {
	Enabled  bool
	Endpoint string
	Dir      string
}

// MustLoad reads the configuration from the environment and exits on an
// invalid value.
func MustLoad() Config {
	log.Println("[config] loading")
	cfg, err := Load(os.Getenv)
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	return cfg
}

// Load builds a Config from getenv. Unset variables take their defaults.
func Load(getenv func(string) string) (Config, error) {
	env := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}

	maxInFlight, err := parseInt(env("MAX_IN_FLIGHT_PARTITIONS", "4"), 1)
	if err != nil {
		return Config{}, fmt.Errorf("MAX_IN_FLIGHT_PARTITIONS: %w", err)
	}
	// 0 converts each partition as a single batch.
	batchSize, err := parseInt(env("BATCH_SIZE", "0"), 0)
	if err != nil {
		return Config{}, fmt.Errorf("BATCH_SIZE: %w", err)
	}
	overwrite, err := parseBool(env("ALLOW_OVERWRITE", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("ALLOW_OVERWRITE: %w", err)
	}

	auditEnabled, err := parseBool(env("AUDIT_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("AUDIT_ENABLED: %w", err)
	}

	cfg := Config{
		Source: SourceConfig{
			URL:    getenv("SOURCE_URL"),
			Prefix: getenv("SOURCE_PREFIX"),
		},
		Storage: StorageConfig{
			Backend:    env("STORAGE_BACKEND", "local"),
			Bucket:     getenv("STORAGE_BUCKET"),
			Prefix:     env("STORAGE_PREFIX", "hats/"),
			LocalDir:   env("LOCAL_DIR", "./data"),
			S3Endpoint: getenv("S3_ENDPOINT"),
			S3Region:   env("S3_REGION", "us-east-1"),
		},
		Catalog: CatalogConfig{
			PostgresDSN: getenv("CATALOG_DSN"),
			Namespace:   env("CATALOG_NAMESPACE", "mmu"),
		},
		Convert: ConvertConfig{
			VersionLabel:       env("VERSION_LABEL", "v1"),
			BatchSize:          batchSize,
			ParquetCompression: strings.ToLower(env("PARQUET_COMPRESSION", "snappy")),
			AllowOverwrite:     overwrite,
		},
		Perf: PerfConfig{
			MaxInFlightPartitions: maxInFlight,
		},
		Log: LogConfig{
			Format: env("LOG_FORMAT", "text"),
			Level:  env("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Address: getenv("METRICS_ADDR"),
		},
		Audit: AuditConfig{
			Enabled:  auditEnabled,
			Endpoint: getenv("AUDIT_ENDPOINT"),
			Dir:      env("AUDIT_DIR", "./state/audit"),
		},
	}

	switch cfg.Storage.Backend {
	case "local", "gcs", "s3":
	default:
		return Config{}, fmt.Errorf("STORAGE_BACKEND: unknown backend %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend != "local" && cfg.Storage.Bucket == "" {
		return Config{}, fmt.Errorf("STORAGE_BUCKET is required for the %s backend", cfg.Storage.Backend)
	}
	if cfg.Storage.Prefix != "" && !strings.HasSuffix(cfg.Storage.Prefix, "/") {
		cfg.Storage.Prefix += "/"
	}
	return cfg, nil
}

func parseInt(v string, lo int) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < lo {
		return 0, fmt.Errorf("must be at least %d, got %d", lo, n)
	}
	return n, nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", v)
}
