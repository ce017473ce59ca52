package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testRef() TableRef {
	return TableRef{Catalog: "gaia", Version: "v1", Partition: "healpix=1024"}
}

func testManifest(data []byte) *Manifest {
	return &Manifest{
		Partition: PartitionInfo{
			Catalog:    "gaia",
			Version:    "v1",
			Name:       "healpix=1024",
			Source:     "healpix=1024.jsonl.zst",
			SchemaHash: "abc123",
		},
		Tables: map[string]TableInfo{
			"gaia": {
				File:     "part-healpix=1024.parquet",
				Checksum: "sha256:abc123",
				RowCount: 10,
				ByteSize: int64(len(data)),
			},
		},
		Producer:  ProducerInfo{Name: "mmu-hats", Version: "test"},
		CreatedAt: time.Now(),
	}
}

func TestTableRefPaths(t *testing.T) {
	ref := testRef()
	tests := []struct {
		got, want string
	}{
		{ref.Path("hats/"), "hats/gaia/v1/healpix=1024/part-healpix=1024.parquet"},
		{ref.ManifestPath("hats/"), "hats/gaia/v1/healpix=1024/_manifest.json"},
		{ref.DirPath(""), "gaia/v1/healpix=1024"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestLocalStoreAtomicOperations(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewLocalStore(tmpDir, "hats/")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	ctx := context.Background()
	ref := testRef()
	parquetData := []byte("fake parquet data for testing")

	tempParquet, err := store.WriteParquetTemp(ctx, ref, parquetData)
	if err != nil {
		t.Fatalf("WriteParquetTemp failed: %v", err)
	}
	if _, err := os.Stat(tempParquet); os.IsNotExist(err) {
		t.Error("temp parquet file should exist")
	}

	tempManifest, err := store.WriteManifestTemp(ctx, ref, testManifest(parquetData))
	if err != nil {
		t.Fatalf("WriteManifestTemp failed: %v", err)
	}

	finalParquet := filepath.Join(tmpDir, ref.Path("hats/"))
	finalManifest := filepath.Join(tmpDir, ref.ManifestPath("hats/"))
	if _, err := os.Stat(finalParquet); !os.IsNotExist(err) {
		t.Error("final parquet should not exist before Finalize")
	}
	if ok, _ := store.Exists(ctx, ref); ok {
		t.Error("Exists before Finalize")
	}

	if err := store.Finalize(ctx, ref, []string{tempParquet, tempManifest}); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if ok, err := store.Exists(ctx, ref); err != nil || !ok {
		t.Errorf("Exists after Finalize = %v, %v", ok, err)
	}
	for _, p := range []string{tempParquet, tempManifest} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("temp file %s should be gone after Finalize", p)
		}
	}

	data, err := os.ReadFile(finalParquet)
	if err != nil {
		t.Fatalf("failed to read final parquet: %v", err)
	}
	if string(data) != string(parquetData) {
		t.Error("parquet data mismatch")
	}

	raw, err := os.ReadFile(finalManifest)
	if err != nil {
		t.Fatalf("failed to read manifest: %v", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("manifest is not JSON: %v", err)
	}
	if m.Partition.Catalog != "gaia" || m.Tables["gaia"].RowCount != 10 {
		t.Errorf("manifest = %+v", m)
	}
}

func TestLocalStoreFinalizeWrongKeyCount(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	if err := store.Finalize(context.Background(), testRef(), []string{"only-one"}); err == nil {
		t.Fatal("want error for one temp key")
	}
}

func TestLocalStoreAbort(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "hats/")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	ctx := context.Background()
	ref := testRef()
	tempParquet, _ := store.WriteParquetTemp(ctx, ref, []byte("test data"))
	tempManifest, _ := store.WriteManifestTemp(ctx, ref, testManifest(nil))

	if err := store.Abort(ctx, []string{tempParquet, tempManifest}); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	if _, err := os.Stat(tempParquet); !os.IsNotExist(err) {
		t.Error("temp parquet should be removed after Abort")
	}
	if _, err := os.Stat(tempManifest); !os.IsNotExist(err) {
		t.Error("temp manifest should be removed after Abort")
	}
}

func TestLocalStoreHeadAndList(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "hats/")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	ctx := context.Background()
	ref := testRef()
	testData := []byte("test parquet data for head test")
	if err := store.WriteParquet(ctx, ref, testData); err != nil {
		t.Fatalf("WriteParquet failed: %v", err)
	}
	// An unpublished temp file must not be listed.
	if _, err := store.WriteManifestTemp(ctx, ref, testManifest(testData)); err != nil {
		t.Fatalf("WriteManifestTemp failed: %v", err)
	}

	key := ref.Path("hats/")
	info, err := store.Head(ctx, key)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if info.Size != int64(len(testData)) {
		t.Errorf("Head size = %d, want %d", info.Size, len(testData))
	}

	keys, err := store.List(ctx, "hats/gaia/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != key {
		t.Errorf("List = %v, want [%s]", keys, key)
	}
}

func TestReadObject(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table.parquet")
	if err := os.WriteFile(path, []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}

	for _, loc := range []string{path, "file://" + filepath.ToSlash(path)} {
		data, err := ReadObject(context.Background(), loc)
		if err != nil {
			t.Fatalf("ReadObject(%s): %v", loc, err)
		}
		if string(data) != "payload" {
			t.Errorf("ReadObject(%s) = %q", loc, data)
		}
	}

	if _, err := ReadObject(context.Background(), filepath.Join(dir, "missing.parquet")); err == nil {
		t.Error("want error for a missing file")
	}
}

func TestNewAtomicStore(t *testing.T) {
	if _, err := NewAtomicStore(StorageConfig{Backend: "local"}); err == nil {
		t.Error("local without LocalDir: want error")
	}
	if _, err := NewAtomicStore(StorageConfig{Backend: "ftp"}); err == nil {
		t.Error("unknown backend: want error")
	}
	store, err := NewAtomicStore(StorageConfig{Backend: "local", LocalDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewAtomicStore: %v", err)
	}
	store.Close()

	if got, want := S3URL("b", "https://minio:9000", "us-east-1"),
		"s3://b?endpoint=https%3A%2F%2Fminio%3A9000&region=us-east-1&s3ForcePathStyle=true"; got != want {
		t.Errorf("S3URL = %q, want %q", got, want)
	}
}
