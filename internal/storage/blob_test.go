package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBlobStoreFileBucket(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	store, err := NewBlobStore(ctx, "file://"+filepath.ToSlash(dir), "hats/")
	if err != nil {
		t.Fatalf("NewBlobStore: %v", err)
	}
	defer store.Close()

	ref := testRef()
	data := []byte("parquet bytes")
	tp, err := store.WriteParquetTemp(ctx, ref, data)
	if err != nil {
		t.Fatalf("WriteParquetTemp: %v", err)
	}
	tm, err := store.WriteManifestTemp(ctx, ref, testManifest(data))
	if err != nil {
		t.Fatalf("WriteManifestTemp: %v", err)
	}
	if ok, _ := store.Exists(ctx, ref); ok {
		t.Fatal("Exists before Finalize")
	}

	if err := store.Finalize(ctx, ref, []string{tp, tm}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if ok, err := store.Exists(ctx, ref); err != nil || !ok {
		t.Fatalf("Exists after Finalize = %v, %v", ok, err)
	}

	keys, err := store.List(ctx, "hats/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{ref.ManifestPath("hats/"), ref.Path("hats/")}
	if len(keys) != 2 || keys[0] != want[0] || keys[1] != want[1] {
		t.Errorf("List = %v, want %v", keys, want)
	}

	info, err := store.Head(ctx, ref.Path("hats/"))
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if info.Size != int64(len(data)) {
		t.Errorf("Head size = %d", info.Size)
	}

	uri := store.URI(ref.Path("hats/"))
	if !strings.HasPrefix(uri, "file://") {
		t.Fatalf("URI = %q", uri)
	}
	got, err := ReadObject(ctx, uri)
	if err != nil {
		t.Fatalf("ReadObject(%s): %v", uri, err)
	}
	if string(got) != string(data) {
		t.Errorf("ReadObject = %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(ref.Path("hats/")))); err != nil {
		t.Errorf("published file not on disk: %v", err)
	}
}
