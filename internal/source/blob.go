package source

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"path/filepath"
	"sort"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver

	"github.com/withObsrvr/mmu-to-hats/internal/record"
)

// BlobSource reads record partitions from a gocloud bucket.
type BlobSource struct {
	bucket  *blob.Bucket
	prefix  string
	decoder *Decoder
}

// NewBlobSource opens the bucket at sourceURL (file:///dir, gs://bucket,
// s3://bucket?region=...). A plain directory path is opened as file://.
func NewBlobSource(ctx context.Context, sourceURL, prefix string) (*BlobSource, error) {
	bucketURL, err := bucketURL(sourceURL)
	if err != nil {
		return nil, err
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open source bucket %s: %w", bucketURL, err)
	}
	decoder, err := NewDecoder()
	if err != nil {
		bucket.Close()
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	return &BlobSource{bucket: bucket, prefix: prefix, decoder: decoder}, nil
}

func bucketURL(s string) (string, error) {
	if u, err := url.Parse(s); err == nil && len(u.Scheme) > 1 {
		return s, nil
	}
	abs, err := filepath.Abs(s)
	if err != nil {
		return "", fmt.Errorf("resolve source path %s: %w", s, err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// List returns every record file under the prefix, sorted by key.
func (s *BlobSource) List(ctx context.Context) ([]Partition, error) {
	var parts []Partition
	iter := s.bucket.List(&blob.ListOptions{Prefix: s.prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", s.prefix, err)
		}
		if obj.IsDir {
			continue
		}
		p, ok := ParsePartitionKey(obj.Key, s.prefix)
		if !ok {
			continue
		}
		p.Size = obj.Size
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w under prefix %q", ErrNoPartitions, s.prefix)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Key < parts[j].Key })
	log.Printf("[source:blob] indexed %d partitions under %q", len(parts), s.prefix)
	return parts, nil
}

// ReadBatch reads and decodes one partition.
func (s *BlobSource) ReadBatch(ctx context.Context, p Partition) ([]record.Record, error) {
	data, err := s.bucket.ReadAll(ctx, p.Key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.Key, err)
	}
	recs, err := s.decoder.Decode(data, p.Compressed || IsCompressed(p.Key))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", p.Key, err)
	}
	return recs, nil
}

// Close releases resources.
func (s *BlobSource) Close() error {
	if s.decoder != nil {
		s.decoder.Close()
	}
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

// Verify BlobSource implements RecordSource.
var _ RecordSource = (*BlobSource)(nil)

