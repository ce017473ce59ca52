package source

import (
	"strings"
)

// Record file suffixes.
const (
	SuffixJSONL     = ".jsonl"
	SuffixJSONLZstd = ".jsonl.zst"
)

// ParsePartitionKey reports whether key names a record file and returns
// its partition. Nested directories below prefix are joined with "_" so
// the name stays a single path segment.
func ParsePartitionKey(key, prefix string) (Partition, bool) {
	rel := strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
	var p Partition
	switch {
	case strings.HasSuffix(rel, SuffixJSONLZstd):
		p.Compressed = true
		rel = strings.TrimSuffix(rel, SuffixJSONLZstd)
	case strings.HasSuffix(rel, SuffixJSONL):
		rel = strings.TrimSuffix(rel, SuffixJSONL)
	default:
		return Partition{}, false
	}
	base := rel[strings.LastIndexByte(rel, '/')+1:]
	if base == "" || strings.HasPrefix(base, ".") {
		return Partition{}, false
	}
	p.Key = key
	p.Name = strings.ReplaceAll(rel, "/", "_")
	return p, true
}

// IsCompressed checks if a file is zstd compressed.
func IsCompressed(key string) bool {
	return strings.HasSuffix(key, ".zst")
}
