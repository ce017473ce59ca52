// Package metadata records dataset, lineage and verification metadata for
// converted catalogs.
package metadata

import (
	"errors"
	"fmt"
)

// ErrNoDataset is returned when a lineage record has no dataset ID.
var ErrNoDataset = errors.New("metadata: DatasetID is required (call EnsureDataset first)")

// DatasetInfo identifies one versioned catalog table set.
type DatasetInfo struct {
	Namespace   string
	Catalog     string
	Version     string
	SchemaHash  string
	Description string
}

func (d DatasetInfo) key() string {
	return fmt.Sprintf("%s.%s.%s", d.Namespace, d.Catalog, d.Version)
}

// PartitionRecord is the lineage of one published partition.
type PartitionRecord struct {
	DatasetID       int64
	Partition       string
	RowCount        int64
	ByteSize        int64
	Checksum        string
	StoragePath     string
	StorageURI      string
	ProducerVersion string
	ProducerBuildID string
	SourceLocation  string
}

func (r PartitionRecord) validate() error {
	if r.DatasetID == 0 {
		return ErrNoDataset
	}
	if r.Partition == "" {
		return errors.New("metadata: partition name is required")
	}
	if r.Checksum == "" {
		return fmt.Errorf("metadata: partition %s has no checksum", r.Partition)
	}
	return nil
}

// VerificationRecord is the outcome of one comparison run.
type VerificationRecord struct {
	Namespace     string
	Catalog       string
	Reference     string
	Candidate     string
	Passed        bool
	ReferenceRows int64
	CandidateRows int64
	Mismatches    int
	Failures      int
	Summary       string
}

func (r VerificationRecord) validate() error {
	if r.Reference == "" || r.Candidate == "" {
		return errors.New("metadata: verification needs both reference and candidate")
	}
	if r.Failures > r.Mismatches {
		return fmt.Errorf("metadata: %d failures exceed %d mismatches", r.Failures, r.Mismatches)
	}
	return nil
}
