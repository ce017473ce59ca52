package pipeline

import (
	"errors"
	"time"
)

// ErrValidation marks a converted partition that failed its pre-publish
// checks.
var ErrValidation = errors.New("partition validation failed")

// Status is the outcome of one partition.
type Status string

const (
	StatusPublished Status = "published"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Result reports what happened to one source partition.
type Result struct {
	Partition string
	Source    string
	Status    Status
	RowCount  int64
	ByteSize  int64
	Checksum  string
	URI       string
	Duration  time.Duration
	Err       error
}

// Summary totals a run.
type Summary struct {
	Published int
	Skipped   int
	Failed    int
	Rows      int64
	Bytes     int64
}

// Summarize counts results by status.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		switch r.Status {
		case StatusPublished:
			s.Published++
			s.Rows += r.RowCount
			s.Bytes += r.ByteSize
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// FirstError returns the first partition failure in source order, or nil.
func FirstError(results []Result) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
