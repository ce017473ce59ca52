// Package transform turns batches of raw survey records into Arrow
// records that conform to a catalog's declared schema.
package transform

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/withObsrvr/mmu-to-hats/internal/record"
	"github.com/withObsrvr/mmu-to-hats/internal/schema"
)

// Transformer is the contract every catalog converter satisfies.
type Transformer interface {
	// DeclareSchema returns the full output layout. It does no I/O and
	// always returns the same declaration.
	DeclareSchema() schema.Schema
	// Convert produces exactly one record matching DeclareSchema.
	Convert(batch []record.Record) (arrow.Record, error)
}

// Declared is a Transformer driven entirely by a schema declaration.
// It is safe for concurrent use.
type Declared struct {
	schema schema.Schema
	mem    memory.Allocator
}

// New validates the declaration and returns a Transformer for it. A nil
// allocator means memory.DefaultAllocator.
func New(s schema.Schema, mem memory.Allocator) (*Declared, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &Declared{schema: s.Clone(), mem: mem}, nil
}

// DeclareSchema returns a copy of the declaration.
func (d *Declared) DeclareSchema() schema.Schema { return d.schema.Clone() }

// Convert implements Transformer.
func (d *Declared) Convert(batch []record.Record) (arrow.Record, error) {
	return Convert(d.mem, d.schema, batch)
}
