package audit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Config selects the emitter.
type Config struct {
	Enabled  bool
	Endpoint string // HTTP collector; empty writes local files only
	Dir      string // event backups and chain heads
}

// DefaultDir holds events when Config.Dir is empty.
const DefaultDir = "./state/audit"

// Publication is what the pipeline knows about one published partition.
type Publication struct {
	Catalog      string
	VersionLabel string
	Partition    string
	Source       string
	SchemaHash   string
	Checksum     string
	RowCount     int64
	ByteSize     int64
	StoragePath  string
	Producer     ProducerInfo
}

// Emitter records publications. Emit calls for one chain must not run
// concurrently; the caller emits in a fixed order.
type Emitter interface {
	Emit(ctx context.Context, pub Publication) (*Event, error)
	Close() error
}

// NewEmitter builds the emitter cfg asks for. A disabled config, or one
// whose directory cannot be created, yields a no-op emitter.
func NewEmitter(cfg Config) Emitter {
	if !cfg.Enabled {
		return noopEmitter{}
	}
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir
	}
	base, err := newChained(cfg.Dir)
	if err != nil {
		log.Printf("[audit] disabled: %v", err)
		return noopEmitter{}
	}
	if cfg.Endpoint != "" {
		log.Printf("[audit] using HTTP emitter -> %s", cfg.Endpoint)
		return newHTTPEmitter(base, cfg.Endpoint)
	}
	log.Printf("[audit] using file emitter -> %s", cfg.Dir)
	return &FileEmitter{chained: base}
}

// chained holds what every real emitter shares: chain heads and backups.
type chained struct {
	tracker *ChainTracker
	backup  *FileBackup
}

func newChained(dir string) (*chained, error) {
	tracker, err := NewChainTracker(dir)
	if err != nil {
		return nil, err
	}
	backup, err := NewFileBackup(dir)
	if err != nil {
		return nil, err
	}
	return &chained{tracker: tracker, backup: backup}, nil
}

// seal builds the event for pub and links it to its chain head.
func (c *chained) seal(pub Publication) (*Event, error) {
	evt := &Event{
		Version:   EventVersion,
		EventType: EventType,
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Partition: PartitionInfo{
			Catalog:      pub.Catalog,
			VersionLabel: pub.VersionLabel,
			Name:         pub.Partition,
			Source:       pub.Source,
			SchemaHash:   pub.SchemaHash,
		},
		Table: TableInfo{
			Checksum:    pub.Checksum,
			RowCount:    pub.RowCount,
			ByteSize:    pub.ByteSize,
			StoragePath: pub.StoragePath,
		},
		Producer: pub.Producer,
	}
	if err := evt.SetChainHashes(c.tracker.Head(evt.Partition.ChainKey())); err != nil {
		return nil, err
	}
	return evt, nil
}

// commit advances the chain once evt is durably recorded.
func (c *chained) commit(evt *Event) {
	if err := c.tracker.SetHead(evt.Partition.ChainKey(), evt.Chain.EventHash); err != nil {
		log.Printf("[audit] warning: failed to update chain head: %v", err)
	}
}

// FileEmitter writes events to local files only.
type FileEmitter struct {
	*chained
}

// NewFileEmitter creates a file emitter rooted at dir.
func NewFileEmitter(dir string) (*FileEmitter, error) {
	c, err := newChained(dir)
	if err != nil {
		return nil, err
	}
	return &FileEmitter{chained: c}, nil
}

// Emit seals and saves one event.
func (e *FileEmitter) Emit(_ context.Context, pub Publication) (*Event, error) {
	evt, err := e.seal(pub)
	if err != nil {
		return nil, err
	}
	if _, err := e.backup.Save(evt); err != nil {
		return nil, fmt.Errorf("save audit event: %w", err)
	}
	e.commit(evt)
	log.Printf("[audit] %s %s event_hash=%s", evt.Partition.ChainKey(), evt.Partition.Name, evt.Chain.EventHash)
	return evt, nil
}

func (e *FileEmitter) Close() error { return nil }

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, Publication) (*Event, error) { return nil, nil }
func (noopEmitter) Close() error                                      { return nil }
