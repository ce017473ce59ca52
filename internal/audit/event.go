// Package audit emits a tamper-evident log of published partitions. Each
// event carries the hash of the previous event for the same catalog and
// version, so a reader can detect a rewritten or dropped publication.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event format identifiers.
const (
	EventVersion = "1"
	EventType    = "hats_partition"
)

// ErrBrokenChain is returned by VerifyChain when events do not link up.
var ErrBrokenChain = errors.New("audit chain broken")

// Event describes one published partition.
type Event struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Partition PartitionInfo `json:"partition"`
	Table     TableInfo     `json:"table"`
	Producer  ProducerInfo  `json:"producer"`
	Chain     ChainInfo     `json:"chain"`
}

// PartitionInfo identifies the published partition.
type PartitionInfo struct {
	Catalog      string `json:"catalog"`
	VersionLabel string `json:"version_label"`
	Name         string `json:"name"`
	Source       string `json:"source"`
	SchemaHash   string `json:"schema_hash"`
}

// TableInfo describes the parquet file of the partition.
type TableInfo struct {
	Checksum    string `json:"checksum"`
	RowCount    int64  `json:"row_count"`
	ByteSize    int64  `json:"byte_size"`
	StoragePath string `json:"storage_path"`
}

// ProducerInfo identifies the software that wrote the table.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	BuildID string `json:"build_id"`
}

// ChainInfo links the event to its predecessor.
type ChainInfo struct {
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey is the chain an event belongs to: one per catalog and version.
func (p PartitionInfo) ChainKey() string {
	return p.Catalog + "/" + p.VersionLabel
}

// ComputeEventHash hashes the JSON encoding of evt with event_hash blanked.
// Struct fields marshal in declaration order, so the encoding is stable.
func ComputeEventHash(evt *Event) (string, error) {
	c := *evt
	c.Chain.EventHash = ""
	canonical, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// SetChainHashes links evt to prev and seals it.
func (e *Event) SetChainHashes(prev string) error {
	e.Chain.PrevEventHash = prev
	h, err := ComputeEventHash(e)
	if err != nil {
		return err
	}
	e.Chain.EventHash = h
	return nil
}

// VerifyChain checks that events form one unbroken chain per chain key,
// starting from an empty previous hash, and that every event hash matches
// its content. Events may be given in any order.
func VerifyChain(events []Event) error {
	next := map[string]*Event{}
	for i := range events {
		evt := &events[i]
		h, err := ComputeEventHash(evt)
		if err != nil {
			return err
		}
		if h != evt.Chain.EventHash {
			return fmt.Errorf("%w: %s hash mismatch", ErrBrokenChain, evt.Partition.Name)
		}
		link := evt.Partition.ChainKey() + "\x00" + evt.Chain.PrevEventHash
		if other, ok := next[link]; ok {
			return fmt.Errorf("%w: %s and %s share a predecessor", ErrBrokenChain, other.Partition.Name, evt.Partition.Name)
		}
		next[link] = evt
	}

	seen := 0
	heads := map[string]bool{}
	for i := range events {
		heads[events[i].Partition.ChainKey()] = true
	}
	for key := range heads {
		prev := ""
		for {
			evt, ok := next[key+"\x00"+prev]
			if !ok {
				break
			}
			seen++
			prev = evt.Chain.EventHash
		}
	}
	if seen != len(events) {
		return fmt.Errorf("%w: %d of %d events unreachable from a chain start", ErrBrokenChain, len(events)-seen, len(events))
	}
	return nil
}
