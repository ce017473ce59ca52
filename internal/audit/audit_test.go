package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func publication(partition, checksum string) Publication {
	return Publication{
		Catalog:      "gaia",
		VersionLabel: "v1",
		Partition:    partition,
		Source:       "gaia/" + partition + ".jsonl",
		SchemaHash:   "abc",
		Checksum:     checksum,
		RowCount:     10,
		ByteSize:     1234,
		StoragePath:  "gaia/v1/" + partition + "/part-" + partition + ".parquet",
		Producer:     ProducerInfo{Name: "mmu-hats", Version: "test"},
	}
}

func TestComputeEventHashDeterministic(t *testing.T) {
	mk := func() Event {
		return Event{
			Version:   EventVersion,
			EventType: EventType,
			EventID:   "id",
			Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Partition: PartitionInfo{Catalog: "gaia", VersionLabel: "v1", Name: "healpix=1"},
			Table:     TableInfo{Checksum: "sha256:aaa", RowCount: 3},
		}
	}
	a, b := mk(), mk()
	if err := a.SetChainHashes("sha256:prev"); err != nil {
		t.Fatal(err)
	}
	if err := b.SetChainHashes("sha256:prev"); err != nil {
		t.Fatal(err)
	}
	if a.Chain.EventHash != b.Chain.EventHash {
		t.Error("identical events hash differently")
	}
	if len(a.Chain.EventHash) < 7 || a.Chain.EventHash[:7] != "sha256:" {
		t.Errorf("EventHash = %q", a.Chain.EventHash)
	}

	c := mk()
	if err := c.SetChainHashes("sha256:other"); err != nil {
		t.Fatal(err)
	}
	if c.Chain.EventHash == a.Chain.EventHash {
		t.Error("prev hash does not affect the event hash")
	}
}

func TestFileEmitterChains(t *testing.T) {
	dir := t.TempDir()
	e, err := NewFileEmitter(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	first, err := e.Emit(ctx, publication("healpix=1", "sha256:1"))
	if err != nil {
		t.Fatal(err)
	}
	if first.Chain.PrevEventHash != "" {
		t.Errorf("first event prev = %q, want empty", first.Chain.PrevEventHash)
	}
	second, err := e.Emit(ctx, publication("healpix=2", "sha256:2"))
	if err != nil {
		t.Fatal(err)
	}
	if second.Chain.PrevEventHash != first.Chain.EventHash {
		t.Error("second event not linked to the first")
	}

	// A new emitter over the same directory continues the chain.
	again, err := NewFileEmitter(dir)
	if err != nil {
		t.Fatal(err)
	}
	third, err := again.Emit(ctx, publication("healpix=3", "sha256:3"))
	if err != nil {
		t.Fatal(err)
	}
	if third.Chain.PrevEventHash != second.Chain.EventHash {
		t.Error("chain head not persisted")
	}

	events, err := ReadEvents(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("read %d events, want 3", len(events))
	}
	if err := VerifyChain(events); err != nil {
		t.Errorf("VerifyChain: %v", err)
	}

	events[1].Table.RowCount = 99
	if err := VerifyChain(events); !errors.Is(err, ErrBrokenChain) {
		t.Errorf("tampered chain err = %v, want ErrBrokenChain", err)
	}
}

func TestVerifyChainDetectsGap(t *testing.T) {
	var events []Event
	prev := ""
	for _, name := range []string{"a", "b", "c"} {
		evt := Event{Partition: PartitionInfo{Catalog: "gaia", VersionLabel: "v1", Name: name}}
		if err := evt.SetChainHashes(prev); err != nil {
			t.Fatal(err)
		}
		prev = evt.Chain.EventHash
		events = append(events, evt)
	}
	if err := VerifyChain([]Event{events[2], events[0], events[1]}); err != nil {
		t.Errorf("shuffled chain: %v", err)
	}
	if err := VerifyChain([]Event{events[0], events[2]}); !errors.Is(err, ErrBrokenChain) {
		t.Errorf("gap err = %v, want ErrBrokenChain", err)
	}
}

func TestHTTPEmitterRetries(t *testing.T) {
	var calls atomic.Int32
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	e, err := NewHTTPEmitter(t.TempDir(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	e.delay = time.Millisecond

	evt, err := e.Emit(context.Background(), publication("healpix=1", "sha256:1"))
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if got.Chain.EventHash != evt.Chain.EventHash || got.Table.Checksum != "sha256:1" {
		t.Errorf("posted event = %+v", got)
	}
}

func TestHTTPEmitterFailureKeepsHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	e, err := NewHTTPEmitter(dir, srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	e.delay = time.Millisecond
	if _, err := e.Emit(context.Background(), publication("healpix=1", "sha256:1")); err == nil {
		t.Fatal("Emit succeeded against a failing collector")
	}
	if h := e.tracker.Head("gaia/v1"); h != "" {
		t.Errorf("head advanced to %q after a failed emit", h)
	}
	events, err := ReadEvents(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("%d backups left for a failed emit", len(events))
	}
}

func TestNewEmitterDisabled(t *testing.T) {
	e := NewEmitter(Config{})
	evt, err := e.Emit(context.Background(), publication("healpix=1", "sha256:1"))
	if evt != nil || err != nil {
		t.Errorf("noop Emit = %v, %v", evt, err)
	}
}
