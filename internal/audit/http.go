package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

// HTTPEmitter posts events to a collector. Every event is also saved
// locally before the POST.
type HTTPEmitter struct {
	*chained
	endpoint string
	client   *http.Client
	retries  int
	delay    time.Duration
}

func newHTTPEmitter(c *chained, endpoint string) *HTTPEmitter {
	return &HTTPEmitter{
		chained:  c,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		retries:  3,
		delay:    time.Second,
	}
}

// NewHTTPEmitter creates an emitter posting to endpoint, keeping chain
// state and backups in dir.
func NewHTTPEmitter(dir, endpoint string) (*HTTPEmitter, error) {
	c, err := newChained(dir)
	if err != nil {
		return nil, err
	}
	return newHTTPEmitter(c, endpoint), nil
}

// Emit seals one event, backs it up, and posts it. The chain only
// advances when the POST succeeds; a failed event's backup is removed.
func (e *HTTPEmitter) Emit(ctx context.Context, pub Publication) (*Event, error) {
	evt, err := e.seal(pub)
	if err != nil {
		return nil, err
	}
	if evt.Chain.PrevEventHash == "" {
		log.Printf("[audit] %s: first event in chain", evt.Partition.ChainKey())
	}

	backup, err := e.backup.Save(evt)
	if err != nil {
		log.Printf("[audit] warning: backup failed: %v", err)
	}
	if err := e.postWithRetry(ctx, evt); err != nil {
		if backup != "" {
			os.Remove(backup)
		}
		return nil, fmt.Errorf("audit emit failed: %w", err)
	}
	e.commit(evt)
	return evt, nil
}

func (e *HTTPEmitter) postWithRetry(ctx context.Context, evt *Event) error {
	var lastErr error
	delay := e.delay
	for attempt := 1; attempt <= e.retries; attempt++ {
		err := e.post(ctx, evt)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < e.retries {
			log.Printf("[audit] attempt %d/%d failed: %v, retrying in %v", attempt, e.retries, err, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", e.retries, lastErr)
}

func (e *HTTPEmitter) post(ctx context.Context, evt *Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
}

func (e *HTTPEmitter) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
