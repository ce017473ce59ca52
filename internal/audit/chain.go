package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const headsFile = "audit-chain-heads.json"

// ChainTracker keeps the last event hash of every chain and persists it
// so a later run continues the same chains.
type ChainTracker struct {
	mu       sync.RWMutex
	heads    map[string]string
	filePath string
}

// NewChainTracker loads chain heads from dir, creating it when needed.
func NewChainTracker(dir string) (*ChainTracker, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create chain dir: %w", err)
	}
	ct := &ChainTracker{
		heads:    make(map[string]string),
		filePath: filepath.Join(dir, headsFile),
	}
	data, err := os.ReadFile(ct.filePath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("load chain heads: %w", err)
	default:
		if err := json.Unmarshal(data, &ct.heads); err != nil {
			return nil, fmt.Errorf("parse chain heads: %w", err)
		}
	}
	return ct, nil
}

// Head returns the last event hash of a chain, empty for a new chain.
func (ct *ChainTracker) Head(chainKey string) string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.heads[chainKey]
}

// SetHead advances a chain and persists all heads.
func (ct *ChainTracker) SetHead(chainKey, eventHash string) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.heads[chainKey] = eventHash

	data, err := json.MarshalIndent(ct.heads, "", "  ")
	if err != nil {
		return err
	}
	tmp := ct.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, ct.filePath)
}
