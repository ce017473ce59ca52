package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileBackup stores one JSON file per event.
type FileBackup struct {
	dir string
}

// NewFileBackup creates dir when needed.
func NewFileBackup(dir string) (*FileBackup, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &FileBackup{dir: dir}, nil
}

// Save writes evt as {catalog}_{version}_{partition}_{event id}.json.
func (f *FileBackup) Save(evt *Event) (string, error) {
	name := fmt.Sprintf("%s_%s_%s_%s.json",
		evt.Partition.Catalog, evt.Partition.VersionLabel,
		safeName(evt.Partition.Name), evt.EventID)
	path := filepath.Join(f.dir, name)

	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write event: %w", err)
	}
	return path, nil
}

// ReadEvents loads every saved event in dir, ordered by timestamp.
func ReadEvents(dir string) ([]Event, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	var events []Event
	for _, p := range paths {
		if filepath.Base(p) == headsFile {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		events = append(events, evt)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

func safeName(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(s)
}
