package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/nextlevelbuilder/walink/internal/store"
)

// SnapshotFile implements store.SnapshotStore as a single JSON file
// (e.g. ./data/pairings.json) holding the code → record map.
type SnapshotFile struct {
	path string
}

func NewSnapshotFile(path string) *SnapshotFile {
	return &SnapshotFile{path: path}
}

// Path returns the snapshot file location.
func (f *SnapshotFile) Path() string { return f.path }

// Load reads the snapshot. A missing file yields an empty map.
func (f *SnapshotFile) Load(_ context.Context) (map[string]store.PairingRecord, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]store.PairingRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pairing snapshot: %w", err)
	}

	records := map[string]store.PairingRecord{}
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode pairing snapshot: %w", err)
	}
	return records, nil
}

// Save rewrites the whole snapshot.
func (f *SnapshotFile) Save(_ context.Context, records map[string]store.PairingRecord) error {
	if records == nil {
		records = map[string]store.PairingRecord{}
	}
	if err := writeJSONAtomic(f.path, records, 0o600); err != nil {
		return fmt.Errorf("save pairing snapshot: %w", err)
	}
	return nil
}
