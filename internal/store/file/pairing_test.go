package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/walink/internal/store"
)

func TestSnapshotFile_LoadMissing(t *testing.T) {
	f := NewSnapshotFile(filepath.Join(t.TempDir(), "data", "pairings.json"))

	records, err := f.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty map, got %d records", len(records))
	}
}

func TestSnapshotFile_SaveLoadReplaces(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "pairings.json")
	f := NewSnapshotFile(path)

	first := map[string]store.PairingRecord{
		"AB12CD": {Code: "AB12CD", Tenant: "alice", Phone: "33600000000", CreatedAt: 1, ExpiresAt: 2},
		"ZZ99ZZ": {Code: "ZZ99ZZ", Tenant: "bob", Phone: "33611111111", CreatedAt: 1, ExpiresAt: 2},
	}
	if err := f.Save(ctx, first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := f.Save(ctx, map[string]store.PairingRecord{"AB12CD": first["AB12CD"]}); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	got, err := f.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record after full rewrite, got %d", len(got))
	}
	if got["AB12CD"].Tenant != "alice" {
		t.Errorf("tenant = %q, want alice", got["AB12CD"].Tenant)
	}

	// No temp files left behind.
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the snapshot file, found %d entries", len(entries))
	}
}

func TestSnapshotFile_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewSnapshotFile(path).Load(context.Background()); err == nil {
		t.Error("expected decode error for corrupt snapshot")
	}
}
