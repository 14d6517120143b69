package redis

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/walink/internal/store"
)

func TestSnapshotStore_RoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()

	key := "walink:test:" + uuid.NewString()
	s, err := New(ctx, url, key)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	defer s.client.Del(ctx, key)

	empty, err := s.Load(ctx)
	if err != nil || len(empty) != 0 {
		t.Fatalf("Load on missing key = %v, %v", empty, err)
	}

	records := map[string]store.PairingRecord{
		"AB12CD": {Code: "AB12CD", Tenant: "alice", Phone: "1", CreatedAt: 10, ExpiresAt: 20},
	}
	if err := s.Save(ctx, records); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got["AB12CD"] != records["AB12CD"] {
		t.Errorf("Load = %+v, want %+v", got["AB12CD"], records["AB12CD"])
	}
}
