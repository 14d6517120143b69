package pairing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/walink/internal/store"
)

// memSnapshot is an in-memory store.SnapshotStore that counts saves.
type memSnapshot struct {
	mu      sync.Mutex
	data    map[string]store.PairingRecord
	saves   int
	failErr error
}

func (m *memSnapshot) Load(context.Context) (map[string]store.PairingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]store.PairingRecord, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out, nil
}

func (m *memSnapshot) Save(_ context.Context, records map[string]store.PairingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.saves++
	m.data = records
	return nil
}

func (m *memSnapshot) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func fixedCodes(codes ...string) func(int) string {
	var mu sync.Mutex
	i := 0
	return func(int) string {
		mu.Lock()
		defer mu.Unlock()
		c := codes[i%len(codes)]
		i++
		return c
	}
}

func newTestService(t *testing.T, opts Options) (*Service, *memSnapshot, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	snap := &memSnapshot{}
	opts.Now = clock.Now
	return NewService(context.Background(), snap, opts), snap, clock
}

func TestIssue_PersistsBeforeReturning(t *testing.T) {
	svc, snap, clock := newTestService(t, Options{Generate: fixedCodes("AB12CD")})

	rec, err := svc.Issue(context.Background(), "alice", "33600000000")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if rec.Code != "AB12CD" {
		t.Errorf("code = %q, want AB12CD", rec.Code)
	}
	if rec.CreatedAt != clock.Now().UnixMilli() {
		t.Errorf("createdAt = %d, want %d", rec.CreatedAt, clock.Now().UnixMilli())
	}
	if got := rec.ExpiresAt - rec.CreatedAt; got != DefaultTTL.Milliseconds() {
		t.Errorf("ttl = %dms, want %dms", got, DefaultTTL.Milliseconds())
	}
	if snap.saveCount() != 1 {
		t.Errorf("saves = %d, want 1", snap.saveCount())
	}
	if _, ok := snap.data["AB12CD"]; !ok {
		t.Error("snapshot missing issued code")
	}
}

func TestIssue_PersistFailureDiscardsRecord(t *testing.T) {
	svc, snap, _ := newTestService(t, Options{Generate: fixedCodes("AB12CD")})
	snap.failErr = errors.New("disk full")

	if _, err := svc.Issue(context.Background(), "alice", "1"); err == nil {
		t.Fatal("expected error when snapshot cannot be written")
	}
	if svc.Len() != 0 {
		t.Errorf("store holds %d records after failed issue, want 0", svc.Len())
	}
}

func TestIssue_RegeneratesOnLiveCollision(t *testing.T) {
	svc, _, _ := newTestService(t, Options{Generate: fixedCodes("AAAAAA", "AAAAAA", "BBBBBB")})
	ctx := context.Background()

	first, _ := svc.Issue(ctx, "alice", "1")
	second, _ := svc.Issue(ctx, "bob", "2")
	if first.Code == second.Code {
		t.Fatalf("live code %q was reissued", first.Code)
	}
	if second.Code != "BBBBBB" {
		t.Errorf("second code = %q, want BBBBBB", second.Code)
	}
}

func TestValidate_CaseInsensitive(t *testing.T) {
	svc, _, _ := newTestService(t, Options{Generate: fixedCodes("AB12CD")})
	ctx := context.Background()
	svc.Issue(ctx, "alice", "33600000000")

	v := svc.Validate(ctx, "ab12cd")
	if !v.Valid {
		t.Fatal("lowercase lookup should be valid")
	}
	if v.Tenant != "alice" || v.Phone != "33600000000" {
		t.Errorf("validation = %+v", v)
	}
}

func TestValidate_Window(t *testing.T) {
	svc, snap, clock := newTestService(t, Options{Generate: fixedCodes("AB12CD")})
	ctx := context.Background()
	rec, _ := svc.Issue(ctx, "alice", "1")
	expiresAt := time.UnixMilli(rec.ExpiresAt)

	clock.Set(expiresAt.Add(-time.Millisecond))
	if !svc.Validate(ctx, rec.Code).Valid {
		t.Fatal("code should be valid 1ms before expiry")
	}

	savesBefore := snap.saveCount()
	clock.Set(expiresAt.Add(time.Millisecond))
	if svc.Validate(ctx, rec.Code).Valid {
		t.Fatal("code should be invalid 1ms after expiry")
	}
	if svc.Len() != 0 {
		t.Error("expired record should be evicted on lookup")
	}
	if snap.saveCount() != savesBefore+1 {
		t.Error("lazy eviction should persist the store")
	}
	if _, ok := snap.data[rec.Code]; ok {
		t.Error("snapshot still holds evicted code")
	}
}

func TestValidate_ExactlyAtExpiryIsInvalid(t *testing.T) {
	svc, _, clock := newTestService(t, Options{Generate: fixedCodes("AB12CD")})
	ctx := context.Background()
	rec, _ := svc.Issue(ctx, "alice", "1")

	clock.Set(time.UnixMilli(rec.ExpiresAt))
	if svc.Validate(ctx, rec.Code).Valid {
		t.Error("validity window is half-open; expiresAt itself must be invalid")
	}
}

func TestValidate_UnknownAndEmpty(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()
	if svc.Validate(ctx, "NOPE00").Valid {
		t.Error("unknown code should be invalid")
	}
	if svc.Validate(ctx, "   ").Valid {
		t.Error("blank code should be invalid")
	}
}

func TestValidate_SingleUse(t *testing.T) {
	ctx := context.Background()

	multi, _, _ := newTestService(t, Options{Generate: fixedCodes("AB12CD")})
	multi.Issue(ctx, "alice", "1")
	multi.Validate(ctx, "AB12CD")
	if !multi.Validate(ctx, "AB12CD").Valid {
		t.Error("default mode keeps codes valid until expiry")
	}

	single, _, _ := newTestService(t, Options{Generate: fixedCodes("AB12CD"), SingleUse: true})
	single.Issue(ctx, "alice", "1")
	if !single.Validate(ctx, "AB12CD").Valid {
		t.Fatal("first validation should succeed")
	}
	if single.Validate(ctx, "AB12CD").Valid {
		t.Error("single-use code should be consumed")
	}
}

func TestSweep_RemovesOnlyExpired(t *testing.T) {
	svc, snap, clock := newTestService(t, Options{Generate: fixedCodes("OLD111", "NEW222")})
	ctx := context.Background()
	start := clock.Now()

	svc.Issue(ctx, "alice", "1")
	clock.Set(start.Add(5 * time.Minute))
	svc.Issue(ctx, "bob", "2")

	clock.Set(start.Add(DefaultTTL + time.Minute))
	savesBefore := snap.saveCount()

	if n := svc.Sweep(ctx); n != 1 {
		t.Fatalf("swept %d records, want 1", n)
	}
	if snap.saveCount() != savesBefore+1 {
		t.Error("sweep with evictions should persist once")
	}
	if svc.Validate(ctx, "OLD111").Valid {
		t.Error("expired record still valid")
	}
	if v := svc.Validate(ctx, "NEW222"); !v.Valid || v.Tenant != "bob" {
		t.Errorf("live record lost: %+v", v)
	}
}

func TestSweep_NoEvictionNoWrite(t *testing.T) {
	svc, snap, _ := newTestService(t, Options{Generate: fixedCodes("AB12CD")})
	ctx := context.Background()
	svc.Issue(ctx, "alice", "1")

	before := snap.saveCount()
	if n := svc.Sweep(ctx); n != 0 {
		t.Errorf("swept %d, want 0", n)
	}
	if snap.saveCount() != before {
		t.Error("sweep without evictions must not rewrite the snapshot")
	}
}

func TestNewService_LoadsSnapshotNormalized(t *testing.T) {
	snap := &memSnapshot{data: map[string]store.PairingRecord{
		"ab12cd": {Code: "ab12cd", Tenant: "alice", Phone: "1", CreatedAt: 1, ExpiresAt: 1 << 62},
	}}
	svc := NewService(context.Background(), snap, Options{})
	if !svc.Validate(context.Background(), "AB12CD").Valid {
		t.Error("record loaded from snapshot should be valid")
	}
}

func TestListPending_SkipsExpired(t *testing.T) {
	svc, _, clock := newTestService(t, Options{Generate: fixedCodes("AAAAAA", "BBBBBB")})
	ctx := context.Background()
	start := clock.Now()
	svc.Issue(ctx, "alice", "1")
	clock.Set(start.Add(9 * time.Minute))
	svc.Issue(ctx, "bob", "2")

	clock.Set(start.Add(11 * time.Minute))
	pending := svc.ListPending()
	if len(pending) != 1 || pending[0].Tenant != "bob" {
		t.Errorf("pending = %+v, want only bob", pending)
	}
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := GenerateCode(DefaultCodeLength)
		if len(code) != DefaultCodeLength {
			t.Fatalf("len = %d", len(code))
		}
		for _, r := range code {
			if !strings.ContainsRune(CodeAlphabet, r) {
				t.Fatalf("code %q has character outside alphabet", code)
			}
		}
	}
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunSweeper(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
