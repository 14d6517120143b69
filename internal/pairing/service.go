// Package pairing implements the pairing-code credential store.
//
// A linking request in "pairing" mode produces a short code bound to a tenant
// and phone number:
//  1. The code is drawn uniformly from CodeAlphabet (no ambiguous characters)
//  2. The record is written to the snapshot before the code is returned
//  3. Lookups are case-insensitive and evict expired records on the spot
//  4. A background sweeper removes whatever lookups never touched
//
// Codes expire after 10 minutes by default.
package pairing

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/walink/internal/store"
)

const (
	// CodeAlphabet excludes ambiguous characters (0, O, 1, I).
	// Its length is 32, so byte%32 is an unbiased draw.
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// DefaultCodeLength is the number of characters in a pairing code.
	DefaultCodeLength = 6
	// DefaultTTL is how long a pairing code remains valid.
	DefaultTTL = 10 * time.Minute

	maxGenerateAttempts = 5
)

// Options tunes a Service. Zero values fall back to the defaults above.
type Options struct {
	TTL        time.Duration
	CodeLength int
	// SingleUse consumes a code on its first successful validation.
	SingleUse bool
	// Now and Generate are injectable for tests.
	Now      func() time.Time
	Generate func(length int) string
}

// Validation is the outcome of a code lookup.
type Validation struct {
	Valid  bool
	Tenant string
	Phone  string
}

// Service is the in-memory pairing store backed by a snapshot.
// All access is serialized by mu: reads, lazy eviction and persistence
// must observe the same map.
type Service struct {
	snapshots store.SnapshotStore
	opts      Options

	mu      sync.Mutex
	records map[string]store.PairingRecord
}

// NewService creates the store and loads the existing snapshot.
// An unreadable snapshot is logged and the store starts empty.
func NewService(ctx context.Context, snapshots store.SnapshotStore, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.CodeLength < DefaultCodeLength {
		opts.CodeLength = DefaultCodeLength
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Generate == nil {
		opts.Generate = GenerateCode
	}

	s := &Service{
		snapshots: snapshots,
		opts:      opts,
		records:   make(map[string]store.PairingRecord),
	}

	loaded, err := snapshots.Load(ctx)
	if err != nil {
		slog.Warn("pairing: snapshot unreadable, starting empty", "error", err)
		return s
	}
	for code, rec := range loaded {
		s.records[normalizeCode(code)] = rec
	}
	slog.Info("pairing: snapshot loaded", "records", len(s.records))
	return s
}

// Issue generates a code for tenant/phone and persists the whole store
// before returning. On persistence failure the record is discarded.
func (s *Service) Issue(ctx context.Context, tenant, phone string) (store.PairingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	nowMs := now.UnixMilli()

	var code string
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		code = normalizeCode(s.opts.Generate(s.opts.CodeLength))
		existing, taken := s.records[code]
		if !taken || existing.ExpiresAt <= nowMs {
			break
		}
	}

	rec := store.PairingRecord{
		Code:      code,
		Tenant:    tenant,
		Phone:     phone,
		CreatedAt: nowMs,
		ExpiresAt: now.Add(s.opts.TTL).UnixMilli(),
	}

	prev, hadPrev := s.records[code]
	s.records[code] = rec
	if err := s.persistLocked(ctx); err != nil {
		if hadPrev {
			s.records[code] = prev
		} else {
			delete(s.records, code)
		}
		return store.PairingRecord{}, fmt.Errorf("persist pairing code: %w", err)
	}

	slog.Info("pairing code generated",
		"tenant", tenant,
		"expires_at", rec.ExpiresAt,
	)
	return rec, nil
}

// Validate checks code case-insensitively. A record is valid while
// now < ExpiresAt; an expired record is evicted and persisted immediately.
func (s *Service) Validate(ctx context.Context, code string) Validation {
	code = normalizeCode(code)
	if code == "" {
		return Validation{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[code]
	if !ok {
		return Validation{}
	}

	if s.opts.Now().UnixMilli() >= rec.ExpiresAt {
		delete(s.records, code)
		if err := s.persistLocked(ctx); err != nil {
			slog.Error("pairing: failed to persist lazy eviction", "error", err)
		}
		return Validation{}
	}

	if s.opts.SingleUse {
		delete(s.records, code)
		if err := s.persistLocked(ctx); err != nil {
			slog.Error("pairing: failed to persist consumed code", "error", err)
		}
		slog.Info("pairing code consumed", "tenant", rec.Tenant)
	}

	return Validation{Valid: true, Tenant: rec.Tenant, Phone: rec.Phone}
}

// Sweep evicts every record with ExpiresAt < now and persists only when
// something was removed. Returns the number of evicted records.
func (s *Service) Sweep(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now().UnixMilli()
	removed := 0
	for code, rec := range s.records {
		if rec.ExpiresAt < now {
			delete(s.records, code)
			removed++
		}
	}
	if removed == 0 {
		return 0
	}

	if err := s.persistLocked(ctx); err != nil {
		slog.Error("pairing: failed to persist sweep", "error", err)
	}
	slog.Debug("pairing: expired codes swept", "removed", removed)
	return removed
}

// ListPending returns the non-expired records, newest first.
func (s *Service) ListPending() []store.PairingRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now().UnixMilli()
	result := make([]store.PairingRecord, 0, len(s.records))
	for _, rec := range s.records {
		if rec.ExpiresAt > now {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt > result[j].CreatedAt })
	return result
}

// Len returns the number of stored records, expired ones included.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// --- Internal ---

// persistLocked writes a copy of the map. Must be called with s.mu held.
func (s *Service) persistLocked(ctx context.Context) error {
	snapshot := make(map[string]store.PairingRecord, len(s.records))
	for code, rec := range s.records {
		snapshot[code] = rec
	}
	return s.snapshots.Save(ctx, snapshot)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// GenerateCode returns a uniformly random code of the given length.
func GenerateCode(length int) string {
	b := make([]byte, length)
	rand.Read(b)
	code := make([]byte, length)
	for i := range code {
		code[i] = CodeAlphabet[int(b[i])%len(CodeAlphabet)]
	}
	return string(code)
}
