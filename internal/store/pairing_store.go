package store

import "context"

// PairingRecord is a pending pairing code issued for a tenant.
// Timestamps are unix millis; the record is valid in [CreatedAt, ExpiresAt).
type PairingRecord struct {
	Code      string `json:"code"`
	Tenant    string `json:"username"`
	Phone     string `json:"phone"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

// SnapshotStore persists the full code → record map.
// Save replaces the previous snapshot atomically.
type SnapshotStore interface {
	Load(ctx context.Context) (map[string]PairingRecord, error)
	Save(ctx context.Context, records map[string]PairingRecord) error
}
