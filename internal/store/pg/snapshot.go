package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/walink/internal/store"
)

// DefaultTable holds one row per pending code.
const DefaultTable = "walink_pairings"

// SnapshotStore implements store.SnapshotStore on a Postgres table.
// Save rewrites the table inside one transaction, so readers see either
// the previous or the new snapshot.
type SnapshotStore struct {
	db    *sql.DB
	table string
}

// New opens dsn and ensures the table exists.
func New(ctx context.Context, dsn string) (*SnapshotStore, error) {
	db, err := OpenDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s := NewWithDB(db, DefaultTable)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an open database. table must be a trusted identifier.
func NewWithDB(db *sql.DB, table string) *SnapshotStore {
	if table == "" {
		table = DefaultTable
	}
	return &SnapshotStore{db: db, table: table}
}

// EnsureSchema creates the pairing table when missing.
func (s *SnapshotStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		code       TEXT PRIMARY KEY,
		username   TEXT NOT NULL,
		phone      TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`, s.table))
	if err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

func (s *SnapshotStore) Load(ctx context.Context) (map[string]store.PairingRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT code, username, phone, created_at, expires_at FROM %s", s.table))
	if err != nil {
		return nil, fmt.Errorf("query pairings: %w", err)
	}
	defer rows.Close()

	records := map[string]store.PairingRecord{}
	for rows.Next() {
		var rec store.PairingRecord
		var createdAt, expiresAt time.Time
		if err := rows.Scan(&rec.Code, &rec.Tenant, &rec.Phone, &createdAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan pairing: %w", err)
		}
		rec.CreatedAt = createdAt.UnixMilli()
		rec.ExpiresAt = expiresAt.UnixMilli()
		records[rec.Code] = rec
	}
	return records, rows.Err()
}

func (s *SnapshotStore) Save(ctx context.Context, records map[string]store.PairingRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", s.table)); err != nil {
		return fmt.Errorf("clear pairings: %w", err)
	}

	insert := fmt.Sprintf(
		"INSERT INTO %s (code, username, phone, created_at, expires_at) VALUES ($1, $2, $3, $4, $5)", s.table)
	for code, rec := range records {
		_, err := tx.ExecContext(ctx, insert,
			code, rec.Tenant, rec.Phone,
			time.UnixMilli(rec.CreatedAt).UTC(), time.UnixMilli(rec.ExpiresAt).UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert pairing %s: %w", code, err)
		}
	}
	return tx.Commit()
}

// Close releases the database.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}
