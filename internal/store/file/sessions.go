package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/walink/internal/store"
)

// MetaFileName is the webhook metadata file kept inside each session directory.
const MetaFileName = "meta.json"

// SessionDirs manages per-tenant session directories under a root
// (e.g. ./sessions/<username>/). The connector keeps its auth state there,
// next to the tenant's meta.json. Implements store.MetaStore.
type SessionDirs struct {
	root string
}

func NewSessionDirs(root string) *SessionDirs {
	return &SessionDirs{root: root}
}

// Path returns the session directory for tenant.
func (d *SessionDirs) Path(tenant string) string {
	return filepath.Join(d.root, tenant)
}

// Ensure creates the tenant's session directory if needed.
func (d *SessionDirs) Ensure(tenant string) (string, error) {
	dir := d.Path(tenant)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	return dir, nil
}

// Status reports whether the tenant's session directory exists and whether it
// holds any auth state. meta.json alone does not count as auth state.
func (d *SessionDirs) Status(tenant string) (exists, logged bool, err error) {
	entries, err := os.ReadDir(d.Path(tenant))
	if errors.Is(err, os.ErrNotExist) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("read session dir: %w", err)
	}
	for _, e := range entries {
		if e.Name() != MetaFileName {
			return true, true, nil
		}
	}
	return true, false, nil
}

func (d *SessionDirs) GetMeta(tenant string) (*store.WebhookMeta, error) {
	data, err := os.ReadFile(filepath.Join(d.Path(tenant), MetaFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read webhook meta: %w", err)
	}
	var meta store.WebhookMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode webhook meta: %w", err)
	}
	return &meta, nil
}

func (d *SessionDirs) SaveMeta(tenant string, meta store.WebhookMeta) error {
	if err := writeJSONAtomic(filepath.Join(d.Path(tenant), MetaFileName), meta, 0o600); err != nil {
		return fmt.Errorf("save webhook meta: %w", err)
	}
	return nil
}
