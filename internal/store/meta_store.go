package store

// WebhookMeta is the per-tenant webhook registration.
type WebhookMeta struct {
	WebhookURL string `json:"webhookUrl"`
	UpdatedAt  int64  `json:"updatedAt"` // unix millis
}

// MetaStore manages per-tenant webhook metadata.
type MetaStore interface {
	// GetMeta returns nil, nil when the tenant has no metadata yet.
	GetMeta(tenant string) (*WebhookMeta, error)
	SaveMeta(tenant string, meta WebhookMeta) error
}
