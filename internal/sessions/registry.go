// Package sessions keeps at most one live connection per tenant.
package sessions

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nextlevelbuilder/walink/internal/connector"
	"github.com/nextlevelbuilder/walink/internal/orcherr"
	"github.com/nextlevelbuilder/walink/internal/store"
)

// DefaultCreateTimeout bounds connector construction plus the initial Connect.
const DefaultCreateTimeout = 30 * time.Second

// Attacher wires a connection's message stream to its consumer.
// The returned func detaches it again.
type Attacher interface {
	Attach(tenant string, conn connector.Conn, webhookURL string) (detach func())
}

// Session is a tenant's registered connection. Fields are fixed at creation.
type Session struct {
	Tenant     string
	Conn       connector.Conn
	WebhookURL string

	detach []func()
}

// Config configures a Registry.
type Config struct {
	Connector connector.Connector
	Router    Attacher
	// Meta supplies the persisted webhook URL when none is given at creation.
	Meta          store.MetaStore
	CreateTimeout time.Duration
}

// Registry maps tenants to live connections.
type Registry struct {
	connector     connector.Connector
	router        Attacher
	meta          store.MetaStore
	createTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
	group    singleflight.Group
	closed   bool
}

func NewRegistry(cfg Config) *Registry {
	timeout := cfg.CreateTimeout
	if timeout <= 0 {
		timeout = DefaultCreateTimeout
	}
	return &Registry{
		connector:     cfg.Connector,
		router:        cfg.Router,
		meta:          cfg.Meta,
		createTimeout: timeout,
		sessions:      make(map[string]*Session),
	}
}

var errRegistryClosed = errors.New("registry closed")

// GetOrCreate returns the tenant's live session, creating it on first use.
// Concurrent calls for one tenant construct a single connection. On reuse
// webhookURL is ignored.
func (r *Registry) GetOrCreate(ctx context.Context, tenant, webhookURL string) (*Session, error) {
	if err := store.ValidateTenantID(tenant); err != nil {
		return nil, orcherr.Validation("username", err.Error())
	}

	if s := r.Get(tenant); s != nil {
		if webhookURL != "" && webhookURL != s.WebhookURL {
			slog.Debug("sessions: webhook url ignored for existing session", "tenant", tenant)
		}
		return s, nil
	}

	// The first caller's context must not cancel construction on behalf of
	// everyone else waiting on the same flight.
	createCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(tenant, func() (any, error) {
		if s := r.Get(tenant); s != nil {
			return s, nil
		}
		return r.create(createCtx, tenant, webhookURL)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) create(ctx context.Context, tenant, webhookURL string) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.createTimeout)
	defer cancel()

	if webhookURL == "" && r.meta != nil {
		meta, err := r.meta.GetMeta(tenant)
		if err != nil {
			slog.Warn("sessions: read webhook meta failed", "tenant", tenant, "error", err)
		} else if meta != nil {
			webhookURL = meta.WebhookURL
		}
	}

	conn, err := r.connector.Open(ctx, tenant)
	if err != nil {
		return nil, &orcherr.ConnectionInitError{Tenant: tenant, Err: err}
	}

	s := r.attach(tenant, conn, webhookURL)
	if err := conn.Connect(ctx); err != nil {
		s.teardown()
		return nil, &orcherr.ConnectionInitError{Tenant: tenant, Err: err}
	}

	if existing, ok := r.insert(s); !ok {
		// Adopted by a concurrent QR link while we were connecting.
		s.teardown()
		if existing == nil {
			return nil, &orcherr.ConnectionInitError{Tenant: tenant, Err: errRegistryClosed}
		}
		return existing, nil
	}

	slog.Info("sessions: connection created", "tenant", tenant, "webhook", webhookURL != "")
	return s, nil
}

// Adopt registers an already-connected conn for tenant, typically one that
// completed QR linking. It returns false, leaving conn untouched, when the
// tenant already has a session.
func (r *Registry) Adopt(tenant string, conn connector.Conn, webhookURL string) bool {
	if r.Get(tenant) != nil {
		return false
	}
	if webhookURL == "" && r.meta != nil {
		if meta, err := r.meta.GetMeta(tenant); err == nil && meta != nil {
			webhookURL = meta.WebhookURL
		}
	}

	s := r.attach(tenant, conn, webhookURL)
	if _, ok := r.insert(s); !ok {
		for _, d := range s.detach {
			d()
		}
		return false
	}
	slog.Info("sessions: connection adopted", "tenant", tenant)
	return true
}

// attach subscribes the lifecycle logger and the message router.
func (r *Registry) attach(tenant string, conn connector.Conn, webhookURL string) *Session {
	s := &Session{Tenant: tenant, Conn: conn, WebhookURL: webhookURL}
	s.detach = append(s.detach, conn.Subscribe(func(evt connector.Event) {
		lc, ok := evt.(*connector.Lifecycle)
		if !ok {
			return
		}
		slog.Info("sessions: lifecycle", "tenant", tenant, "kind", lc.Kind, "reason", lc.Reason)
		if lc.Kind.Final() {
			// Unsubscribing from inside a handler deadlocks the connector.
			go r.removeIf(tenant, conn, lc.Kind)
		}
	}))
	if r.router != nil {
		s.detach = append(s.detach, r.router.Attach(tenant, conn, webhookURL))
	}
	return s
}

// insert stores s unless the tenant already has a session. It returns the
// existing session (nil when the registry is closed) and false on conflict.
func (r *Registry) insert(s *Session) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false
	}
	if existing, ok := r.sessions[s.Tenant]; ok {
		return existing, false
	}
	r.sessions[s.Tenant] = s
	return s, true
}

// Get returns the tenant's session or nil.
func (r *Registry) Get(tenant string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[tenant]
}

// Tenants returns the tenants with a live session, sorted.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.sessions))
	for t := range r.sessions {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Remove closes and forgets the tenant's session. It reports whether one existed.
func (r *Registry) Remove(tenant string) bool {
	r.mu.Lock()
	s, ok := r.sessions[tenant]
	delete(r.sessions, tenant)
	r.mu.Unlock()
	if ok {
		s.teardown()
	}
	return ok
}

// removeIf drops the tenant's session only if it still holds conn, so a
// late event from a replaced connection cannot evict its successor.
func (r *Registry) removeIf(tenant string, conn connector.Conn, kind connector.LifecycleKind) {
	r.mu.Lock()
	s, ok := r.sessions[tenant]
	if ok && s.Conn == conn {
		delete(r.sessions, tenant)
	} else {
		ok = false
	}
	r.mu.Unlock()
	if ok {
		slog.Info("sessions: connection ended, session removed", "tenant", tenant, "kind", kind)
		s.teardown()
	}
}

// Close tears down every session. Later creations fail.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		s.teardown()
	}
}

func (s *Session) teardown() {
	for _, d := range s.detach {
		d()
	}
	if err := s.Conn.Close(); err != nil {
		slog.Warn("sessions: close connection failed", "tenant", s.Tenant, "error", err)
	}
}
