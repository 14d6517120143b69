// Package http exposes the linking, webhook, session and send operations
// as a JSON API, and optionally serves the static frontend.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/cors"

	"github.com/nextlevelbuilder/walink/internal/linking"
	"github.com/nextlevelbuilder/walink/internal/pairing"
	"github.com/nextlevelbuilder/walink/internal/sessions"
	"github.com/nextlevelbuilder/walink/internal/store"
)

// Linker starts device linking.
type Linker interface {
	StartLinking(ctx context.Context, req linking.Request) (*linking.Result, error)
}

// CodeBook validates and lists pairing codes.
type CodeBook interface {
	Validate(ctx context.Context, code string) pairing.Validation
	ListPending() []store.PairingRecord
}

// SessionManager hands out and tears down live tenant connections.
type SessionManager interface {
	GetOrCreate(ctx context.Context, tenant, webhookURL string) (*sessions.Session, error)
	Get(tenant string) *sessions.Session
	Remove(tenant string) bool
	Tenants() []string
}

// SessionDirs reports on and annotates tenant session directories.
type SessionDirs interface {
	Status(tenant string) (exists, logged bool, err error)
	SaveMeta(tenant string, meta store.WebhookMeta) error
}

// Config configures a Server.
type Config struct {
	Token          string   // bearer token for /api routes; empty disables auth
	AllowedOrigins []string // CORS; empty allows any origin
	StaticDir      string   // frontend directory; empty disables static serving
	Limiter        *RateLimiter
}

// Server routes API requests to the orchestration components.
type Server struct {
	linker    Linker
	codes     CodeBook
	sessions  SessionManager
	dirs      SessionDirs
	limiter   *RateLimiter
	staticDir string
	origins   []string
	apiToken  atomic.Pointer[string]
	now       func() time.Time
}

func NewServer(cfg Config, linker Linker, codes CodeBook, sm SessionManager, dirs SessionDirs) *Server {
	s := &Server{
		linker:    linker,
		codes:     codes,
		sessions:  sm,
		dirs:      dirs,
		limiter:   cfg.Limiter,
		staticDir: cfg.StaticDir,
		origins:   cfg.AllowedOrigins,
		now:       time.Now,
	}
	s.SetToken(cfg.Token)
	return s
}

// SetToken replaces the API bearer token.
func (s *Server) SetToken(token string) {
	s.apiToken.Store(&token)
}

func (s *Server) token() string {
	return *s.apiToken.Load()
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/pairing", s.guard(s.handleStartLinking))
	mux.HandleFunc("GET /api/pairing", s.guard(s.handleListPairings))
	mux.HandleFunc("GET /api/pairing/check/{code}", s.guard(s.handleCheckCode))
	mux.HandleFunc("POST /api/webhook/register", s.guard(s.handleRegisterWebhook))
	mux.HandleFunc("GET /api/session/{username}", s.guard(s.handleSessionStatus))
	mux.HandleFunc("DELETE /api/session/{username}", s.guard(s.handleCloseSession))
	mux.HandleFunc("POST /api/send/{username}", s.guard(s.handleSend))
	mux.HandleFunc("GET /healthz", s.handleHealth)

	if s.staticDir != "" {
		mux.Handle("GET /", spaHandler(s.staticDir))
	}
}

// Handler returns the full handler chain: CORS, access log, routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	opts := cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return cors.New(opts).Handler(accessLog(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.sessions.Tenants()),
	})
}

// statusRecorder captures the response status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", clientIP(r),
			"tenant", r.PathValue("username"),
		)
	})
}
