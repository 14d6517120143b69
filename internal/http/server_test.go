package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/walink/internal/connector"
	"github.com/nextlevelbuilder/walink/internal/linking"
	"github.com/nextlevelbuilder/walink/internal/orcherr"
	"github.com/nextlevelbuilder/walink/internal/pairing"
	"github.com/nextlevelbuilder/walink/internal/sessions"
	"github.com/nextlevelbuilder/walink/internal/store"
)

type fakeLinker struct {
	got linking.Request
	res *linking.Result
	err error
}

func (f *fakeLinker) StartLinking(_ context.Context, req linking.Request) (*linking.Result, error) {
	f.got = req
	return f.res, f.err
}

type fakeCodes struct {
	valid map[string]pairing.Validation
}

func (f *fakeCodes) Validate(_ context.Context, code string) pairing.Validation {
	return f.valid[strings.ToUpper(code)]
}

func (f *fakeCodes) ListPending() []store.PairingRecord {
	return []store.PairingRecord{{Code: "AB12CD", Tenant: "alice"}}
}

type fakeConn struct {
	connector.Conn
	to, text string
	err      error
	loggedIn bool
}

func (c *fakeConn) IsLoggedIn() bool { return c.loggedIn }

func (c *fakeConn) SendText(_ context.Context, to, text string) error {
	c.to, c.text = to, text
	return c.err
}

type fakeSessions struct {
	conn    *fakeConn
	err     error
	tenant  string
	webhook string
	live    map[string]*sessions.Session
	removed []string
}

func (f *fakeSessions) GetOrCreate(_ context.Context, tenant, webhookURL string) (*sessions.Session, error) {
	f.tenant, f.webhook = tenant, webhookURL
	if f.err != nil {
		return nil, f.err
	}
	return &sessions.Session{Tenant: tenant, Conn: f.conn}, nil
}

func (f *fakeSessions) Get(tenant string) *sessions.Session { return f.live[tenant] }

func (f *fakeSessions) Remove(tenant string) bool {
	f.removed = append(f.removed, tenant)
	_, ok := f.live[tenant]
	delete(f.live, tenant)
	return ok
}

func (f *fakeSessions) Tenants() []string { return []string{"alice"} }

type fakeDirs struct {
	exists, logged bool
	saved          map[string]store.WebhookMeta
	saveErr        error
}

func (f *fakeDirs) Status(string) (bool, bool, error) { return f.exists, f.logged, nil }

func (f *fakeDirs) SaveMeta(tenant string, meta store.WebhookMeta) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.saved == nil {
		f.saved = make(map[string]store.WebhookMeta)
	}
	f.saved[tenant] = meta
	return nil
}

type fixture struct {
	linker   *fakeLinker
	codes    *fakeCodes
	sessions *fakeSessions
	dirs     *fakeDirs
	cfg      Config
}

func newFixture() *fixture {
	return &fixture{
		linker:   &fakeLinker{},
		codes:    &fakeCodes{valid: map[string]pairing.Validation{}},
		sessions: &fakeSessions{conn: &fakeConn{}},
		dirs:     &fakeDirs{},
	}
}

func (f *fixture) handler() http.Handler {
	s := NewServer(f.cfg, f.linker, f.codes, f.sessions, f.dirs)
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return s.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestStartLinking_PairingCode(t *testing.T) {
	f := newFixture()
	f.linker.res = &linking.Result{Record: &store.PairingRecord{Code: "AB12CD", ExpiresAt: 1700000600000}}

	rec := do(t, f.handler(), "POST", "/api/pairing", `{"username":"alice","phone":"336","webhookUrl":"https://hook.example/x"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	body := decode(t, rec)
	if body["status"] != "ok" || body["pairingCode"] != "AB12CD" || body["expiresAt"] != float64(1700000600000) {
		t.Errorf("unexpected body %v", body)
	}
	if f.linker.got.Tenant != "alice" || f.linker.got.WebhookURL != "https://hook.example/x" {
		t.Errorf("linker got %+v", f.linker.got)
	}
}

func TestStartLinking_QRImage(t *testing.T) {
	f := newFixture()
	f.linker.res = &linking.Result{QRPNG: []byte("\x89PNG fake")}

	rec := do(t, f.handler(), "POST", "/api/pairing", `{"username":"alice","phone":"336","mode":"QR"}`)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("status=%d content-type=%q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if rec.Body.String() != "\x89PNG fake" {
		t.Error("PNG body not passed through")
	}
	if f.linker.got.Mode != "qr" {
		t.Errorf("mode = %q, want normalized qr", f.linker.got.Mode)
	}
}

func TestStartLinking_Connected(t *testing.T) {
	f := newFixture()
	f.linker.res = &linking.Result{Connected: true}
	rec := do(t, f.handler(), "POST", "/api/pairing", `{"username":"alice","phone":"336","mode":"qr"}`)
	if body := decode(t, rec); body["status"] != "connected" {
		t.Errorf("body = %v", body)
	}
}

func TestStartLinking_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"missing_phone", `{"username":"alice"}`, nil, 400, "invalid_request"},
		{"missing_username", `{"phone":"336"}`, nil, 400, "invalid_request"},
		{"bad_mode", `{"username":"alice","phone":"336","mode":"sms"}`, nil, 400, "invalid_request"},
		{"bad_json", `{`, nil, 400, "invalid_request"},
		{"controller_validation", `{"username":"../x","phone":"336"}`, orcherr.Validation("username", "bad"), 400, "invalid_request"},
		{"timeout", `{"username":"alice","phone":"336","mode":"qr"}`, orcherr.ErrLinkingTimeout, 500, "linking_timeout"},
		{"internal", `{"username":"alice","phone":"336"}`, errors.New("disk"), 500, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.linker.err = tt.err
			rec := do(t, f.handler(), "POST", "/api/pairing", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body)
			}
			if got := decode(t, rec)["error"]; got != tt.wantErr {
				t.Errorf("error = %v, want %s", got, tt.wantErr)
			}
		})
	}
}

func TestCheckCode(t *testing.T) {
	f := newFixture()
	f.codes.valid["AB12CD"] = pairing.Validation{Valid: true, Tenant: "alice", Phone: "336"}
	h := f.handler()

	body := decode(t, do(t, h, "GET", "/api/pairing/check/ab12cd", ""))
	if body["valid"] != true || body["username"] != "alice" || body["phone"] != "336" {
		t.Errorf("valid code: %v", body)
	}

	body = decode(t, do(t, h, "GET", "/api/pairing/check/ZZZZZZ", ""))
	if body["valid"] != false {
		t.Errorf("unknown code: %v", body)
	}
	if _, ok := body["username"]; ok {
		t.Error("invalid response must not carry a username")
	}
}

func TestListPairings(t *testing.T) {
	f := newFixture()
	body := decode(t, do(t, f.handler(), "GET", "/api/pairing", ""))
	list, ok := body["pairings"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("pairings = %v", body["pairings"])
	}
}

func TestRegisterWebhook(t *testing.T) {
	f := newFixture()
	rec := do(t, f.handler(), "POST", "/api/webhook/register", `{"username":"alice","webhookUrl":"https://hook.example/in"}`)
	if rec.Code != http.StatusOK || decode(t, rec)["ok"] != true {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
	meta := f.dirs.saved["alice"]
	if meta.WebhookURL != "https://hook.example/in" || meta.UpdatedAt != 1700000000000 {
		t.Errorf("saved meta %+v", meta)
	}
	if f.sessions.tenant != "alice" || f.sessions.webhook != "https://hook.example/in" {
		t.Errorf("session started for %q with %q", f.sessions.tenant, f.sessions.webhook)
	}

	for _, body := range []string{`{"username":"alice"}`, `{"webhookUrl":"https://x"}`, `{"username":"../etc","webhookUrl":"https://x"}`} {
		if rec := do(t, f.handler(), "POST", "/api/webhook/register", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestRegisterWebhook_SessionFailure(t *testing.T) {
	f := newFixture()
	f.sessions.err = &orcherr.ConnectionInitError{Tenant: "alice", Err: errors.New("boom")}
	rec := do(t, f.handler(), "POST", "/api/webhook/register", `{"username":"alice","webhookUrl":"https://x.example"}`)
	if rec.Code != http.StatusInternalServerError || decode(t, rec)["error"] != "internal_error" {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
}

func TestSessionStatus(t *testing.T) {
	f := newFixture()
	f.dirs.exists, f.dirs.logged = true, true
	body := decode(t, do(t, f.handler(), "GET", "/api/session/alice", ""))
	if body["username"] != "alice" || body["exists"] != true || body["logged"] != true || body["connected"] != false {
		t.Errorf("body = %v", body)
	}

	f.sessions.live = map[string]*sessions.Session{
		"alice": {Tenant: "alice", Conn: &fakeConn{loggedIn: true}},
	}
	body = decode(t, do(t, f.handler(), "GET", "/api/session/alice", ""))
	if body["connected"] != true {
		t.Errorf("live logged-in session: body = %v", body)
	}

	if rec := do(t, f.handler(), "GET", "/api/session/..", ""); rec.Code == http.StatusOK {
		t.Error("path-unsafe username should be rejected")
	}
}

func TestCloseSession(t *testing.T) {
	f := newFixture()
	f.sessions.live = map[string]*sessions.Session{"alice": {Tenant: "alice", Conn: &fakeConn{}}}
	h := f.handler()

	rec := do(t, h, "DELETE", "/api/session/alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
	if body := decode(t, rec); body["ok"] != true || body["removed"] != true {
		t.Errorf("body = %v", body)
	}
	if body := decode(t, do(t, h, "DELETE", "/api/session/alice", "")); body["removed"] != false {
		t.Errorf("second close: body = %v", body)
	}
	if len(f.sessions.removed) != 2 {
		t.Errorf("Remove called %d times, want 2", len(f.sessions.removed))
	}

	if rec := do(t, h, "DELETE", "/api/session/..", ""); rec.Code == http.StatusOK {
		t.Error("path-unsafe username should be rejected")
	}
}

func TestSend(t *testing.T) {
	f := newFixture()
	rec := do(t, f.handler(), "POST", "/api/send/alice", `{"to":"33612345678","text":"hello"}`)
	if rec.Code != http.StatusOK || decode(t, rec)["ok"] != true {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
	if f.sessions.conn.to != "33612345678" || f.sessions.conn.text != "hello" {
		t.Errorf("sent %q to %q", f.sessions.conn.text, f.sessions.conn.to)
	}
}

func TestSend_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		sessionErr error
		sendErr    error
		wantCode   int
		wantErr    string
	}{
		{"missing_text", `{"to":"336"}`, nil, nil, 400, "invalid_request"},
		{"missing_to", `{"text":"hi"}`, nil, nil, 400, "invalid_request"},
		{"send_failure", `{"to":"336","text":"hi"}`, nil, errors.New("offline"), 500, "send_failed"},
		{"session_failure", `{"to":"336","text":"hi"}`, &orcherr.ConnectionInitError{Tenant: "alice", Err: errors.New("x")}, nil, 500, "send_failed"},
		{"bad_tenant", `{"to":"336","text":"hi"}`, orcherr.Validation("username", "bad"), nil, 400, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.sessions.err = tt.sessionErr
			f.sessions.conn.err = tt.sendErr
			rec := do(t, f.handler(), "POST", "/api/send/alice", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body)
			}
			if got := decode(t, rec)["error"]; got != tt.wantErr {
				t.Errorf("error = %v, want %s", got, tt.wantErr)
			}
		})
	}
}

func TestAuthAndRateLimit(t *testing.T) {
	f := newFixture()
	f.cfg.Token = "s3cret"
	limiter := NewRateLimiter(60, 2)
	defer limiter.Stop()
	f.cfg.Limiter = limiter
	h := f.handler()

	if rec := do(t, h, "GET", "/api/pairing", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rec.Code)
	}

	authed := func() int {
		req := httptest.NewRequest("GET", "/api/pairing", nil)
		req.Header.Set("Authorization", "Bearer s3cret")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	if authed() != http.StatusOK || authed() != http.StatusOK {
		t.Fatal("burst requests should pass")
	}
	if code := authed(); code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", code)
	}

	if rec := do(t, h, "GET", "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz should bypass auth, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newFixture().handler()
	req := httptest.NewRequest("OPTIONS", "/api/pairing", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("allow-origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestStaticFallback(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644)
	os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644)

	f := newFixture()
	f.cfg.StaticDir = dir
	h := f.handler()

	if rec := do(t, h, "GET", "/app.js", ""); !strings.Contains(rec.Body.String(), "console.log") {
		t.Errorf("app.js body = %q", rec.Body)
	}
	if rec := do(t, h, "GET", "/settings/profile", ""); !strings.Contains(rec.Body.String(), "app") {
		t.Errorf("SPA fallback body = %q", rec.Body)
	}
	if rec := do(t, h, "GET", "/api/unknown", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown API path: status = %d, want 404", rec.Code)
	}
}
