package http

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/walink/internal/orcherr"
	"github.com/nextlevelbuilder/walink/internal/store"
	"github.com/nextlevelbuilder/walink/pkg/protocol"
)

type registerWebhookRequest struct {
	Username   string `json:"username" validate:"required"`
	WebhookURL string `json:"webhookUrl" validate:"required,url"`
}

type sendRequest struct {
	To   string `json:"to" validate:"required"`
	Text string `json:"text" validate:"required"`
}

type sessionStatusResponse struct {
	Username  string `json:"username"`
	Exists    bool   `json:"exists"`
	Logged    bool   `json:"logged"`
	Connected bool   `json:"connected"` // live, authenticated connection in this process
}

// handleRegisterWebhook persists the tenant's webhook and makes sure a
// connection is running. An existing connection keeps its original webhook
// until it is recreated.
func (s *Server) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	var req registerWebhookRequest
	if !decodeInto(w, r, &req, nil) {
		return
	}
	if err := store.ValidateTenantID(req.Username); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, err.Error())
		return
	}

	meta := store.WebhookMeta{WebhookURL: req.WebhookURL, UpdatedAt: s.now().UnixMilli()}
	if err := s.dirs.SaveMeta(req.Username, meta); err != nil {
		slog.Error("http: save webhook meta failed", "tenant", req.Username, "error", err)
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, "")
		return
	}

	if _, err := s.sessions.GetOrCreate(r.Context(), req.Username, req.WebhookURL); err != nil {
		slog.Error("http: start session failed", "tenant", req.Username, "error", err)
		writeOrchError(w, err, protocol.ErrInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	if err := store.ValidateTenantID(username); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, err.Error())
		return
	}

	exists, logged, err := s.dirs.Status(username)
	if err != nil {
		slog.Error("http: session status failed", "tenant", username, "error", err)
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, "")
		return
	}
	resp := sessionStatusResponse{Username: username, Exists: exists, Logged: logged}
	if sess := s.sessions.Get(username); sess != nil {
		resp.Connected = sess.Conn.IsLoggedIn()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCloseSession drops the tenant's live connection. Stored credentials
// stay on disk, so the next send or webhook registration reconnects.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	if err := store.ValidateTenantID(username); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, err.Error())
		return
	}
	removed := s.sessions.Remove(username)
	slog.Info("http: session closed", "tenant", username, "removed", removed)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "removed": removed})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	var req sendRequest
	if !decodeInto(w, r, &req, nil) {
		return
	}

	sess, err := s.sessions.GetOrCreate(r.Context(), username, "")
	if err == nil {
		if sendErr := sess.Conn.SendText(r.Context(), req.To, req.Text); sendErr != nil {
			err = fmt.Errorf("%w: %w", orcherr.ErrSendFailed, sendErr)
		}
	}
	if err != nil {
		slog.Error("http: send message failed", "tenant", username, "error", err)
		writeOrchError(w, err, protocol.ErrSendFailed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
