package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/walink/internal/linking"
	"github.com/nextlevelbuilder/walink/pkg/protocol"
)

type startLinkingRequest struct {
	Username   string `json:"username" validate:"required"`
	Phone      string `json:"phone" validate:"required"`
	Mode       string `json:"mode" validate:"omitempty,oneof=pairing qr"`
	WebhookURL string `json:"webhookUrl" validate:"omitempty,url"`
}

type pairingCodeResponse struct {
	Status      string `json:"status"`
	PairingCode string `json:"pairingCode"`
	ExpiresAt   int64  `json:"expiresAt"`
}

type checkCodeResponse struct {
	Valid    bool   `json:"valid"`
	Username string `json:"username,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

func (s *Server) handleStartLinking(w http.ResponseWriter, r *http.Request) {
	var req startLinkingRequest
	if !decodeInto(w, r, &req, func() { req.Mode = strings.ToLower(strings.TrimSpace(req.Mode)) }) {
		return
	}

	res, err := s.linker.StartLinking(r.Context(), linking.Request{
		Tenant:     req.Username,
		Phone:      req.Phone,
		Mode:       req.Mode,
		WebhookURL: req.WebhookURL,
	})
	if err != nil {
		slog.Error("http: linking failed", "tenant", req.Username, "mode", req.Mode, "error", err)
		writeOrchError(w, err, protocol.ErrInternal)
		return
	}

	switch {
	case res.Record != nil:
		writeJSON(w, http.StatusOK, pairingCodeResponse{
			Status:      protocol.StatusOK,
			PairingCode: res.Record.Code,
			ExpiresAt:   res.Record.ExpiresAt,
		})
	case res.Connected:
		writeJSON(w, http.StatusOK, map[string]string{"status": protocol.StatusConnected})
	default:
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		w.Write(res.QRPNG)
	}
}

func (s *Server) handleCheckCode(w http.ResponseWriter, r *http.Request) {
	v := s.codes.Validate(r.Context(), r.PathValue("code"))
	if !v.Valid {
		writeJSON(w, http.StatusOK, checkCodeResponse{Valid: false})
		return
	}
	writeJSON(w, http.StatusOK, checkCodeResponse{Valid: true, Username: v.Tenant, Phone: v.Phone})
}

func (s *Server) handleListPairings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pairings": s.codes.ListPending()})
}
