package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nextlevelbuilder/walink/internal/orcherr"
	"github.com/nextlevelbuilder/walink/pkg/protocol"
)

const maxRequestBodySize = 1 << 20 // 1 MB

var validate = newValidator()

// newValidator reports JSON field names in validation errors.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("http: write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	body := map[string]string{"error": code}
	if message != "" {
		body["message"] = message
	}
	writeJSON(w, status, body)
}

// decodeInto reads a JSON body into dst, applies normalize (may be nil) and
// runs struct validation. On failure it writes a 400 and returns false.
func decodeInto(w http.ResponseWriter, r *http.Request, dst any, normalize func()) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, "invalid JSON: "+err.Error())
		return false
	}
	if normalize != nil {
		normalize()
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, describeValidation(err))
		return false
	}
	return true
}

// describeValidation turns validator errors into "field: rule" pairs.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}

// writeOrchError maps orchestration errors onto status codes and stable codes.
// fallback is the code used for unclassified failures.
func writeOrchError(w http.ResponseWriter, err error, fallback string) {
	var verr *orcherr.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, verr.Error())
	case errors.Is(err, orcherr.ErrValidation):
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, err.Error())
	case errors.Is(err, orcherr.ErrLinkingTimeout):
		writeError(w, http.StatusInternalServerError, protocol.ErrLinkingTimeout, "")
	case errors.Is(err, orcherr.ErrSendFailed):
		writeError(w, http.StatusInternalServerError, protocol.ErrSendFailed, "")
	default:
		writeError(w, http.StatusInternalServerError, fallback, "")
	}
}
