// Package httpapi exposes the credential subsystem over HTTP. Handlers are
// thin: decode, call the service, map the error kind onto a status code.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/getsentry/sentry-go"

	"github.com/taskhive/taskhive/internal/apperr"
)

const maxJSONBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps the error taxonomy onto HTTP statuses. Internal
// and decryption failures are reported upstream and surfaced generically.
func writeServiceError(w http.ResponseWriter, err error) {
	switch apperr.KindOf(err) {
	case apperr.Validation:
		writeError(w, http.StatusBadRequest, err.Error())
	case apperr.Unauthorized:
		writeError(w, http.StatusUnauthorized, err.Error())
	case apperr.Forbidden:
		writeError(w, http.StatusForbidden, err.Error())
	case apperr.Conflict:
		writeError(w, http.StatusConflict, err.Error())
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSON decodes a bounded request body, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}
