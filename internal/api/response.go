package api

import (
	"encoding/json"
	"net/http"

	"github.com/rolojard/animatronic-kernel/internal/apperrors"
)

// ErrorResponse wraps an AppError body for transport.
type ErrorResponse struct {
	Error apperrors.Body `json:"error"`
}

// WriteJSON sends a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// WriteError serializes an error into the standard error response.
// Response format: {"error": {"code": "...", "message": "..."}}
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.EnsureAppError(err)
	_ = WriteJSON(w, appErr.StatusCode, ErrorResponse{Error: appErr.ErrorBody()})
}

// Resource writes a response keyed under a dynamic resource name, with the
// request id attached for correlation with server logs.
// Example: Resource(w, r, http.StatusOK, "experience", handle)
// Produces: {"request_id": "...", "experience": {...}}
func Resource(w http.ResponseWriter, r *http.Request, status int, key string, value any) error {
	resp := map[string]any{
		"request_id": GetRequestID(r),
		key:          value,
	}
	return WriteJSON(w, status, resp)
}
