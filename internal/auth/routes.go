package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rolojard/animatronic-kernel/internal/api"
	"github.com/rolojard/animatronic-kernel/internal/apperrors"
	"github.com/rolojard/animatronic-kernel/internal/config"
)

// RegisterRoutes wires the operator login route. There is a single
// shared operator secret (configured out of band, e.g. a technician
// tablet provisioned at install time) rather than a per-device pairing
// flow: this kernel has one trusted console, not a fleet of paired
// clients.
func RegisterRoutes(router chi.Router, cfg config.Config, operatorSecret string) {
	router.Method(http.MethodPost, "/v1/auth/login", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var body struct {
			OperatorID string `json:"operator_id"`
			Secret     string `json:"secret"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.OperatorID == "" || body.Secret == "" {
			return apperrors.NewValidationError("operator_id and secret are required", nil)
		}
		if subtle.ConstantTimeCompare([]byte(body.Secret), []byte(operatorSecret)) != 1 {
			return apperrors.NewUnauthorizedError("invalid operator credentials")
		}

		token, expiresIn, err := IssueToken(cfg, body.OperatorID, "operator")
		if err != nil {
			return apperrors.NewInternalError("failed to issue token")
		}

		return api.Resource(w, r, http.StatusOK, "session", map[string]any{
			"access_token":   token,
			"expires_in_sec": expiresIn,
		})
	}))
}
