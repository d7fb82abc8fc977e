package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rolojard/animatronic-kernel/internal/api"
	"github.com/rolojard/animatronic-kernel/internal/apperrors"
	"github.com/rolojard/animatronic-kernel/internal/compiler"
	"github.com/rolojard/animatronic-kernel/internal/eventbus"
)

type handlers struct {
	deps Deps
}

func (h *handlers) registerRoutes(router chi.Router) {
	router.Method(http.MethodPost, "/v1/experiences/{id}/trigger", api.Handler(h.triggerExperience))
	router.Method(http.MethodPost, "/v1/personality", api.Handler(h.setPersonality))
	router.Method(http.MethodGet, "/v1/personality", api.Handler(h.getPersonality))
	router.Method(http.MethodPost, "/v1/safety/emergency-stop", api.Handler(h.emergencyStop))
	router.Method(http.MethodPost, "/v1/safety/clear", api.Handler(h.clearEmergency))
	router.Method(http.MethodGet, "/v1/safety", api.Handler(h.safetyStatus))
	router.Method(http.MethodGet, "/v1/joints", api.Handler(h.listJoints))
	router.Method(http.MethodGet, "/v1/incidents", api.Handler(h.listIncidents))
}

// triggerExperience plays a catalog experience directly, bypassing rule
// selection; used by the operator console's "play now" control.
func (h *handlers) triggerExperience(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	exp, ok := h.deps.Experiences[id]
	if !ok {
		return apperrors.NewNotFoundError("experience", id)
	}
	if h.deps.Coordinator == nil {
		return apperrors.NewInternalError("timeline coordinator not wired")
	}
	if err := h.deps.Coordinator.Play(r.Context(), exp); err != nil {
		return apperrors.NewConflictError(err.Error())
	}
	return api.Resource(w, r, http.StatusAccepted, "experience", map[string]any{"id": id, "status": "playing"})
}

func (h *handlers) setPersonality(w http.ResponseWriter, r *http.Request) error {
	var body struct {
		Mode   string                    `json:"mode"`
		Params compiler.PersonalityParams `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Mode == "" {
		return apperrors.NewValidationError("mode is required", nil)
	}
	if h.deps.Personality == nil {
		return apperrors.NewInternalError("personality state not wired")
	}
	if !h.deps.Personality.SetMode(body.Mode, body.Params) {
		return apperrors.NewConflictError("personality mode change debounced, try again shortly")
	}
	return api.Resource(w, r, http.StatusOK, "personality", map[string]any{"mode": body.Mode})
}

func (h *handlers) getPersonality(w http.ResponseWriter, r *http.Request) error {
	if h.deps.Personality == nil {
		return apperrors.NewInternalError("personality state not wired")
	}
	return api.Resource(w, r, http.StatusOK, "personality", map[string]any{
		"mode":         h.deps.Personality.Mode(),
		"exaggeration": h.deps.Personality.Exaggeration(),
	})
}

// emergencyStop applies an Emergency directive (Halt, then Lockdown) to the
// scheduler immediately and publishes it on the bus. Lockdown replaces each
// channel's timeline with a retract to rest and releases the Halt hold. It
// does not go through the safety supervisor's evaluation loop: an
// operator-initiated stop is unconditional and synchronous.
func (h *handlers) emergencyStop(w http.ResponseWriter, r *http.Request) error {
	if h.deps.Scheduler == nil || h.deps.Bus == nil {
		return apperrors.NewInternalError("scheduler or event bus not wired")
	}
	directive := eventbus.SafetyDirective{
		Severity:        eventbus.SeverityEmergency,
		Reason:          "operator-initiated emergency stop",
		AffectedJoints:  []string{eventbus.AllJoints},
		RequiredActions: []eventbus.RequiredAction{eventbus.ActionHalt, eventbus.ActionLockdown},
	}
	h.deps.Scheduler.ApplyDirective(directive)
	h.deps.Bus.PublishSafety(directive)
	return api.Resource(w, r, http.StatusOK, "emergency", map[string]any{"status": "halted"})
}

func (h *handlers) clearEmergency(w http.ResponseWriter, r *http.Request) error {
	if h.deps.Scheduler == nil {
		return apperrors.NewInternalError("scheduler not wired")
	}
	if h.deps.Safety != nil && h.deps.Safety.Severity() >= eventbus.SeverityEmergency {
		return apperrors.NewConflictError("underlying fault still active, cannot clear")
	}
	h.deps.Scheduler.ApplyDirective(eventbus.SafetyDirective{
		Severity:        eventbus.SeverityNone,
		RequiredActions: nil,
	})
	return api.Resource(w, r, http.StatusOK, "emergency", map[string]any{"status": "cleared"})
}

func (h *handlers) safetyStatus(w http.ResponseWriter, r *http.Request) error {
	if h.deps.Safety == nil {
		return apperrors.NewInternalError("safety supervisor not wired")
	}
	return api.Resource(w, r, http.StatusOK, "safety", map[string]any{
		"severity": h.deps.Safety.Severity().String(),
		"held":     h.deps.Scheduler != nil && h.deps.Scheduler.Held(),
	})
}

func (h *handlers) listJoints(w http.ResponseWriter, r *http.Request) error {
	if h.deps.Scheduler == nil {
		return apperrors.NewInternalError("scheduler not wired")
	}
	snap := h.deps.Scheduler.Snapshot()
	if snap == nil {
		return api.Resource(w, r, http.StatusOK, "joints", map[string]any{})
	}
	out := make(map[string]any, len(snap.States))
	for id, st := range snap.States {
		out[string(id)] = map[string]any{
			"current_deg":   st.CurrentDeg,
			"target_deg":    st.TargetDeg,
			"velocity":      st.VelocityDegPerSec,
			"temperature_c": st.TemperatureC,
			"current_a":     st.CurrentA,
			"in_motion":     st.InMotion,
			"fault":         string(st.Fault),
		}
	}
	return api.Resource(w, r, http.StatusOK, "joints", out)
}

func (h *handlers) listIncidents(w http.ResponseWriter, r *http.Request) error {
	if h.deps.Incidents == nil {
		return api.Resource(w, r, http.StatusOK, "incidents", []any{})
	}
	incidents, err := h.deps.Incidents.Open(r.Context())
	if err != nil {
		return apperrors.NewInternalError("failed to load incidents")
	}
	return api.Resource(w, r, http.StatusOK, "incidents", incidents)
}
