// Package httpapi implements the operator command surface: trigger an
// experience, change personality, emergency stop/clear, and query state.
package httpapi

import (
	"bufio"
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rolojard/animatronic-kernel/internal/api"
	"github.com/rolojard/animatronic-kernel/internal/auth"
	"github.com/rolojard/animatronic-kernel/internal/behavior"
	"github.com/rolojard/animatronic-kernel/internal/config"
	"github.com/rolojard/animatronic-kernel/internal/eventbus"
	"github.com/rolojard/animatronic-kernel/internal/joint"
	"github.com/rolojard/animatronic-kernel/internal/persistence"
	"github.com/rolojard/animatronic-kernel/internal/safety"
	"github.com/rolojard/animatronic-kernel/internal/scheduler"
	"github.com/rolojard/animatronic-kernel/internal/transport/telemetry"
	"github.com/rolojard/animatronic-kernel/internal/timeline"
)

// responseWriter wraps http.ResponseWriter to capture status code for
// the access log, and forwards Hijack so the telemetry websocket
// upgrade still works if it ever shares a mux with this router.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.RequestURI(), wrapped.status, time.Since(start).Round(time.Millisecond))
	})
}

// Deps are the components the command surface dispatches to. All are
// required except Guests and Incidents, which may be nil if the kernel
// runs without persistence (e.g. a bench rig).
type Deps struct {
	Joints      *joint.Table
	Scheduler   *scheduler.Scheduler
	Safety      *safety.Supervisor
	Coordinator *timeline.Coordinator
	Selector    *behavior.Selector
	Personality *behavior.PersonalityState
	Bus         *eventbus.Bus
	Incidents   *persistence.IncidentStore
	Guests      *persistence.GuestStore
	Experiences map[string]timeline.Experience
	Telemetry   *telemetry.Hub
}

// NewHandler builds the HTTP handler for the command surface and
// returns a shutdown function.
func NewHandler(cfg config.Config, operatorSecret string, deps Deps) (http.Handler, func(context.Context) error, error) {
	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(requestLoggerMiddleware)
	router.Use(api.RequestIDMiddleware)
	router.Use(api.RecovererMiddleware)
	router.Use(auth.Middleware(cfg))

	registerHealthRoutes(router)
	auth.RegisterRoutes(router, cfg, operatorSecret)
	if deps.Telemetry != nil {
		telemetry.RegisterRoutes(router, deps.Telemetry)
	}

	h := &handlers{deps: deps}
	h.registerRoutes(router)

	shutdown := func(ctx context.Context) error {
		return nil
	}

	return router, shutdown, nil
}

func registerHealthRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{
			"status":    "healthy",
			"service":   "animatronic-kernel",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}))
}
