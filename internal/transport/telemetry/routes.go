package telemetry

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // operator dashboards may be served from a different origin on the venue LAN
	},
}

// RegisterRoutes wires the telemetry WebSocket endpoint to the router.
// RegisterRoutes adds no authentication of its own; on the command
// surface's router the path is public because auth.Middleware lists
// /v1/telemetry among its public prefixes.
func RegisterRoutes(router chi.Router, hub *Hub) {
	router.Get("/v1/telemetry/stream", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(conn)
	})
}
