// Package telemetry broadcasts joint state, safety severity, and safety
// directives to connected operator dashboards over a WebSocket, fanning one
// publisher out to many viewers (the inverse of the single bidirectional
// extension connection this is modeled on).
package telemetry

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rolojard/animatronic-kernel/internal/clock"
	"github.com/rolojard/animatronic-kernel/internal/eventbus"
	"github.com/rolojard/animatronic-kernel/internal/joint"
	"github.com/rolojard/animatronic-kernel/internal/safety"
	"github.com/rolojard/animatronic-kernel/internal/scheduler"
)

const (
	clientSendBuffer = 16
	pingInterval     = 30 * time.Second
)

// Frame is one telemetry message pushed to every connected viewer.
type Frame struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub manages connected telemetry viewers and fans out broadcast frames.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *log.Logger
}

// NewHub builds an empty telemetry hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{clients: make(map[*client]struct{}), logger: logger}
}

// Register adopts a new WebSocket connection and starts its write pump
// and ping loop. The caller owns the initial upgrade; Register owns the
// connection's lifetime from here on.
func (h *Hub) Register(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan []byte, clientSendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer h.drop(c)

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound traffic; the telemetry channel is
// publish-only, but we still need to read so the connection notices a
// client-initiated close.
func (h *Hub) readPump(c *client) {
	defer h.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

// Broadcast fans a frame out to every connected client. A client whose
// send buffer is full is slow or stuck; the frame is dropped for that
// client rather than blocking the publisher.
func (h *Hub) Broadcast(frame Frame) {
	encoded, err := json.Marshal(frame)
	if err != nil {
		h.logger.Printf("telemetry: failed to encode frame: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- encoded:
		default:
			h.logger.Printf("telemetry: dropping frame for slow client")
		}
	}
}

// ClientCount reports the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publisher periodically samples the scheduler and safety supervisor and
// broadcasts their state, plus forwards safety directives as they land
// on the event bus.
type Publisher struct {
	hub       *Hub
	scheduler *scheduler.Scheduler
	safetySup *safety.Supervisor
	bus       *eventbus.Bus
	clock     clock.Clock
	interval  time.Duration
}

// NewPublisher builds a telemetry publisher. safetySup may be nil.
func NewPublisher(hub *Hub, sched *scheduler.Scheduler, safetySup *safety.Supervisor, bus *eventbus.Bus, clk clock.Clock, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &Publisher{hub: hub, scheduler: sched, safetySup: safetySup, bus: bus, clock: clk, interval: interval}
}

// Run samples state on a fixed tick until stop is closed.
func (p *Publisher) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var safetyCh <-chan eventbus.SafetyDirective
	if p.bus != nil {
		safetyCh = p.bus.Safety()
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.publishJoints()
		case d, ok := <-safetyCh:
			if !ok {
				safetyCh = nil
				continue
			}
			p.hub.Broadcast(Frame{Type: "safety", Timestamp: p.clock.Now(), Payload: d})
		}
	}
}

func (p *Publisher) publishJoints() {
	if p.scheduler == nil {
		return
	}
	snap := p.scheduler.Snapshot()
	if snap == nil {
		return
	}
	states := make(map[joint.ID]joint.State, len(snap.States))
	for id, st := range snap.States {
		states[id] = st
	}
	p.hub.Broadcast(Frame{Type: "joints", Timestamp: p.clock.Now(), Payload: states})

	if p.safetySup != nil {
		p.hub.Broadcast(Frame{
			Type:      "severity",
			Timestamp: p.clock.Now(),
			Payload:   map[string]string{"severity": p.safetySup.Severity().String()},
		})
	}
}
