package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jongio/portwarden/src/internal/events"
	"github.com/jongio/portwarden/src/internal/logging"
	"github.com/jongio/portwarden/src/internal/metrics"
)

const writeTimeout = 5 * time.Second

// Message is the envelope written to WebSocket clients.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub fans events out to connected WebSocket clients. Snapshot events are
// rate limited: while throttled only the newest snapshot is kept and it is
// sent as soon as the limiter allows. Other events are never throttled.
type Hub struct {
	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]struct{}

	throttleMu sync.Mutex
	limiter    *rate.Limiter
	pending    any
	flushTimer *time.Timer
	closed     bool

	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewHub creates a hub. perSecond <= 0 disables throttling.
func NewHub(perSecond float64, m *metrics.Metrics) *Hub {
	h := &Hub{
		clients: make(map[*websocket.Conn]struct{}),
		metrics: m,
		log:     logging.Component("dashboard"),
	}
	if perSecond > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return h
}

// Emit implements events.Sink.
func (h *Hub) Emit(event string, payload any) error {
	if event == events.EventPortsData && h.limiter != nil {
		return h.emitSnapshot(payload)
	}
	return h.broadcast(event, payload)
}

func (h *Hub) emitSnapshot(payload any) error {
	h.throttleMu.Lock()
	if h.closed {
		h.throttleMu.Unlock()
		return nil
	}
	if h.flushTimer != nil {
		// A flush is already scheduled; it will carry this newer snapshot.
		h.pending = payload
		h.throttleMu.Unlock()
		h.metrics.EventDropped(events.EventPortsData)
		return nil
	}
	if h.limiter.Allow() {
		h.throttleMu.Unlock()
		return h.broadcast(events.EventPortsData, payload)
	}
	h.pending = payload
	h.flushTimer = time.AfterFunc(h.limiter.Reserve().Delay(), h.flushPending)
	h.throttleMu.Unlock()
	return nil
}

func (h *Hub) flushPending() {
	h.throttleMu.Lock()
	payload := h.pending
	h.pending = nil
	h.flushTimer = nil
	closed := h.closed
	h.throttleMu.Unlock()

	if closed {
		return
	}
	if err := h.broadcast(events.EventPortsData, payload); err != nil {
		h.log.Warn().Err(err).Msg("deferred snapshot delivery failed")
	}
}

// broadcast writes to every client. Clients that fail a write are dropped.
func (h *Hub) broadcast(event string, payload any) error {
	msg := Message{Type: event, Payload: payload}

	h.clientsMu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.clientsMu.RUnlock()

	var errs []error
	for _, c := range conns {
		if err := write(c, msg); err != nil {
			errs = append(errs, err)
			h.metrics.EventDropped(event)
			h.remove(c)
			_ = c.Close(websocket.StatusGoingAway, "write failed")
		}
	}
	return errors.Join(errs...)
}

func write(c *websocket.Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, msg)
}

func (h *Hub) add(c *websocket.Conn) {
	h.clientsMu.Lock()
	h.clients[c] = struct{}{}
	h.clientsMu.Unlock()
}

func (h *Hub) remove(c *websocket.Conn) {
	h.clientsMu.Lock()
	delete(h.clients, c)
	h.clientsMu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients and cancels any pending flush.
func (h *Hub) Close() {
	h.throttleMu.Lock()
	h.closed = true
	if h.flushTimer != nil {
		h.flushTimer.Stop()
		h.flushTimer = nil
	}
	h.throttleMu.Unlock()

	h.clientsMu.Lock()
	conns := h.clients
	h.clients = make(map[*websocket.Conn]struct{})
	h.clientsMu.Unlock()

	for c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
