package server

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/faultline/faultline-ai/internal/metrics"
)

// WebSocket message types.
const (
	MessageTypeStep      = "step"
	MessageTypeHeartbeat = "heartbeat"
	MessageTypeError     = "error"
)

// WSMessage is the envelope sent to stream subscribers.
type WSMessage struct {
	Type      string     `json:"type"`
	Event     *StepEvent `json:"event,omitempty"`
	Error     string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Hub fans step events out to per-analysis subscribers. Slow subscribers
// drop events rather than blocking the step driver.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan StepEvent]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan StepEvent]struct{})}
}

// Subscribe registers for one analysis's step events. The returned cancel
// func must be called exactly once.
func (h *Hub) Subscribe(analysisID string) (<-chan StepEvent, func()) {
	ch := make(chan StepEvent, 16)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	if h.subs[analysisID] == nil {
		h.subs[analysisID] = make(map[chan StepEvent]struct{})
	}
	h.subs[analysisID][ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[analysisID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, analysisID)
				}
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers an event to the analysis's subscribers, non-blocking.
func (h *Hub) Publish(ev StepEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.AnalysisID] {
		select {
		case ch <- ev:
		default:
			// subscriber is not keeping up, drop
		}
	}
}

// Close drops all subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, set := range h.subs {
		for ch := range set {
			close(ch)
		}
		delete(h.subs, id)
	}
}

// upgrader builds the WebSocket upgrader with the configured origin policy.
func (s *Server) upgrader() websocket.Upgrader {
	allowed := s.cfg.Server.AllowedOrigins
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r, allowed)
		},
	}
}

// originAllowed implements the origin policy: no Origin header (non-browser
// client) is allowed, "*" allows everything, otherwise the origin must match
// the configured list exactly.
func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		if a == "*" {
			return true
		}
		if au, err := url.Parse(a); err == nil && au.Scheme == u.Scheme && au.Host == u.Host {
			return true
		}
	}
	return false
}

// handleStream upgrades GET /api/v1/analyses/{id}/stream and forwards the
// analysis's step events until the analysis finishes or the client leaves.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rec, err := s.deps.Store.GetAnalysis(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}

	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	metrics.WebSocketConnections.Inc()
	defer metrics.WebSocketConnections.Dec()
	defer conn.Close()

	events, cancel := s.hub.Subscribe(id)
	defer cancel()

	// Reader goroutine: the client sends nothing meaningful, but reads are
	// needed to notice disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	send := func(msg *WSMessage) bool {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			return false
		}
		metrics.WebSocketMessagesTotal.WithLabelValues("outbound").Inc()
		return true
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-done:
			return
		case <-heartbeat.C:
			if !send(&WSMessage{Type: MessageTypeHeartbeat, Timestamp: time.Now().UTC()}) {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !send(&WSMessage{Type: MessageTypeStep, Event: &ev, Timestamp: time.Now().UTC()}) {
				return
			}
			if ev.Done || ev.Phase == PhaseCancelled {
				return
			}
		}
	}
}
