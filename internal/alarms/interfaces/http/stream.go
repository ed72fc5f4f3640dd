package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	alarmapp "msm-monitoring/internal/alarms/application"
)

// SSEBroker fans out alert events to the connected clients of the alert's owner.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[int64]map[chan []byte]struct{}
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[int64]map[chan []byte]struct{})}
}

// Notify implements alarmapp.AlertNotifier.
func (b *SSEBroker) Notify(_ context.Context, event alarmapp.AlertEvent) {
	if b == nil || event.OwnerID <= 0 {
		return
	}
	payload, err := json.Marshal(event.Alert)
	if err != nil {
		return
	}
	b.broadcast(event.OwnerID, payload)
}

// Subscribe registers a new client channel for userID.
func (b *SSEBroker) Subscribe(userID int64) chan []byte {
	if b == nil {
		return nil
	}
	ch := make(chan []byte, 16)
	b.mu.Lock()
	set, ok := b.clients[userID]
	if !ok {
		set = make(map[chan []byte]struct{})
		b.clients[userID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client channel and closes it. The channel leaves the set
// under the lock, so no broadcast sends on it after that point.
func (b *SSEBroker) Unsubscribe(userID int64, ch chan []byte) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.clients[userID]
	if !ok {
		return
	}
	if _, subscribed := set[ch]; !subscribed {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(b.clients, userID)
	}
	close(ch)
}

// broadcast sends without blocking while holding the lock. A client with a full buffer misses the event.
func (b *SSEBroker) broadcast(userID int64, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients[userID] {
		select {
		case ch <- payload:
		default:
		}
	}
}

// StreamHandler serves the caller's alert stream over SSE.
type StreamHandler struct {
	broker *SSEBroker
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *SSEBroker) *StreamHandler {
	return &StreamHandler{broker: broker}
}

// ServeHTTP handles GET /api/v1/alerts/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.broker.Subscribe(actor.ID)
	defer h.broker.Unsubscribe(actor.ID, ch)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	done := r.Context().Done()
	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: alert\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-done:
			return
		}
	}
}

var _ alarmapp.AlertNotifier = (*SSEBroker)(nil)
