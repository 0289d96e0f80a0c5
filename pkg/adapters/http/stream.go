package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// message is one server-sent event.
type message struct {
	event string
	data  string
}

// StreamManager fans run events out to SSE subscribers, keyed by graph/run.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- message]struct{}
}

func NewStreamManager() *StreamManager {
	return &StreamManager{
		subscribers: make(map[string]map[chan<- message]struct{}),
	}
}

// Subscribe registers a buffered channel for key. The returned func unsubscribes and closes it.
func (sm *StreamManager) Subscribe(key string) (<-chan message, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan message, 16)
	if _, ok := sm.subscribers[key]; !ok {
		sm.subscribers[key] = make(map[chan<- message]struct{})
	}
	sm.subscribers[key][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[key]; ok {
			if _, live := subs[ch]; !live {
				return
			}
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, key)
			}
		}
	}
}

// Broadcast sends an event to every subscriber of key without blocking.
func (sm *StreamManager) Broadcast(key, event, data string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[key] {
		select {
		case ch <- message{event: event, data: data}:
		default:
			// Slow client.
			slog.Warn("SSE: client buffer full, dropping message", "key", key, "event", event)
		}
	}
}

// Subscribers reports how many clients listen on key.
func (sm *StreamManager) Subscribers(key string) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers[key])
}

// SubscribeEvents handles GET /graphs/{graph}/runs/{run}/events (SSE).
// Each step of a drive is sent as an event named by its kind; patches are sent as "patch".
// The optional "events" query parameter is a comma-separated filter on event names.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.engine(w, r); !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	var filter map[string]bool
	if raw := r.URL.Query().Get("events"); raw != "" {
		filter = make(map[string]bool)
		for _, name := range strings.Split(raw, ",") {
			filter[strings.TrimSpace(name)] = true
		}
	}

	key := streamKey(r)
	ch, cancel := s.Streams.Subscribe(key)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
	s.Logger.DebugContext(r.Context(), "SSE subscribed", "key", key)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if filter != nil && !filter[msg.event] {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.event, msg.data)
			flusher.Flush()
		}
	}
}
