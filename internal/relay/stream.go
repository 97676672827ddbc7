package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/strandtools/webrelay/pkg/events"
)

const streamBuffer = 100

// handleSSE streams bus events as server-sent events. An optional
// ?category= query narrows the stream; the default is everything.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	category := events.Wildcard
	if v := r.URL.Query().Get("category"); v != "" {
		parsed, err := events.ParseCategory(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		category = parsed
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	eventChan := make(chan events.Event, streamBuffer)
	subID := s.bus.Subscribe(category, func(ev events.Event) {
		select {
		case eventChan <- ev:
		default:
			// Slow consumer, drop rather than block the bus.
		}
	})
	defer s.bus.Unsubscribe(subID)

	fmt.Fprintf(w, ": webrelay event stream\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping %s\n\n", time.Now().Format(time.RFC3339))
			flusher.Flush()
		case ev := <-eventChan:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Category, data)
			flusher.Flush()
		}
	}
}

// handleWebSocket mirrors the SSE stream for socket clients.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	category := events.Wildcard
	if v := r.URL.Query().Get("category"); v != "" {
		parsed, err := events.ParseCategory(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		category = parsed
	}

	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	eventChan := make(chan events.Event, streamBuffer)
	subID := s.bus.Subscribe(category, func(ev events.Event) {
		select {
		case eventChan <- ev:
		default:
		}
	})
	defer s.bus.Unsubscribe(subID)

	// Reader goroutine detects client close.
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

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case ev := <-eventChan:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
