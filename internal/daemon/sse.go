package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// setSSEHeaders prepares a response for event streaming.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeSSEEvent writes one event in wire format:
//
//	id: <id>
//	event: <type>
//	data: <json>
//	<blank line>
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event *Event) error {
	if event.ID > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", event.ID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// handleEvents streams daemon-level events (heartbeats, shutdown).
// GET /api/v1/events
func (d *Daemon) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	subID, eventCh := d.events.Subscribe()
	if eventCh == nil {
		http.Error(w, "event bus closed", http.StatusServiceUnavailable)
		return
	}
	defer d.events.Unsubscribe(subID)

	setSSEHeaders(w)
	if err := writeSSEEvent(w, flusher, &Event{
		Type:      EventConnected,
		Timestamp: time.Now(),
		Data:      json.RawMessage(`{"message":"connected to event stream"}`),
	}); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-d.shutdownCh:
			writeSSEEvent(w, flusher, &Event{
				Type:      EventShutdown,
				Timestamp: time.Now(),
				Data:      json.RawMessage(`{"message":"daemon shutting down"}`),
			})
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, flusher, event); err != nil {
				d.logger.Debug().Err(err).Uint64("subscriber_id", subID).Msg("failed to write SSE event")
				return
			}
		}
	}
}

// handleEventStats reports stream connection counts.
// GET /api/v1/events/stats
func (d *Daemon) handleEventStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"subscribers": d.events.SubscriberCount(),
	})
}
