package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/simpleflo/lattice/internal/observability"
	"github.com/simpleflo/lattice/internal/workflow"
	"github.com/simpleflo/lattice/pkg/models"
)

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

type chatRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
	Level     string `json:"level,omitempty"`
}

type chatResponse struct {
	SessionID      string              `json:"session_id"`
	Response       string              `json:"response"`
	QueryType      models.QueryType    `json:"query_type"`
	QuerySubtype   models.QuerySubtype `json:"query_subtype"`
	Sources        []models.SourceRef  `json:"sources,omitempty"`
	ContextQuality float64             `json:"context_quality"`
	StageTiming    map[string]float64  `json:"stage_timing,omitempty"`
	ElapsedMs      float64             `json:"elapsed_ms"`
	Error          string              `json:"error,omitempty"`
}

func toChatResponse(sessionID string, final models.WorkflowState, elapsed time.Duration) chatResponse {
	return chatResponse{
		SessionID:      sessionID,
		Response:       final.Response,
		QueryType:      final.QueryType,
		QuerySubtype:   final.QuerySubtype,
		Sources:        final.Sources,
		ContextQuality: final.ContextQuality,
		StageTiming:    final.StageTiming,
		ElapsedMs:      float64(elapsed.Microseconds()) / 1000,
		Error:          final.Error,
	}
}

// handleChat runs one turn and returns the full result.
// POST /api/v1/chat
func (d *Daemon) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	state := models.NewWorkflowState(req.Query, sessionID, models.Level(req.Level))
	state.ConversationHistory = d.sessions.History(sessionID)

	logger := observability.WithSessionID(d.logger, sessionID)
	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		logger = observability.WithRequestID(logger, reqID)
	}
	observability.LogEvent(logger, observability.EventTurnStarted, map[string]interface{}{
		"query": req.Query,
	})

	started := time.Now()
	final := d.pipeline.RunState(r.Context(), state)
	elapsed := time.Since(started)

	d.sessions.Save(sessionID, final.ConversationHistory)
	observability.LogEvent(logger, observability.EventTurnCompleted, map[string]interface{}{
		"query_type": final.QueryType,
		"elapsed_ms": elapsed.Milliseconds(),
	})

	respondJSON(w, http.StatusOK, toChatResponse(sessionID, final, elapsed))
}

// handleChatStream runs one turn and streams node-level progress as
// SSE, finishing with a done event carrying the full result.
// GET /api/v1/chat/stream?query=...&session_id=...&level=...
func (d *Daemon) handleChatStream(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	// Each stream gets its own pipeline instance so the emitter is
	// request-scoped; the stage dependencies are shared.
	bus := NewEventBus(256)
	defer bus.Close()
	subID, eventCh := bus.Subscribe()
	defer bus.Unsubscribe(subID)

	pipeline := workflow.NewPipeline(d.deps, d.cfg.Workflow)
	pipeline.SetEmitter(func(event string, payload map[string]any) {
		bus.Publish(EventType(event), payload)
	})

	state := models.NewWorkflowState(query, sessionID, models.Level(r.URL.Query().Get("level")))
	state.ConversationHistory = d.sessions.History(sessionID)

	started := time.Now()
	resultCh := make(chan models.WorkflowState, 1)
	go func() {
		resultCh <- pipeline.RunState(r.Context(), state)
	}()

	setSSEHeaders(w)
	writeSSEEvent(w, flusher, &Event{
		Type:      EventConnected,
		Timestamp: time.Now(),
		Data:      mustJSON(map[string]string{"session_id": sessionID}),
	})

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, flusher, event); err != nil {
				return
			}
		case final := <-resultCh:
			d.drainEvents(w, flusher, eventCh)
			d.sessions.Save(sessionID, final.ConversationHistory)
			if final.Error != "" {
				writeSSEEvent(w, flusher, &Event{
					Type:      EventError,
					Timestamp: time.Now(),
					Data:      mustJSON(map[string]string{"error": final.Error}),
				})
			}
			writeSSEEvent(w, flusher, &Event{
				Type:      EventDone,
				Timestamp: time.Now(),
				Data:      mustJSON(toChatResponse(sessionID, final, time.Since(started))),
			})
			return
		}
	}
}

// drainEvents flushes progress events that were published before the
// final state landed.
func (d *Daemon) drainEvents(w http.ResponseWriter, flusher http.Flusher, eventCh <-chan *Event) {
	for {
		select {
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, flusher, event); err != nil {
				return
			}
		default:
			return
		}
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// handleSessionHistory returns the stored conversation for a session.
// GET /api/v1/sessions/{sessionID}/history
func (d *Daemon) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	history := d.sessions.History(sessionID)
	if history == nil {
		respondError(w, http.StatusNotFound, "unknown session")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"history":    history,
	})
}

// handleSessionDelete forgets a session.
// DELETE /api/v1/sessions/{sessionID}
func (d *Daemon) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !d.sessions.Delete(sessionID) {
		respondError(w, http.StatusNotFound, "unknown session")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleHealth is a liveness check.
// GET /api/v1/health
func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports whether the daemon accepts turns.
// GET /api/v1/ready
func (d *Daemon) handleReady(w http.ResponseWriter, r *http.Request) {
	if !d.Ready() {
		respondError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type backendStatus struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// handleStatus probes every backend and reports uptime and session
// counts.
// GET /api/v1/status
func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	backends := make(map[string]backendStatus, len(d.probes))
	for _, p := range d.probes {
		if err := p.check(ctx); err != nil {
			backends[p.name] = backendStatus{Available: false, Error: err.Error()}
		} else {
			backends[p.name] = backendStatus{Available: true}
		}
	}

	d.mu.RLock()
	uptime := time.Since(d.startTime).Truncate(time.Second).String()
	ready := d.ready
	d.mu.RUnlock()

	respondJSON(w, http.StatusOK, map[string]any{
		"version":  Version,
		"ready":    ready,
		"uptime":   uptime,
		"sessions": d.sessions.Len(),
		"backends": backends,
	})
}
