package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/simpleflo/lattice/internal/analyze"
	"github.com/simpleflo/lattice/internal/config"
	"github.com/simpleflo/lattice/internal/fuse"
	"github.com/simpleflo/lattice/internal/generate"
	"github.com/simpleflo/lattice/internal/observability"
	"github.com/simpleflo/lattice/internal/strategy"
	"github.com/simpleflo/lattice/internal/workflow"
	"github.com/simpleflo/lattice/pkg/models"
)

type scriptChat struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (s *scriptChat) Chat(ctx context.Context, system, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.replies) {
		s.calls++
		return "", errors.New("no scripted reply")
	}
	reply := s.replies[s.calls]
	s.calls++
	return reply, nil
}

// newTestDaemon wires a daemon around stubbed stages. The SQL and
// retrieval backends are absent, so tests stick to routes that do not
// reach them.
func newTestDaemon(t *testing.T, chat *scriptChat) *Daemon {
	t.Helper()
	cfg := config.DefaultConfig()
	deps := workflow.Deps{
		Analyzer:  analyze.New(chat, cfg.LLM),
		Resolver:  strategy.NewResolver(),
		Merger:    fuse.NewMerger(cfg.Fusion),
		Generator: generate.New(chat),
	}
	d := &Daemon{
		cfg:        cfg,
		deps:       deps,
		pipeline:   workflow.NewPipeline(deps, cfg.Workflow),
		sessions:   NewSessionStore(cfg.Workflow.MaxHistoryLength),
		events:     NewEventBus(8),
		logger:     observability.Logger("daemon"),
		shutdownCh: make(chan struct{}),
	}
	d.setupRouter()
	return d
}

func TestHandleChat(t *testing.T) {
	d := newTestDaemon(t, &scriptChat{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat",
		strings.NewReader(`{"query":"안녕하세요"}`))
	rec := httptest.NewRecorder()
	d.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.SessionID == "" {
		t.Error("no session id assigned")
	}
	if !strings.Contains(resp.Response, "안녕하세요") {
		t.Errorf("response = %q", resp.Response)
	}

	// Second turn on the same session extends the stored history.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/chat",
		strings.NewReader(`{"query":"감사합니다","session_id":"`+resp.SessionID+`"}`))
	rec = httptest.NewRecorder()
	d.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if d.sessions.Len() != 1 {
		t.Errorf("sessions = %d", d.sessions.Len())
	}
	if history := d.sessions.History(resp.SessionID); len(history) != 4 {
		t.Errorf("history = %d messages", len(history))
	}
}

func TestHandleChatRejectsEmptyQuery(t *testing.T) {
	d := newTestDaemon(t, &scriptChat{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	d.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHandleChatStream(t *testing.T) {
	chat := &scriptChat{replies: []string{
		`{"query_type":"rag","query_subtype":"concept","query_intent":"개념 설명",
		  "keywords":["수소"],"entity_types":["patent"]}`,
	}}
	d := newTestDaemon(t, chat)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/stream?query=수소란+무엇인가", nil)
	rec := httptest.NewRecorder()
	d.router.ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "event: connected") {
		t.Errorf("missing connected event:\n%s", body)
	}
	for _, ev := range []string{"event: status", "event: analysis_complete", "event: rag_complete", "event: done"} {
		if !strings.Contains(body, ev) {
			t.Errorf("missing %q in stream:\n%s", ev, body)
		}
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
}

func TestHandleChatStreamRequiresQuery(t *testing.T) {
	d := newTestDaemon(t, &scriptChat{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/stream", nil)
	rec := httptest.NewRecorder()
	d.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	d := newTestDaemon(t, &scriptChat{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/none/history", nil)
	rec := httptest.NewRecorder()
	d.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d", rec.Code)
	}

	d.sessions.Save("s1", []models.ChatMessage{{Role: "user", Content: "안녕"}})

	rec = httptest.NewRecorder()
	d.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/history", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "안녕") {
		t.Errorf("history status = %d body %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	d.router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/s1/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("delete status = %d", rec.Code)
	}
	if d.sessions.Len() != 0 {
		t.Errorf("sessions = %d", d.sessions.Len())
	}
}

func TestHealthAndReady(t *testing.T) {
	d := newTestDaemon(t, &scriptChat{})

	rec := httptest.NewRecorder()
	d.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	d.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("not-started ready status = %d", rec.Code)
	}

	d.mu.Lock()
	d.ready = true
	d.mu.Unlock()
	rec = httptest.NewRecorder()
	d.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("ready status = %d", rec.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	d := newTestDaemon(t, &scriptChat{})
	d.probes = []probe{
		{name: "sql", check: func(ctx context.Context) error { return nil }},
		{name: "graph", check: func(ctx context.Context) error { return errors.New("down") }},
	}

	rec := httptest.NewRecorder()
	d.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Backends map[string]backendStatus `json:"backends"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Backends["sql"].Available {
		t.Error("sql should be available")
	}
	if body.Backends["graph"].Available || body.Backends["graph"].Error == "" {
		t.Errorf("graph = %+v", body.Backends["graph"])
	}
}

func TestSessionStore(t *testing.T) {
	s := NewSessionStore(4)

	history := []models.ChatMessage{
		{Role: "user", Content: "q1"}, {Role: "assistant", Content: "a1"},
		{Role: "user", Content: "q2"}, {Role: "assistant", Content: "a2"},
		{Role: "user", Content: "q3"}, {Role: "assistant", Content: "a3"},
	}
	s.Save("s1", history)

	got := s.History("s1")
	if len(got) != 4 {
		t.Fatalf("history = %d messages", len(got))
	}
	if got[0].Content != "q2" {
		t.Errorf("oldest kept = %q", got[0].Content)
	}

	// The returned slice is a copy.
	got[0].Content = "mutated"
	if s.History("s1")[0].Content != "q2" {
		t.Error("history escaped the store")
	}

	if s.History("unknown") != nil {
		t.Error("unknown session should be nil")
	}
	if !s.Delete("s1") || s.Delete("s1") {
		t.Error("delete semantics broken")
	}
}

func TestSessionPrune(t *testing.T) {
	s := NewSessionStore(10)
	s.Save("old", []models.ChatMessage{{Role: "user", Content: "q"}})
	s.sessions["old"].lastUsed = time.Now().Add(-3 * time.Hour)
	s.Save("fresh", []models.ChatMessage{{Role: "user", Content: "q"}})

	if pruned := s.Prune(sessionIdleTimeout); pruned != 1 {
		t.Errorf("pruned = %d", pruned)
	}
	if s.History("old") != nil || s.History("fresh") == nil {
		t.Error("wrong session pruned")
	}
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus(2)
	id, ch := bus.Subscribe()

	bus.Publish(EventStatus, map[string]string{"stage": "analyzer"})
	ev := <-ch
	if ev.Type != EventStatus || ev.ID != 1 {
		t.Errorf("event = %+v", ev)
	}

	// Overflow drops instead of blocking.
	bus.Publish(EventStatus, 1)
	bus.Publish(EventStatus, 2)
	bus.Publish(EventStatus, 3)
	if n := len(ch); n != 2 {
		t.Errorf("buffered = %d", n)
	}

	bus.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}

	bus.Close()
	if id2, ch2 := bus.Subscribe(); id2 != 0 || ch2 != nil {
		t.Error("closed bus accepted a subscriber")
	}
}
