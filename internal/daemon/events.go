package daemon

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// EventType labels an SSE event.
type EventType string

// Turn progress events, in rough emission order, plus the daemon-level
// stream events.
const (
	EventStatus           EventType = "status"
	EventAnalysisComplete EventType = "analysis_complete"
	EventSubQueryInfo     EventType = "subquery_info"
	EventSubQueryProgress EventType = "subquery_progress"
	EventVectorComplete   EventType = "vector_complete"
	EventSQLComplete      EventType = "sql_complete"
	EventMultiSQLComplete EventType = "multi_sql_complete"
	EventRAGComplete      EventType = "rag_complete"
	EventSubQueryComplete EventType = "sub_query_complete"
	EventPerspectives     EventType = "perspective_summary"
	EventStageTiming      EventType = "stage_timing"
	EventDone             EventType = "done"
	EventError            EventType = "error"

	EventConnected EventType = "connected"
	EventHeartbeat EventType = "daemon_status"
	EventShutdown  EventType = "shutdown"
)

// Event is a single published event.
type Event struct {
	ID        uint64          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventBus fans events out to SSE subscribers. A full subscriber
// channel drops events for that subscriber rather than blocking the
// publisher.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[uint64]chan *Event
	nextID      uint64
	eventID     atomic.Uint64
	bufferSize  int
	closed      bool
}

// NewEventBus creates a bus with the given per-subscriber buffer.
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBus{
		subscribers: make(map[uint64]chan *Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a receiver. The returned channel is closed on
// Unsubscribe or bus Close; a nil channel means the bus is closed.
func (eb *EventBus) Subscribe() (uint64, <-chan *Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return 0, nil
	}

	id := eb.nextID
	eb.nextID++

	ch := make(chan *Event, eb.bufferSize)
	eb.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscription and closes its channel.
func (eb *EventBus) Unsubscribe(id uint64) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if ch, ok := eb.subscribers[id]; ok {
		close(ch)
		delete(eb.subscribers, id)
	}
}

// Publish marshals data and broadcasts it.
func (eb *EventBus) Publish(eventType EventType, data any) error {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	eb.PublishRaw(eventType, dataBytes)
	return nil
}

// PublishRaw broadcasts a pre-marshaled payload.
func (eb *EventBus) PublishRaw(eventType EventType, data json.RawMessage) {
	event := &Event{
		ID:        eb.eventID.Add(1),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}
	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

// Close shuts the bus and all subscriber channels.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true
	for id, ch := range eb.subscribers {
		close(ch)
		delete(eb.subscribers, id)
	}
}
